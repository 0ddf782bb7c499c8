package services

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	"github.com/murmur-chat/calling/pkg/internal/models"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// memoryStore is an in-memory CallStore used across service tests.
type memoryStore struct {
	mu sync.Mutex

	calls        map[uint]*models.Call
	participants map[uint]*models.CallParticipant
	samples      []*models.QualitySample
	nextID       uint

	lockHeld   bool
	failAppend bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		calls:        make(map[uint]*models.Call),
		participants: make(map[uint]*models.CallParticipant),
	}
}

func (v *memoryStore) allocate() uint {
	v.nextID++
	return v.nextID
}

func (v *memoryStore) CreateCall(call *models.Call, participants []*models.CallParticipant) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	call.ID = v.allocate()
	call.CreatedAt = time.Now()
	stored := *call
	v.calls[call.ID] = &stored

	for _, participant := range participants {
		participant.ID = v.allocate()
		participant.CallID = call.ID
		participant.CreatedAt = time.Now()
		clone := *participant
		v.participants[participant.ID] = &clone
	}
	return nil
}

func (v *memoryStore) GetCall(id uint) (models.Call, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	stored, ok := v.calls[id]
	if !ok {
		return models.Call{}, gorm.ErrRecordNotFound
	}
	call := *stored
	call.Participants = v.listParticipantsLocked(id)
	return call, nil
}

func (v *memoryStore) GetActiveCallByUser(userID uint) (models.Call, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, participant := range v.participants {
		if participant.UserID != userID || participant.LeftAt != nil {
			continue
		}
		call, ok := v.calls[participant.CallID]
		if ok && call.IsActive() {
			found := *call
			found.Participants = v.listParticipantsLocked(call.ID)
			return found, nil
		}
	}
	return models.Call{}, gorm.ErrRecordNotFound
}

func (v *memoryStore) GetParticipant(callID, userID uint) (models.CallParticipant, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, participant := range v.participants {
		if participant.CallID == callID && participant.UserID == userID {
			return *participant, nil
		}
	}
	return models.CallParticipant{}, gorm.ErrRecordNotFound
}

func (v *memoryStore) listParticipantsLocked(callID uint) []models.CallParticipant {
	var out []models.CallParticipant
	for _, participant := range v.participants {
		if participant.CallID == callID {
			out = append(out, *participant)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v *memoryStore) ListParticipants(callID uint) ([]models.CallParticipant, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.listParticipantsLocked(callID), nil
}

func (v *memoryStore) SaveCall(call *models.Call) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	stored := *call
	stored.Participants = nil
	v.calls[call.ID] = &stored
	return nil
}

func (v *memoryStore) SaveParticipant(participant *models.CallParticipant) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	clone := *participant
	v.participants[participant.ID] = &clone
	return nil
}

func (v *memoryStore) SaveCallAndParticipant(call *models.Call, participant *models.CallParticipant) error {
	if err := v.SaveCall(call); err != nil {
		return err
	}
	return v.SaveParticipant(participant)
}

func (v *memoryStore) EndCallCascade(call *models.Call, endedAt time.Time) error {
	if err := v.SaveCall(call); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, participant := range v.participants {
		if participant.CallID == call.ID && participant.LeftAt == nil {
			participant.State = models.ParticipantStateLeft
			participant.LeftAt = lo.ToPtr(endedAt)
		}
	}
	return nil
}

func (v *memoryStore) ListCallsByUser(userID uint, take, offset int) ([]models.Call, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []models.Call
	for _, participant := range v.participants {
		if participant.UserID == userID {
			if call, ok := v.calls[participant.CallID]; ok {
				out = append(out, *call)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (v *memoryStore) GetCallStats(userID uint) (models.CallStats, error) {
	calls, _ := v.ListCallsByUser(userID, 100, 0)

	var stats models.CallStats
	for _, call := range calls {
		stats.TotalCalls++
		if call.Type == models.CallTypeAudio {
			stats.AudioCalls++
		} else {
			stats.VideoCalls++
		}
		if call.StartedAt != nil && call.EndedAt != nil {
			stats.TotalDuration += int64(call.EndedAt.Sub(*call.StartedAt).Seconds())
		}
	}
	return stats, nil
}

func (v *memoryStore) AppendQualitySample(sample *models.QualitySample) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.failAppend {
		return errors.New("append failed")
	}
	sample.ID = v.allocate()
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = time.Now()
	}
	clone := *sample
	v.samples = append(v.samples, &clone)
	return nil
}

func (v *memoryStore) ListTimedOutCalls(states []models.CallState, byStartedAt bool, before time.Time) ([]models.Call, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var out []models.Call
	for _, call := range v.calls {
		if call.EndedAt != nil || !lo.Contains(states, call.State) {
			continue
		}
		age := call.CreatedAt
		if byStartedAt {
			if call.StartedAt == nil {
				continue
			}
			age = *call.StartedAt
		}
		if age.Before(before) {
			out = append(out, *call)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *memoryStore) BackfillParticipantLeaves() (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var count int64
	for _, participant := range v.participants {
		call, ok := v.calls[participant.CallID]
		if !ok || call.EndedAt == nil || participant.LeftAt != nil {
			continue
		}
		participant.State = models.ParticipantStateLeft
		participant.LeftAt = call.EndedAt
		count++
	}
	return count, nil
}

func (v *memoryStore) PurgeQualitySamples(before time.Time) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	kept := v.samples[:0]
	var count int64
	for _, sample := range v.samples {
		if sample.CreatedAt.Before(before) {
			count++
			continue
		}
		kept = append(kept, sample)
	}
	v.samples = kept
	return count, nil
}

func (v *memoryStore) ListActiveRoomNames() ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var names []string
	for _, call := range v.calls {
		if call.EndedAt == nil {
			names = append(names, call.ExternalID)
		}
	}
	return names, nil
}

func (v *memoryStore) TryAdvisoryLock(int64) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.lockHeld, nil
}

func (v *memoryStore) ReleaseAdvisoryLock(int64) error {
	return nil
}

// memoryRelay is an in-memory MediaRelay recording room operations.
type memoryRelay struct {
	mu sync.Mutex

	created []string
	deleted []string
	minted  []string

	failCreate bool
	failDelete bool
}

func newMemoryRelay() *memoryRelay {
	return &memoryRelay{}
}

func (v *memoryRelay) CreateRoom(name string, _ uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failCreate {
		return errors.New("create room failed")
	}
	v.created = append(v.created, name)
	return nil
}

func (v *memoryRelay) DeleteRoom(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deleted = append(v.deleted, name)
	if v.failDelete {
		return errors.New("delete room failed")
	}
	return nil
}

func (v *memoryRelay) MintToken(_, identity, _ string, _ bool) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	token := "token-" + identity
	v.minted = append(v.minted, token)
	return token, nil
}

func (v *memoryRelay) ListParticipants(string) ([]*livekit.ParticipantInfo, error) {
	return nil, nil
}

func (v *memoryRelay) ListRooms() ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var rooms []string
	for _, room := range v.created {
		if !lo.Contains(v.deleted, room) {
			rooms = append(rooms, room)
		}
	}
	return rooms, nil
}

func (v *memoryRelay) RoomCount() (int, error) {
	rooms, _ := v.ListRooms()
	return len(rooms), nil
}

// memoryPublisher records every push the service fans out.
type memoryPublisher struct {
	mu     sync.Mutex
	pushes []recordedPush
}

type recordedPush struct {
	UserID uint
	Pkg    models.WebSocketPackage
}

func newMemoryPublisher() *memoryPublisher {
	return &memoryPublisher{}
}

func (v *memoryPublisher) PushUser(userID uint, pkg models.WebSocketPackage) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pushes = append(v.pushes, recordedPush{UserID: userID, Pkg: pkg})
}

func (v *memoryPublisher) PushUserBatch(userIDs []uint, pkg models.WebSocketPackage) {
	for _, userID := range userIDs {
		v.PushUser(userID, pkg)
	}
}

func (v *memoryPublisher) byAction(action string) []recordedPush {
	v.mu.Lock()
	defer v.mu.Unlock()
	return lo.Filter(v.pushes, func(item recordedPush, _ int) bool {
		return item.Pkg.Action == action
	})
}
