package database

import (
	"time"

	"github.com/murmur-chat/calling/pkg/internal/models"
	"gorm.io/gorm"
)

// CallStore is the gorm-backed durable record of calls, participants and
// quality samples. It satisfies the store interface the call service and
// the reaper are constructed with.
type CallStore struct {
	db *gorm.DB
}

func NewCallStore(db *gorm.DB) *CallStore {
	return &CallStore{db: db}
}

func (v *CallStore) CreateCall(call *models.Call, participants []*models.CallParticipant) error {
	return v.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(call).Error; err != nil {
			return err
		}
		for _, participant := range participants {
			participant.CallID = call.ID
			if err := tx.Create(participant).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (v *CallStore) GetCall(id uint) (models.Call, error) {
	var call models.Call
	if err := v.db.
		Where("id = ?", id).
		Preload("Participants").
		First(&call).Error; err != nil {
		return call, err
	}
	return call, nil
}

func (v *CallStore) GetActiveCallByUser(userID uint) (models.Call, error) {
	var call models.Call
	if err := v.db.
		Joins("JOIN call_participants ON call_participants.call_id = calls.id").
		Where("call_participants.user_id = ?", userID).
		Where("call_participants.left_at IS NULL").
		Where("call_participants.deleted_at IS NULL").
		Where("calls.state IN ?", []models.CallState{
			models.CallStateRinging,
			models.CallStateConnecting,
			models.CallStateConnected,
			models.CallStateReconnecting,
		}).
		Order("calls.created_at DESC").
		Preload("Participants").
		First(&call).Error; err != nil {
		return call, err
	}
	return call, nil
}

func (v *CallStore) GetParticipant(callID, userID uint) (models.CallParticipant, error) {
	var participant models.CallParticipant
	if err := v.db.
		Where(models.CallParticipant{CallID: callID, UserID: userID}).
		First(&participant).Error; err != nil {
		return participant, err
	}
	return participant, nil
}

func (v *CallStore) ListParticipants(callID uint) ([]models.CallParticipant, error) {
	var participants []models.CallParticipant
	if err := v.db.
		Where(models.CallParticipant{CallID: callID}).
		Order("created_at ASC").
		Find(&participants).Error; err != nil {
		return participants, err
	}
	return participants, nil
}

func (v *CallStore) SaveCall(call *models.Call) error {
	return v.db.Save(call).Error
}

func (v *CallStore) SaveParticipant(participant *models.CallParticipant) error {
	return v.db.Save(participant).Error
}

// SaveCallAndParticipant persists a call transition together with the
// participant row that caused it.
func (v *CallStore) SaveCallAndParticipant(call *models.Call, participant *models.CallParticipant) error {
	return v.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(call).Error; err != nil {
			return err
		}
		return tx.Save(participant).Error
	})
}

// EndCallCascade persists the terminal call row and marks every
// participant that has not left yet as left at the same instant.
func (v *CallStore) EndCallCascade(call *models.Call, endedAt time.Time) error {
	return v.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(call).Error; err != nil {
			return err
		}
		return tx.Model(&models.CallParticipant{}).
			Where("call_id = ? AND left_at IS NULL", call.ID).
			Updates(map[string]any{
				"state":   models.ParticipantStateLeft,
				"left_at": endedAt,
			}).Error
	})
}

func (v *CallStore) ListCallsByUser(userID uint, take, offset int) ([]models.Call, error) {
	if take > 100 {
		take = 100
	}

	var calls []models.Call
	if err := v.db.
		Joins("JOIN call_participants ON call_participants.call_id = calls.id").
		Where("call_participants.user_id = ?", userID).
		Where("call_participants.deleted_at IS NULL").
		Limit(take).Offset(offset).
		Order("calls.created_at DESC").
		Preload("Participants").
		Find(&calls).Error; err != nil {
		return calls, err
	}
	return calls, nil
}

func (v *CallStore) GetCallStats(userID uint) (models.CallStats, error) {
	var stats models.CallStats
	if err := v.db.Model(&models.Call{}).
		Joins("JOIN call_participants ON call_participants.call_id = calls.id").
		Where("call_participants.user_id = ?", userID).
		Where("call_participants.deleted_at IS NULL").
		Select(
			"COUNT(*) AS total_calls, "+
				"COALESCE(SUM(EXTRACT(EPOCH FROM (calls.ended_at - calls.started_at))), 0)::bigint AS total_duration, "+
				"COUNT(*) FILTER (WHERE calls.type = ?) AS audio_calls, "+
				"COUNT(*) FILTER (WHERE calls.type = ?) AS video_calls",
			models.CallTypeAudio, models.CallTypeVideo,
		).
		Scan(&stats).Error; err != nil {
		return stats, err
	}
	return stats, nil
}

func (v *CallStore) AppendQualitySample(sample *models.QualitySample) error {
	return v.db.Create(sample).Error
}

// ListTimedOutCalls returns non-terminal calls in the given states whose
// age column (created_at, or started_at when byStartedAt is set) is older
// than the deadline.
func (v *CallStore) ListTimedOutCalls(states []models.CallState, byStartedAt bool, before time.Time) ([]models.Call, error) {
	column := "calls.created_at"
	if byStartedAt {
		column = "calls.started_at"
	}

	var calls []models.Call
	if err := v.db.
		Where("calls.state IN ?", states).
		Where("calls.ended_at IS NULL").
		Where(column+" < ?", before).
		Find(&calls).Error; err != nil {
		return calls, err
	}
	return calls, nil
}

// BackfillParticipantLeaves reconciles participant rows that were never
// marked via the leave path: their owning call has ended, so their
// left_at is stamped with the call's ended_at.
func (v *CallStore) BackfillParticipantLeaves() (int64, error) {
	tx := v.db.Exec(`
		UPDATE call_participants
		SET left_at = calls.ended_at, state = ?, updated_at = NOW()
		FROM calls
		WHERE calls.id = call_participants.call_id
		  AND calls.ended_at IS NOT NULL
		  AND call_participants.left_at IS NULL
		  AND call_participants.deleted_at IS NULL
	`, models.ParticipantStateLeft)
	return tx.RowsAffected, tx.Error
}

func (v *CallStore) PurgeQualitySamples(before time.Time) (int64, error) {
	tx := v.db.Unscoped().
		Where("created_at < ?", before).
		Delete(&models.QualitySample{})
	return tx.RowsAffected, tx.Error
}

func (v *CallStore) ListActiveRoomNames() ([]string, error) {
	var names []string
	if err := v.db.Model(&models.Call{}).
		Where("ended_at IS NULL").
		Pluck("external_id", &names).Error; err != nil {
		return names, err
	}
	return names, nil
}

// TryAdvisoryLock takes a session-scoped Postgres advisory lock so that
// only one reaper instance sweeps at a time across the fleet.
func (v *CallStore) TryAdvisoryLock(key int64) (bool, error) {
	var locked bool
	if err := v.db.Raw("SELECT pg_try_advisory_lock(?)", key).Scan(&locked).Error; err != nil {
		return false, err
	}
	return locked, nil
}

func (v *CallStore) ReleaseAdvisoryLock(key int64) error {
	return v.db.Exec("SELECT pg_advisory_unlock(?)", key).Error
}
