package services

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/murmur-chat/calling/pkg/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CallStore is the durable record of calls and participants. The gorm
// implementation lives in the database package; tests substitute an
// in-memory fake.
type CallStore interface {
	CreateCall(call *models.Call, participants []*models.CallParticipant) error
	GetCall(id uint) (models.Call, error)
	GetActiveCallByUser(userID uint) (models.Call, error)
	GetParticipant(callID, userID uint) (models.CallParticipant, error)
	ListParticipants(callID uint) ([]models.CallParticipant, error)
	SaveCall(call *models.Call) error
	SaveParticipant(participant *models.CallParticipant) error
	SaveCallAndParticipant(call *models.Call, participant *models.CallParticipant) error
	EndCallCascade(call *models.Call, endedAt time.Time) error
	ListCallsByUser(userID uint, take, offset int) ([]models.Call, error)
	GetCallStats(userID uint) (models.CallStats, error)
	AppendQualitySample(sample *models.QualitySample) error
	ListTimedOutCalls(states []models.CallState, byStartedAt bool, before time.Time) ([]models.Call, error)
	BackfillParticipantLeaves() (int64, error)
	PurgeQualitySamples(before time.Time) (int64, error)
	ListActiveRoomNames() ([]string, error)
	TryAdvisoryLock(key int64) (bool, error)
	ReleaseAdvisoryLock(key int64) error
}

// Publisher fans server events out to whichever node currently holds a
// connection for the target user. Delivery is at-most-once.
type Publisher interface {
	PushUser(userID uint, pkg models.WebSocketPackage)
	PushUserBatch(userIDs []uint, pkg models.WebSocketPackage)
}

type CallService struct {
	store CallStore
	relay MediaRelay
	push  Publisher
}

func NewCallService(store CallStore, relay MediaRelay, push Publisher) *CallService {
	return &CallService{
		store: store,
		relay: relay,
		push:  push,
	}
}

// CallTicket is the response bundle for operations that admit a user
// into a call: the call row, their media-relay access token and the
// static ICE configuration.
type CallTicket struct {
	Call         models.Call              `json:"call"`
	Token        string                   `json:"token"`
	IceServers   []IceServer              `json:"ice_servers"`
	Participants []models.CallParticipant `json:"participants,omitempty"`
}

type MediaFlagsPatch struct {
	AudioEnabled       *bool `json:"audio_enabled"`
	VideoEnabled       *bool `json:"video_enabled"`
	ScreenShareEnabled *bool `json:"screen_share_enabled"`
}

type QualityReport struct {
	JitterMs      float64 `json:"jitter_ms"`
	PacketLossPct float64 `json:"packet_loss_pct"`
	RttMs         float64 `json:"rtt_ms"`
	BandwidthKbps int     `json:"bandwidth_kbps"`
	Fps           *int    `json:"fps,omitempty"`
	Resolution    string  `json:"resolution,omitempty"`
	Codec         string  `json:"codec,omitempty"`
}

// StartCall provisions an external room, records the call with its
// participant set and rings the invitees. The room is created before
// any durable write; if provisioning fails no row exists at all.
func (v *CallService) StartCall(user models.Account, kind models.CallType, participantIDs []uint, chatID *uint, flags MediaFlagsPatch) (CallTicket, error) {
	var ticket CallTicket

	participantIDs = lo.Uniq(participantIDs)
	if lo.Contains(participantIDs, user.ID) {
		return ticket, ErrSelfInvite
	}

	if _, err := v.store.GetActiveCallByUser(user.ID); err == nil {
		return ticket, ErrAlreadyInCall
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return ticket, err
	}

	room := fmt.Sprintf("call_%s", uuid.NewString())
	capacity := uint32(len(participantIDs) + 1)
	if err := v.relay.CreateRoom(room, capacity); err != nil {
		return ticket, fmt.Errorf("%w: %v", ErrMediaRelay, err)
	}

	maxParticipants := viper.GetInt("calling.max_participants")
	if maxParticipants <= 0 {
		maxParticipants = 8
	}

	call := models.Call{
		ExternalID:      room,
		Type:            kind,
		State:           models.CallStateInitiating,
		InitiatorID:     user.ID,
		ChatID:          chatID,
		IsGroup:         len(participantIDs) > 1,
		MaxParticipants: maxParticipants,
	}

	now := time.Now()
	initiator := &models.CallParticipant{
		UserID:             user.ID,
		Role:               models.ParticipantRoleInitiator,
		State:              models.ParticipantStateConnecting,
		JoinedAt:           lo.ToPtr(now),
		AudioEnabled:       flags.AudioEnabled == nil || *flags.AudioEnabled,
		VideoEnabled:       kind == models.CallTypeVideo && (flags.VideoEnabled == nil || *flags.VideoEnabled),
		ScreenShareEnabled: false,
	}
	participants := []*models.CallParticipant{initiator}
	for _, id := range participantIDs {
		participants = append(participants, &models.CallParticipant{
			UserID:       id,
			Role:         models.ParticipantRoleParticipant,
			State:        models.ParticipantStateRinging,
			AudioEnabled: true,
			VideoEnabled: kind == models.CallTypeVideo,
		})
	}

	if err := v.store.CreateCall(&call, participants); err != nil {
		return ticket, err
	}

	token, err := v.relay.MintToken(call.ExternalID, strconv.FormatUint(uint64(user.ID), 10), user.Nick, true)
	if err != nil {
		return ticket, fmt.Errorf("%w: %v", ErrMediaRelay, err)
	}

	call.State = models.CallStateRinging
	if err := v.store.SaveCall(&call); err != nil {
		return ticket, err
	}

	v.push.PushUserBatch(participantIDs, models.WebSocketPackage{
		Action: models.ActionCallIncoming,
		Payload: map[string]any{
			"call_id": call.ID,
			"user_id": user.ID,
			"call":    call,
		},
	})

	ticket.Call = call
	ticket.Token = token
	ticket.IceServers = GetIceServers()
	return ticket, nil
}

// JoinCall admits an invited user into an active call and mints a fresh
// access token; it doubles as the reconnection path.
func (v *CallService) JoinCall(user models.Account, callID uint) (CallTicket, error) {
	var ticket CallTicket

	call, err := v.store.GetCall(callID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ticket, ErrCallNotFound
		}
		return ticket, err
	}
	if !CallJoinable(call.State) {
		return ticket, ErrCallNotActive
	}

	participant, err := v.store.GetParticipant(call.ID, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ticket, ErrNotInvited
		}
		return ticket, err
	}
	if participant.HasLeft() {
		return ticket, ErrNotInCall
	}

	reconnecting := participant.State == models.ParticipantStateConnected
	if CanTransitionParticipant(participant.State, models.ParticipantStateConnecting) {
		participant.State = models.ParticipantStateConnecting
	}
	if participant.JoinedAt == nil {
		participant.JoinedAt = lo.ToPtr(time.Now())
	}

	switch {
	case call.State == models.CallStateRinging:
		call.State = models.CallStateConnecting
	case reconnecting && call.State == models.CallStateConnected:
		call.State = models.CallStateReconnecting
	}

	if err := v.store.SaveCallAndParticipant(&call, &participant); err != nil {
		return ticket, err
	}

	admin := participant.Role == models.ParticipantRoleInitiator
	token, err := v.relay.MintToken(call.ExternalID, strconv.FormatUint(uint64(user.ID), 10), user.Nick, admin)
	if err != nil {
		return ticket, fmt.Errorf("%w: %v", ErrMediaRelay, err)
	}

	participants, err := v.store.ListParticipants(call.ID)
	if err != nil {
		return ticket, err
	}

	v.pushOthers(participants, user.ID, models.WebSocketPackage{
		Action: models.ActionCallParticipantJoined,
		Payload: map[string]any{
			"call_id":     call.ID,
			"user_id":     user.ID,
			"participant": participant,
		},
	})

	ticket.Call = call
	ticket.Token = token
	ticket.IceServers = GetIceServers()
	ticket.Participants = participants
	return ticket, nil
}

// EndCall applies the end-for-all rule when the caller is the initiator
// and the leave rule otherwise. Re-issuing end on an already terminal
// call retries the external room cleanup and nothing else.
func (v *CallService) EndCall(user models.Account, callID uint, reason models.CallEndReason) (models.Call, error) {
	call, err := v.store.GetCall(callID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return call, ErrCallNotFound
		}
		return call, err
	}

	participant, err := v.store.GetParticipant(call.ID, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return call, ErrNotInCall
		}
		return call, err
	}

	if call.IsTerminal() {
		v.destroyRoom(call)
		return call, nil
	}

	if reason == "" {
		reason = models.CallEndReasonNormal
	}
	now := time.Now()

	if participant.Role == models.ParticipantRoleInitiator {
		if !CanTransitionCall(call.State, models.CallStateEnded) {
			return call, ErrCallNotActive
		}
		call.State = models.CallStateEnded
		call.EndReason = reason
		call.EndedAt = lo.ToPtr(now)

		participants, _ := v.store.ListParticipants(call.ID)
		if err := v.store.EndCallCascade(&call, now); err != nil {
			return call, err
		}

		v.destroyRoom(call)

		v.push.PushUserBatch(remainingUserIDs(participants), models.WebSocketPackage{
			Action: models.ActionCallEnded,
			Payload: map[string]any{
				"call_id": call.ID,
				"user_id": user.ID,
				"reason":  reason,
				"call":    call,
			},
		})
		return call, nil
	}

	// Leave path: the call itself is untouched.
	if participant.HasLeft() {
		return call, nil
	}
	participant.State = models.ParticipantStateLeft
	participant.LeftAt = lo.ToPtr(now)
	if err := v.store.SaveParticipant(&participant); err != nil {
		return call, err
	}

	action := models.ActionCallParticipantUpdated
	if reason == models.CallEndReasonDeclined {
		action = models.ActionCallDeclined
	}
	participants, _ := v.store.ListParticipants(call.ID)
	v.pushOthers(participants, user.ID, models.WebSocketPackage{
		Action: action,
		Payload: map[string]any{
			"call_id":     call.ID,
			"user_id":     user.ID,
			"reason":      reason,
			"participant": participant,
		},
	})

	return call, nil
}

// MarkConnected records that a participant's media session is up and
// re-evaluates the call: once every remaining participant is connected
// the call itself becomes connected and started_at is stamped once.
func (v *CallService) MarkConnected(user models.Account, callID uint) (models.Call, error) {
	call, err := v.store.GetCall(callID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return call, ErrCallNotFound
		}
		return call, err
	}
	if !call.IsActive() {
		return call, ErrCallNotActive
	}

	participant, err := v.store.GetParticipant(call.ID, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return call, ErrNotInCall
		}
		return call, err
	}
	if participant.HasLeft() {
		return call, ErrNotInCall
	}

	if participant.State != models.ParticipantStateConnected {
		if !CanTransitionParticipant(participant.State, models.ParticipantStateConnected) {
			return call, ErrCallNotActive
		}
		participant.State = models.ParticipantStateConnected
		if participant.JoinedAt == nil {
			participant.JoinedAt = lo.ToPtr(time.Now())
		}
		if err := v.store.SaveParticipant(&participant); err != nil {
			return call, err
		}

		participants, _ := v.store.ListParticipants(call.ID)
		v.pushOthers(participants, user.ID, models.WebSocketPackage{
			Action: models.ActionCallAccepted,
			Payload: map[string]any{
				"call_id": call.ID,
				"user_id": user.ID,
			},
		})
	}

	participants, err := v.store.ListParticipants(call.ID)
	if err != nil {
		return call, err
	}

	if AllConnected(participants) && call.State != models.CallStateConnected {
		if CanTransitionCall(call.State, models.CallStateConnected) {
			call.State = models.CallStateConnected
			if call.StartedAt == nil {
				call.StartedAt = lo.ToPtr(time.Now())
			}
			if err := v.store.SaveCall(&call); err != nil {
				return call, err
			}
		}
	}

	return call, nil
}

// UpdateParticipantMedia applies a partial update of media flags;
// absent fields are left unchanged.
func (v *CallService) UpdateParticipantMedia(user models.Account, callID uint, patch MediaFlagsPatch) (models.CallParticipant, error) {
	var participant models.CallParticipant

	call, err := v.store.GetCall(callID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return participant, ErrCallNotFound
		}
		return participant, err
	}

	participant, err = v.store.GetParticipant(call.ID, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return participant, ErrNotInCall
		}
		return participant, err
	}
	if participant.HasLeft() {
		return participant, ErrNotInCall
	}

	if patch.AudioEnabled != nil {
		participant.AudioEnabled = *patch.AudioEnabled
	}
	if patch.VideoEnabled != nil {
		participant.VideoEnabled = *patch.VideoEnabled
	}
	if patch.ScreenShareEnabled != nil {
		participant.ScreenShareEnabled = *patch.ScreenShareEnabled
	}
	if err := v.store.SaveParticipant(&participant); err != nil {
		return participant, err
	}

	participants, _ := v.store.ListParticipants(call.ID)
	v.pushOthers(participants, user.ID, models.WebSocketPackage{
		Action: models.ActionCallParticipantUpdated,
		Payload: map[string]any{
			"call_id":     call.ID,
			"user_id":     user.ID,
			"participant": participant,
		},
	})

	return participant, nil
}

// RecordQuality classifies and appends one sample. Persistence failures
// are swallowed; telemetry never blocks a call.
func (v *CallService) RecordQuality(user models.Account, callID uint, report QualityReport) error {
	call, err := v.store.GetCall(callID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCallNotFound
		}
		return err
	}

	participant, err := v.store.GetParticipant(call.ID, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotInCall
		}
		return err
	}

	metadata := datatypes.JSONMap{}
	if report.Fps != nil {
		metadata["fps"] = *report.Fps
	}
	if report.Resolution != "" {
		metadata["resolution"] = report.Resolution
	}
	if report.Codec != "" {
		metadata["codec"] = report.Codec
	}

	sample := models.QualitySample{
		CallID:        call.ID,
		ParticipantID: participant.ID,
		JitterMs:      report.JitterMs,
		PacketLossPct: report.PacketLossPct,
		RttMs:         report.RttMs,
		BandwidthKbps: report.BandwidthKbps,
		Metadata:      metadata,
		Rating:        ClassifyQuality(report.JitterMs, report.PacketLossPct, report.RttMs),
	}
	if err := v.store.AppendQualitySample(&sample); err != nil {
		log.Warn().Err(err).Uint("call", call.ID).Msg("Unable to persist quality sample...")
	}

	return nil
}

// ExchangeToken re-issues an access token for reconnection.
func (v *CallService) ExchangeToken(user models.Account, callID uint) (string, []IceServer, error) {
	call, err := v.store.GetCall(callID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrCallNotFound
		}
		return "", nil, err
	}
	if !call.IsActive() {
		return "", nil, ErrCallNotActive
	}

	participant, err := v.store.GetParticipant(call.ID, user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrNotInCall
		}
		return "", nil, err
	}
	if participant.HasLeft() {
		return "", nil, ErrNotInCall
	}

	admin := participant.Role == models.ParticipantRoleInitiator
	token, err := v.relay.MintToken(call.ExternalID, strconv.FormatUint(uint64(user.ID), 10), user.Nick, admin)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMediaRelay, err)
	}

	return token, GetIceServers(), nil
}

func (v *CallService) GetCall(callID uint) (models.Call, error) {
	call, err := v.store.GetCall(callID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return call, ErrCallNotFound
		}
		return call, err
	}
	return call, nil
}

func (v *CallService) GetActiveCall(userID uint) (models.Call, error) {
	call, err := v.store.GetActiveCallByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return call, ErrCallNotFound
		}
		return call, err
	}
	return call, nil
}

func (v *CallService) ListHistory(userID uint, take, offset int) ([]models.Call, error) {
	return v.store.ListCallsByUser(userID, take, offset)
}

func (v *CallService) GetStats(userID uint) (models.CallStats, error) {
	return v.store.GetCallStats(userID)
}

// destroyRoom tears the external room down; failures are logged, never
// surfaced, so a call can always reach its terminal state.
func (v *CallService) destroyRoom(call models.Call) {
	if err := v.relay.DeleteRoom(call.ExternalID); err != nil {
		log.Error().Err(err).Str("room", call.ExternalID).Msg("Unable to delete room at media relay side...")
	}
}

func (v *CallService) pushOthers(participants []models.CallParticipant, exceptUserID uint, pkg models.WebSocketPackage) {
	targets := lo.FilterMap(participants, func(item models.CallParticipant, _ int) (uint, bool) {
		return item.UserID, item.UserID != exceptUserID && !item.HasLeft()
	})
	v.push.PushUserBatch(targets, pkg)
}

// remainingUserIDs collects everyone who has not left yet; participants
// with a left timestamp receive no further fan-out for the call.
func remainingUserIDs(participants []models.CallParticipant) []uint {
	return lo.FilterMap(participants, func(item models.CallParticipant, _ int) (uint, bool) {
		return item.UserID, !item.HasLeft()
	})
}
