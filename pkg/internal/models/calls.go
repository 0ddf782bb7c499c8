package models

import (
	"time"

	"gorm.io/gorm"
)

type CallType = string

const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

type CallState = string

const (
	CallStateInitiating   CallState = "initiating"
	CallStateRinging      CallState = "ringing"
	CallStateConnecting   CallState = "connecting"
	CallStateConnected    CallState = "connected"
	CallStateReconnecting CallState = "reconnecting"
	CallStateEnded        CallState = "ended"
	CallStateFailed       CallState = "failed"
)

// CallEndReason is a closed set; values are part of the public API.
type CallEndReason = string

const (
	CallEndReasonNormal       CallEndReason = "normal"
	CallEndReasonTimeout      CallEndReason = "timeout"
	CallEndReasonDeclined     CallEndReason = "declined"
	CallEndReasonBusy         CallEndReason = "busy"
	CallEndReasonFailed       CallEndReason = "failed"
	CallEndReasonCancelled    CallEndReason = "cancelled"
	CallEndReasonNetworkError CallEndReason = "network_error"
	CallEndReasonNoAnswer     CallEndReason = "no_answer"
)

type Call struct {
	BaseModel

	ExternalID      string        `json:"external_id" gorm:"uniqueIndex"`
	Type            CallType      `json:"type"`
	State           CallState     `json:"state" gorm:"index"`
	InitiatorID     uint          `json:"initiator_id"`
	ChatID          *uint         `json:"chat_id,omitempty"`
	IsGroup         bool          `json:"is_group"`
	MaxParticipants int           `json:"max_participants"`
	StartedAt       *time.Time    `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at"`
	EndReason       CallEndReason `json:"end_reason,omitempty"`

	Participants []CallParticipant `json:"participants,omitempty"`

	Duration int64 `json:"duration" gorm:"-"`
}

// IsActive reports whether the call can still carry participants.
func (v Call) IsActive() bool {
	switch v.State {
	case CallStateRinging, CallStateConnecting, CallStateConnected, CallStateReconnecting:
		return true
	default:
		return false
	}
}

func (v Call) IsTerminal() bool {
	return v.State == CallStateEnded || v.State == CallStateFailed
}

func (v *Call) AfterFind(*gorm.DB) error {
	if v.StartedAt != nil && v.EndedAt != nil {
		v.Duration = int64(v.EndedAt.Sub(*v.StartedAt).Seconds())
	}
	return nil
}

type ParticipantRole = string

const (
	ParticipantRoleInitiator   ParticipantRole = "initiator"
	ParticipantRoleParticipant ParticipantRole = "participant"
)

type ParticipantState = string

const (
	ParticipantStateRinging    ParticipantState = "ringing"
	ParticipantStateConnecting ParticipantState = "connecting"
	ParticipantStateConnected  ParticipantState = "connected"
	ParticipantStateLeft       ParticipantState = "left"
)

type CallParticipant struct {
	BaseModel

	CallID uint `json:"call_id" gorm:"uniqueIndex:idx_call_participant"`
	UserID uint `json:"user_id" gorm:"uniqueIndex:idx_call_participant"`

	Role  ParticipantRole  `json:"role"`
	State ParticipantState `json:"state"`

	JoinedAt *time.Time `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at"`

	AudioEnabled       bool `json:"audio_enabled"`
	VideoEnabled       bool `json:"video_enabled"`
	ScreenShareEnabled bool `json:"screen_share_enabled"`
}

func (v CallParticipant) HasLeft() bool {
	return v.LeftAt != nil || v.State == ParticipantStateLeft
}

type CallStats struct {
	TotalCalls    int64 `json:"total_calls"`
	TotalDuration int64 `json:"total_duration"`
	AudioCalls    int64 `json:"audio_calls"`
	VideoCalls    int64 `json:"video_calls"`
}
