package models

import jsoniter "github.com/json-iterator/go"

// Client to server signaling actions.
const (
	ActionCallInvite            = "call:invite"
	ActionCallAccept            = "call:accept"
	ActionCallDecline           = "call:decline"
	ActionCallEnd               = "call:end"
	ActionCallToggleAudio       = "call:toggle_audio"
	ActionCallToggleVideo       = "call:toggle_video"
	ActionCallToggleScreenShare = "call:toggle_screen_share"
	ActionCallQualityUpdate     = "call:quality_update"
)

// Server to client signaling actions.
const (
	ActionCallIncoming           = "call:incoming"
	ActionCallAccepted           = "call:accepted"
	ActionCallDeclined           = "call:declined"
	ActionCallEnded              = "call:ended"
	ActionCallParticipantJoined  = "call:participant_joined"
	ActionCallParticipantUpdated = "call:participant_updated"
	ActionError                  = "error"
)

// WebRTC negotiation actions, relayed opaquely between participants.
const (
	ActionWebrtcOffer        = "webrtc:offer"
	ActionWebrtcAnswer       = "webrtc:answer"
	ActionWebrtcIceCandidate = "webrtc:ice_candidate"
)

type WebSocketPackage struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

func (v WebSocketPackage) Marshal() []byte {
	data, _ := jsoniter.Marshal(v)
	return data
}

func WebSocketPackageFromError(err error) WebSocketPackage {
	return WebSocketPackage{
		Action:  ActionError,
		Message: err.Error(),
	}
}
