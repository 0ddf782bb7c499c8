package services

import (
	"github.com/murmur-chat/calling/pkg/internal/models"
)

// Pure transition tables for the call lifecycle. Every state change the
// orchestrator or the reaper performs is validated against these maps.

var callTransitions = map[models.CallState][]models.CallState{
	models.CallStateInitiating: {
		models.CallStateRinging,
		models.CallStateEnded,
		models.CallStateFailed,
	},
	models.CallStateRinging: {
		models.CallStateConnecting,
		models.CallStateEnded,
		models.CallStateFailed,
	},
	models.CallStateConnecting: {
		models.CallStateConnected,
		models.CallStateEnded,
		models.CallStateFailed,
	},
	models.CallStateConnected: {
		models.CallStateReconnecting,
		models.CallStateEnded,
		models.CallStateFailed,
	},
	models.CallStateReconnecting: {
		models.CallStateConnected,
		models.CallStateEnded,
		models.CallStateFailed,
	},
	models.CallStateEnded:  {},
	models.CallStateFailed: {},
}

var participantTransitions = map[models.ParticipantState][]models.ParticipantState{
	models.ParticipantStateRinging: {
		models.ParticipantStateConnecting,
		models.ParticipantStateLeft,
	},
	models.ParticipantStateConnecting: {
		models.ParticipantStateConnected,
		models.ParticipantStateLeft,
	},
	models.ParticipantStateConnected: {
		models.ParticipantStateConnecting,
		models.ParticipantStateLeft,
	},
	models.ParticipantStateLeft: {},
}

func CanTransitionCall(from, to models.CallState) bool {
	for _, next := range callTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func CanTransitionParticipant(from, to models.ParticipantState) bool {
	for _, next := range participantTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CallJoinable reports whether a participant may move to connecting.
func CallJoinable(state models.CallState) bool {
	switch state {
	case models.CallStateRinging, models.CallStateConnecting, models.CallStateConnected:
		return true
	default:
		return false
	}
}

// AllConnected is the call-level fold: true when every participant who
// has not left is connected. A call with no remaining participants is
// not considered connected.
func AllConnected(participants []models.CallParticipant) bool {
	remaining := 0
	for _, participant := range participants {
		if participant.HasLeft() {
			continue
		}
		if participant.State != models.ParticipantStateConnected {
			return false
		}
		remaining++
	}
	return remaining > 0
}
