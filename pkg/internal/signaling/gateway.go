package signaling

import (
	"github.com/gofiber/contrib/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/murmur-chat/calling/pkg/internal/models"
	"github.com/murmur-chat/calling/pkg/internal/services"
	"github.com/samber/lo"
)

// Gateway multiplexes one websocket connection: it authbinds the
// connection to the user's logical address, dispatches call-control
// packets into the call service and relays webrtc negotiation packets
// to their target user.
type Gateway struct {
	relay *Relay
	calls *services.CallService
}

func NewGateway(relay *Relay, calls *services.CallService) *Gateway {
	return &Gateway{
		relay: relay,
		calls: calls,
	}
}

// Launch runs the connection's event loop until the peer goes away.
// Dropping the connection changes no persisted call state; it only
// removes this connection from the routing table.
func (v *Gateway) Launch(user models.Account, c *websocket.Conn) {
	v.relay.Register(user.ID, c)
	defer v.relay.Unregister(user.ID, c)

	var pkg models.WebSocketPackage

	var messageType int
	var packet []byte
	var err error

	for {
		if messageType, packet, err = c.ReadMessage(); err != nil {
			break
		} else if err := jsoniter.Unmarshal(packet, &pkg); err != nil {
			_ = c.WriteMessage(messageType, models.WebSocketPackage{
				Action:  models.ActionError,
				Message: "unable to unmarshal your command, requires json request",
			}.Marshal())
			continue
		}

		reply := v.dealPacket(user, pkg)

		if reply != nil {
			if err = c.WriteMessage(messageType, reply.Marshal()); err != nil {
				break
			}
		}
	}
}

type callControlPayload struct {
	CallID       uint                 `json:"call_id"`
	UserID       uint                 `json:"user_id"`
	Reason       models.CallEndReason `json:"reason"`
	Enabled      *bool                `json:"enabled"`
	TargetUserID uint                 `json:"target_user_id"`
}

func (v *Gateway) dealPacket(user models.Account, pkg models.WebSocketPackage) *models.WebSocketPackage {
	var data callControlPayload
	models.FitStruct(pkg.Payload, &data)

	switch pkg.Action {
	case models.ActionCallInvite:
		return v.dealInvite(user, data)
	case models.ActionCallAccept:
		_, err := v.calls.MarkConnected(user, data.CallID)
		return replyOnError(err)
	case models.ActionCallDecline:
		_, err := v.calls.EndCall(user, data.CallID, models.CallEndReasonDeclined)
		return replyOnError(err)
	case models.ActionCallEnd:
		_, err := v.calls.EndCall(user, data.CallID, sanitizeEndReason(data.Reason))
		return replyOnError(err)
	case models.ActionCallToggleAudio:
		_, err := v.calls.UpdateParticipantMedia(user, data.CallID, services.MediaFlagsPatch{
			AudioEnabled: toggleValue(data.Enabled),
		})
		return replyOnError(err)
	case models.ActionCallToggleVideo:
		_, err := v.calls.UpdateParticipantMedia(user, data.CallID, services.MediaFlagsPatch{
			VideoEnabled: toggleValue(data.Enabled),
		})
		return replyOnError(err)
	case models.ActionCallToggleScreenShare:
		_, err := v.calls.UpdateParticipantMedia(user, data.CallID, services.MediaFlagsPatch{
			ScreenShareEnabled: toggleValue(data.Enabled),
		})
		return replyOnError(err)
	case models.ActionCallQualityUpdate:
		var report services.QualityReport
		models.FitStruct(pkg.Payload, &report)
		return replyOnError(v.calls.RecordQuality(user, data.CallID, report))
	case models.ActionWebrtcOffer, models.ActionWebrtcAnswer, models.ActionWebrtcIceCandidate:
		return v.dealWebrtcRelay(user, pkg, data.TargetUserID)
	default:
		return &models.WebSocketPackage{
			Action:  models.ActionError,
			Message: "command not found",
		}
	}
}

// dealInvite re-rings one invited user on an active call, for invitees
// who were offline when the call started.
func (v *Gateway) dealInvite(user models.Account, data callControlPayload) *models.WebSocketPackage {
	call, err := v.calls.GetCall(data.CallID)
	if err != nil {
		return replyOnError(err)
	}
	if !call.IsActive() {
		return replyOnError(services.ErrCallNotActive)
	}

	invited := lo.ContainsBy(call.Participants, func(item models.CallParticipant) bool {
		return item.UserID == user.ID && !item.HasLeft()
	})
	if !invited {
		return replyOnError(services.ErrNotInCall)
	}

	v.relay.PushUser(data.UserID, models.WebSocketPackage{
		Action: models.ActionCallIncoming,
		Payload: map[string]any{
			"call_id": call.ID,
			"user_id": user.ID,
			"call":    call,
		},
	})
	return nil
}

// dealWebrtcRelay forwards a negotiation packet opaquely to the target
// user, replacing the target address with the sender's.
func (v *Gateway) dealWebrtcRelay(user models.Account, pkg models.WebSocketPackage, targetUserID uint) *models.WebSocketPackage {
	if targetUserID == 0 {
		return &models.WebSocketPackage{
			Action:  models.ActionError,
			Message: "webrtc relay requires a target_user_id",
		}
	}

	payload := map[string]any{}
	models.FitStruct(pkg.Payload, &payload)
	delete(payload, "target_user_id")
	payload["from_user_id"] = user.ID

	v.relay.PushUser(targetUserID, models.WebSocketPackage{
		Action:  pkg.Action,
		Payload: payload,
	})
	return nil
}

func replyOnError(err error) *models.WebSocketPackage {
	if err == nil {
		return nil
	}
	return lo.ToPtr(models.WebSocketPackageFromError(err))
}

func toggleValue(enabled *bool) *bool {
	if enabled == nil {
		return lo.ToPtr(true)
	}
	return enabled
}

// sanitizeEndReason drops values outside the closed reason set so the
// orchestrator falls back to its default.
func sanitizeEndReason(reason models.CallEndReason) models.CallEndReason {
	switch reason {
	case models.CallEndReasonNormal, models.CallEndReasonTimeout,
		models.CallEndReasonDeclined, models.CallEndReasonBusy,
		models.CallEndReasonFailed, models.CallEndReasonCancelled,
		models.CallEndReasonNetworkError, models.CallEndReasonNoAnswer:
		return reason
	default:
		return ""
	}
}
