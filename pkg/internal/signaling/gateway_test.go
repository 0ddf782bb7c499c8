package signaling

import (
	"testing"

	"github.com/murmur-chat/calling/pkg/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDealPacketRelaysWebrtcOfferToTarget(t *testing.T) {
	relay := newLocalRelay(t)
	gateway := NewGateway(relay, nil)

	target := &fakeConn{}
	relay.Register(2, target)

	reply := gateway.dealPacket(models.Account{ID: 1}, models.WebSocketPackage{
		Action: models.ActionWebrtcOffer,
		Payload: map[string]any{
			"call_id":        1,
			"target_user_id": 2,
			"sdp":            "v=0...",
		},
	})
	assert.Nil(t, reply)

	packages := target.packages(t)
	require.Len(t, packages, 1)
	assert.Equal(t, models.ActionWebrtcOffer, packages[0].Action)

	payload, ok := packages[0].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "v=0...", payload["sdp"])
	assert.EqualValues(t, 1, payload["from_user_id"])
	assert.NotContains(t, payload, "target_user_id")
}

func TestDealPacketRelaysIceCandidate(t *testing.T) {
	relay := newLocalRelay(t)
	gateway := NewGateway(relay, nil)

	target := &fakeConn{}
	relay.Register(5, target)

	reply := gateway.dealPacket(models.Account{ID: 3}, models.WebSocketPackage{
		Action: models.ActionWebrtcIceCandidate,
		Payload: map[string]any{
			"target_user_id": 5,
			"candidate":      "candidate:0 1 UDP ...",
		},
	})
	assert.Nil(t, reply)
	require.Len(t, target.packages(t), 1)
	assert.Equal(t, models.ActionWebrtcIceCandidate, target.packages(t)[0].Action)
}

func TestDealPacketWebrtcRelayRequiresTarget(t *testing.T) {
	relay := newLocalRelay(t)
	gateway := NewGateway(relay, nil)

	reply := gateway.dealPacket(models.Account{ID: 1}, models.WebSocketPackage{
		Action:  models.ActionWebrtcAnswer,
		Payload: map[string]any{"sdp": "v=0..."},
	})
	require.NotNil(t, reply)
	assert.Equal(t, models.ActionError, reply.Action)
}

func TestSanitizeEndReason(t *testing.T) {
	assert.Equal(t, models.CallEndReasonDeclined, sanitizeEndReason(models.CallEndReasonDeclined))
	assert.Equal(t, models.CallEndReasonNoAnswer, sanitizeEndReason(models.CallEndReasonNoAnswer))

	assert.Empty(t, sanitizeEndReason("rebooted"))
	assert.Empty(t, sanitizeEndReason(""))
}

func TestDealPacketUnknownAction(t *testing.T) {
	relay := newLocalRelay(t)
	gateway := NewGateway(relay, nil)

	reply := gateway.dealPacket(models.Account{ID: 1}, models.WebSocketPackage{
		Action: "call:unknown",
	})
	require.NotNil(t, reply)
	assert.Equal(t, models.ActionError, reply.Action)
	assert.Equal(t, "command not found", reply.Message)
}
