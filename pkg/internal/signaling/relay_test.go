package signaling

import (
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/murmur-chat/calling/pkg/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn captures everything written to one connection.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (v *fakeConn) WriteMessage(_ int, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.frames = append(v.frames, data)
	return nil
}

func (v *fakeConn) packages(t *testing.T) []models.WebSocketPackage {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.WebSocketPackage, 0, len(v.frames))
	for _, frame := range v.frames {
		var pkg models.WebSocketPackage
		require.NoError(t, jsoniter.Unmarshal(frame, &pkg))
		out = append(out, pkg)
	}
	return out
}

func newLocalRelay(t *testing.T) *Relay {
	relay, err := NewRelay(nil)
	require.NoError(t, err)
	return relay
}

func TestRelayDeliversToRegisteredConnections(t *testing.T) {
	relay := newLocalRelay(t)
	conn := &fakeConn{}
	relay.Register(7, conn)

	relay.PushUser(7, models.WebSocketPackage{Action: models.ActionCallEnded})

	packages := conn.packages(t)
	require.Len(t, packages, 1)
	assert.Equal(t, models.ActionCallEnded, packages[0].Action)
}

func TestRelayDropsUnknownUserSilently(t *testing.T) {
	relay := newLocalRelay(t)
	conn := &fakeConn{}
	relay.Register(7, conn)

	relay.PushUser(8, models.WebSocketPackage{Action: models.ActionCallIncoming})

	assert.Empty(t, conn.packages(t))
}

func TestRelayFansOutToEveryConnectionOfUser(t *testing.T) {
	relay := newLocalRelay(t)
	desktop := &fakeConn{}
	mobile := &fakeConn{}
	relay.Register(7, desktop)
	relay.Register(7, mobile)

	relay.PushUser(7, models.WebSocketPackage{Action: models.ActionCallIncoming})

	assert.Len(t, desktop.packages(t), 1)
	assert.Len(t, mobile.packages(t), 1)
}

func TestRelayUnregisterStopsDelivery(t *testing.T) {
	relay := newLocalRelay(t)
	conn := &fakeConn{}
	relay.Register(7, conn)
	require.True(t, relay.CheckOnline(7))

	relay.Unregister(7, conn)
	assert.False(t, relay.CheckOnline(7))

	relay.PushUser(7, models.WebSocketPackage{Action: models.ActionCallEnded})
	assert.Empty(t, conn.packages(t))
}

func TestRelayPushUserBatch(t *testing.T) {
	relay := newLocalRelay(t)
	alice := &fakeConn{}
	bob := &fakeConn{}
	relay.Register(1, alice)
	relay.Register(2, bob)

	relay.PushUserBatch([]uint{1, 2, 3}, models.WebSocketPackage{Action: models.ActionCallEnded})

	assert.Len(t, alice.packages(t), 1)
	assert.Len(t, bob.packages(t), 1)
}
