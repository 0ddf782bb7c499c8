package signaling

import (
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/murmur-chat/calling/pkg/internal/models"
	"github.com/rs/zerolog/log"
)

// PacketWriter is the slice of a websocket connection the relay needs;
// satisfied by *websocket.Conn.
type PacketWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Relay holds the ephemeral routing state of this node: which live
// connections belong to which user. It is reconstructed on reconnect
// and never persisted. Pushes go through the bus so every node gets a
// chance to deliver; users reachable nowhere are silently dropped.
type Relay struct {
	mu    sync.RWMutex
	conns map[uint][]PacketWriter

	bus *Bus
}

func NewRelay(bus *Bus) (*Relay, error) {
	relay := &Relay{
		conns: make(map[uint][]PacketWriter),
		bus:   bus,
	}
	if bus != nil {
		if err := bus.SubscribePush(relay.deliverLocal); err != nil {
			return nil, err
		}
	}
	return relay, nil
}

func (v *Relay) Register(userID uint, conn PacketWriter) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.conns[userID] = append(v.conns[userID], conn)
}

func (v *Relay) Unregister(userID uint, conn PacketWriter) {
	v.mu.Lock()
	defer v.mu.Unlock()
	remaining := v.conns[userID][:0]
	for _, item := range v.conns[userID] {
		if item != conn {
			remaining = append(remaining, item)
		}
	}
	if len(remaining) == 0 {
		delete(v.conns, userID)
	} else {
		v.conns[userID] = remaining
	}
}

func (v *Relay) CheckOnline(userID uint) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.conns[userID]) > 0
}

func (v *Relay) PushUser(userID uint, pkg models.WebSocketPackage) {
	raw := pkg.Marshal()
	if v.bus != nil {
		if err := v.bus.PublishPush(userID, raw); err != nil {
			log.Warn().Err(err).Uint("user", userID).Msg("Unable to publish push onto bus, delivering locally...")
			v.deliverLocal(userID, raw)
		}
		return
	}
	v.deliverLocal(userID, raw)
}

func (v *Relay) PushUserBatch(userIDs []uint, pkg models.WebSocketPackage) {
	for _, userID := range userIDs {
		v.PushUser(userID, pkg)
	}
}

func (v *Relay) deliverLocal(userID uint, raw []byte) {
	v.mu.RLock()
	conns := append([]PacketWriter(nil), v.conns[userID]...)
	v.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.WriteMessage(websocket.TextMessage, raw)
	}
}
