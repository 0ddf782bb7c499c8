package signaling

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const pushSubject = "calling.signaling.push"

type pushEnvelope struct {
	UserID uint   `json:"user_id"`
	Body   []byte `json:"body"`
}

// Bus carries connection-scoped push envelopes across relay nodes, so a
// node holding no connection for the target user still has the event
// delivered by the node that does.
type Bus struct {
	nc *nats.Conn
}

func NewBus() (*Bus, error) {
	nc, err := nats.Connect(
		viper.GetString("signaling.nats_addr"),
		nats.Name("calling-signaling"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &Bus{nc: nc}, nil
}

func (v *Bus) PublishPush(userID uint, body []byte) error {
	raw, err := jsoniter.Marshal(pushEnvelope{UserID: userID, Body: body})
	if err != nil {
		return err
	}
	return v.nc.Publish(pushSubject, raw)
}

func (v *Bus) SubscribePush(handler func(userID uint, body []byte)) error {
	_, err := v.nc.Subscribe(pushSubject, func(msg *nats.Msg) {
		var envelope pushEnvelope
		if err := jsoniter.Unmarshal(msg.Data, &envelope); err != nil {
			log.Warn().Err(err).Msg("Unable to unmarshal push envelope from bus...")
			return
		}
		handler(envelope.UserID, envelope.Body)
	})
	return err
}

func (v *Bus) Close() {
	v.nc.Drain()
}
