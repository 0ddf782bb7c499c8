package services

import (
	"context"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"github.com/spf13/viper"
)

// MediaRelay abstracts the external SFU that carries the actual media.
// Only CreateRoom failures abort call setup; everything else is
// best-effort from the orchestrator's perspective.
type MediaRelay interface {
	CreateRoom(name string, capacity uint32) error
	DeleteRoom(name string) error
	MintToken(room, identity, name string, admin bool) (string, error)
	ListParticipants(room string) ([]*livekit.ParticipantInfo, error)
	ListRooms() ([]string, error)
	RoomCount() (int, error)
}

type LiveKitRelay struct {
	client *lksdk.RoomServiceClient

	apiKey       string
	apiSecret    string
	tokenTTL     time.Duration
	emptyTimeout uint32
}

func NewLiveKitRelay() *LiveKitRelay {
	host := "https://" + viper.GetString("calling.endpoint")

	return &LiveKitRelay{
		client: lksdk.NewRoomServiceClient(
			host,
			viper.GetString("calling.api_key"),
			viper.GetString("calling.api_secret"),
		),
		apiKey:       viper.GetString("calling.api_key"),
		apiSecret:    viper.GetString("calling.api_secret"),
		tokenTTL:     time.Second * time.Duration(viper.GetInt("calling.token_duration")),
		emptyTimeout: viper.GetUint32("calling.empty_timeout_duration"),
	}
}

func (v *LiveKitRelay) CreateRoom(name string, capacity uint32) error {
	_, err := v.client.CreateRoom(context.Background(), &livekit.CreateRoomRequest{
		Name:            name,
		EmptyTimeout:    v.emptyTimeout,
		MaxParticipants: capacity,
	})
	return err
}

func (v *LiveKitRelay) DeleteRoom(name string) error {
	_, err := v.client.DeleteRoom(context.Background(), &livekit.DeleteRoomRequest{
		Room: name,
	})
	return err
}

func (v *LiveKitRelay) MintToken(room, identity, name string, admin bool) (string, error) {
	grant := &auth.VideoGrant{
		Room:      room,
		RoomJoin:  true,
		RoomAdmin: admin,
	}

	tk := auth.NewAccessToken(v.apiKey, v.apiSecret)
	tk.AddGrant(grant).
		SetIdentity(identity).
		SetName(name).
		SetValidFor(v.tokenTTL)

	return tk.ToJWT()
}

func (v *LiveKitRelay) ListParticipants(room string) ([]*livekit.ParticipantInfo, error) {
	res, err := v.client.ListParticipants(context.Background(), &livekit.ListParticipantsRequest{
		Room: room,
	})
	if err != nil {
		return nil, err
	}
	return res.Participants, nil
}

func (v *LiveKitRelay) ListRooms() ([]string, error) {
	res, err := v.client.ListRooms(context.Background(), &livekit.ListRoomsRequest{})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(res.Rooms))
	for _, room := range res.Rooms {
		names = append(names, room.Name)
	}
	return names, nil
}

func (v *LiveKitRelay) RoomCount() (int, error) {
	names, err := v.ListRooms()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}
