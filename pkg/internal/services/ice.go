package services

import "github.com/spf13/viper"

// IceServer is one STUN or TURN entry handed to clients, static per
// deployment and never negotiated.
type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

func GetIceServers() []IceServer {
	return []IceServer{
		{
			URLs: []string{viper.GetString("ice.stun_url")},
		},
		{
			URLs:       []string{viper.GetString("ice.turn_url")},
			Username:   viper.GetString("ice.turn_username"),
			Credential: viper.GetString("ice.turn_credential"),
		},
	}
}
