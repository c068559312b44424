package structs

import "time"

// Options holds the adapter configuration. It is filled once at startup and never mutated afterwards.
type Options struct {
	LocalPlayerID     int           `json:"player_id" validate:"min=0" label:"id"`
	LocalPlayerLogin  string        `json:"player_login" validate:"required" label:"login"`
	RPCPort           int           `json:"rpc_port" validate:"min=0,max=65535" label:"rpc-port"`
	GPGNetPort        int           `json:"gpgnet_port" validate:"min=0,max=65535" label:"gpgnet-port"`
	GameUDPPort       int           `json:"game_udp_port" validate:"min=1,max=65535" label:"lobby-port"`
	ICELocalPortMin   int           `json:"ice_local_port_min" validate:"min=0,max=65535" label:"ice-local-port-min"`
	ICELocalPortMax   int           `json:"ice_local_port_max" validate:"min=0,max=65535,gtefield=ICELocalPortMin" label:"ice-local-port-max"`
	UseUPnP           bool          `json:"use_upnp" label:"upnp"`
	StunHost          string        `json:"stun_host" validate:"omitempty,hostname_port|hostname|ip" label:"stun-host"`
	TurnHost          string        `json:"turn_host" validate:"omitempty,hostname_port|hostname|ip" label:"turn-host"`
	TurnUser          string        `json:"turn_user" label:"turn-user"`
	TurnPass          string        `json:"turn_pass" label:"turn-pass"`
	LogFile           string        `json:"log_file" label:"log-file"`
	LogLevel          string        `json:"log_level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic" label:"log-level"`
	ConnectionTimeout time.Duration `json:"connection_timeout" validate:"min=0" label:"connection-timeout"`
	AllowedOrigins    []string      `json:"allowed_origins" label:"allowed-origins"`
	IncludeLoopback   bool          `json:"include_loopback" label:"include-loopback"`
}

// DefaultOptions returns the options used when no flag overrides a value.
func DefaultOptions() Options {
	return Options{
		RPCPort:           7236,
		GPGNetPort:        7237,
		GameUDPPort:       7238,
		StunHost:          "dev.faforever.com",
		TurnHost:          "dev.faforever.com",
		TurnUser:          "",
		TurnPass:          "",
		LogLevel:          "info",
		ConnectionTimeout: 10 * time.Second,
		AllowedOrigins:    []string{"*"},
	}
}
