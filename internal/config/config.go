// Package config holds the launch configuration bmrun parses from flags
// and/or an optional TOML file, and validates before any device is
// constructed — the same boundary-validation shape as
// tamzrod-modbus-replicator's internal/config/validate.go, adapted from a
// YAML replicator schema to bmrun's flat launch surface.
package config

// Config is the fully-resolved launch configuration: the declared topology,
// socket directory, and optional UART bridge settings.
type Config struct {
	Core Core `toml:"core"`
	UART UART `toml:"uart"`
}

// Core holds the VPD-level launch settings.
type Core struct {
	// NodeID is this process's own 64-bit node identifier.
	NodeID uint64 `toml:"node_id"`

	// Peers lists directly-connected peers, in declared order.
	Peers []uint64 `toml:"peers"`

	// SocketDir is the directory used for the local IPC sockets. Defaults to
	// "/tmp" when empty.
	SocketDir string `toml:"socket_dir"`
}

// UART holds the optional serial-bridge settings. Device == "" means
// gateway mode is disabled and the runtime uses the VPD alone as the
// network device.
type UART struct {
	Device string `toml:"device"`
	Baud   int    `toml:"baud"`
}

// GatewayEnabled reports whether the UART bridge is configured.
func (c Config) GatewayEnabled() bool {
	return c.UART.Device != ""
}

// DefaultSocketDir is used whenever SocketDir is left unset.
const DefaultSocketDir = "/tmp"

// DefaultUARTBaud is used whenever a UART device is configured without an
// explicit baud rate.
const DefaultUARTBaud = 115200
