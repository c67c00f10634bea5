package config

import (
	"github.com/pkg/errors"

	"github.com/bristlemouth/bmrun/internal/uart"
	"github.com/bristlemouth/bmrun/internal/vpd"
)

// maxDeclaredPeers is one past the VPD's hard cap: a 16th declared peer is
// accepted here (and dropped with a warning at device construction) rather
// than rejected at the configuration boundary.
const maxDeclaredPeers = vpd.MaxPeers + 1

// socketPathOverhead is the fixed-width part of
// "<dir>/bm_sbc_<nodeid16hex>.sock" (the slash, the "bm_sbc_" literal, 16
// hex digits, and ".sock"), used to bound SocketDir against the kernel's
// sun_path limit of 108 bytes including the terminator.
const socketPathOverhead = 1 + 7 + 16 + 5

const maxSockPathLen = 108

// Validate performs declarative validation only; it never mutates cfg.
func Validate(cfg *Config) error {
	if cfg.Core.NodeID == 0 {
		return errors.New("config: node_id is required and must be non-zero")
	}

	if len(cfg.Core.Peers) > maxDeclaredPeers {
		return errors.Errorf("config: at most %d peers may be declared, got %d", maxDeclaredPeers, len(cfg.Core.Peers))
	}

	dir := cfg.Core.SocketDir
	if dir == "" {
		dir = DefaultSocketDir
	}
	if len(dir)+socketPathOverhead+1 > maxSockPathLen {
		return errors.Errorf("config: socket_dir %q too long for a unix socket path", dir)
	}

	if cfg.GatewayEnabled() {
		baud := cfg.UART.Baud
		if baud == 0 {
			baud = DefaultUARTBaud
		}
		if !supportedBaud(baud) {
			return errors.Errorf("config: unsupported uart baud %d", baud)
		}
	}

	return nil
}

func supportedBaud(baud int) bool {
	for _, b := range uart.SupportedBauds {
		if b == baud {
			return true
		}
	}
	return false
}
