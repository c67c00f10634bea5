package main

import (
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/bristlemouth/bmrun/internal/config"
)

// flagConfig mirrors config.Config but keeps string-typed node/peer fields,
// since hex parsing happens after flag/file merge — grounded on
// cmd/dtnd/configuration.go's tomlConfig-then-parse shape, adapted to
// bmrun's flatter launch surface (no pluggable CLA table).
type flagConfig struct {
	configFile string
	nodeID     string
	peers      []string
	socketDir  string
	uartDevice string
	uartBaud   int
}

func registerFlags(cmd *cobra.Command, fc *flagConfig) {
	flags := cmd.Flags()
	flags.StringVar(&fc.configFile, "config", "", "optional TOML launch configuration file")
	flags.StringVar(&fc.nodeID, "node-id", "", "this node's 64-bit hex identifier (required unless set via --config)")
	flags.StringArrayVar(&fc.peers, "peer", nil, "declared peer's 64-bit hex identifier (repeatable)")
	flags.StringVar(&fc.socketDir, "socket-dir", config.DefaultSocketDir, "directory for local IPC sockets")
	flags.StringVar(&fc.uartDevice, "uart-device", "", "serial device path; presence selects gateway mode")
	flags.IntVar(&fc.uartBaud, "uart-baud", config.DefaultUARTBaud, "serial baud rate")
}

// resolveConfig merges an optional TOML file with explicit flags. The file
// is loaded first; any flag the user actually set (cmd.Flags().Changed)
// then overrides the corresponding file value, matching the precedence
// cmd/dtnd gives explicit configuration over defaults.
func resolveConfig(cmd *cobra.Command, fc *flagConfig) (config.Config, error) {
	var cfg config.Config

	if fc.configFile != "" {
		if _, err := toml.DecodeFile(fc.configFile, &cfg); err != nil {
			return config.Config{}, errors.Wrapf(err, "bmrun: reading config file %q", fc.configFile)
		}
	}

	flags := cmd.Flags()

	if flags.Changed("node-id") || cfg.Core.NodeID == 0 {
		nodeID, err := parseHexNodeID(fc.nodeID)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Core.NodeID = nodeID
	}

	if flags.Changed("peer") || len(cfg.Core.Peers) == 0 {
		peers := make([]uint64, 0, len(fc.peers))
		for _, p := range fc.peers {
			id, err := parseHexNodeID(p)
			if err != nil {
				return config.Config{}, err
			}
			peers = append(peers, id)
		}
		if len(peers) > 0 || flags.Changed("peer") {
			cfg.Core.Peers = peers
		}
	}

	if flags.Changed("socket-dir") || cfg.Core.SocketDir == "" {
		cfg.Core.SocketDir = fc.socketDir
	}

	if flags.Changed("uart-device") || cfg.UART.Device == "" {
		cfg.UART.Device = fc.uartDevice
	}

	if flags.Changed("uart-baud") || cfg.UART.Baud == 0 {
		cfg.UART.Baud = fc.uartBaud
	}

	return cfg, nil
}

// parseHexNodeID accepts a 64-bit node identifier with or without a
// leading "0x" and with or without leading zeros.
func parseHexNodeID(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("bmrun: node identifier must not be empty")
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	id, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bmrun: invalid hex node identifier %q", s)
	}
	return id, nil
}
