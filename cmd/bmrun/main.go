// Command bmrun is the Linux host runtime for Bristlemouth: it assembles
// either a bare Virtual-Port Device or a VPD+UART gateway from a launch
// configuration, brings up the (opaque, stand-in) upper stack in fixed
// order, and then idles so its receive workers keep running until the
// process is killed — there is no graceful shutdown contract.
package main

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bristlemouth/bmrun/internal/config"
	"github.com/bristlemouth/bmrun/internal/gateway"
	"github.com/bristlemouth/bmrun/internal/netdevice"
	"github.com/bristlemouth/bmrun/internal/uart"
	"github.com/bristlemouth/bmrun/internal/upperstack"
	"github.com/bristlemouth/bmrun/internal/vpd"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("bmrun: fatal")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	fc := &flagConfig{}

	cmd := &cobra.Command{
		Use:   "bmrun",
		Short: "Bristlemouth Linux host runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, fc)
			if err != nil {
				return err
			}
			if err := config.Validate(&cfg); err != nil {
				return err
			}
			return run(cfg)
		},
	}
	registerFlags(cmd, fc)
	return cmd
}

// run builds the network device from cfg, wires the upper-stack bridge,
// brings everything up, and blocks forever — the process's only thread of
// control beyond the background receive workers.
func run(cfg config.Config) error {
	vp := vpd.New(vpd.Config{
		OwnNodeID: cfg.Core.NodeID,
		Peers:     cfg.Core.Peers,
		SocketDir: cfg.Core.SocketDir,
	})

	var dev netdevice.Device = vp
	nodeByPort := peerPortMap(cfg.Core.Peers)

	if cfg.GatewayEnabled() {
		line, err := uart.OpenLine(cfg.UART.Device, cfg.UART.Baud)
		if err != nil {
			log.WithError(err).Error("UART transport init failed")
			return err
		}
		gw := gateway.New(vp, uart.New(line))
		dev = gw
	}

	bridge := upperstack.NewPeerAwareBridge(nodeByPort)
	dev.SetCallbacks(bridge)

	if err := dev.Enable(); err != nil {
		return err
	}

	if err := upperstack.Bootstrap(dev.NumPorts()); err != nil {
		return err
	}

	renegotiateUntilUp(dev)

	select {}
}

func peerPortMap(peers []uint64) map[uint8]uint64 {
	m := make(map[uint8]uint64, len(peers))
	for i, id := range peers {
		if i >= vpd.MaxPeers {
			break
		}
		m[uint8(i+1)] = id
	}
	return m
}

// renegotiateUntilUp starts one background poller per port, calling
// RetryNegotiation until it reports renegotiated=true, standing in for the
// upper layer's own out-of-scope renegotiation timers so the observable
// NEIGHBOR_UP markers still appear without a real topology layer driving
// them.
func renegotiateUntilUp(dev netdevice.Device) {
	for port := uint8(1); port <= dev.NumPorts(); port++ {
		go pollRenegotiation(dev, port)
	}
}

func pollRenegotiation(dev netdevice.Device, port uint8) {
	for {
		renegotiated, err := dev.RetryNegotiation(port)
		if err != nil {
			log.WithError(err).WithField("port", port).Warn("bmrun: renegotiation error")
			return
		}
		if renegotiated {
			return
		}
		time.Sleep(renegotiationInterval)
	}
}

// renegotiationInterval is how often a port that isn't reachable yet is
// retried. It has no bearing on the network devices' own internal receive
// poll interval — this is purely the stand-in upper layer's renegotiation
// timer cadence.
const renegotiationInterval = 2 * time.Second
