// Package upperstack stands in for the mesh protocol layers above a
// network device — L2, IP, the control-message protocol (BCMP), topology,
// service discovery, pub/sub, and middleware. Those layers are out of scope
// for this repository (they are the "opaque upper layer" the core talks to
// through internal/netdevice); this package exists only so the bootstrap
// sequence and its observable log markers have somewhere real to run.
//
// The fixed init order and its halt-on-first-failure behavior are grounded
// on cmd/dtnd's core-construction sequence, which wires several
// independently-fallible subsystems (store, routing, discovery, agent) in a
// declared order and aborts the process on the first error.
package upperstack

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bristlemouth/bmrun/internal/netdevice"
)

// Step is one named unit of the fixed bootstrap sequence.
type Step struct {
	Name string
	Run  func() error
}

// Sequence returns the fixed, ordered init steps for the given port count:
// L2 → IP → BCMP → topology (needs the port count) → service → pub/sub →
// middleware. Every step here is a no-op success stub, since the layers
// themselves are out of scope — topology is the only one that consumes its
// argument, to mirror the contract of needing the device's port count at
// init time.
func Sequence(numPorts uint8) []Step {
	return []Step{
		{Name: "l2", Run: func() error { return nil }},
		{Name: "ip", Run: func() error { return nil }},
		{Name: "bcmp", Run: func() error { return nil }},
		{Name: "topology", Run: func() error {
			log.WithField("ports", numPorts).Debug("upperstack: topology init")
			return nil
		}},
		{Name: "service", Run: func() error { return nil }},
		{Name: "pubsub", Run: func() error { return nil }},
		{Name: "middleware", Run: func() error { return nil }},
	}
}

// Bootstrap runs Sequence(numPorts) in order, stopping at the first failing
// step. On success it logs the stable marker "stack initialized"; on
// failure it logs "startup sequence failed err=N" with N the 1-based index
// of the failing step, and returns the wrapped error.
func Bootstrap(numPorts uint8) error {
	for i, step := range Sequence(numPorts) {
		if err := step.Run(); err != nil {
			log.WithField("step", step.Name).Errorf("startup sequence failed err=%d", i+1)
			return errors.Wrapf(err, "upperstack: step %q (err=%d)", step.Name, i+1)
		}
	}
	log.Info("stack initialized")
	return nil
}

// Bridge drives the observable NEIGHBOR_UP / NEIGHBOR_DOWN / PUBSUB_RX /
// bcmp_seq markers off the network device's callbacks, standing in for the
// out-of-scope BCMP/pub-sub layers in end-to-end scenarios.
type Bridge struct {
	seq uint64
}

// NewBridge returns a Bridge ready to install via netdevice.Device.SetCallbacks.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Receive logs a bcmp_seq/PUBSUB_RX pair for every inbound frame, treating
// the frame's sender as unknown at this layer (the real BCMP/topology
// layers would resolve port to node identifier; this stand-in only has the
// port).
func (b *Bridge) Receive(port uint8, frame []byte) {
	b.seq++
	log.WithFields(log.Fields{
		"port":     port,
		"len":      len(frame),
		"bcmp_seq": b.seq,
	}).Infof("PUBSUB_RX from=%d bcmp_seq=%d", port, b.seq)
}

// LinkChange logs NEIGHBOR_UP/NEIGHBOR_DOWN. nodeID is unknown to this
// stand-in (the real topology layer maps port to node identifier via BCMP
// discovery); callers that know the mapping should use
// NewPeerAwareBridge instead.
func (b *Bridge) LinkChange(port uint8, up bool) {
	if up {
		log.Infof("NEIGHBOR_UP node=%016x", port)
	} else {
		log.Infof("NEIGHBOR_DOWN node=%016x", port)
	}
}

var _ netdevice.Callbacks = (*Bridge)(nil)

// PeerAwareBridge is Bridge plus a static port→node-identifier map, used
// when the launch configuration's declared peer list makes that mapping
// known up front — the common case for the VPD's per-peer ports, where port
// i+1 always corresponds to the i-th declared peer.
type PeerAwareBridge struct {
	Bridge
	nodeByPort map[uint8]uint64
}

// NewPeerAwareBridge builds a Bridge that resolves NEIGHBOR_UP/DOWN and
// PUBSUB_RX markers to the declared node identifier for the given port.
func NewPeerAwareBridge(nodeByPort map[uint8]uint64) *PeerAwareBridge {
	return &PeerAwareBridge{nodeByPort: nodeByPort}
}

func (b *PeerAwareBridge) Receive(port uint8, frame []byte) {
	b.seq++
	nodeID := b.nodeByPort[port]
	log.WithFields(log.Fields{
		"port":     port,
		"node":     nodeID,
		"len":      len(frame),
		"bcmp_seq": b.seq,
	}).Infof("PUBSUB_RX from=%016x bcmp_seq=%d", nodeID, b.seq)
}

func (b *PeerAwareBridge) LinkChange(port uint8, up bool) {
	nodeID := b.nodeByPort[port]
	if up {
		log.Infof("NEIGHBOR_UP node=%016x", nodeID)
	} else {
		log.Infof("NEIGHBOR_DOWN node=%016x", nodeID)
	}
}

var _ netdevice.Callbacks = (*PeerAwareBridge)(nil)
