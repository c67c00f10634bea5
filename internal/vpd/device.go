// Package vpd implements the Virtual-Port Device: a local-IPC network
// device that presents up to 15 per-peer virtual ports over Unix datagram
// sockets, one per directly-connected local peer. It owns the peer table,
// socket lifecycle, a concurrent receive loop, unicast/flood send, and
// renegotiation of peers that come up late.
//
// The goroutine/mutex shape is grounded on cla/mtcp/server.go's accept loop
// (adapted from TCP streams to Unix datagram sockets) and
// cla/manager_elem.go's activate/ttl pattern, which plays the same "retry
// until the peer is reachable" role RetryNegotiation plays here.
package vpd

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bristlemouth/bmrun/internal/netdevice"
)

// MaxPeers is the hard cap on direct neighbors, derived from the 4-bit port
// field in the wire protocol above.
const MaxPeers = 15

const (
	// minL2FrameSize / maxL2FrameSize bound the L2 payload carried after the
	// port byte on the wire: 1 + [14, 1514] bytes total.
	minL2FrameSize = 14
	maxL2FrameSize = 1514

	// recvPollInterval bounds how long the receive worker can be blocked in
	// a read before it notices the running flag was cleared.
	recvPollInterval = time.Second

	// recvBufferSize comfortably holds the largest possible datagram: one
	// port byte plus the maximum L2 frame.
	recvBufferSize = 1 + maxL2FrameSize
)

// Config is the declared topology and identity handed to New.
type Config struct {
	// OwnNodeID is this process's 64-bit Bristlemouth node identifier.
	OwnNodeID uint64

	// Peers lists directly-connected peers in declared order. Entries beyond
	// MaxPeers are dropped; see New.
	Peers []uint64

	// SocketDir is the directory used for socket files. Defaults to "/tmp"
	// if empty.
	SocketDir string
}

// Device is the Virtual-Port network device. It implements netdevice.Device.
type Device struct {
	mu sync.Mutex

	ownNodeID    uint64
	socketDir    string
	ownSockPath  string
	peers        [MaxPeers]peerEntry
	recvConn     *net.UnixConn
	enabled      bool
	running      bool
	recvWG       sync.WaitGroup
	cb           netdevice.Callbacks
}

// New builds a Device for the given declared topology. Port assignment is a
// pure function of declared order: peers[i] always becomes port i+1,
// regardless of restarts. If more than MaxPeers are declared, the excess
// are dropped with a single warning and the first MaxPeers are kept in
// declared order.
func New(cfg Config) *Device {
	dir := cfg.SocketDir
	if dir == "" {
		dir = "/tmp"
	}

	d := &Device{
		ownNodeID: cfg.OwnNodeID,
		socketDir: dir,
		cb:        netdevice.NoopCallbacks{},
	}
	d.ownSockPath = socketPath(dir, cfg.OwnNodeID)

	if len(cfg.Peers) > MaxPeers {
		log.Warnf("vpd: peer count %d exceeds cap %d", len(cfg.Peers), MaxPeers)
	}

	for i, nodeID := range cfg.Peers {
		if i >= MaxPeers {
			break
		}
		d.peers[i] = peerEntry{
			nodeID:   nodeID,
			active:   nodeID != 0,
			sockPath: socketPath(dir, nodeID),
		}
	}

	return d
}

// NumPorts always reports the hard cap of 15, not the number of declared
// peers: the protocol-derived constant regardless of topology size, so a
// port index the upper layer already knows about never goes stale if peers
// are added later.
func (d *Device) NumPorts() uint8 {
	return MaxPeers
}

// SetCallbacks installs the callback block used for Receive/LinkChange
// dispatch.
func (d *Device) SetCallbacks(cb netdevice.Callbacks) {
	if cb == nil {
		cb = netdevice.NoopCallbacks{}
	}
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

func (d *Device) callbacks() netdevice.Callbacks {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cb
}

// Enable binds the receive socket, opens send sockets for peers whose
// counterpart is already listening, and starts the receive worker. It does
// NOT emit link-up for any port — see RetryNegotiation — because the upper
// layer arms its own renegotiation timers concurrently with Enable, and an
// eager link-up here would fire before those timers are armed.
func (d *Device) Enable() error {
	d.mu.Lock()
	if d.enabled {
		d.mu.Unlock()
		return pkgerrors.Wrap(netdevice.ErrInvalidArgument, "vpd: already enabled")
	}

	_ = os.Remove(d.ownSockPath)

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: d.ownSockPath, Net: "unixgram"})
	if err != nil {
		d.mu.Unlock()
		return pkgerrors.Wrap(netdevice.ErrIO, err.Error())
	}

	d.recvConn = conn
	d.enabled = true
	d.running = true

	for i := range d.peers {
		if d.peers[i].active {
			if openErr := d.openSendSocket(&d.peers[i]); openErr != nil {
				log.WithFields(log.Fields{"node": d.peers[i].nodeID, "port": i + 1}).
					Debug("vpd: peer not yet reachable at enable time")
			}
		}
	}
	d.mu.Unlock()

	d.recvWG.Add(1)
	go d.recvLoop()

	return nil
}

// Disable stops the receive worker, releases resources, and emits
// link-down for every port that was active.
func (d *Device) Disable() error {
	d.mu.Lock()
	if !d.enabled {
		d.mu.Unlock()
		return nil
	}

	d.running = false
	if d.recvConn != nil {
		_ = d.recvConn.Close()
	}

	var downPorts []uint8
	for i := range d.peers {
		if d.peers[i].active {
			downPorts = append(downPorts, uint8(i+1))
			d.closeSendSocket(&d.peers[i])
		}
	}

	_ = os.Remove(d.ownSockPath)
	d.enabled = false
	cb := d.cb
	d.mu.Unlock()

	d.recvWG.Wait()

	for _, port := range downPorts {
		cb.LinkChange(port, false)
	}
	return nil
}

// EnablePort opens the send socket for an active peer slot out-of-band and
// emits link-up for it.
func (d *Device) EnablePort(port uint8) error {
	slot, err := portToSlot(port)
	if err != nil {
		return err
	}

	d.mu.Lock()
	peer := &d.peers[slot]
	if !peer.active {
		d.mu.Unlock()
		return pkgerrors.Wrap(netdevice.ErrInvalidArgument, "vpd: inactive slot")
	}
	if peer.sendConn == nil {
		if openErr := d.openSendSocket(peer); openErr != nil {
			d.mu.Unlock()
			return pkgerrors.Wrap(netdevice.ErrIO, openErr.Error())
		}
	}
	cb := d.cb
	d.mu.Unlock()

	cb.LinkChange(port, true)
	return nil
}

// DisablePort closes the send socket for an active peer slot out-of-band
// and emits link-down for it.
func (d *Device) DisablePort(port uint8) error {
	slot, err := portToSlot(port)
	if err != nil {
		return err
	}

	d.mu.Lock()
	peer := &d.peers[slot]
	if !peer.active {
		d.mu.Unlock()
		return pkgerrors.Wrap(netdevice.ErrInvalidArgument, "vpd: inactive slot")
	}
	d.closeSendSocket(peer)
	cb := d.cb
	d.mu.Unlock()

	cb.LinkChange(port, false)
	return nil
}

// RetryNegotiation is the only source of VPD link-up events apart from the
// out-of-band EnablePort. It polls
// whether the peer's receive socket now exists on disk; the first time it
// does, it opens the send socket and reports renegotiated=true. Every call
// after that also reports renegotiated=true, so the upper layer's
// renegotiation timer reliably stops.
func (d *Device) RetryNegotiation(port uint8) (bool, error) {
	slot, err := portToSlot(port)
	if err != nil {
		return false, err
	}

	d.mu.Lock()
	peer := &d.peers[slot]
	if !peer.active {
		d.mu.Unlock()
		return false, nil
	}

	if _, statErr := os.Stat(peer.sockPath); statErr != nil {
		d.mu.Unlock()
		return false, nil
	}

	alreadyOpen := peer.sendConn != nil
	if !alreadyOpen {
		if openErr := d.openSendSocket(peer); openErr != nil {
			d.mu.Unlock()
			return false, pkgerrors.Wrap(netdevice.ErrIO, openErr.Error())
		}
	}
	cb := d.cb
	d.mu.Unlock()

	cb.LinkChange(port, true)
	return true, nil
}

// Send transmits frame on port. Port netdevice.FloodPort sends to every
// active peer, continuing past individual failures; a unicast port must
// already have an open send socket or Send returns ErrInvalidArgument.
func (d *Device) Send(port uint8, frame []byte) error {
	if len(frame) < minL2FrameSize || len(frame) > maxL2FrameSize {
		return pkgerrors.Wrapf(netdevice.ErrInvalidArgument, "vpd: frame length %d out of range", len(frame))
	}
	if port > MaxPeers {
		return pkgerrors.Wrapf(netdevice.ErrInvalidArgument, "vpd: port %d out of range", port)
	}

	if port == netdevice.FloodPort {
		return d.flood(frame)
	}

	d.mu.Lock()
	peer := &d.peers[port-1]
	if !peer.active || peer.sendConn == nil {
		d.mu.Unlock()
		return pkgerrors.Wrap(netdevice.ErrInvalidArgument, "vpd: peer not reachable")
	}
	conn := peer.sendConn
	d.mu.Unlock()

	return sendDatagram(conn, port, frame)
}

// flood attempts every active peer slot, not just the ones already holding
// an open send socket: a peer that hasn't finished negotiation yet still
// counts toward the aggregate failure the caller sees, unlike a unicast
// send to that same peer, which fails fast with an invalid-argument error
// instead.
func (d *Device) flood(frame []byte) error {
	d.mu.Lock()
	type target struct {
		port uint8
		conn *net.UnixConn // nil if the peer has no open send socket yet
	}
	var targets []target
	for i := range d.peers {
		if d.peers[i].active {
			targets = append(targets, target{port: uint8(i + 1), conn: d.peers[i].sendConn})
		}
	}
	d.mu.Unlock()

	var merr *multierror.Error
	for _, t := range targets {
		if t.conn == nil {
			merr = multierror.Append(merr, pkgerrors.Errorf("port %d: peer not reachable", t.port))
			continue
		}
		if err := sendDatagram(t.conn, t.port, frame); err != nil {
			merr = multierror.Append(merr, pkgerrors.Wrapf(err, "port %d", t.port))
		}
	}
	if merr != nil {
		log.WithError(merr).Warn("vpd: flood send had failures")
		return netdevice.ErrIO
	}
	return nil
}

// PortStats and HandleInterrupt are safe no-ops — the VPD keeps no
// per-port counters and has no interrupt line to service.
func (d *Device) PortStats(uint8) error  { return nil }
func (d *Device) HandleInterrupt() error { return nil }

func sendDatagram(conn *net.UnixConn, headerPort uint8, frame []byte) error {
	buf := make([]byte, 1+len(frame))
	buf[0] = headerPort
	copy(buf[1:], frame)

	if _, err := conn.Write(buf); err != nil {
		return pkgerrors.Wrap(netdevice.ErrIO, err.Error())
	}
	return nil
}

func (d *Device) openSendSocket(peer *peerEntry) error {
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: peer.sockPath, Net: "unixgram"})
	if err != nil {
		return err
	}
	peer.sendConn = conn
	return nil
}

func (d *Device) closeSendSocket(peer *peerEntry) {
	if peer.sendConn != nil {
		_ = peer.sendConn.Close()
		peer.sendConn = nil
	}
}

func portToSlot(port uint8) (int, error) {
	if port < 1 || port > MaxPeers {
		return 0, pkgerrors.Wrapf(netdevice.ErrInvalidArgument, "vpd: port %d out of range", port)
	}
	return int(port) - 1, nil
}

// recvLoop is the single dedicated receive worker. It blocks on the receive
// socket with a short timeout so it can observe the running flag, validates
// each datagram's port byte, and dispatches to the installed callback with
// the device mutex released.
func (d *Device) recvLoop() {
	defer d.recvWG.Done()

	buf := make([]byte, recvBufferSize)
	for {
		d.mu.Lock()
		running := d.running
		conn := d.recvConn
		d.mu.Unlock()
		if !running {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(recvPollInterval))
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.WithError(err).Warn("vpd: receive error")
			continue
		}

		if n < 1+minL2FrameSize {
			continue
		}

		port := buf[0]
		if port < 1 || port > MaxPeers {
			continue
		}

		frame := make([]byte, n-1)
		copy(frame, buf[1:n])

		cb := d.callbacks()
		cb.Receive(port, frame)
	}
}
