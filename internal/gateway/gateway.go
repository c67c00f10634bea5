// Package gateway composes the Virtual-Port Device and the UART transport
// behind a single netdevice.Device: ports 1..N (N = vpd.MaxPeers) are local
// IPC peers, port N+1 is the UART radio link, and port 0 floods both.
//
// This plays the facade role cla/manager.go plays for multiple convergence
// layers under one registration surface, and borrows the modem-selection
// idea from cla/bbc/bbc.go (one composite device presenting several
// underlying links as one). Unlike the Manager, there is no dynamic
// registration here — the two member devices are fixed at construction.
package gateway

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bristlemouth/bmrun/internal/netdevice"
	"github.com/bristlemouth/bmrun/internal/uart"
	"github.com/bristlemouth/bmrun/internal/vpd"
)

// Gateway is the composite netdevice.Device. It owns one *vpd.Device and one
// *uart.Transport.
type Gateway struct {
	mu sync.Mutex

	vp   *vpd.Device
	ua   *uart.Transport
	uart uint8 // port number assigned to the UART transport (vpd.MaxPeers + 1)

	cb      netdevice.Callbacks
	enabled bool
}

// New composes vp and ua into a single Device. The UART transport is always
// assigned port vpd.MaxPeers+1, one past the VPD's highest peer port.
func New(vp *vpd.Device, ua *uart.Transport) *Gateway {
	g := &Gateway{
		vp:   vp,
		ua:   ua,
		uart: vpd.MaxPeers + 1,
		cb:   netdevice.NoopCallbacks{},
	}
	vp.SetCallbacks(vpdCallbackAdapter{g: g})
	ua.SetCallbacks(uartCallbackAdapter{g: g, port: g.uart})
	return g
}

// NumPorts reports the VPD's port cap plus the one UART port.
func (g *Gateway) NumPorts() uint8 {
	return g.vp.NumPorts() + 1
}

// SetCallbacks installs the callback block the gateway forwards both
// member devices' notifications to, after remapping the UART's internal
// single-port numbering onto g.uart.
func (g *Gateway) SetCallbacks(cb netdevice.Callbacks) {
	if cb == nil {
		cb = netdevice.NoopCallbacks{}
	}
	g.mu.Lock()
	g.cb = cb
	g.mu.Unlock()
}

func (g *Gateway) callbacks() netdevice.Callbacks {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cb
}

// Enable brings up the VPD, then the UART line; on success it immediately
// emits link-up for port N+1 — the UART is considered up as soon as its
// transport is initialized, unlike a VPD peer whose reachability has to be
// polled for.
func (g *Gateway) Enable() error {
	g.mu.Lock()
	if g.enabled {
		g.mu.Unlock()
		return errors.Wrap(netdevice.ErrInvalidArgument, "gateway: already enabled")
	}
	g.enabled = true
	g.mu.Unlock()

	if err := g.vp.Enable(); err != nil {
		return errors.Wrap(err, "gateway: vpd enable")
	}
	if err := g.ua.Enable(); err != nil {
		_ = g.vp.Disable()
		return errors.Wrap(err, "gateway: uart enable")
	}
	g.callbacks().LinkChange(g.uart, true)
	return nil
}

// Disable emits link-down for port N+1, then deinitializes the UART
// transport, then disables the VPD, in that exact order. Unlike the VPD,
// the UART transport itself never emits link-down, so the gateway emits it
// directly rather than relying on uart.Transport.Disable to do so.
func (g *Gateway) Disable() error {
	g.mu.Lock()
	if !g.enabled {
		g.mu.Unlock()
		return nil
	}
	g.enabled = false
	g.mu.Unlock()

	g.callbacks().LinkChange(g.uart, false)

	uartErr := g.ua.Disable()
	vpdErr := g.vp.Disable()
	if uartErr != nil {
		return errors.Wrap(uartErr, "gateway: uart disable")
	}
	if vpdErr != nil {
		return errors.Wrap(vpdErr, "gateway: vpd disable")
	}
	return nil
}

// EnablePort and DisablePort delegate to the VPD for ports 1..vpd.MaxPeers
// and are a no-op for the UART port, which has no independent per-port
// enable/disable distinct from the whole line.
func (g *Gateway) EnablePort(port uint8) error {
	if port == g.uart {
		return nil
	}
	return g.vp.EnablePort(port)
}

func (g *Gateway) DisablePort(port uint8) error {
	if port == g.uart {
		return nil
	}
	return g.vp.DisablePort(port)
}

// Send routes by port: FloodPort reaches both the VPD's peers and the UART
// link and only fails if both fail; a VPD port range unicasts through the
// VPD; the UART port unicasts over the serial line.
func (g *Gateway) Send(port uint8, frame []byte) error {
	switch {
	case port == netdevice.FloodPort:
		vpdErr := g.vp.Send(netdevice.FloodPort, frame)
		uartErr := g.ua.Send(frame)
		if vpdErr != nil && uartErr != nil {
			log.WithFields(log.Fields{"vpd_err": vpdErr, "uart_err": uartErr}).
				Warn("gateway: flood send failed on both paths")
			return netdevice.ErrIO
		}
		return nil

	case port == g.uart:
		return g.ua.Send(frame)

	default:
		return g.vp.Send(port, frame)
	}
}

// RetryNegotiation delegates to the VPD for its port range. For the UART
// port it is a no-op: link-up for N+1 was already emitted by Enable, so
// there is nothing left to renegotiate; it reports renegotiated=true so a
// caller that polls it anyway still sees the upper layer's stop condition.
func (g *Gateway) RetryNegotiation(port uint8) (bool, error) {
	if port != g.uart {
		return g.vp.RetryNegotiation(port)
	}
	return true, nil
}

// vpdCallbackAdapter forwards VPD notifications unchanged — the VPD already
// numbers its ports 1..vpd.MaxPeers, which is also the gateway's numbering
// for that range.
type vpdCallbackAdapter struct{ g *Gateway }

func (a vpdCallbackAdapter) Receive(port uint8, frame []byte) {
	a.g.callbacks().Receive(port, frame)
}

func (a vpdCallbackAdapter) LinkChange(port uint8, up bool) {
	a.g.callbacks().LinkChange(port, up)
}

// uartCallbackAdapter remaps the UART transport's internal single-port
// numbering (always 0) onto the gateway's assigned UART port.
type uartCallbackAdapter struct {
	g    *Gateway
	port uint8
}

func (a uartCallbackAdapter) Receive(_ uint8, frame []byte) {
	a.g.callbacks().Receive(a.port, frame)
}

func (a uartCallbackAdapter) LinkChange(_ uint8, up bool) {
	a.g.callbacks().LinkChange(a.port, up)
}
