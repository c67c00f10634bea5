// Package netdevice defines the network-device contract the upper
// Bristlemouth stack (L2, IP, BCMP, topology, service, pub/sub, middleware —
// all out of scope here) expects from anything beneath it: ports, a send
// surface, link-change notification, and a receive hook. Both the
// Virtual-Port Device (internal/vpd) and the UART gateway composite
// (internal/gateway) implement Device.
//
// This mirrors the shape of the cla.Convergence family
// (cla/convergence_layer.go, cla/cla_types.go): a small interface the upper
// layer holds onto, plus a callback block the lower layer calls back into.
// Bristlemouth's upper stack is a synchronous Go interface rather than an
// independent CLA goroutine reporting over a channel, so callbacks are
// invoked directly instead of posted to a ConvergenceStatus channel.
package netdevice

import "github.com/pkg/errors"

// FloodPort is the in-band sentinel meaning "every active port." It must
// never appear on the wire — only as an argument to Send.
const FloodPort uint8 = 0

// MaxPort is the highest per-peer port number, derived from the 4-bit port
// field in the wire protocol above. The gateway's UART port is numbered one
// past it.
const MaxPort uint8 = 15

// Sentinel errors translated at the component boundary. Call sites wrap
// these with github.com/pkg/errors for context; callers distinguish cases
// with errors.Is.
var (
	// ErrInvalidArgument signals a locally-recoverable invalid input: a bad
	// port number, an empty or oversized frame, or similar.
	ErrInvalidArgument = errors.New("netdevice: invalid argument")

	// ErrIO signals a resource or transport failure: socket/serial I/O, or a
	// peer that could not be reached.
	ErrIO = errors.New("netdevice: i/o error")
)

// Callbacks is the small polymorphic object the upper stack installs on a
// Device. Device implementations snapshot the currently-installed Callbacks
// under their own lock and invoke it only after releasing that lock — the
// invariant that lets a callback safely call back into the Device (e.g.
// Send) without deadlocking.
type Callbacks interface {
	// Receive delivers an inbound L2 frame arriving on the given port.
	Receive(port uint8, frame []byte)

	// LinkChange announces that the given port transitioned up or down.
	LinkChange(port uint8, up bool)
}

// NoopCallbacks discards every notification. Devices are constructed with
// it installed until the upper stack registers its own Callbacks, so a
// Device is always safe to enable before bootstrap finishes wiring it up.
type NoopCallbacks struct{}

func (NoopCallbacks) Receive(uint8, []byte)  {}
func (NoopCallbacks) LinkChange(uint8, bool) {}

// Device is the contract a network device exposes to the upper stack.
type Device interface {
	// NumPorts returns the number of unicast ports this device exposes, not
	// counting the port-0 flood sentinel.
	NumPorts() uint8

	// Enable brings the device up: binds resources and starts its receive
	// worker(s). Whether it emits link-up itself depends on the port's
	// reachability model: a VPD port defers to RetryNegotiation so as not to
	// race the upper layer's own renegotiation timers; a port whose transport
	// is reachable the instant it's open (the gateway's UART port) emits
	// link-up directly from Enable instead.
	Enable() error

	// Disable stops receive workers, releases resources, and emits
	// link-down for every port that was active.
	Disable() error

	// EnablePort and DisablePort are out-of-band per-port controls.
	EnablePort(port uint8) error
	DisablePort(port uint8) error

	// Send transmits frame on port. Port FloodPort sends to every active
	// port; a port in [1, NumPorts()] unicasts.
	Send(port uint8, frame []byte) error

	// RetryNegotiation polls whether port can now be reached and, the first
	// time it can, emits link-up and reports renegotiated=true; once a port
	// is already up, it keeps reporting renegotiated=true so the upper
	// layer's polling reliably stops. For a port whose link-up already came
	// from Enable, it is a no-op that still reports renegotiated=true.
	RetryNegotiation(port uint8) (renegotiated bool, err error)

	// SetCallbacks installs the callback block the device dispatches
	// Receive/LinkChange through.
	SetCallbacks(cb Callbacks)
}
