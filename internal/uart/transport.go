// Package uart implements the L2 transport carried over a raw serial line:
// opening an 8N1 line at a fixed baud rate, reassembling framecodec frames
// out of an arbitrary byte stream, and serializing concurrent sends behind
// one mutex. The handler-goroutine/mutex shape is grounded on
// cla/bbc/connector.go's read-loop and cla/mtcp/client.go's mutex-guarded
// Send; the underlying line comes from github.com/tarm/serial, already
// present as an indirect dependency (pulled in transitively by the
// rf95modem backend) and promoted here to a direct one.
package uart

import (
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/bristlemouth/bmrun/internal/framecodec"
	"github.com/bristlemouth/bmrun/internal/netdevice"
)

// SupportedBauds enumerates the line rates the radio/host link negotiates
// at.
var SupportedBauds = []int{9600, 19200, 38400, 57600, 115200, 230400}

// ErrUnsupportedBaud is returned by OpenLine when the requested rate is not in
// SupportedBauds.
var ErrUnsupportedBaud = errors.New("uart: unsupported baud rate")

// maxPendingBytes bounds how much unsynced data the frame reassembler will
// buffer before it gives up on the current frame and resyncs on the next
// sentinel — a corrupt or noisy line must not grow this buffer unbounded.
const maxPendingBytes = 4 * framecodec.MaxL2Size

// Line is the minimal surface this package needs from a serial connection.
// *serial.Port satisfies it directly; tests substitute an os.Pipe-backed
// fake so the reassembly and framing logic can be exercised without a real
// tty.
type Line interface {
	io.ReadWriteCloser
}

func isSupportedBaud(baud int) bool {
	for _, b := range SupportedBauds {
		if b == baud {
			return true
		}
	}
	return false
}

// OpenLine opens the named device at baud, 8 data bits, no parity, 1 stop
// bit — the only framing the radio link above this package speaks.
func OpenLine(device string, baud int) (Line, error) {
	if !isSupportedBaud(baud) {
		return nil, errors.Wrapf(ErrUnsupportedBaud, "%d", baud)
	}
	cfg := &serial.Config{Name: device, Baud: baud, ReadTimeout: recvPollInterval}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, errors.Wrapf(netdevice.ErrIO, "uart: open %s: %v", device, err)
	}
	return port, nil
}

// recvPollInterval bounds how long a read can block before recvLoop wakes
// up to check the running flag — the inter-byte timeout that gives
// shutdown its second wakeup alongside the descriptor close.
const recvPollInterval = 200 * time.Millisecond

// Transport is the single-port UART network device. It implements the
// single-port subset of netdevice.Device that internal/gateway composes
// into its own multi-port Device.
type Transport struct {
	sendMu sync.Mutex
	line   Line

	enabled bool
	running bool
	recvWG  sync.WaitGroup

	cbMu sync.Mutex
	cb   netdevice.Callbacks
}

// New wraps an already-open Line. The caller owns opening (OpenLine) so
// tests can substitute a fake Line.
func New(line Line) *Transport {
	return &Transport{line: line, cb: netdevice.NoopCallbacks{}}
}

// SetCallbacks installs the callback block used for Receive/LinkChange
// dispatch.
func (t *Transport) SetCallbacks(cb netdevice.Callbacks) {
	if cb == nil {
		cb = netdevice.NoopCallbacks{}
	}
	t.cbMu.Lock()
	t.cb = cb
	t.cbMu.Unlock()
}

func (t *Transport) callbacks() netdevice.Callbacks {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	return t.cb
}

// Enable starts the receive worker. It never emits link-up itself — the
// gateway that owns this transport does, immediately after Enable succeeds,
// since an open serial line is reachable the moment it's open, unlike a VPD
// peer whose reachability has to be polled for.
func (t *Transport) Enable() error {
	if t.enabled {
		return errors.Wrap(netdevice.ErrInvalidArgument, "uart: already enabled")
	}
	t.enabled = true
	t.running = true
	t.recvWG.Add(1)
	go t.recvLoop()
	return nil
}

// Disable stops the receive worker and closes the line.
func (t *Transport) Disable() error {
	if !t.enabled {
		return nil
	}
	t.running = false
	err := t.line.Close()
	t.recvWG.Wait()
	t.enabled = false
	if err != nil {
		return errors.Wrap(netdevice.ErrIO, err.Error())
	}
	return nil
}

// Send serializes frame onto the line. Concurrent callers block on sendMu,
// matching MTCPClient.Send's discipline of holding one mutex for the whole
// write including partial-write retry.
func (t *Transport) Send(frame []byte) error {
	wire, err := framecodec.Encode(frame)
	if err != nil {
		return errors.Wrap(netdevice.ErrInvalidArgument, err.Error())
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	for written := 0; written < len(wire); {
		n, werr := t.line.Write(wire[written:])
		if werr != nil {
			return errors.Wrap(netdevice.ErrIO, werr.Error())
		}
		written += n
	}
	return nil
}

// recvLoop reassembles framecodec frames out of the byte stream delimited
// by framecodec.Sentinel, resyncing on corruption or overflow rather than
// stalling, and dispatches each decoded frame with no lock held — there is
// none to release here, but the call is still made outside of sendMu so an
// upper-layer Receive handler is free to call back into Send.
//
// It reads the line directly rather than through a bufio.Reader: the line
// is opened with a read timeout so the loop can observe shutdown, and a
// timed-out read comes back as (0, nil) — exactly the "read repeatedly
// returns no data" pattern bufio's fill loop treats as io.ErrNoProgress
// after enough consecutive occurrences, which would misreport a normal
// idle line as a fatal error.
func (t *Transport) recvLoop() {
	defer t.recvWG.Done()

	readBuf := make([]byte, 4096)
	var pending []byte

	for {
		n, err := t.line.Read(readBuf)
		if err != nil {
			if !t.running {
				return
			}
			if isRetryableReadErr(err) {
				continue
			}
			log.WithError(err).Warn("uart: read error, stopping receive loop")
			return
		}

		for _, b := range readBuf[:n] {
			if b != framecodec.Sentinel {
				pending = append(pending, b)
				if len(pending) > maxPendingBytes {
					log.Warn("uart: pending frame exceeded bound, resyncing")
					pending = pending[:0]
				}
				continue
			}

			if len(pending) == 0 {
				continue
			}

			frame, decErr := framecodec.Decode(pending)
			pending = pending[:0]
			if decErr != nil {
				log.WithError(decErr).Debug("uart: dropping malformed frame")
				continue
			}

			t.callbacks().Receive(0, frame)
		}

		if !t.running {
			return
		}
	}
}

// isRetryableReadErr reports whether err is the line's way of saying "no
// data within the inter-byte timeout" or "interrupted" rather than a real
// I/O failure — a wakeup that should just loop again rather than stop the
// worker.
func isRetryableReadErr(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EINTR)
}
