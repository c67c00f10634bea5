package gateway

import (
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bristlemouth/bmrun/internal/netdevice"
	"github.com/bristlemouth/bmrun/internal/uart"
	"github.com/bristlemouth/bmrun/internal/vpd"
)

type pipeLine struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (p *pipeLine) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeLine) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeLine) Close() error {
	_ = p.r.Close()
	return p.w.Close()
}

func newLoopback() (uart.Line, uart.Line) {
	ar, bw, err := os.Pipe()
	if err != nil {
		panic(err)
	}
	br, aw, err := os.Pipe()
	if err != nil {
		panic(err)
	}
	return &pipeLine{r: ar, w: aw}, &pipeLine{r: br, w: bw}
}

type recorder struct {
	mu      sync.Mutex
	rx      []uint8
	linkUps map[uint8]int
	linkDns map[uint8]int
}

func newRecorder() *recorder { return &recorder{linkUps: map[uint8]int{}, linkDns: map[uint8]int{}} }

func (r *recorder) Receive(port uint8, _ []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rx = append(r.rx, port)
}

func (r *recorder) LinkChange(port uint8, up bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if up {
		r.linkUps[port]++
	} else {
		r.linkDns[port]++
	}
}

func (r *recorder) rxPorts() []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint8{}, r.rx...)
}

func (r *recorder) upCount(port uint8) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.linkUps[port]
}

func (r *recorder) downCount(port uint8) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.linkDns[port]
}

func newTestGateway(t *testing.T, dir string, own uint64, peers []uint64) (*Gateway, uart.Line) {
	vp := vpd.New(vpd.Config{OwnNodeID: own, Peers: peers, SocketDir: dir})
	localLine, remoteLine := newLoopback()
	ua := uart.New(localLine)
	return New(vp, ua), remoteLine
}

func TestNumPortsIsVpdCapPlusOne(t *testing.T) {
	g, remote := newTestGateway(t, t.TempDir(), 1, nil)
	defer remote.Close()
	require.Equal(t, vpd.MaxPeers+1, int(g.NumPorts()))
}

func TestUartPortAssignedOnePastVpdCap(t *testing.T) {
	g, remote := newTestGateway(t, t.TempDir(), 1, nil)
	defer remote.Close()
	require.Equal(t, uint8(vpd.MaxPeers+1), g.uart)
}

func TestFloodReachesBothVpdPeersAndUart(t *testing.T) {
	dir := t.TempDir()
	peerNodeID := uint64(2)

	peerSockPath := filepathSocket(dir, peerNodeID)
	peerConn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: peerSockPath, Net: "unixgram"})
	require.NoError(t, err)
	defer peerConn.Close()

	g, remote := newTestGateway(t, dir, 1, []uint64{peerNodeID})
	defer remote.Close()

	rec := newRecorder()
	g.SetCallbacks(rec)
	require.NoError(t, g.Enable())
	defer g.Disable()

	require.Eventually(t, func() bool {
		ok, err := g.RetryNegotiation(1)
		return err == nil && ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, g.Send(netdevice.FloodPort, make([]byte, 20)))

	buf := make([]byte, 4096)
	n, err := remote.Read(buf)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	peerBuf := make([]byte, 4096)
	peerConn.SetReadDeadline(time.Now().Add(time.Second))
	pn, perr := peerConn.Read(peerBuf)
	require.NoError(t, perr)
	require.Greater(t, pn, 0)
}

// TestEnableEmitsUartLinkUpImmediately verifies the UART port's link-up
// fires as soon as Enable succeeds, unlike a VPD peer port which requires
// RetryNegotiation to observe reachability.
func TestEnableEmitsUartLinkUpImmediately(t *testing.T) {
	g, remote := newTestGateway(t, t.TempDir(), 1, nil)
	defer remote.Close()

	rec := newRecorder()
	g.SetCallbacks(rec)
	require.NoError(t, g.Enable())
	defer g.Disable()

	require.Equal(t, 1, rec.upCount(g.uart))
}

// TestRetryNegotiationIsNoOpForUartPort verifies repeated calls neither
// re-fire link-up nor error, since the UART port's link-up already
// happened at Enable.
func TestRetryNegotiationIsNoOpForUartPort(t *testing.T) {
	g, remote := newTestGateway(t, t.TempDir(), 1, nil)
	defer remote.Close()

	rec := newRecorder()
	g.SetCallbacks(rec)
	require.NoError(t, g.Enable())
	defer g.Disable()

	for i := 0; i < 3; i++ {
		ok, err := g.RetryNegotiation(g.uart)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, 1, rec.upCount(g.uart))
}

// TestEnableDoesNotEmitVpdLinkUp verifies the VPD's ports still follow the
// deferred-link-up discipline even though the UART port does not.
func TestEnableDoesNotEmitVpdLinkUp(t *testing.T) {
	g, remote := newTestGateway(t, t.TempDir(), 1, []uint64{2})
	defer remote.Close()

	rec := newRecorder()
	g.SetCallbacks(rec)
	require.NoError(t, g.Enable())
	defer g.Disable()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, rec.upCount(1))
}

func TestDisableEmitsUartLinkDown(t *testing.T) {
	g, remote := newTestGateway(t, t.TempDir(), 1, nil)
	defer remote.Close()

	rec := newRecorder()
	g.SetCallbacks(rec)
	require.NoError(t, g.Enable())
	require.NoError(t, g.Disable())

	require.Equal(t, 1, rec.downCount(g.uart))
}

func TestEnablePortIsNoOpForUartPort(t *testing.T) {
	g, remote := newTestGateway(t, t.TempDir(), 1, nil)
	defer remote.Close()
	require.NoError(t, g.Enable())
	defer g.Disable()

	require.NoError(t, g.EnablePort(g.uart))
	require.NoError(t, g.DisablePort(g.uart))
}

func filepathSocket(dir string, nodeID uint64) string {
	// duplicated formatting kept in sync with vpd.socketPath; that helper is
	// unexported, so the test builds the same path independently.
	return dir + "/bm_sbc_" + hex16(nodeID) + ".sock"
}

func hex16(v uint64) string {
	const hexdigits = "0123456789abcdef"
	b := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		b[i] = hexdigits[v&0xF]
		v >>= 4
	}
	return string(b)
}
