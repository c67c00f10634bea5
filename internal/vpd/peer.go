package vpd

import (
	"fmt"
	"net"
)

// peerEntry is one slot in the peer table. Slot index i corresponds to port
// i+1. nodeID == 0 iff active == false, enforced wherever a slot is
// populated or cleared.
type peerEntry struct {
	nodeID   uint64
	active   bool
	sockPath string
	sendConn *net.UnixConn // nil until the sender for this peer has been opened
}

// socketPath builds the fixed filesystem path for a node's receive socket:
// <dir>/bm_sbc_<nodeid16hex>.sock.
func socketPath(dir string, nodeID uint64) string {
	return fmt.Sprintf("%s/bm_sbc_%016x.sock", dir, nodeID)
}
