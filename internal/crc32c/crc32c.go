// Package crc32c computes the 32-bit Castagnoli CRC used to protect UART L2
// frames. It wraps the standard library's hash/crc32 Castagnoli table the
// same way bpv7/crc.go wraps it for bundle CRC-32 blocks — no third-party
// CRC-32C implementation improves on the stdlib table, so this is the one
// ambient concern left on hash/crc32.
package crc32c

import "hash/crc32"

var table = crc32.MakeTable(crc32.Castagnoli)

// Update folds data into a running, non-finalized CRC value. Pass 0xFFFFFFFF
// as the initial value for a new computation.
func Update(crc uint32, data []byte) uint32 {
	// hash/crc32.Update works on finalized values (it inverts on entry and
	// exit), so translate to and from the running, non-finalized form.
	return ^crc32.Update(^crc, table, data)
}

// Finalize applies the final XOR to a running value produced by Update.
func Finalize(crc uint32) uint32 {
	return crc ^ 0xFFFFFFFF
}

// Checksum computes the one-shot CRC-32C of data.
func Checksum(data []byte) uint32 {
	return Finalize(Update(0xFFFFFFFF, data))
}
