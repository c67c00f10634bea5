// Package cobs implements Consistent Overhead Byte Stuffing: encoding an
// arbitrary byte string so the result contains no zero byte, and decoding it
// back losslessly. The zero byte is reserved elsewhere (see framecodec) as a
// frame terminator on the wire.
package cobs

// maxRun is the longest run of non-zero bytes a single code byte can cover.
const maxRun = 254

// Encode returns the COBS encoding of src. The result never contains a zero
// byte. Encode never fails: every byte string, including the empty string,
// has a valid encoding.
func Encode(src []byte) []byte {
	dst := make([]byte, 0, len(src)+len(src)/maxRun+2)
	dst = append(dst, 0) // placeholder for the first block's code byte
	codeIdx := 0         // -1 once a maximal run has already been finalized at EOF
	run := byte(0)

	for i, b := range src {
		if b == 0 {
			dst[codeIdx] = run + 1
			codeIdx = len(dst)
			dst = append(dst, 0)
			run = 0
			continue
		}

		dst = append(dst, b)
		run++
		if run == maxRun {
			dst[codeIdx] = run + 1
			run = 0
			if i+1 < len(src) {
				codeIdx = len(dst)
				dst = append(dst, 0)
			} else {
				codeIdx = -1
			}
		}
	}

	if codeIdx >= 0 {
		dst[codeIdx] = run + 1
	}
	return dst
}

// Decode reverses Encode. A malformed input (a stray zero byte, a run that
// overruns the input, or an empty input) yields a nil result, matching
// spec's "empty result on failure" contract.
func Decode(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}

	dst := make([]byte, 0, len(src))
	i := 0
	for i < len(src) {
		code := src[i]
		if code == 0 {
			return nil
		}
		i++

		run := int(code) - 1
		if i+run > len(src) {
			return nil
		}
		for j := 0; j < run; j++ {
			if src[i+j] == 0 {
				return nil
			}
		}
		dst = append(dst, src[i:i+run]...)
		i += run

		if code < 0xFF && i < len(src) {
			dst = append(dst, 0)
		}
	}

	return dst
}
