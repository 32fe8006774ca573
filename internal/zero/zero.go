// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package zero clears secret key material from memory once it is no longer
// needed.
package zero

// Bytes sets all bytes in the passed slice to zero.  This is used to
// explicitly clear seeds and other private data from memory.
//
// The slice is cleared by doubling the zeroed prefix each round, which lets
// copy do most of the work for large buffers.
func Bytes(b []byte) {
	z := [32]byte{}
	n := copy(b, z[:])
	for n < len(b) {
		n += copy(b[n:], b[:n])
	}
}
