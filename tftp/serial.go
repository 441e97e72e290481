// Copyright 2021 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tftp

// serial is a 16-bit block number under RFC 1982 serial number arithmetic.
// Transfers larger than 65535 blocks wrap the block counter, so window
// membership has to be decided by forward distance rather than plain
// integer comparison.
type serial uint16

// add returns s advanced by n, modulo 2^16.
func (s serial) add(n uint16) serial {
	return serial(uint16(s) + n)
}

// dist returns the forward distance from s to t, modulo 2^16.
func (s serial) dist(t serial) uint16 {
	return uint16(t) - uint16(s)
}

// less reports whether s precedes t: the forward distance from s to t is
// nonzero and below 2^15.
func (s serial) less(t serial) bool {
	d := s.dist(t)
	return d != 0 && d < 1<<15
}
