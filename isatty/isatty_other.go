// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// +build !linux,!darwin

package isatty

// IsTerminal reports whether stdout is attached to a terminal. On
// platforms without termios support it conservatively reports false.
func IsTerminal() bool {
	return false
}
