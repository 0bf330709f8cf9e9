// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package api

import "net"

// peerUID is unsupported off Linux; socket peers are unprivileged.
func peerUID(c *net.UnixConn) (uint32, bool) {
	return 0, false
}
