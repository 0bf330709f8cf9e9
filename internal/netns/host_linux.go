// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package netns

import (
	vnetns "github.com/vishvananda/netns"
)

// HostIdentity returns the identity of the network namespace the process
// runs in, in the "NS(dev:inode)" form. It returns an empty string when the
// namespace cannot be opened.
func HostIdentity() string {
	h, err := vnetns.Get()
	if err != nil {
		return ""
	}
	defer h.Close()
	return h.UniqueId()
}
