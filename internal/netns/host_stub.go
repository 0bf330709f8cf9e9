// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package netns

// HostIdentity has no kernel namespace to report outside Linux.
func HostIdentity() string {
	return "host"
}
