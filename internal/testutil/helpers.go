// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"runtime"
	"testing"

	"grimm.is/pernet/internal/logging"
)

// RequireVM skips the test if the PERNET_VM_TEST environment variable is not set.
// Tests that open real kernel namespaces only run in a disposable VM.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv("PERNET_VM_TEST") == "" {
		t.Skip("Skipping test: requires PERNET_VM_TEST environment")
	}
	if runtime.GOOS != "linux" {
		t.Skip("Skipping test: requires linux")
	}
}

// QuietLogger returns a logger that only reports errors.
func QuietLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError})
}
