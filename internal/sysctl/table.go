// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package sysctl implements the operator-facing control surface: named
// entries grouped in tables, registered per namespace under a path, and read
// or written through handlers.
package sysctl

import (
	"io/fs"
	"strings"

	"grimm.is/pernet/internal/errors"
)

// IntVar is the storage an integer entry is bound to. *atomic.Int32 satisfies it.
type IntVar interface {
	Load() int32
	Store(int32)
}

// Op is the kind of access being dispatched.
type Op int

const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	if o == OpWrite {
		return "write"
	}
	return "read"
}

// Handler serves one access to an entry. For OpRead in is empty and the
// rendered value is returned; for OpWrite the returned string is ignored.
type Handler func(e *Entry, op Op, in string) (string, error)

// Entry is a single control value.
type Entry struct {
	Name    string
	MaxLen  int
	Mode    fs.FileMode
	Data    IntVar
	Handler Handler
}

func (e *Entry) readable() bool { return e.Mode&0o444 != 0 }
func (e *Entry) writable() bool { return e.Mode&0o222 != 0 }

// Table is a set of entries registered together. Its storage may be shared
// or owned; Release returns whatever the table owns, so callers tearing a
// table down never need to know where it came from.
type Table struct {
	Entries []Entry
	release func()
}

// NewTable wraps entries. release may be nil when the table owns nothing.
func NewTable(entries []Entry, release func()) *Table {
	return &Table{Entries: entries, release: release}
}

// Release frees the table's storage. It must be called exactly once, after
// the table is no longer registered.
func (t *Table) Release() {
	if t == nil || t.release == nil {
		return
	}
	t.release()
}

// Entry returns the named entry, or nil.
func (t *Table) Entry(name string) *Entry {
	for i := range t.Entries {
		if t.Entries[i].Name == name {
			return &t.Entries[i]
		}
	}
	return nil
}

func (t *Table) validate() error {
	if t == nil || len(t.Entries) == 0 {
		return errors.Op("sysctl.register", errors.KindValidation, "empty table")
	}
	seen := make(map[string]bool, len(t.Entries))
	for i := range t.Entries {
		e := &t.Entries[i]
		if e.Name == "" || strings.ContainsAny(e.Name, "/.") {
			return errors.Op("sysctl.register", errors.KindValidation, "invalid entry name %q", e.Name)
		}
		if seen[e.Name] {
			return errors.Op("sysctl.register", errors.KindValidation, "duplicate entry %q", e.Name)
		}
		seen[e.Name] = true
		if e.Handler == nil {
			return errors.Op("sysctl.register", errors.KindValidation, "entry %q has no handler", e.Name)
		}
		if e.Data == nil {
			return errors.Op("sysctl.register", errors.KindValidation, "entry %q is not bound to data", e.Name)
		}
	}
	return nil
}

// CleanPath normalises "net.mptcp.enabled", "/net/mptcp/enabled/" and
// "net/mptcp/enabled" to the same slash-separated form.
func CleanPath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), ".", "/")
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, "/")
}
