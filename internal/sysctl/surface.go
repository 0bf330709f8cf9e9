// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sysctl

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"grimm.is/pernet/internal/errors"
	"grimm.is/pernet/internal/logging"
	"grimm.is/pernet/internal/metrics"
)

// Credentials describe the caller of a control surface access.
type Credentials struct {
	UID      uint32
	NetAdmin bool // may modify network configuration
}

// Unprivileged is an anonymous caller.
var Unprivileged = Credentials{UID: 65534}

// Root is a fully privileged caller.
var Root = Credentials{UID: 0, NetAdmin: true}

// Header identifies one registered table.
type Header struct {
	ns    uuid.UUID
	path  string
	table *Table
	keys  []key
}

// Table returns the table the header was registered with.
func (h *Header) Table() *Table { return h.table }

// Path returns the directory the table's entries live under.
func (h *Header) Path() string { return h.path }

// Namespace returns the owning namespace.
func (h *Header) Namespace() uuid.UUID { return h.ns }

type key struct {
	ns   uuid.UUID
	path string
}

// Options configures a Surface.
type Options struct {
	// MaxTables bounds the number of registered tables; zero means unlimited.
	MaxTables int
	Logger    *logging.Logger
	Metrics   *metrics.Registry
}

// Surface dispatches operator accesses to registered entries.
//
// Handlers run under the read lock and Unregister takes the write lock, so
// once Unregister returns no access can still reach the table's data.
type Surface struct {
	mu        sync.RWMutex
	entries   map[key]*Entry
	headers   map[*Header]struct{}
	maxTables int

	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewSurface creates an empty control surface.
func NewSurface(opts Options) *Surface {
	return &Surface{
		entries:   make(map[key]*Entry),
		headers:   make(map[*Header]struct{}),
		maxTables: opts.MaxTables,
		logger:    logging.OrDefault(opts.Logger).WithComponent("sysctl"),
		metrics:   opts.Metrics,
	}
}

// Register publishes every entry of t under path in namespace ns.
//
// It fails with KindConflict if any entry path is already taken in ns and
// with KindExhausted if the surface is full. On failure nothing is published.
func (s *Surface) Register(ns uuid.UUID, path string, t *Table) (*Header, error) {
	path = CleanPath(path)
	if path == "" {
		return nil, errors.Op("sysctl.register", errors.KindValidation, "empty path")
	}
	if err := t.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxTables > 0 && len(s.headers) >= s.maxTables {
		return nil, errors.Attr(
			errors.Op("sysctl.register", errors.KindExhausted, "control surface full (%d tables)", s.maxTables),
			"namespace", ns.String())
	}

	h := &Header{ns: ns, path: path, table: t, keys: make([]key, 0, len(t.Entries))}
	for i := range t.Entries {
		k := key{ns: ns, path: path + "/" + t.Entries[i].Name}
		if _, taken := s.entries[k]; taken {
			return nil, errors.Attr(
				errors.Op("sysctl.register", errors.KindConflict, "%s already registered", k.path),
				"namespace", ns.String())
		}
		h.keys = append(h.keys, k)
	}
	for i, k := range h.keys {
		s.entries[k] = &t.Entries[i]
	}
	s.headers[h] = struct{}{}
	s.metrics.SetSysctlTables(len(s.headers))

	s.logger.Debug("table registered", "namespace", ns, "path", path, "entries", len(h.keys))
	return h, nil
}

// Unregister removes a table. It waits for in-flight accesses to finish.
// Unregistering a header that is not registered is a programming error and panics.
func (s *Surface) Unregister(h *Header) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.headers[h]; !ok {
		panic("sysctl: unregister of unknown table header")
	}
	for _, k := range h.keys {
		delete(s.entries, k)
	}
	delete(s.headers, h)
	s.metrics.SetSysctlTables(len(s.headers))

	s.logger.Debug("table unregistered", "namespace", h.ns, "path", h.path)
}

// Read returns the rendered value of the entry at path in ns.
func (s *Surface) Read(ns uuid.UUID, path string, cred Credentials) (string, error) {
	return s.dispatch(ns, path, OpRead, "", cred)
}

// Write parses value into the entry at path in ns. Callers without NetAdmin
// get a KindPermission error.
func (s *Surface) Write(ns uuid.UUID, path, value string, cred Credentials) error {
	_, err := s.dispatch(ns, path, OpWrite, value, cred)
	return err
}

func (s *Surface) dispatch(ns uuid.UUID, path string, op Op, in string, cred Credentials) (string, error) {
	path = CleanPath(path)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out, err := s.access(ns, path, op, in, cred)
	s.metrics.SysctlOp(op.String(), resultLabel(err))
	return out, err
}

func (s *Surface) access(ns uuid.UUID, path string, op Op, in string, cred Credentials) (string, error) {
	e, ok := s.entries[key{ns: ns, path: path}]
	if !ok {
		return "", errors.Attr(
			errors.Op("sysctl."+op.String(), errors.KindNotFound, "%s not found", path),
			"namespace", ns.String())
	}

	switch op {
	case OpRead:
		if !e.readable() {
			return "", errors.Op("sysctl.read", errors.KindPermission, "%s is not readable", path)
		}
	case OpWrite:
		if !e.writable() {
			return "", errors.Op("sysctl.write", errors.KindPermission, "%s is read-only", path)
		}
		if !cred.NetAdmin {
			return "", errors.Attr(
				errors.Op("sysctl.write", errors.KindPermission, "writing %s requires network admin", path),
				"uid", cred.UID)
		}
	}

	return e.Handler(e, op, in)
}

// List returns the registered entry paths of ns, sorted.
func (s *Surface) List(ns uuid.UUID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for k := range s.entries {
		if k.ns == ns {
			out = append(out, k.path)
		}
	}
	sort.Strings(out)
	return out
}

// Tables returns the number of registered tables.
func (s *Surface) Tables() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.headers)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(errors.GetKind(err).String())
}
