// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netns

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/pernet/internal/errors"
	"grimm.is/pernet/internal/logging"
	"grimm.is/pernet/internal/memacct"
	"grimm.is/pernet/internal/metrics"
)

// DefaultName is the name of the initial namespace unless overridden.
const DefaultName = "default"

// Hooks receive namespace lifecycle notifications.
//
// Both hooks run synchronously and to completion, never reentrantly for the
// same namespace. OnCreate runs after the subsystem's record is allocated and
// before the namespace is visible to anyone; an error aborts the creation.
// OnDestroy runs exactly once per successfully created namespace, before its
// record is freed, and is never run for the default namespace as part of
// normal teardown.
type Hooks interface {
	OnCreate(ns *Namespace) error
	OnDestroy(ns *Namespace)
}

// Operations describes a subsystem registering for namespace notifications.
type Operations struct {
	Name  string
	Hooks Hooks
	// Size is the accounted size of the per-namespace record.
	Size int
	// New returns a zeroed per-namespace record.
	New func() any
	// ID receives the slot assigned at registration.
	ID *SlotID
}

// Options configures a Subsystem.
type Options struct {
	DefaultName string
	// HostID labels the default namespace with the host's namespace identity.
	HostID     string
	Accountant *memacct.Accountant
	Logger     *logging.Logger
	Metrics    *metrics.Registry
}

// Subsystem owns every namespace and the registered operations.
//
// Registration holds opsMu exclusively; creation and destruction hold it
// shared, so hooks for different namespaces may run concurrently while the
// set of operations cannot change under them.
type Subsystem struct {
	opsMu sync.RWMutex
	ops   []*Operations

	tableMu    sync.Mutex
	namespaces map[uuid.UUID]*Namespace
	names      map[string]uuid.UUID // includes namespaces still being created or torn down
	order      []*Namespace
	def        *Namespace
	hostID     string

	mem     *memacct.Accountant
	logger  *logging.Logger
	metrics *metrics.Registry
}

// New creates the subsystem and its default namespace.
func New(opts Options) *Subsystem {
	name := opts.DefaultName
	if name == "" {
		name = DefaultName
	}
	mem := opts.Accountant
	if mem == nil {
		mem = memacct.New(0)
	}

	def := &Namespace{id: uuid.New(), name: name, isDefault: true, created: time.Now()}
	s := &Subsystem{
		namespaces: map[uuid.UUID]*Namespace{def.id: def},
		names:      map[string]uuid.UUID{name: def.id},
		order:      []*Namespace{def},
		def:        def,
		hostID:     opts.HostID,
		mem:        mem,
		logger:     logging.OrDefault(opts.Logger).WithComponent("netns"),
		metrics:    opts.Metrics,
	}
	s.metrics.SetNamespaces(1)
	s.logger.Info("default namespace ready", "id", def.id, "name", name, "host_id", opts.HostID)
	return s
}

// Default returns the initial namespace.
func (s *Subsystem) Default() *Namespace { return s.def }

// HostID returns the host namespace identity the default namespace stands for.
func (s *Subsystem) HostID() string { return s.hostID }

// Accountant returns the accountant records are charged to.
func (s *Subsystem) Accountant() *memacct.Accountant { return s.mem }

// Register adds ops and runs its OnCreate for every live namespace, default
// first. If any of them fails, the namespaces already initialized are torn
// down again, the slot is released and the error is returned.
func (s *Subsystem) Register(ops *Operations) error {
	if ops == nil || ops.Hooks == nil || ops.New == nil || ops.ID == nil {
		return errors.Op("netns.register", errors.KindValidation, "incomplete operations")
	}

	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	for _, o := range s.ops {
		if o == ops {
			return errors.Op("netns.register", errors.KindConflict, "%s already registered", ops.Name)
		}
	}

	slot := SlotID(len(s.ops))
	*ops.ID = slot

	s.tableMu.Lock()
	live := append([]*Namespace(nil), s.order...)
	s.tableMu.Unlock()

	for i, ns := range live {
		if err := s.initOne(ops, slot, ns); err != nil {
			for j := i - 1; j >= 0; j-- {
				s.exitOne(ops, slot, live[j])
			}
			for _, done := range live[:i] {
				done.truncate(slot)
			}
			s.metrics.SetLiveAllocations(s.mem.Live())
			return errors.Attr(errors.Wrapf(err, errors.GetKind(err), "registering %s", ops.Name), "namespace", ns.String())
		}
	}

	s.ops = append(s.ops, ops)
	s.metrics.SetLiveAllocations(s.mem.Live())
	s.logger.Info("operations registered", "name", ops.Name, "slot", int(slot), "namespaces", len(live))
	return nil
}

// initOne allocates ops' record in ns and runs OnCreate. On failure the
// record is freed and ns is left as it was.
func (s *Subsystem) initOne(ops *Operations, slot SlotID, ns *Namespace) error {
	al, err := s.mem.Alloc(ops.Size, ops.Name)
	if err != nil {
		return err
	}
	ns.setSlot(slot, ops.New(), al)

	if err := ops.Hooks.OnCreate(ns); err != nil {
		ns.truncate(slot)
		s.mem.Free(al)
		return err
	}
	return nil
}

// exitOne runs OnDestroy and frees ops' record in ns.
func (s *Subsystem) exitOne(ops *Operations, slot SlotID, ns *Namespace) {
	ops.Hooks.OnDestroy(ns)
	s.mem.Free(ns.clearSlot(slot))
}

// Create makes a new namespace and notifies every registered subsystem in
// registration order. If one fails, those already notified are torn down in
// reverse order and the namespace never becomes visible.
func (s *Subsystem) Create(name string) (*Namespace, error) {
	name = strings.TrimSpace(name)
	ns := &Namespace{id: uuid.New(), name: name, created: time.Now()}
	if ns.name == "" {
		ns.name = "ns-" + ns.id.String()[:8]
	}

	s.tableMu.Lock()
	if _, taken := s.names[ns.name]; taken {
		s.tableMu.Unlock()
		return nil, errors.Op("netns.create", errors.KindConflict, "namespace %q already exists", ns.name)
	}
	s.names[ns.name] = ns.id
	s.tableMu.Unlock()

	s.opsMu.RLock()
	err := s.setup(ns)
	s.opsMu.RUnlock()

	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	if err != nil {
		delete(s.names, ns.name)
		s.metrics.NamespaceEvent("create_failed")
		s.metrics.SetLiveAllocations(s.mem.Live())
		s.logger.Warn("namespace creation aborted", "name", ns.name, "error", err)
		return nil, err
	}
	s.namespaces[ns.id] = ns
	s.order = append(s.order, ns)

	s.metrics.NamespaceEvent("create")
	s.metrics.SetNamespaces(len(s.namespaces))
	s.metrics.SetLiveAllocations(s.mem.Live())
	s.logger.Info("namespace created", "id", ns.id, "name", ns.name)
	return ns, nil
}

func (s *Subsystem) setup(ns *Namespace) error {
	for i, ops := range s.ops {
		if err := s.initOne(ops, SlotID(i), ns); err != nil {
			for j := i - 1; j >= 0; j-- {
				s.exitOne(s.ops[j], SlotID(j), ns)
			}
			return errors.Attr(errors.Wrapf(err, errors.GetKind(err), "creating namespace %s", ns.name), "subsystem", ops.Name)
		}
	}
	return nil
}

// Destroy tears down a secondary namespace. Subsystems are notified in
// reverse registration order. The default namespace cannot be destroyed.
func (s *Subsystem) Destroy(id uuid.UUID) error {
	s.tableMu.Lock()
	ns, ok := s.namespaces[id]
	if !ok {
		s.tableMu.Unlock()
		return errors.Op("netns.destroy", errors.KindNotFound, "namespace %s not found", id)
	}
	if ns.isDefault {
		s.tableMu.Unlock()
		return errors.Op("netns.destroy", errors.KindPermission, "the default namespace lives as long as the process")
	}
	delete(s.namespaces, id)
	for i, o := range s.order {
		if o == ns {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.tableMu.Unlock()

	s.opsMu.RLock()
	for i := len(s.ops) - 1; i >= 0; i-- {
		s.exitOne(s.ops[i], SlotID(i), ns)
	}
	s.opsMu.RUnlock()

	s.tableMu.Lock()
	delete(s.names, ns.name)
	n := len(s.namespaces)
	s.tableMu.Unlock()

	s.metrics.NamespaceEvent("destroy")
	s.metrics.SetNamespaces(n)
	s.metrics.SetLiveAllocations(s.mem.Live())
	s.logger.Info("namespace destroyed", "id", ns.id, "name", ns.name)
	return nil
}

// Get returns a live namespace by id.
func (s *Subsystem) Get(id uuid.UUID) (*Namespace, bool) {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	ns, ok := s.namespaces[id]
	return ns, ok
}

// Lookup returns a live namespace by name.
func (s *Subsystem) Lookup(name string) (*Namespace, bool) {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	id, ok := s.names[name]
	if !ok {
		return nil, false
	}
	ns, ok := s.namespaces[id]
	return ns, ok
}

// Resolve accepts either a namespace id or a name.
func (s *Subsystem) Resolve(ref string) (*Namespace, error) {
	if id, err := uuid.Parse(ref); err == nil {
		if ns, ok := s.Get(id); ok {
			return ns, nil
		}
	}
	if ns, ok := s.Lookup(ref); ok {
		return ns, nil
	}
	return nil, errors.Op("netns.resolve", errors.KindNotFound, "namespace %q not found", ref)
}

// List returns live namespaces in creation order, default first.
func (s *Subsystem) List() []*Namespace {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	return append([]*Namespace(nil), s.order...)
}

// Shutdown destroys every secondary namespace, newest first.
func (s *Subsystem) Shutdown() error {
	list := s.List()
	var errs []error
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].isDefault {
			continue
		}
		if err := s.Destroy(list[i].id); err != nil && !errors.HasKind(err, errors.KindNotFound) {
			errs = append(errs, fmt.Errorf("destroy %s: %w", list[i], err))
		}
	}
	return errors.Join(errs...)
}
