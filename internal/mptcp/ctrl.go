// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package mptcp keeps the per-namespace multipath feature flag and publishes
// it on the control surface as net/mptcp/enabled for every namespace.
package mptcp

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"grimm.is/pernet/internal/errors"
	"grimm.is/pernet/internal/logging"
	"grimm.is/pernet/internal/memacct"
	"grimm.is/pernet/internal/metrics"
	"grimm.is/pernet/internal/netns"
	"grimm.is/pernet/internal/sysctl"
)

// SysctlPath is the directory the flag is published under in every namespace.
const SysctlPath = "net/mptcp"

// EnabledEntry is the name of the flag's control entry.
const EnabledEntry = "enabled"

var (
	// ErrAllocation reports that a namespace's control table could not be
	// allocated. Namespace creation is aborted.
	ErrAllocation = errors.New(errors.KindExhausted, "mptcp: control table allocation failed")
	// ErrRegistration reports that the control surface refused the table.
	ErrRegistration = errors.New(errors.KindConflict, "mptcp: control table registration failed")
	// ErrFatalBoot reports that global initialization failed. The process
	// must not continue starting.
	ErrFatalBoot = errors.New(errors.KindInternal, "mptcp: fatal boot error")
	// ErrAlreadyInitialized is returned by a second Init or InitV6.
	ErrAlreadyInitialized = errors.New(errors.KindConflict, "mptcp: already initialized")
	// ErrNotInitialized is returned by InitV6 before Init succeeded.
	ErrNotInitialized = errors.New(errors.KindUnavailable, "mptcp: not initialized")
)

// fail tags cause with a sentinel. The result matches both with errors.Is and
// keeps the cause's kind, falling back to the sentinel's.
func fail(sentinel error, op string, cause error) error {
	kind := errors.GetKind(cause)
	if kind == errors.KindUnknown {
		kind = errors.GetKind(sentinel)
	}
	return &errors.Error{
		Kind:       kind,
		Op:         op,
		Message:    sentinel.Error(),
		Underlying: fmt.Errorf("%w: %w", sentinel, cause),
	}
}

// pernet is the record kept in each namespace's slot.
type pernet struct {
	hdr     atomic.Pointer[sysctl.Header] // non-nil while published
	enabled atomic.Int32
}

// Options configures a Controller.
type Options struct {
	Subsystem *netns.Subsystem
	Surface   *sysctl.Surface
	// ShareDefaultTemplate lets the default namespace publish the template
	// table itself instead of a private copy.
	ShareDefaultTemplate bool
	Logger               *logging.Logger
	Metrics              *metrics.Registry
}

// Controller owns the flag in every namespace.
type Controller struct {
	subsys  *netns.Subsystem
	surface *sysctl.Surface
	mem     *memacct.Accountant
	share   bool

	// template is written once, when the default namespace publishes it,
	// and only copied afterwards.
	template *sysctl.Table
	slot     netns.SlotID
	ops      *netns.Operations

	once    sync.Once
	initErr error
	v6      atomic.Bool
	booted  atomic.Bool

	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewController prepares a controller. Nothing is published until Init.
func NewController(opts Options) *Controller {
	c := &Controller{
		subsys:   opts.Subsystem,
		surface:  opts.Surface,
		mem:      opts.Subsystem.Accountant(),
		share:    opts.ShareDefaultTemplate,
		template: sysctl.NewTable(templateEntries(), nil),
		logger:   logging.OrDefault(opts.Logger).WithComponent("mptcp"),
		metrics:  opts.Metrics,
	}
	c.ops = &netns.Operations{
		Name:  "mptcp",
		Hooks: c,
		Size:  int(unsafe.Sizeof(pernet{})),
		New:   func() any { return new(pernet) },
		ID:    &c.slot,
	}
	return c
}

func templateEntries() []sysctl.Entry {
	return []sysctl.Entry{{
		Name:    EnabledEntry,
		MaxLen:  int(unsafe.Sizeof(int32(0))),
		Mode:    0o644,
		Handler: sysctl.ProcDoIntVec,
	}}
}

func applyDefaults(pn *pernet) {
	pn.enabled.Store(1)
}

// publish registers pn's flag on the control surface of ns. Steps run in
// the order allocate, bind, register, record; a failure undoes only the
// steps already taken.
func (c *Controller) publish(ns *netns.Namespace, pn *pernet) error {
	table := c.template
	if !ns.IsDefault() || !c.share {
		t, err := c.cloneTemplate(ns)
		if err != nil {
			c.metrics.PublishFailed("allocation")
			return fail(ErrAllocation, "mptcp.publish", err)
		}
		table = t
	}

	table.Entries[0].Data = &pn.enabled

	hdr, err := c.surface.Register(ns.ID(), SysctlPath, table)
	if err != nil {
		table.Release()
		c.metrics.PublishFailed("registration")
		return fail(ErrRegistration, "mptcp.publish", err)
	}

	pn.hdr.Store(hdr)
	c.logger.Debug("flag published", "namespace", ns, "shared", table == c.template)
	return nil
}

// cloneTemplate returns a private, accounted copy of the template table.
func (c *Controller) cloneTemplate(ns *netns.Namespace) (*sysctl.Table, error) {
	entries := append([]sysctl.Entry(nil), c.template.Entries...)
	al, err := c.mem.Alloc(len(entries)*int(unsafe.Sizeof(sysctl.Entry{})), "mptcp.sysctl."+ns.Name())
	if err != nil {
		return nil, err
	}
	return sysctl.NewTable(entries, func() { c.mem.Free(al) }), nil
}

// retire unpublishes pn. Once it returns, no control surface access can
// reach pn. The table is released whichever way publish obtained it.
func (c *Controller) retire(pn *pernet) {
	hdr := pn.hdr.Swap(nil)
	if hdr == nil {
		panic("mptcp: retire of unpublished namespace record")
	}
	table := hdr.Table()
	c.surface.Unregister(hdr)
	table.Release()
}

func (c *Controller) record(ns *netns.Namespace) *pernet {
	pn, _ := ns.Generic(c.slot).(*pernet)
	return pn
}

// OnCreate applies the defaults to ns's record and publishes it.
func (c *Controller) OnCreate(ns *netns.Namespace) error {
	pn := c.record(ns)
	if pn == nil {
		return errors.Op("mptcp.create", errors.KindInternal, "no record in %s", ns)
	}
	applyDefaults(pn)
	if err := c.publish(ns, pn); err != nil {
		c.logger.Warn("publish failed", "namespace", ns, "error", err)
		if errors.Is(err, ErrAllocation) {
			return err
		}
		return fail(ErrAllocation, "mptcp.create", err)
	}
	return nil
}

// OnDestroy retires ns's record.
func (c *Controller) OnDestroy(ns *netns.Namespace) {
	pn := c.record(ns)
	if pn == nil {
		panic("mptcp: destroy without record in " + ns.String())
	}
	c.retire(pn)
	c.logger.Debug("flag retired", "namespace", ns)
}

// IsEnabled reports whether multipath is enabled in ns. Namespaces without a
// published record report false.
func (c *Controller) IsEnabled(ns *netns.Namespace) bool {
	pn := c.record(ns)
	return pn != nil && pn.hdr.Load() != nil && pn.enabled.Load() != 0
}

// Enabled returns the flag of ns, or KindNotFound if ns has no record.
func (c *Controller) Enabled(ns *netns.Namespace) (bool, error) {
	pn := c.record(ns)
	if pn == nil || pn.hdr.Load() == nil {
		return false, errors.Attr(
			errors.Op("mptcp.enabled", errors.KindNotFound, "no multipath state"),
			"namespace", ns.String())
	}
	return pn.enabled.Load() != 0, nil
}

// Header returns the control surface header of ns, or nil.
func (c *Controller) Header(ns *netns.Namespace) *sysctl.Header {
	pn := c.record(ns)
	if pn == nil {
		return nil
	}
	return pn.hdr.Load()
}

// Initialized reports whether Init completed successfully.
func (c *Controller) Initialized() bool {
	return c.booted.Load()
}
