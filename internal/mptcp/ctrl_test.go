// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mptcp

import (
	"fmt"
	"sync"
	"testing"
	"unsafe"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/pernet/internal/errors"
	"grimm.is/pernet/internal/memacct"
	"grimm.is/pernet/internal/metrics"
	"grimm.is/pernet/internal/netns"
	"grimm.is/pernet/internal/sysctl"
	"grimm.is/pernet/internal/testutil"
)

const enabledPath = SysctlPath + "/" + EnabledEntry

type fixture struct {
	mem     *memacct.Accountant
	surface *sysctl.Surface
	subsys  *netns.Subsystem
	ctrl    *Controller
	metrics *metrics.Registry
}

type fixtureOpts struct {
	memLimit  int64
	maxTables int
	noShare   bool
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	logger := testutil.QuietLogger()
	reg := metrics.New()
	f := &fixture{mem: memacct.New(o.memLimit), metrics: reg}
	f.surface = sysctl.NewSurface(sysctl.Options{MaxTables: o.maxTables, Logger: logger, Metrics: reg})
	f.subsys = netns.New(netns.Options{Accountant: f.mem, Logger: logger, Metrics: reg})
	f.ctrl = NewController(Options{
		Subsystem:            f.subsys,
		Surface:              f.surface,
		ShareDefaultTemplate: !o.noShare,
		Logger:               logger,
		Metrics:              reg,
	})
	return f
}

func booted(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	f := newFixture(t, o)
	require.NoError(t, f.ctrl.Init(NewStack(testutil.QuietLogger())))
	return f
}

func (f *fixture) read(t *testing.T, ns *netns.Namespace) string {
	t.Helper()
	v, err := f.surface.Read(ns.ID(), enabledPath, sysctl.Unprivileged)
	require.NoError(t, err)
	return v
}

func TestNamespaceLifecycle(t *testing.T) {
	f := booted(t, fixtureOpts{})
	def := f.subsys.Default()

	assert.True(t, f.ctrl.IsEnabled(def))
	assert.Equal(t, "1", f.read(t, def))

	a, err := f.subsys.Create("a")
	require.NoError(t, err)
	assert.True(t, f.ctrl.IsEnabled(a))
	assert.Equal(t, "1", f.read(t, a))
	assert.NotSame(t, f.ctrl.Header(def).Table(), f.ctrl.Header(a).Table())

	require.NoError(t, f.surface.Write(a.ID(), enabledPath, "0", sysctl.Root))
	assert.False(t, f.ctrl.IsEnabled(a))
	assert.Equal(t, "0", f.read(t, a))
	assert.True(t, f.ctrl.IsEnabled(def))
	assert.Equal(t, "1", f.read(t, def))

	require.NoError(t, f.subsys.Destroy(a.ID()))
	_, err = f.surface.Read(a.ID(), enabledPath, sysctl.Root)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
	err = f.surface.Write(a.ID(), enabledPath, "1", sysctl.Root)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
	assert.False(t, f.ctrl.IsEnabled(a))

	b, err := f.subsys.Create("b")
	require.NoError(t, err)
	assert.True(t, f.ctrl.IsEnabled(b))
	assert.Equal(t, "1", f.read(t, b))
}

func TestEnabled(t *testing.T) {
	f := booted(t, fixtureOpts{})
	a, err := f.subsys.Create("a")
	require.NoError(t, err)

	on, err := f.ctrl.Enabled(a)
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, f.subsys.Destroy(a.ID()))
	_, err = f.ctrl.Enabled(a)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestUnprivilegedWriteRefused(t *testing.T) {
	f := booted(t, fixtureOpts{})
	a, err := f.subsys.Create("a")
	require.NoError(t, err)

	err = f.surface.Write(a.ID(), enabledPath, "0", sysctl.Credentials{UID: 1000})
	assert.Equal(t, errors.KindPermission, errors.GetKind(err))
	assert.True(t, f.ctrl.IsEnabled(a))
}

func TestDestroyReleasesMemory(t *testing.T) {
	f := booted(t, fixtureOpts{})
	baseline := f.mem.Live()
	bytes := f.mem.Bytes()

	a, err := f.subsys.Create("a")
	require.NoError(t, err)
	assert.Equal(t, baseline+2, f.mem.Live(), "record and private table")

	require.NoError(t, f.subsys.Destroy(a.ID()))
	assert.Equal(t, baseline, f.mem.Live())
	assert.Equal(t, bytes, f.mem.Bytes())
	assert.Equal(t, 1, f.surface.Tables())
}

func TestRegistrationFailureDoesNotLeak(t *testing.T) {
	// Only the default namespace's table fits.
	f := booted(t, fixtureOpts{maxTables: 1})
	baseline := f.mem.Live()

	_, err := f.subsys.Create("a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistration)
	assert.ErrorIs(t, err, ErrAllocation)
	assert.True(t, errors.HasKind(err, errors.KindExhausted))

	assert.Equal(t, baseline, f.mem.Live())
	assert.Equal(t, 1, f.surface.Tables())
	assert.Len(t, f.subsys.List(), 1)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.PublishFailures.WithLabelValues("registration")))

	// The surviving namespace is untouched.
	assert.True(t, f.ctrl.IsEnabled(f.subsys.Default()))
}

func TestAllocationFailureDoesNotLeak(t *testing.T) {
	record := int64(unsafe.Sizeof(pernet{}))
	// Room for the default record and one more record, but not a table copy.
	f := booted(t, fixtureOpts{memLimit: 2 * record})
	baseline := f.mem.Live()

	_, err := f.subsys.Create("a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllocation)
	assert.NotErrorIs(t, err, ErrRegistration)

	assert.Equal(t, baseline, f.mem.Live())
	assert.Equal(t, 1, f.surface.Tables())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.PublishFailures.WithLabelValues("allocation")))
}

func TestPublishAllocationFailure(t *testing.T) {
	f := booted(t, fixtureOpts{})
	a, err := f.subsys.Create("a")
	require.NoError(t, err)
	baseline := f.mem.Live()

	pn := new(pernet)
	f.mem.FailNext(1)
	err = f.ctrl.publish(a, pn)
	assert.ErrorIs(t, err, ErrAllocation)
	assert.Nil(t, pn.hdr.Load())
	assert.Equal(t, baseline, f.mem.Live())
}

func TestDefaultHeaderStable(t *testing.T) {
	f := booted(t, fixtureOpts{})
	def := f.subsys.Default()
	hdr := f.ctrl.Header(def)
	require.NotNil(t, hdr)
	assert.Same(t, f.ctrl.template, hdr.Table(), "default namespace publishes the template")

	for i := 0; i < 3; i++ {
		ns, err := f.subsys.Create(fmt.Sprintf("cycle-%d", i))
		require.NoError(t, err)
		require.NoError(t, f.surface.Write(ns.ID(), enabledPath, "0", sysctl.Root))
		require.NoError(t, f.subsys.Destroy(ns.ID()))
	}

	assert.Same(t, hdr, f.ctrl.Header(def))
	assert.Same(t, f.ctrl.template, hdr.Table())
	assert.Equal(t, "1", f.read(t, def))
}

func TestPrivateDefaultTable(t *testing.T) {
	f := booted(t, fixtureOpts{noShare: true})
	def := f.subsys.Default()

	assert.NotSame(t, f.ctrl.template, f.ctrl.Header(def).Table())
	assert.Equal(t, 2, f.mem.Live(), "default record and its private table")
	assert.Nil(t, f.ctrl.template.Entries[0].Data, "template stays unbound")
	assert.Equal(t, "1", f.read(t, def))
}

func TestRegistrationRollbackAtBoot(t *testing.T) {
	f := newFixture(t, fixtureOpts{maxTables: 1})
	_, err := f.subsys.Create("early")
	require.NoError(t, err)
	baseline := f.mem.Live()

	err = f.ctrl.Init(NewStack(testutil.QuietLogger()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatalBoot)
	assert.False(t, f.ctrl.Initialized())

	assert.Equal(t, 0, f.surface.Tables())
	assert.Equal(t, baseline, f.mem.Live())
	assert.False(t, f.ctrl.IsEnabled(f.subsys.Default()))
}

func TestConcurrentLifecycleAndAccess(t *testing.T) {
	f := booted(t, fixtureOpts{})
	baseline := f.mem.Live()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				ns, err := f.subsys.Create(fmt.Sprintf("w%d-%d", i, j))
				if !assert.NoError(t, err) {
					return
				}
				done := make(chan struct{})
				go func() {
					defer close(done)
					// May race with Destroy; either outcome is fine.
					_, err := f.surface.Read(ns.ID(), enabledPath, sysctl.Root)
					if err != nil {
						assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
					}
				}()
				assert.NoError(t, f.surface.Write(ns.ID(), enabledPath, "0", sysctl.Root))
				assert.NoError(t, f.subsys.Destroy(ns.ID()))
				<-done
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, baseline, f.mem.Live())
	assert.Equal(t, 1, f.surface.Tables())
	assert.True(t, f.ctrl.IsEnabled(f.subsys.Default()))
}
