// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netns

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/pernet/internal/errors"
	"grimm.is/pernet/internal/memacct"
	"grimm.is/pernet/internal/testutil"
)

type record struct {
	value int
}

// recorder logs hook calls as "create:<name>" / "destroy:<name>" and can be
// told to fail creation for one namespace name.
type recorder struct {
	tag    string
	slot   SlotID
	failOn string

	mu     sync.Mutex
	events []string
}

func (r *recorder) OnCreate(ns *Namespace) error {
	rec, ok := ns.Generic(r.slot).(*record)
	if !ok {
		return fmt.Errorf("%s: record missing in %s", r.tag, ns.Name())
	}
	if ns.Name() == r.failOn {
		return errors.New(errors.KindExhausted, r.tag+": no room")
	}
	rec.value = 1
	r.log("create:" + ns.Name())
	return nil
}

func (r *recorder) OnDestroy(ns *Namespace) {
	r.log("destroy:" + ns.Name())
}

func (r *recorder) log(ev string) {
	r.mu.Lock()
	r.events = append(r.events, r.tag+"/"+ev)
	r.mu.Unlock()
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) ops() *Operations {
	return &Operations{
		Name:  r.tag,
		Hooks: r,
		Size:  16,
		New:   func() any { return &record{} },
		ID:    &r.slot,
	}
}

func newTestSubsystem(mem *memacct.Accountant) *Subsystem {
	return New(Options{Accountant: mem, Logger: testutil.QuietLogger()})
}

func TestDefaultNamespaceExistsBeforeRegistration(t *testing.T) {
	s := newTestSubsystem(nil)

	def := s.Default()
	require.NotNil(t, def)
	assert.True(t, def.IsDefault())
	assert.Equal(t, DefaultName, def.Name())
	assert.Equal(t, []*Namespace{def}, s.List())
}

func TestRegisterRunsCreateForDefault(t *testing.T) {
	mem := memacct.New(0)
	s := newTestSubsystem(mem)
	r := &recorder{tag: "a"}

	require.NoError(t, s.Register(r.ops()))
	assert.Equal(t, []string{"a/create:default"}, r.Events())
	assert.Equal(t, 1, mem.Live())

	rec := s.Default().Generic(r.slot).(*record)
	assert.Equal(t, 1, rec.value)
	assert.Equal(t, SlotID(0), r.slot)
}

func TestRegisterSameOperationsTwice(t *testing.T) {
	s := newTestSubsystem(nil)
	r := &recorder{tag: "a"}
	ops := r.ops()

	require.NoError(t, s.Register(ops))
	err := s.Register(ops)
	assert.Equal(t, errors.KindConflict, errors.GetKind(err))
}

func TestRegisterValidation(t *testing.T) {
	s := newTestSubsystem(nil)

	err := s.Register(&Operations{Name: "broken"})
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
	assert.Equal(t, errors.KindValidation, errors.GetKind(s.Register(nil)))
}

func TestRegisterRollsBackOnFailure(t *testing.T) {
	mem := memacct.New(0)
	s := newTestSubsystem(mem)

	first := &recorder{tag: "first"}
	require.NoError(t, s.Register(first.ops()))
	_, err := s.Create("blue")
	require.NoError(t, err)
	baseline := mem.Live()

	second := &recorder{tag: "second", failOn: "blue"}
	err = s.Register(second.ops())
	require.Error(t, err)
	assert.True(t, errors.HasKind(err, errors.KindExhausted))

	assert.Equal(t, []string{"second/create:default", "second/destroy:default"}, second.Events())
	assert.Equal(t, baseline, mem.Live())

	// The failed slot is released, so the next registration reuses it.
	third := &recorder{tag: "third"}
	require.NoError(t, s.Register(third.ops()))
	assert.Equal(t, second.slot, third.slot)
}

func TestCreateDestroy(t *testing.T) {
	mem := memacct.New(0)
	s := newTestSubsystem(mem)
	a := &recorder{tag: "a"}
	b := &recorder{tag: "b"}
	require.NoError(t, s.Register(a.ops()))
	require.NoError(t, s.Register(b.ops()))
	baseline := mem.Live()

	ns, err := s.Create("blue")
	require.NoError(t, err)
	assert.False(t, ns.IsDefault())
	assert.Equal(t, baseline+2, mem.Live())

	got, ok := s.Get(ns.ID())
	require.True(t, ok)
	assert.True(t, got.Equal(ns))
	byName, ok := s.Lookup("blue")
	require.True(t, ok)
	assert.Same(t, ns, byName)

	require.NoError(t, s.Destroy(ns.ID()))
	assert.Equal(t, baseline, mem.Live())
	assert.Nil(t, ns.Generic(a.slot))

	// Destroy runs in reverse registration order.
	assert.Equal(t, []string{"a/create:default", "a/create:blue", "a/destroy:blue"}, a.Events())
	assert.Equal(t, []string{"b/create:default", "b/create:blue", "b/destroy:blue"}, b.Events())

	_, ok = s.Get(ns.ID())
	assert.False(t, ok)
	err = s.Destroy(ns.ID())
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))

	// The name is reusable once destruction finished.
	_, err = s.Create("blue")
	assert.NoError(t, err)
}

func TestCreateRollsBackOnHookFailure(t *testing.T) {
	mem := memacct.New(0)
	s := newTestSubsystem(mem)
	a := &recorder{tag: "a"}
	b := &recorder{tag: "b", failOn: "red"}
	require.NoError(t, s.Register(a.ops()))
	require.NoError(t, s.Register(b.ops()))
	baseline := mem.Live()

	_, err := s.Create("red")
	require.Error(t, err)
	assert.True(t, errors.HasKind(err, errors.KindExhausted))
	assert.Equal(t, "b", errors.GetAttributes(err)["subsystem"])

	assert.Equal(t, []string{"a/create:default", "a/create:red", "a/destroy:red"}, a.Events())
	assert.Equal(t, baseline, mem.Live())
	_, ok := s.Lookup("red")
	assert.False(t, ok)
	assert.Len(t, s.List(), 1)
}

func TestCreateRollsBackOnAllocationFailure(t *testing.T) {
	// Room for the default namespace's two records plus one more.
	mem := memacct.New(48)
	s := newTestSubsystem(mem)
	a := &recorder{tag: "a"}
	b := &recorder{tag: "b"}
	require.NoError(t, s.Register(a.ops()))
	require.NoError(t, s.Register(b.ops()))
	baseline := mem.Live()

	_, err := s.Create("green")
	require.Error(t, err)
	assert.True(t, errors.HasKind(err, errors.KindExhausted))
	assert.Equal(t, baseline, mem.Live())
	assert.Equal(t, []string{"a/create:default", "a/create:green", "a/destroy:green"}, a.Events())
	assert.Equal(t, []string{"b/create:default"}, b.Events())

	mem.FailNext(1)
	_, err = s.Create("green")
	require.Error(t, err)
	assert.Equal(t, baseline, mem.Live())
	assert.Len(t, a.Events(), 3, "a failed first allocation reaches no hook")
}

func TestCreateDuplicateName(t *testing.T) {
	s := newTestSubsystem(nil)

	_, err := s.Create("blue")
	require.NoError(t, err)
	_, err = s.Create(" blue ")
	assert.Equal(t, errors.KindConflict, errors.GetKind(err))
	_, err = s.Create(DefaultName)
	assert.Equal(t, errors.KindConflict, errors.GetKind(err))
}

func TestCreateGeneratesName(t *testing.T) {
	s := newTestSubsystem(nil)

	ns, err := s.Create("")
	require.NoError(t, err)
	assert.Equal(t, "ns-"+ns.ID().String()[:8], ns.Name())
}

func TestDestroyDefaultRefused(t *testing.T) {
	s := newTestSubsystem(nil)
	r := &recorder{tag: "a"}
	require.NoError(t, s.Register(r.ops()))

	err := s.Destroy(s.Default().ID())
	assert.Equal(t, errors.KindPermission, errors.GetKind(err))
	assert.Equal(t, []string{"a/create:default"}, r.Events())
}

func TestResolve(t *testing.T) {
	s := newTestSubsystem(nil)
	ns, err := s.Create("blue")
	require.NoError(t, err)

	got, err := s.Resolve(ns.ID().String())
	require.NoError(t, err)
	assert.Same(t, ns, got)

	got, err = s.Resolve("blue")
	require.NoError(t, err)
	assert.Same(t, ns, got)

	_, err = s.Resolve(uuid.New().String())
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestShutdownDestroysNewestFirst(t *testing.T) {
	mem := memacct.New(0)
	s := newTestSubsystem(mem)
	r := &recorder{tag: "a"}
	require.NoError(t, s.Register(r.ops()))

	for _, name := range []string{"one", "two"} {
		_, err := s.Create(name)
		require.NoError(t, err)
	}

	require.NoError(t, s.Shutdown())
	assert.Equal(t, []string{
		"a/create:default", "a/create:one", "a/create:two",
		"a/destroy:two", "a/destroy:one",
	}, r.Events())
	assert.Len(t, s.List(), 1)
	assert.Equal(t, 1, mem.Live(), "only the default namespace's record remains")
}

func TestConcurrentCreateDestroy(t *testing.T) {
	mem := memacct.New(0)
	s := newTestSubsystem(mem)
	r := &recorder{tag: "a"}
	require.NoError(t, s.Register(r.ops()))
	baseline := mem.Live()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ns, err := s.Create(fmt.Sprintf("ns%d", i))
			if !assert.NoError(t, err) {
				return
			}
			assert.NotNil(t, ns.Generic(r.slot))
			assert.NoError(t, s.Destroy(ns.ID()))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, baseline, mem.Live())
	assert.Len(t, s.List(), 1)
}
