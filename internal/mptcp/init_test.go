// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mptcp

import (
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/pernet/internal/errors"
	"grimm.is/pernet/internal/tcpstate"
	"grimm.is/pernet/internal/testutil"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) InitJoinCookies() {
	m.Called()
}

func (m *MockEngine) InitProto() error {
	return m.Called().Error(0)
}

func (m *MockEngine) InitProtoV6() error {
	return m.Called().Error(0)
}

func TestInitRunsOnce(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	engine := new(MockEngine)
	engine.On("InitJoinCookies").Return().Once()
	engine.On("InitProto").Return(nil).Once()

	require.NoError(t, f.ctrl.Init(engine))
	assert.True(t, f.ctrl.Initialized())
	assert.True(t, f.ctrl.IsEnabled(f.subsys.Default()))
	assert.Equal(t, 1, f.surface.Tables())

	err := f.ctrl.Init(engine)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	engine.AssertExpectations(t)
}

func TestInitProtoFailureIsFatal(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	engine := new(MockEngine)
	engine.On("InitJoinCookies").Return().Once()
	engine.On("InitProto").Return(errors.New(errors.KindUnavailable, "no protocol slot")).Once()

	err := f.ctrl.Init(engine)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatalBoot)
	assert.Equal(t, errors.KindUnavailable, errors.GetKind(err))
	assert.False(t, f.ctrl.Initialized())
	assert.Equal(t, 0, f.surface.Tables(), "hooks are not registered after a failed engine init")

	// A failed boot is not retried.
	assert.ErrorIs(t, f.ctrl.Init(engine), ErrAlreadyInitialized)
	engine.AssertExpectations(t)
}

func TestInitRecordsBootDuration(t *testing.T) {
	f := booted(t, fixtureOpts{})
	assert.GreaterOrEqual(t, promtest.ToFloat64(f.metrics.BootInitDuration), 0.0)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.SysctlTables))
}

func TestInitV6(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	engine := new(MockEngine)

	assert.ErrorIs(t, f.ctrl.InitV6(engine), ErrNotInitialized)

	engine.On("InitJoinCookies").Return().Once()
	engine.On("InitProto").Return(nil).Once()
	engine.On("InitProtoV6").Return(errors.New(errors.KindConflict, "busy")).Once()
	engine.On("InitProtoV6").Return(nil).Once()
	require.NoError(t, f.ctrl.Init(engine))

	err := f.ctrl.InitV6(engine)
	assert.Equal(t, errors.KindConflict, errors.GetKind(err))
	assert.NotErrorIs(t, err, ErrFatalBoot)

	require.NoError(t, f.ctrl.InitV6(engine), "a failed ipv6 init may be retried")
	assert.ErrorIs(t, f.ctrl.InitV6(engine), ErrAlreadyInitialized)
	engine.AssertExpectations(t)
}

func TestStack(t *testing.T) {
	s := NewStack(testutil.QuietLogger())
	assert.False(t, s.JoinCookiesReady())

	s.InitJoinCookies()
	assert.True(t, s.JoinCookiesReady())

	require.NoError(t, s.InitProto())
	require.NoError(t, s.InitProtoV6())
	assert.Equal(t, errors.KindConflict, errors.GetKind(s.InitProto()))

	protos := s.Protocols()
	require.Len(t, protos, 2)
	assert.Equal(t, "mptcp", protos[0].Name)
	assert.Equal(t, "inet6", protos[1].Family)

	p := protos[0]
	for _, st := range []tcpstate.State{tcpstate.Listen, tcpstate.SynSent, tcpstate.SynRecv, tcpstate.NewSynRecv} {
		assert.True(t, p.Accepts(st), st.String())
	}
	assert.False(t, p.Accepts(tcpstate.Established))
	assert.False(t, p.Accepts(tcpstate.TimeWait))
}
