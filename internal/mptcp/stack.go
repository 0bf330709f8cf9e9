// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mptcp

import (
	"sort"
	"sync"

	"grimm.is/pernet/internal/errors"
	"grimm.is/pernet/internal/logging"
	"grimm.is/pernet/internal/tcpstate"
)

// Engine is the protocol engine set up once at boot.
type Engine interface {
	InitJoinCookies()
	InitProto() error
	InitProtoV6() error
}

// Protocol describes one registered protocol family.
type Protocol struct {
	Name   string
	Family string
	// Accept is the set of connection states a subflow may join in.
	Accept tcpstate.Flags
}

// Accepts reports whether a subflow may be attached to a connection in st.
func (p Protocol) Accepts(st tcpstate.State) bool {
	return p.Accept.Has(st)
}

// handshakeStates are the states in which a join request may still be matched.
var handshakeStates = tcpstate.Of(tcpstate.Listen, tcpstate.SynSent, tcpstate.SynRecv, tcpstate.NewSynRecv)

// joinSlots sizes the join request lock table.
const joinSlots = 1024

// Stack is the in-process protocol engine.
type Stack struct {
	mu        sync.Mutex
	protocols map[string]Protocol

	joinLocks []sync.Mutex

	logger *logging.Logger
}

// NewStack returns an engine with nothing registered.
func NewStack(logger *logging.Logger) *Stack {
	return &Stack{
		protocols: make(map[string]Protocol),
		logger:    logging.OrDefault(logger).WithComponent("mptcp.stack"),
	}
}

// InitJoinCookies prepares the join request lock table.
func (s *Stack) InitJoinCookies() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinLocks = make([]sync.Mutex, joinSlots)
	s.logger.Debug("join cookie table ready", "slots", joinSlots)
}

// InitProto registers the IPv4 protocol.
func (s *Stack) InitProto() error {
	return s.register(Protocol{Name: "mptcp", Family: "inet", Accept: handshakeStates})
}

// InitProtoV6 registers the IPv6 protocol.
func (s *Stack) InitProtoV6() error {
	return s.register(Protocol{Name: "mptcpv6", Family: "inet6", Accept: handshakeStates})
}

func (s *Stack) register(p Protocol) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.protocols[p.Name]; dup {
		return errors.Op("mptcp.proto", errors.KindConflict, "protocol %s already registered", p.Name)
	}
	s.protocols[p.Name] = p
	s.logger.Info("protocol registered", "name", p.Name, "family", p.Family, "accept", p.Accept.String())
	return nil
}

// JoinCookiesReady reports whether InitJoinCookies ran.
func (s *Stack) JoinCookiesReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinLocks != nil
}

// Protocols returns the registered protocols sorted by name.
func (s *Stack) Protocols() []Protocol {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Protocol, 0, len(s.protocols))
	for _, p := range s.protocols {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
