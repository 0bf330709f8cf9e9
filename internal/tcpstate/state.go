// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package tcpstate defines the connection states shared by the data path and
// their bitmask form for O(1) multi-state membership tests.
//
// The numeric values are stable: they are observed by external tooling and
// must never be reordered.
package tcpstate

import (
	"fmt"
	"strings"
)

// State is the state of a duplex stream connection. Exactly one state is
// active per connection.
type State uint8

const (
	Established State = iota + 1
	SynSent
	SynRecv
	FinWait1
	FinWait2
	TimeWait
	Close
	CloseWait
	LastAck
	Listen
	Closing
	NewSynRecv

	MaxStates // sentinel, keep last
)

// StateMask extracts the state from a packed value.
const StateMask = 0xF

var stateNames = [...]string{
	Established: "ESTABLISHED",
	SynSent:     "SYN_SENT",
	SynRecv:     "SYN_RECV",
	FinWait1:    "FIN_WAIT1",
	FinWait2:    "FIN_WAIT2",
	TimeWait:    "TIME_WAIT",
	Close:       "CLOSE",
	CloseWait:   "CLOSE_WAIT",
	LastAck:     "LAST_ACK",
	Listen:      "LISTEN",
	Closing:     "CLOSING",
	NewSynRecv:  "NEW_SYN_RECV",
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s >= Established && s < MaxStates
}

func (s State) String() string {
	if !s.Valid() {
		return fmt.Sprintf("State(%d)", uint8(s))
	}
	return stateNames[s]
}

// ParseState parses a state name such as "LISTEN" or "syn_sent".
func ParseState(name string) (State, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for s := Established; s < MaxStates; s++ {
		if stateNames[s] == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown connection state %q", name)
}

// Flags is a set of states.
type Flags uint32

// Bit returns the single-state mask for s.
func Bit(s State) Flags {
	return 1 << s
}

const (
	FEstablished = Flags(1 << Established)
	FSynSent     = Flags(1 << SynSent)
	FSynRecv     = Flags(1 << SynRecv)
	FFinWait1    = Flags(1 << FinWait1)
	FFinWait2    = Flags(1 << FinWait2)
	FTimeWait    = Flags(1 << TimeWait)
	FClose       = Flags(1 << Close)
	FCloseWait   = Flags(1 << CloseWait)
	FLastAck     = Flags(1 << LastAck)
	FListen      = Flags(1 << Listen)
	FClosing     = Flags(1 << Closing)
	FNewSynRecv  = Flags(1 << NewSynRecv)
)

// ActionFin marks the states in which a FIN must be acted upon.
const ActionFin = FClose

// Of builds a set from the given states.
func Of(states ...State) Flags {
	var f Flags
	for _, s := range states {
		f |= Bit(s)
	}
	return f
}

// Has reports whether s is a member of f.
func (f Flags) Has(s State) bool {
	return f&Bit(s) != 0
}

// States returns the members of f in ordinal order.
func (f Flags) States() []State {
	var out []State
	for s := Established; s < MaxStates; s++ {
		if f.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

func (f Flags) String() string {
	states := f.States()
	if len(states) == 0 {
		return "{}"
	}
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.String()
	}
	return "{" + strings.Join(names, "|") + "}"
}
