// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package netns models isolated network environments and notifies
// registered subsystems when they are created and destroyed.
//
// Each registered subsystem gets a slot in every namespace holding a record
// it owns. The Subsystem's namespace table together with those slots is the
// registry mapping a namespace to each subsystem's per-namespace state.
package netns

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/pernet/internal/memacct"
)

// SlotID addresses one subsystem's record inside every namespace.
type SlotID int

// Namespace is one isolated network environment.
type Namespace struct {
	id        uuid.UUID
	name      string
	isDefault bool
	created   time.Time

	// indexed by SlotID; written by the Subsystem outside hook calls
	mu      sync.RWMutex
	generic []any
	allocs  []*memacct.Allocation
}

// ID returns the namespace identity.
func (n *Namespace) ID() uuid.UUID { return n.id }

// Name returns the operator-assigned name.
func (n *Namespace) Name() string { return n.name }

// IsDefault reports whether n is the initial, always-present namespace.
func (n *Namespace) IsDefault() bool { return n.isDefault }

// Created returns the creation time.
func (n *Namespace) Created() time.Time { return n.created }

// Generic returns the record stored for slot id, or nil once the namespace
// has been torn down or if the slot was never assigned.
func (n *Namespace) Generic(id SlotID) any {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if int(id) < 0 || int(id) >= len(n.generic) {
		return nil
	}
	return n.generic[id]
}

func (n *Namespace) setSlot(id SlotID, rec any, al *memacct.Allocation) {
	n.mu.Lock()
	n.generic = append(n.generic[:id], rec)
	n.allocs = append(n.allocs[:id], al)
	n.mu.Unlock()
}

// clearSlot empties slot id and returns the allocation it held.
func (n *Namespace) clearSlot(id SlotID) *memacct.Allocation {
	n.mu.Lock()
	defer n.mu.Unlock()
	al := n.allocs[id]
	n.allocs[id] = nil
	n.generic[id] = nil
	return al
}

// truncate drops slot id and everything after it.
func (n *Namespace) truncate(id SlotID) {
	n.mu.Lock()
	n.generic = n.generic[:id]
	n.allocs = n.allocs[:id]
	n.mu.Unlock()
}

// Equal reports identity equality.
func (n *Namespace) Equal(o *Namespace) bool {
	return n != nil && o != nil && n.id == o.id
}

func (n *Namespace) String() string {
	return n.name + "(" + n.id.String() + ")"
}
