// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package memacct accounts for the storage owned by namespace-scoped
// records and control tables, so that leaks are observable and allocation
// failure can be simulated.
package memacct

import (
	"sync"

	"grimm.is/pernet/internal/errors"
)

// Allocation is one accounted block. The zero value is not a valid allocation.
type Allocation struct {
	Size  int
	Label string

	owner *Accountant
	freed bool
}

// Accountant tracks live allocations against an optional byte limit.
type Accountant struct {
	mu        sync.Mutex
	limit     int64
	bytes     int64
	live      int
	failNext  int
	allocated uint64
	failed    uint64
}

// New creates an accountant. A limit of zero or less means unlimited.
func New(limit int64) *Accountant {
	return &Accountant{limit: limit}
}

// Alloc charges size bytes. It fails with KindExhausted when the limit would
// be exceeded or when a fault was injected with FailNext.
func (a *Accountant) Alloc(size int, label string) (*Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.failNext > 0 {
		a.failNext--
		a.failed++
		return nil, errors.Op("memacct.alloc", errors.KindExhausted, "injected allocation failure for %s", label)
	}
	if a.limit > 0 && a.bytes+int64(size) > a.limit {
		a.failed++
		return nil, errors.Op("memacct.alloc", errors.KindExhausted,
			"allocating %d bytes for %s exceeds limit %d (in use %d)", size, label, a.limit, a.bytes)
	}

	a.bytes += int64(size)
	a.live++
	a.allocated++
	return &Allocation{Size: size, Label: label, owner: a}, nil
}

// Free returns an allocation. Freeing twice, or freeing an allocation owned
// by another accountant, is a programming error and panics.
func (a *Accountant) Free(al *Allocation) {
	if al == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if al.owner != a {
		panic("memacct: free of foreign allocation " + al.Label)
	}
	if al.freed {
		panic("memacct: double free of " + al.Label)
	}
	al.freed = true
	a.bytes -= int64(al.Size)
	a.live--
}

// FailNext makes the next n allocations fail.
func (a *Accountant) FailNext(n int) {
	a.mu.Lock()
	a.failNext = n
	a.mu.Unlock()
}

// Live returns the number of outstanding allocations.
func (a *Accountant) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// Bytes returns the number of outstanding bytes.
func (a *Accountant) Bytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytes
}

// Stats is a point-in-time snapshot.
type Stats struct {
	Live      int    `json:"live"`
	Bytes     int64  `json:"bytes"`
	Limit     int64  `json:"limit"`
	Allocated uint64 `json:"allocated_total"`
	Failed    uint64 `json:"failed_total"`
}

// Stats returns a snapshot of the counters.
func (a *Accountant) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{Live: a.live, Bytes: a.bytes, Limit: a.limit, Allocated: a.allocated, Failed: a.failed}
}
