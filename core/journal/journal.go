// Package journal serialises state transitions and gives them all-or-nothing
// semantics: every registered component is checkpointed before a call runs and
// restored if the call fails, panics, or cannot be committed.
package journal

import (
	"fmt"
	"sync"
)

// Journaled is implemented by in-memory state that can roll back to the moment
// Checkpoint was taken.
type Journaled interface {
	Checkpoint() (revert func())
}

// Committer persists state after a successful transition.
type Committer interface {
	Commit() error
}

// Publisher releases side effects buffered during a transition. Publish runs
// only after every Committer has succeeded.
type Publisher interface {
	Publish()
}

// Host owns the single sequential execution lane shared by every strategy.
type Host struct {
	mu         sync.Mutex
	members    []Journaled
	committers []Committer
	publishers []Publisher
	height     uint64
}

// NewHost constructs a host tracking the provided members.
func NewHost(members ...Journaled) *Host {
	h := &Host{}
	for _, m := range members {
		h.Register(m)
	}
	return h
}

// Register adds a journaled component. Components that also implement
// Committer are committed after every successful transition.
func (h *Host) Register(member Journaled) {
	if h == nil || member == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.members = append(h.members, member)
	if c, ok := member.(Committer); ok {
		h.committers = append(h.committers, c)
	}
	if p, ok := member.(Publisher); ok {
		h.publishers = append(h.publishers, p)
	}
}

// Height returns the number of committed transitions.
func (h *Host) Height() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.height
}

// Atomic runs fn while holding the execution lane. Atomic must not be called
// re-entrantly from within fn.
func (h *Host) Atomic(fn func() error) (err error) {
	if h == nil {
		return fn()
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	reverts := make([]func(), 0, len(h.members))
	for _, m := range h.members {
		reverts = append(reverts, m.Checkpoint())
	}
	rollback := func() {
		for i := len(reverts) - 1; i >= 0; i-- {
			if reverts[i] != nil {
				reverts[i]()
			}
		}
	}
	defer func() {
		if r := recover(); r != nil {
			rollback()
			panic(r)
		}
	}()

	if err = fn(); err != nil {
		rollback()
		return err
	}
	for _, c := range h.committers {
		if cerr := c.Commit(); cerr != nil {
			rollback()
			return fmt.Errorf("journal: commit: %w", cerr)
		}
	}
	h.height++
	for _, p := range h.publishers {
		p.Publish()
	}
	return nil
}
