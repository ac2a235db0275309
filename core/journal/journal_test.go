package journal

import (
	"errors"
	"testing"
)

type counter struct {
	value      int
	commits    int
	failCommit bool
}

func (c *counter) Checkpoint() func() {
	saved := c.value
	return func() { c.value = saved }
}

func (c *counter) Commit() error {
	if c.failCommit {
		return errors.New("disk full")
	}
	c.commits++
	return nil
}

func TestAtomicRevertsOnError(t *testing.T) {
	c := &counter{value: 1}
	host := NewHost(c)
	boom := errors.New("boom")
	err := host.Atomic(func() error {
		c.value = 99
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if c.value != 1 {
		t.Fatalf("value not reverted: %d", c.value)
	}
	if c.commits != 0 || host.Height() != 0 {
		t.Fatalf("failed transition must not commit")
	}
}

func TestAtomicCommitsOnSuccess(t *testing.T) {
	c := &counter{value: 1}
	host := NewHost(c)
	if err := host.Atomic(func() error { c.value = 2; return nil }); err != nil {
		t.Fatalf("atomic: %v", err)
	}
	if c.value != 2 || c.commits != 1 || host.Height() != 1 {
		t.Fatalf("unexpected state value=%d commits=%d height=%d", c.value, c.commits, host.Height())
	}
}

func TestAtomicRevertsOnCommitFailure(t *testing.T) {
	c := &counter{value: 1, failCommit: true}
	host := NewHost(c)
	if err := host.Atomic(func() error { c.value = 5; return nil }); err == nil {
		t.Fatalf("expected commit failure")
	}
	if c.value != 1 {
		t.Fatalf("value not reverted after commit failure: %d", c.value)
	}
}

func TestAtomicRevertsOnPanic(t *testing.T) {
	c := &counter{value: 3}
	host := NewHost(c)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = host.Atomic(func() error {
			c.value = 7
			panic("unexpected")
		})
	}()
	if c.value != 3 {
		t.Fatalf("value not reverted after panic: %d", c.value)
	}
}

type outbox struct {
	counter
	published int
}

func (o *outbox) Publish() { o.published++ }

func TestPublishRunsOnlyAfterCommit(t *testing.T) {
	o := &outbox{}
	host := NewHost(o)
	if err := host.Atomic(func() error { return errors.New("boom") }); err == nil {
		t.Fatalf("expected failure")
	}
	if o.published != 0 {
		t.Fatalf("failed transition published")
	}
	o.failCommit = true
	if err := host.Atomic(func() error { return nil }); err == nil {
		t.Fatalf("expected commit failure")
	}
	if o.published != 0 {
		t.Fatalf("transition with failed commit published")
	}
	o.failCommit = false
	if err := host.Atomic(func() error { return nil }); err != nil {
		t.Fatalf("atomic: %v", err)
	}
	if o.published != 1 {
		t.Fatalf("published = %d, want 1", o.published)
	}
}
