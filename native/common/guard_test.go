package common

import (
	"errors"
	"testing"
)

type pauses map[string]bool

func (p pauses) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	if err := Guard(nil, ModuleStrategy); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	view := pauses{ModuleStrategy: true}
	if err := Guard(view, ModuleStrategy); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(view, ModuleGarden); err != nil {
		t.Fatalf("garden should not be paused: %v", err)
	}
}
