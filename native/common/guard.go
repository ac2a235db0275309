package common

import "errors"

// Module names recognised by the pause registry.
const (
	ModuleStrategy = "strategy"
	ModuleGarden   = "garden"
)

var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause flags maintained by the controller.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused when module is paused. A nil view never
// blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
