package common

import "errors"

// ErrModulePaused is returned by every engine operation while the module's
// pause switch is set.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the pause switch for a module. The state manager owns the
// switch; only the configured owner account can toggle it.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the operation when the module is paused. A nil view or empty
// module name reads as not paused, so engines work before wiring.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
