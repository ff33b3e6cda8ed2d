package common

import "errors"

// ErrModulePaused is returned by Guard when governance has paused the
// named module.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the governance pause switch for a native module.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects an invocation when the module is paused. A nil view or
// empty module name always passes, so modules run unguarded until a
// switchboard is wired.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
