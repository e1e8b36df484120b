package source

import (
	"os"
	"path/filepath"
)

// DefaultCursorDBPath returns the default location of Cursor's state
// database for the current platform. Global storage is preferred over
// workspace storage; the global path is returned even when neither file
// exists so callers get a deterministic error on open.
func DefaultCursorDBPath() string {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "state.vscdb"
	}

	global := filepath.Join(cfgDir, "Cursor", "User", "globalStorage", "state.vscdb")
	workspace := filepath.Join(cfgDir, "Cursor", "User", "workspaceStorage", "state.vscdb")

	if _, err := os.Stat(global); err == nil {
		return global
	}
	if _, err := os.Stat(workspace); err == nil {
		return workspace
	}
	return global
}
