//go:build !nopanichook

package panichook

import (
	"fmt"
	"os"
	"runtime/debug"
)

const Available = true

func install(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	level := cfg.Traceback
	if level == "" {
		level = "all"
	}
	debug.SetTraceback(level)

	if cfg.CrashLog != "" {
		f, err := os.OpenFile(cfg.CrashLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open crash log: %w", err)
		}
		// SetCrashOutput keeps its own duplicate of the descriptor
		defer f.Close()
		if err := debug.SetCrashOutput(f, debug.CrashOptions{}); err != nil {
			return fmt.Errorf("set crash output: %w", err)
		}
	}
	logger().Info("Installed panic hook", "traceback", level, "crashLog", cfg.CrashLog)
	return nil
}
