// Package panichook gives embedding boundaries better diagnostics when
// something goes wrong. Install is called once before first use and makes
// fatal crashes print every goroutine, optionally into a crash log. Recover
// turns a panic at a boundary into an error carrying the stack.
//
// Building with the nopanichook tag turns Install into a no-op.
package panichook

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

type Config struct {
	// Enabled gates the hook at runtime, a zero Config installs nothing
	Enabled bool
	// Traceback is passed to debug.SetTraceback, defaults to "all"
	Traceback string
	// CrashLog is a file fatal crash output is copied to
	CrashLog string
	// Logger receives the installation message and every recovered panic
	Logger *slog.Logger
}

var (
	once       sync.Once
	installed  atomic.Bool
	installErr error
	hookLogger atomic.Pointer[slog.Logger]
)

// Install sets up the hook. Only the first call in a process has any effect,
// later calls return the result of the first.
func Install(cfg Config) error {
	once.Do(func() {
		if cfg.Logger != nil {
			hookLogger.Store(cfg.Logger)
		}
		installErr = install(cfg)
		if installErr == nil && cfg.Enabled && Available {
			installed.Store(true)
		}
	})
	return installErr
}

// Installed reports whether a hook is active in this process.
func Installed() bool {
	return installed.Load()
}

func logger() *slog.Logger {
	if l := hookLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// PanicError is a recovered panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was an error so errors.Is still works.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Recover is deferred at a boundary, it stops a panic, logs it with its stack
// through the Logger given to Install (slog.Default otherwise) and stores it
// in errp:
//
//	func boundary() (err error) {
//		defer panichook.Recover(&err)
//		...
//	}
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	pe := &PanicError{Value: r, Stack: debug.Stack()}
	logger().Error("Recovered from panic", "panic", r, "stack", string(pe.Stack))
	if errp != nil {
		*errp = pe
	}
}
