// internal/logging/logger.go
// Package logging is a thin global wrapper around zap.Logger: every package
// in this gateway (event loop, ws bridge actors, overlay dialer, management
// API) logs through it instead of a logger threaded through every
// constructor.
package logging

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	current atomic.Pointer[zap.Logger]
	// noop is the single shared no-op logger, cached rather than built on
	// demand: zap.NewNop() allocates a distinct *zap.Logger each call, so
	// comparing a loaded pointer against a freshly built one would never
	// be equal and Initialised would always report true.
	noop = zap.NewNop()
)

// Set installs logger as the process-wide logger. cmd/apron-gateway/root.go
// calls this once during startup; tests may call it again to redirect
// output (e.g. to zaptest.Buffer). A nil logger downgrades to noop rather
// than panicking.
func Set(logger *zap.Logger) {
	if logger == nil {
		logger = noop
	}
	current.Store(logger)
}

// Logger returns the active logger, defaulting to (and caching) noop if Set
// was never called.
func Logger() *zap.Logger {
	if logger := current.Load(); logger != nil {
		return logger
	}
	current.Store(noop)
	return noop
}

// Sugar is shorthand for Logger().Sugar().
func Sugar() *zap.SugaredLogger { return Logger().Sugar() }

// Initialised reports whether Set installed a real logger, as opposed to
// the default no-op.
func Initialised() bool {
	logger := current.Load()
	return logger != nil && logger != noop
}
