// Package emberlog wraps github.com/rs/zerolog the way this repo's VM
// needs it: one logger handed in via host configuration, split into
// per-subsystem children so GC, fiber, and import log lines carry a
// "subsystem" field without every call site having to repeat it.
package emberlog

import (
	"io"

	"github.com/rs/zerolog"
)

// Logger is a thin handle around a zerolog.Logger scoped to one
// subsystem. It exists so callers never import zerolog directly, and so
// a future change to the wrapped library's API surfaces in one place.
type Logger struct {
	z zerolog.Logger
}

// New derives a subsystem-scoped logger from base. A base whose level is
// zerolog.Disabled is replaced by a discard sink. A zero-value base is
// not caught by that check (its level reads as Debug) and is used as is.
func New(base zerolog.Logger, subsystem string) Logger {
	if base.GetLevel() == zerolog.Disabled {
		base = zerolog.New(io.Discard).Level(zerolog.Disabled)
	}
	return Logger{z: base.With().Str("subsystem", subsystem).Logger()}
}

func (l Logger) Debug() *zerolog.Event { return l.z.Debug() }
func (l Logger) Info() *zerolog.Event  { return l.z.Info() }
func (l Logger) Warn() *zerolog.Event  { return l.z.Warn() }
func (l Logger) Error() *zerolog.Event { return l.z.Error() }

// With starts a child-logger builder so call sites can attach structured
// fields (e.g. module name, fiber id) before emitting.
func (l Logger) With() zerolog.Context { return l.z.With() }

// Sub returns a further subsystem-scoped child, e.g. gc.Sub("sweep").
func (l Logger) Sub(name string) Logger {
	return Logger{z: l.z.With().Str("subsystem", name).Logger()}
}
