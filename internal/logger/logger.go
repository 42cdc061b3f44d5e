// Package logger provides the zerolog logger shared by every Hermes
// subsystem, adapted from the teacher's internal/logger package: stack
// traces from github.com/pkg/errors are marshaled automatically, and every
// logger is stamped with a "component" field instead of the teacher's
// single "service" field, since one consumer hosts several concurrent
// subsystems (ingestor, queue, auxiliary loop) that all want to log
// distinguishably.
package logger

import (
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
)

func init() {
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		type stackTracer interface{ StackTrace() pkgerrors.StackTrace }
		if _, ok := err.(stackTracer); !ok {
			err = pkgerrors.WithStack(err)
		}
		return zpkgerrors.MarshalStack(err)
	}
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		// If the error already carries a pkg/errors stack, keep it.
		type stackTracer interface{ StackTrace() pkgerrors.StackTrace }
		if _, ok := err.(stackTracer); ok {
			return err
		}
		return pkgerrors.WithStack(err)
	}
}

// New returns a logger stamped with the given component name, writing JSON
// to stdout. Call sites should use .Stack() on error events to include
// stack traces.
func New(component string) zerolog.Logger {
	return zerolog.New(os.Stdout).With().
		Str("component", component).
		Timestamp().
		Logger()
}

// Nop returns a logger that discards everything.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
