// Package errors provides cleanup helpers shared by wallprof commands.
package errors

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// DeferClose closes closer and logs a failure. Use it in defer statements
// where the close error cannot change the outcome.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}

// CloseInto closes closer and stores a failure in *errp unless it already
// holds an error. Use it when a close failure means lost output, such as a
// profile file being written.
func CloseInto(errp *error, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil && *errp == nil {
		*errp = fmt.Errorf("%s: %w", msg, err)
	}
}

// Must panics if err is not nil. Use only for wiring that cannot fail at
// runtime.
func Must(err error, msg string) {
	if err != nil {
		panic(fmt.Sprintf("%s: %v", msg, err))
	}
}
