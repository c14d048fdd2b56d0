package log

import (
	"github.com/rs/zerolog"
)

// NewNopLogger returns a logger that discards every entry.
func NewNopLogger() Logger {
	return &defaultLogger{
		Logger: zerolog.Nop(),
	}
}
