package ghapp

import (
	"github.com/rs/zerolog/log"
)

// LogFunc writes a single log message at a fixed level. Implementations must
// not panic.
type LogFunc func(msg string, fields map[string]any)

// Log is the logger used by the App for messages intended for its
// operator.
type Log struct {
	Debug LogFunc
	Info  LogFunc
	Warn  LogFunc
	Error LogFunc
}

// DefaultLog discards debug and info messages, and writes warnings and
// errors through the global zerolog logger.
func DefaultLog() Log {
	return Log{
		Debug: discard,
		Info:  discard,
		Warn: func(msg string, fields map[string]any) {
			log.Warn().Fields(fields).Msg(msg)
		},
		Error: func(msg string, fields map[string]any) {
			log.Error().Fields(fields).Msg(msg)
		},
	}
}

// Merge returns a copy of l where every level set in overrides replaces the
// corresponding level of l. Levels are replaced whole: there is no chaining
// to the replaced function.
func (l Log) Merge(overrides Log) Log {
	if overrides.Debug != nil {
		l.Debug = overrides.Debug
	}
	if overrides.Info != nil {
		l.Info = overrides.Info
	}
	if overrides.Warn != nil {
		l.Warn = overrides.Warn
	}
	if overrides.Error != nil {
		l.Error = overrides.Error
	}
	return l
}

func discard(string, map[string]any) {}
