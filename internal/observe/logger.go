package observe

import (
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// sdkVerbosity maps a level name to the logr verbosity used by the OTel SDK:
// warnings are logged at V(1), info at V(4) and debug at V(8).
func sdkVerbosity(level string) int {
	switch strings.ToLower(level) {
	case "error", "warn":
		return 1
	case "debug", "trace":
		return 8
	default:
		return 4
	}
}

// sdkLogger routes OTel SDK diagnostics through zerolog. zerologr maps V(n)
// to the zerolog level 1-n, which relies on the global level being left at
// its minimum.
func sdkLogger(level string) logr.Logger {
	l := log.Logger.
		With().Str("component", "otel").Logger().
		Level(zerolog.Level(1 - sdkVerbosity(level)))

	return zerologr.New(&l)
}
