package firebolt

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// logger is the package logger. A library must stay silent unless asked:
// everything is discarded until FIREBOLT_LOG_LEVEL is set or the caller
// installs a logger through SetLogger.
var logger = newLogger(io.Discard, zerolog.Disabled)

func init() {
	lvl := os.Getenv("FIREBOLT_LOG_LEVEL")
	if lvl == "" {
		return
	}
	level, err := zerolog.ParseLevel(strings.ToLower(lvl))
	if err != nil {
		return
	}
	logger = newLogger(os.Stderr, level)
}

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Str("sdk", "firebolt-go").Logger()
}

// SetLogger replaces the package logger. Call it before opening any
// connection; the logger is not guarded against concurrent replacement.
func SetLogger(l zerolog.Logger) {
	logger = l
}
