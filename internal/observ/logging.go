package observ

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Setup configures the process-wide logger. When console is true the output is
// human-readable; otherwise one JSON object per line.
func Setup(level string, console bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var out = zerolog.New(os.Stdout)
	if console {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	logger = out.Level(lvl).With().Timestamp().Logger()
}

func Log(event string, kv map[string]any) {
	logger.Info().Fields(kv).Msg(event)
}

func Debug(event string, kv map[string]any) {
	logger.Debug().Fields(kv).Msg(event)
}

func Warn(event string, kv map[string]any) {
	logger.Warn().Fields(kv).Msg(event)
}

func Error(event string, kv map[string]any) {
	logger.Error().Fields(kv).Msg(event)
}
