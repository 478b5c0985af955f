package postgres

import (
	"context"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

// LogAdapter passes pgx query logs to goapp.Log
type LogAdapter struct{}

// NewTracer creates pgx tracer logging at level and above, an unknown level falls back to warn
func NewTracer(level string) *tracelog.TraceLog {
	l, err := tracelog.LogLevelFromString(level)
	if err != nil {
		goapp.Log.Warn().Str("level", goapp.Sanitize(level)).Msg("unknown db log level, use warn")
		l = tracelog.LogLevelWarn
	}
	return &tracelog.TraceLog{Logger: &LogAdapter{}, LogLevel: l}
}

// Log implements tracelog.Logger
func (l *LogAdapter) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]interface{}) {
	goapp.Log.WithLevel(toLevel(level)).Str("src", "pgx").Fields(data).Msg(msg)
}

func toLevel(l tracelog.LogLevel) zerolog.Level {
	switch l {
	case tracelog.LogLevelTrace:
		return zerolog.TraceLevel
	case tracelog.LogLevelDebug:
		return zerolog.DebugLevel
	case tracelog.LogLevelInfo:
		return zerolog.InfoLevel
	case tracelog.LogLevelWarn:
		return zerolog.WarnLevel
	case tracelog.LogLevelError:
		return zerolog.ErrorLevel
	}
	return zerolog.NoLevel
}
