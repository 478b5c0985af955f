package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func Test_toLevel(t *testing.T) {
	tests := []struct {
		in   tracelog.LogLevel
		want zerolog.Level
	}{
		{in: tracelog.LogLevelTrace, want: zerolog.TraceLevel},
		{in: tracelog.LogLevelDebug, want: zerolog.DebugLevel},
		{in: tracelog.LogLevelInfo, want: zerolog.InfoLevel},
		{in: tracelog.LogLevelWarn, want: zerolog.WarnLevel},
		{in: tracelog.LogLevelError, want: zerolog.ErrorLevel},
		{in: tracelog.LogLevelNone, want: zerolog.NoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, toLevel(tt.in))
		})
	}
}

func TestNewTracer(t *testing.T) {
	assert.Equal(t, tracelog.LogLevelInfo, NewTracer("info").LogLevel)
	assert.Equal(t, tracelog.LogLevelWarn, NewTracer("olia").LogLevel)
	assert.IsType(t, &LogAdapter{}, NewTracer("debug").Logger)
}

func TestLogAdapter_Log(t *testing.T) {
	(&LogAdapter{}).Log(context.Background(), tracelog.LogLevelInfo, "query", map[string]interface{}{"sql": "select 1"})
}
