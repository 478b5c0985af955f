package main

import (
	"context"
	"testing"
	"time"

	"github.com/airenas/callaudit/internal/pkg/store"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func Test_setDefaults(t *testing.T) {
	cfg := viper.New()
	cfg.Set("port", 8000)
	setDefaults(cfg)
	assert.Equal(t, 8000, cfg.GetInt("port"))
	assert.Equal(t, 24*time.Hour, cfg.GetDuration("audio.retention"))
	assert.Equal(t, time.Hour, cfg.GetDuration("audio.sweepMinInterval"))
	assert.Equal(t, "/audits", cfg.GetString("audit.prefix"))
	assert.Equal(t, 20, cfg.GetInt("page.size"))
	assert.Equal(t, 100, cfg.GetInt("page.max"))
	assert.Equal(t, time.Minute, cfg.GetDuration("ratelimit.window"))
	assert.False(t, cfg.GetBool("http.trustProxy"))
}

func Test_setDefaults_Env(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "k1")
	cfg := viper.New()
	setDefaults(cfg)
	assert.Equal(t, "k1", cfg.GetString("transcriber.key"))
	assert.Equal(t, "k1", cfg.GetString("extractor.key"))
}

func Test_initStore_Memory(t *testing.T) {
	res, queued, closeFunc := initStore(context.Background(), "", "")
	defer closeFunc()
	assert.IsType(t, &store.Memory{}, res)
	assert.Empty(t, queued)
}

func Test_wait(t *testing.T) {
	wait("nil", nil)
	ch := make(chan struct{})
	close(ch)
	wait("closed", ch)
}
