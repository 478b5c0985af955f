package clean

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/airenas/callaudit/internal/pkg/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tNow = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	f := filepath.Join(dir, name)
	require.Nil(t, os.WriteFile(f, []byte("x"), 0o644))
	mt := tNow.Add(-age)
	require.Nil(t, os.Chtimes(f, mt, mt))
	return f
}

func TestNewExpiredFiles(t *testing.T) {
	_, err := NewExpiredFiles("", time.Hour)
	assert.NotNil(t, err)
	_, err = NewExpiredFiles("dir", 0)
	assert.NotNil(t, err)
	_, err = NewExpiredFiles("dir", time.Hour)
	assert.Nil(t, err)
}

func TestGetExpired(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "old.mp3", 25*time.Hour)
	writeFile(t, dir, "older.wav", 72*time.Hour)
	writeFile(t, dir, "new.mp3", time.Hour)
	require.Nil(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	mt := tNow.Add(-100 * time.Hour)
	require.Nil(t, os.Chtimes(filepath.Join(dir, "sub"), mt, mt))

	p, err := NewExpiredFiles(dir, 24*time.Hour)
	require.Nil(t, err)
	p.now = func() time.Time { return tNow }

	got, err := p.GetExpired(test.Ctx(t))
	require.Nil(t, err)
	sort.Strings(got)
	assert.Equal(t, []string{"old.mp3", "older.wav"}, got)
}

func TestGetExpired_NoDir(t *testing.T) {
	p, err := NewExpiredFiles(filepath.Join(t.TempDir(), "none"), time.Hour)
	require.Nil(t, err)
	got, err := p.GetExpired(test.Ctx(t))
	assert.Nil(t, err)
	assert.Equal(t, []string{}, got)
}

func TestFileCleaner(t *testing.T) {
	dir := t.TempDir()
	f := writeFile(t, dir, "a.mp3", time.Hour)
	c, err := NewFileCleaner(dir)
	require.Nil(t, err)

	assert.Nil(t, c.Clean(test.Ctx(t), "a.mp3"))
	_, err = os.Stat(f)
	assert.True(t, os.IsNotExist(err))

	assert.Nil(t, c.Clean(test.Ctx(t), "a.mp3"))
	assert.Nil(t, c.Clean(test.Ctx(t), "../../etc/passwd-none"))
}

func TestFileCleaner_ErrorNotPropagated(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.Nil(t, os.Mkdir(sub, 0o755))
	writeFile(t, sub, "a.mp3", time.Hour)
	c, err := NewFileCleaner(dir)
	require.Nil(t, err)

	assert.Nil(t, c.Clean(test.Ctx(t), "sub"))
	assert.DirExists(t, sub)
}

func TestNewFileCleaner(t *testing.T) {
	_, err := NewFileCleaner("")
	assert.NotNil(t, err)
}

func TestSweepInterval(t *testing.T) {
	tests := []struct {
		retention, min, want time.Duration
	}{
		{retention: 24 * time.Hour, min: time.Hour, want: 12 * time.Hour},
		{retention: time.Hour, min: time.Hour, want: time.Hour},
		{retention: time.Minute, min: time.Hour, want: time.Hour},
		{retention: 4 * time.Hour, min: 0, want: 2 * time.Hour},
		{retention: time.Minute, min: time.Second, want: 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.retention.String()+"/"+tt.min.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, SweepInterval(tt.retention, tt.min))
		})
	}
}

func TestStartSweeper_Disabled(t *testing.T) {
	ch, err := StartSweeper(test.Ctx(t), t.TempDir(), 0, time.Hour)
	assert.Nil(t, err)
	assert.Nil(t, ch)
}

func TestStartSweeper_Fail(t *testing.T) {
	_, err := StartSweeper(test.Ctx(t), "", time.Hour, time.Hour)
	assert.NotNil(t, err)
}
