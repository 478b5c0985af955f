package clean

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	aclean "github.com/airenas/async-api/pkg/clean"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/pkg/errors"
)

// DefaultMinInterval is the lower bound of the sweep period
const DefaultMinInterval = time.Hour

// ExpiredFiles lists audio files older than the retention window
type ExpiredFiles struct {
	dir       string
	retention time.Duration
	now       func() time.Time
}

// NewExpiredFiles creates the provider for dir
func NewExpiredFiles(dir string, retention time.Duration) (*ExpiredFiles, error) {
	if dir == "" {
		return nil, errors.New("no audio dir")
	}
	if retention <= 0 {
		return nil, fmt.Errorf("wrong retention %s", retention)
	}
	return &ExpiredFiles{dir: dir, retention: retention, now: time.Now}, nil
}

// GetExpired returns names of regular files whose modification time is before now - retention
func (e *ExpiredFiles) GetExpired(ctx context.Context) ([]string, error) {
	exp := e.now().Add(-e.retention)
	goapp.Log.Info().Time("older than", exp).Str("dir", e.dir).Msg("selecting old files...")
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("can't read dir: %w", err)
	}
	res := []string{}
	for _, en := range entries {
		if !en.Type().IsRegular() {
			continue
		}
		info, err := en.Info()
		if err != nil {
			goapp.Log.Warn().Err(err).Str("file", en.Name()).Msg("can't stat")
			continue
		}
		if info.ModTime().Before(exp) {
			res = append(res, en.Name())
		}
	}
	goapp.Log.Info().Int("count", len(res)).Msg("expired files")
	return res, nil
}

// FileCleaner deletes one audio file
type FileCleaner struct {
	dir string
}

// NewFileCleaner creates cleaner for dir
func NewFileCleaner(dir string) (*FileCleaner, error) {
	if dir == "" {
		return nil, errors.New("no audio dir")
	}
	return &FileCleaner{dir: dir}, nil
}

// Clean removes the file. Errors are logged only so a sweep never stops on one file.
func (c *FileCleaner) Clean(ctx context.Context, name string) error {
	f := filepath.Join(c.dir, filepath.Base(name))
	if err := os.Remove(f); err != nil {
		if !os.IsNotExist(err) {
			goapp.Log.Error().Err(err).Str("file", f).Msg("can't delete")
		}
		return nil
	}
	goapp.Log.Info().Str("file", f).Msg("deleted")
	return nil
}

// SweepInterval returns max(minInterval, retention/2)
func SweepInterval(retention, minInterval time.Duration) time.Duration {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if res := retention / 2; res > minInterval {
		return res
	}
	return minInterval
}

// StartSweeper starts periodic audio cleanup. Nil channel is returned when retention <= 0 as
// audio is then deleted right after each job.
func StartSweeper(ctx context.Context, dir string, retention, minInterval time.Duration) (<-chan struct{}, error) {
	if retention <= 0 {
		goapp.Log.Info().Msg("audio retention disabled, no sweeper")
		return nil, nil
	}
	ids, err := NewExpiredFiles(dir, retention)
	if err != nil {
		return nil, err
	}
	cleaner, err := NewFileCleaner(dir)
	if err != nil {
		return nil, err
	}
	tData := aclean.TimerData{}
	tData.IDsProvider = ids
	group := &aclean.CleanerGroup{}
	group.Jobs = append(group.Jobs, cleaner)
	tData.Cleaner = group
	tData.RunEvery = SweepInterval(retention, minInterval)
	goapp.Log.Info().Dur("retention", retention).Dur("every", tData.RunEvery).Str("dir", dir).Msg("starting sweeper")
	doneCh, err := aclean.StartCleanTimer(ctx, &tData)
	if err != nil {
		return nil, fmt.Errorf("can't start timer: %w", err)
	}
	return doneCh, nil
}
