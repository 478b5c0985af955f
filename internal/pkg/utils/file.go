package utils

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
)

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	underscores = regexp.MustCompile(`_+`)
)

// SanitizeFileName drops the extension and leaves only [a-z0-9_-] chars
func SanitizeFileName(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return SanitizeID(name)
}

// SanitizeID leaves only [a-z0-9_-] chars, others are replaced by '_'
func SanitizeID(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = underscores.ReplaceAllString(s, "_")
	return strings.ToLower(s)
}

// TimeSuffix returns dd-mm_hh-mm-ss string for the time
func TimeSuffix(t time.Time) string {
	return t.Format("02-01_15-04-05")
}

// DeleteFile removes file, errors are only logged
func DeleteFile(name string) {
	if name == "" {
		return
	}
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		goapp.Log.Warn().Err(err).Str("file", name).Msg("can't delete")
		return
	}
	goapp.Log.Debug().Str("file", name).Msg("deleted")
}

// FileExists check if file exists
func FileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// ShortID returns the first n symbols of ID
func ShortID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}
