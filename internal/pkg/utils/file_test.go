package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		name string
		args string
		want string
	}{
		{name: "simple", args: "call.mp3", want: "call"},
		{name: "upper", args: "Call One.MP3", want: "call_one"},
		{name: "many dots", args: "a.b.c.wav", want: "a_b_c"},
		{name: "unsafe", args: "../../etc/passwd", want: "_etc_passwd"},
		{name: "collapse", args: "a  &&  b.ogg", want: "a_b"},
		{name: "keep", args: "a-b_c.m4a", want: "a-b_c"},
		{name: "unicode", args: "skambutis ąč.mp3", want: "skambutis_"},
		{name: "empty", args: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFileName(tt.args))
		})
	}
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "s1", SanitizeID("S1"))
	assert.Equal(t, "seller_1", SanitizeID("seller/1"))
}

func TestTimeSuffix(t *testing.T) {
	assert.Equal(t, "05-03_14-07-09", TimeSuffix(time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)))
}

func TestDeleteFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "a.mp3")
	require.Nil(t, os.WriteFile(f, []byte("olia"), 0600))
	assert.True(t, FileExists(f))
	DeleteFile(f)
	assert.False(t, FileExists(f))
	DeleteFile(f)
	DeleteFile("")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "1234", ShortID("123456", 4))
	assert.Equal(t, "12", ShortID("12", 4))
}
