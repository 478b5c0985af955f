package upload

import (
	"path/filepath"
	"sort"
	"strings"
)

var (
	// DefaultExtensions accepted audio file extensions
	DefaultExtensions = []string{".wav", ".mp3", ".m4a", ".ogg", ".webm", ".mpeg", ".mpga", ".mpg", ".aac"}
	// DefaultMimePrefixes accepted content type families
	DefaultMimePrefixes = []string{"audio/"}
	// DefaultMimeExact accepted exact content types
	DefaultMimeExact = []string{"application/octet-stream", "video/mpeg"}
)

// Validator checks uploaded audio by extension or declared content type
type Validator struct {
	ext       map[string]bool
	mimeExact map[string]bool
	prefixes  []string
}

// Result of a validation, Ext and Mime are lowercased observed values
type Result struct {
	Accepted bool
	Ext      string
	Mime     string
}

// NewValidator creates validator, empty lists fall back to defaults
func NewValidator(extensions, mimeExact, mimePrefixes []string) *Validator {
	res := &Validator{ext: toSet(defaultV(extensions, DefaultExtensions), normExt),
		mimeExact: toSet(defaultV(mimeExact, DefaultMimeExact), strings.ToLower)}
	for _, p := range defaultV(mimePrefixes, DefaultMimePrefixes) {
		res.prefixes = append(res.prefixes, strings.ToLower(strings.TrimSpace(p)))
	}
	return res
}

// Validate accepts a file if the extension OR the content type is allowed
func (v *Validator) Validate(fileName, contentType string) Result {
	res := Result{Ext: strings.ToLower(filepath.Ext(fileName)), Mime: strings.ToLower(strings.TrimSpace(contentType))}
	res.Accepted = v.ext[res.Ext] || v.mimeOK(res.Mime)
	return res
}

func (v *Validator) mimeOK(mime string) bool {
	if mime == "" {
		return false
	}
	if v.mimeExact[mime] {
		return true
	}
	for _, p := range v.prefixes {
		if p != "" && strings.HasPrefix(mime, p) {
			return true
		}
	}
	return false
}

// Extensions returns sorted list of allowed extensions
func (v *Validator) Extensions() []string {
	res := make([]string, 0, len(v.ext))
	for k := range v.ext {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

func normExt(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s != "" && !strings.HasPrefix(s, ".") {
		return "." + s
	}
	return s
}

func toSet(in []string, f func(string) string) map[string]bool {
	res := map[string]bool{}
	for _, s := range in {
		if v := f(s); v != "" {
			res[v] = true
		}
	}
	return res
}

func defaultV(v, d []string) []string {
	if len(v) == 0 {
		return d
	}
	return v
}
