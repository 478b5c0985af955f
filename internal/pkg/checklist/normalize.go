package checklist

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	quoteReplacer = strings.NewReplacer(
		"\u2018", "'", "\u2019", "'",
		"\u201c", `"`, "\u201d", `"`,
		"\u2013", "-", "\u2014", "-",
		"\u2026", "...",
	)
	nonPrintable = regexp.MustCompile(`[^\x20-\x7E\n\t]`)
	spaces       = regexp.MustCompile(`[ \t]+`)
	lineSpaces   = regexp.MustCompile(` *\n *`)
)

// NormalizeText makes model output safe for ASCII-only rendering
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = quoteReplacer.Replace(s)
	s = nonPrintable.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, " ")
	s = lineSpaces.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

// Normalize applies NormalizeText to all report strings
func (r *Report) Normalize() {
	r.CallSummary = NormalizeText(r.CallSummary)
	r.LanguageNotes = NormalizeText(r.LanguageNotes)
	r.FinalAuditSummary = NormalizeText(r.FinalAuditSummary)
	for i := range r.MissingTopics {
		r.MissingTopics[i] = NormalizeText(r.MissingTopics[i])
	}
	for i := range r.Questions {
		q := &r.Questions[i]
		q.Title = NormalizeText(q.Title)
		q.FormalResponse = NormalizeText(q.FormalResponse)
		q.Notes = NormalizeText(q.Notes)
		for j := range q.Evidence {
			q.Evidence[j].Quote = NormalizeText(q.Evidence[j].Quote)
		}
	}
}
