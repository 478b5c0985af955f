package checklist

import (
	"encoding/json"
	"math"
)

// verdictRatio is the share of discussed questions needed for a positive verdict
const verdictRatio = 0.7

type (
	// Report is the structured extraction result
	Report struct {
		CallSummary       string           `json:"call_summary"`
		LanguageNotes     string           `json:"language_notes"`
		Questions         []QuestionResult `json:"questions"`
		MissingTopics     []string         `json:"missing_topics"`
		FinalAuditSummary string           `json:"final_audit_summary"`
	}

	// QuestionResult is the finding for one checklist question
	QuestionResult struct {
		ID             int        `json:"id"`
		Title          string     `json:"title"`
		Discussed      bool       `json:"discussed"`
		FormalResponse string     `json:"formal_response"`
		Confidence     float64    `json:"confidence"`
		Evidence       []Evidence `json:"evidence"`
		Notes          string     `json:"notes"`
	}

	// Evidence is a transcript quote
	Evidence struct {
		Quote    string   `json:"quote"`
		StartSec *float64 `json:"start_sec"`
		EndSec   *float64 `json:"end_sec"`
	}

	// Verdict summarizes discussed questions
	Verdict struct {
		Passed    bool
		Discussed int
		Total     int
		Ratio     float64
	}
)

// UnmarshalJSON accepts the deprecated `mentioned` field when `discussed` is absent
func (q *QuestionResult) UnmarshalJSON(b []byte) error {
	type plain QuestionResult
	var v struct {
		plain
		Discussed *bool `json:"discussed"`
		Mentioned *bool `json:"mentioned"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*q = QuestionResult(v.plain)
	switch {
	case v.Discussed != nil:
		q.Discussed = *v.Discussed
	case v.Mentioned != nil:
		q.Discussed = *v.Mentioned
	}
	return nil
}

// Verdict is positive when at least 70% of the questions were discussed
func (r *Report) Verdict() Verdict {
	res := Verdict{Total: len(r.Questions)}
	if res.Total == 0 {
		return res
	}
	for _, q := range r.Questions {
		if q.Discussed {
			res.Discussed++
		}
	}
	res.Ratio = float64(res.Discussed) / float64(res.Total)
	res.Passed = res.Ratio >= verdictRatio
	return res
}

// ClampedConfidence returns confidence in [0, 1]
func (q *QuestionResult) ClampedConfidence() float64 {
	if math.IsNaN(q.Confidence) {
		return 0
	}
	return math.Max(0, math.Min(1, q.Confidence))
}

// Clone returns a deep copy
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	res := *r
	if r.MissingTopics != nil {
		res.MissingTopics = make([]string, len(r.MissingTopics))
		copy(res.MissingTopics, r.MissingTopics)
	}
	if r.Questions != nil {
		res.Questions = make([]QuestionResult, len(r.Questions))
		for i, q := range r.Questions {
			res.Questions[i] = q
			if q.Evidence != nil {
				res.Questions[i].Evidence = make([]Evidence, len(q.Evidence))
				copy(res.Questions[i].Evidence, q.Evidence)
			}
		}
	}
	return &res
}
