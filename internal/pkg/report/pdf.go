package report

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/callaudit/internal/pkg/checklist"
	"github.com/go-pdf/fpdf"
)

const (
	margin     = 15.0
	lineH      = 5.0
	quoteLimit = 120
	topicLimit = 60
	noEvidence = "-"
)

// PDF renders checklist reports as A4 documents
type PDF struct {
	Title string
}

// NewPDF creates a renderer
func NewPDF(title string) *PDF {
	if title == "" {
		title = "Call Audit Report"
	}
	return &PDF{Title: title}
}

type renderResult struct {
	data []byte
	err  error
}

// Render writes the report to file. Output appears only on success.
func (p *PDF) Render(ctx context.Context, rep *checklist.Report, file string) error {
	if rep == nil {
		return fmt.Errorf("no report")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	resCh := make(chan renderResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- renderResult{err: fmt.Errorf("render panic: %v", r)}
			}
		}()
		b, err := p.build(rep)
		resCh <- renderResult{data: b, err: err}
	}()
	var res renderResult
	select {
	case <-ctx.Done():
		return fmt.Errorf("render: %w", ctx.Err())
	case res = <-resCh:
	}
	if res.err != nil {
		return res.err
	}
	return writeAtomic(file, res.data)
}

func writeAtomic(file string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("can't create dir: %w", err)
	}
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("can't write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, file); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("can't rename to %s: %w", file, err)
	}
	goapp.Log.Debug().Str("file", file).Int("size", len(data)).Msg("saved pdf")
	return nil
}

func (p *PDF) build(rep *checklist.Report) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	w := &writer{pdf: pdf, tr: tr}
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, tr(p.Title), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(90, 90, 90)
	pdf.CellFormat(0, 6, "Summary + Checklist Overview", "", 1, "C", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	w.hr()

	w.section("Summary")
	w.paragraph(orNA(rep.CallSummary))
	if rep.LanguageNotes != "" {
		w.section("Language notes")
		w.paragraph(rep.LanguageNotes)
	}
	w.hr()

	w.section("Checklist Overview")
	w.overview(rep.Questions)
	w.hr()

	w.section("Details")
	for _, q := range rep.Questions {
		w.detail(q)
	}

	if len(rep.MissingTopics) > 0 {
		w.hr()
		w.section("Missing topics")
		for _, m := range rep.MissingTopics {
			w.paragraph("- " + m)
		}
	}
	w.hr()
	w.section("Final audit summary")
	w.paragraph(orNA(rep.FinalAuditSummary))

	v := rep.Verdict()
	w.section("Final Answer")
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 9, yesNo(v.Passed), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(110, 110, 110)
	pdf.CellFormat(0, 5, fmt.Sprintf("Score: %d/%d topics discussed", v.Discussed, v.Total), "", 1, "L", false, 0, "")

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("can't build pdf: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("can't output pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type writer struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (w *writer) width() float64 {
	pw, _ := w.pdf.GetPageSize()
	l, _, r, _ := w.pdf.GetMargins()
	return pw - l - r
}

func (w *writer) ensureSpace(h float64) {
	_, ph := w.pdf.GetPageSize()
	_, _, _, b := w.pdf.GetMargins()
	if w.pdf.GetY()+h > ph-b {
		w.pdf.AddPage()
	}
}

func (w *writer) hr() {
	l, _, _, _ := w.pdf.GetMargins()
	w.pdf.Ln(2)
	y := w.pdf.GetY()
	w.pdf.SetDrawColor(190, 190, 190)
	w.pdf.Line(l, y, l+w.width(), y)
	w.pdf.Ln(3)
}

func (w *writer) section(title string) {
	w.ensureSpace(14)
	w.pdf.SetFont("Helvetica", "B", 12)
	w.pdf.SetTextColor(0, 0, 0)
	w.pdf.CellFormat(0, 7, w.tr(title), "", 1, "L", false, 0, "")
}

func (w *writer) paragraph(s string) {
	w.pdf.SetFont("Helvetica", "", 10.5)
	w.pdf.SetTextColor(0, 0, 0)
	w.pdf.MultiCell(0, lineH, w.tr(s), "", "L", false)
	w.pdf.Ln(1)
}

func (w *writer) lines(s string, width float64) int {
	return len(w.pdf.SplitLines([]byte(w.tr(s)), width))
}

func (w *writer) overview(qs []checklist.QuestionResult) {
	l, _, _, _ := w.pdf.GetMargins()
	cTopic := math.Floor(w.width() * 0.30)
	cYN := 20.0
	cEv := w.width() - cTopic - cYN

	w.pdf.SetFont("Helvetica", "B", 10.5)
	y := w.pdf.GetY()
	for _, c := range []struct {
		x, w float64
		t    string
	}{{l, cTopic, "Topic"}, {l + cTopic, cYN, "Yes/No"}, {l + cTopic + cYN, cEv, "Evidence"}} {
		w.pdf.SetXY(c.x, y)
		w.pdf.CellFormat(c.w, 6, c.t, "", 0, "L", false, 0, "")
	}
	w.pdf.Ln(6)
	w.hr()

	w.pdf.SetFont("Helvetica", "", 10.5)
	for _, q := range qs {
		topic := truncate(q.Title, topicLimit)
		if topic == "" {
			topic = fmt.Sprintf("Q%d", q.ID)
		}
		ev := pickEvidence(q)
		n := maxInt(w.lines(topic, cTopic), 1, w.lines(ev, cEv))
		rowH := float64(n) * lineH
		w.ensureSpace(rowH + 3)
		y := w.pdf.GetY()
		w.pdf.SetXY(l, y)
		w.pdf.MultiCell(cTopic, lineH, w.tr(topic), "", "L", false)
		w.pdf.SetXY(l+cTopic, y)
		w.pdf.MultiCell(cYN, lineH, yesNo(q.Discussed), "", "L", false)
		w.pdf.SetXY(l+cTopic+cYN, y)
		w.pdf.MultiCell(cEv, lineH, w.tr(ev), "", "L", false)
		w.pdf.SetXY(l, y+rowH+3)
	}
}

func (w *writer) detail(q checklist.QuestionResult) {
	w.ensureSpace(20)
	w.pdf.SetFont("Helvetica", "B", 10.5)
	w.pdf.MultiCell(0, lineH, w.tr(fmt.Sprintf("%d. %s", q.ID, q.Title)), "", "L", false)
	w.pdf.SetFont("Helvetica", "", 9.5)
	w.pdf.SetTextColor(70, 70, 70)
	w.pdf.MultiCell(0, lineH, fmt.Sprintf("Discussed: %s, confidence: %.2f", yesNo(q.Discussed), q.ClampedConfidence()), "", "L", false)
	w.pdf.SetTextColor(0, 0, 0)
	if q.FormalResponse != "" {
		w.pdf.MultiCell(0, lineH, w.tr(q.FormalResponse), "", "L", false)
	}
	for _, e := range q.Evidence {
		if e.Quote == "" {
			continue
		}
		w.pdf.MultiCell(0, lineH, w.tr(formatEvidence(e)), "", "L", false)
	}
	if q.Notes != "" {
		w.pdf.MultiCell(0, lineH, w.tr("Notes: "+q.Notes), "", "L", false)
	}
	w.pdf.Ln(2)
}

func pickEvidence(q checklist.QuestionResult) string {
	if len(q.Evidence) == 0 || strings.TrimSpace(q.Evidence[0].Quote) == "" {
		return noEvidence
	}
	return formatEvidence(q.Evidence[0])
}

func formatEvidence(e checklist.Evidence) string {
	quote := fmt.Sprintf(`"%s"`, truncate(e.Quote, quoteLimit))
	if ts := formatTS(e.StartSec, e.EndSec); ts != "" {
		return ts + " " + quote
	}
	return quote
}

func formatTS(start, end *float64) string {
	switch {
	case start != nil && end != nil:
		return fmt.Sprintf("[%ds-%ds]", int(math.Round(*start)), int(math.Round(*end)))
	case start != nil:
		return fmt.Sprintf("[%ds]", int(math.Round(*start)))
	case end != nil:
		return fmt.Sprintf("[-%ds]", int(math.Round(*end)))
	}
	return ""
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func maxInt(v ...int) int {
	res := 0
	for _, i := range v {
		if i > res {
			res = i
		}
	}
	return res
}
