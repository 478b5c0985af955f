package persistence

import (
	"time"

	"github.com/airenas/callaudit/internal/pkg/checklist"
	"github.com/airenas/callaudit/internal/pkg/status"
	"github.com/pkg/errors"
)

const (
	// DefaultPageSize is used when no page size is requested
	DefaultPageSize = 20
	// MaxPageSize is the default upper bound of a page
	MaxPageSize = 100
)

var (
	// ErrNotFound is returned when no job exists by ID
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned on create when the ID is already used
	ErrDuplicateKey = errors.New("duplicate key")
)

type (
	// Job is one audio-submission-to-report unit of work
	Job struct {
		ID           string
		SellerID     string
		UploaderName string
		Status       status.Status
		CreatedAt    time.Time
		StartedAt    *time.Time
		FinishedAt   *time.Time
		FileName     string
		FilePath     string
		FileMime     string
		Error        string
		Transcript   string
		Report       *checklist.Report
		PDF          string
		PDFPath      string
		DeleteAfter  time.Time
	}

	// Filter for job listing
	Filter struct {
		Search string
		Status status.Status
		From   time.Time
		To     time.Time
	}

	// Page requested page, starts from 1
	Page struct {
		Page     int
		PageSize int
	}

	// ListResult is a page of jobs with pagination info
	ListResult struct {
		Jobs       []*Job
		Total      int
		Page       int
		PageSize   int
		TotalPages int
		HasPrev    bool
		HasNext    bool
	}
)

// Clone returns a deep copy of the job
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	res := *j
	res.StartedAt = cloneTime(j.StartedAt)
	res.FinishedAt = cloneTime(j.FinishedAt)
	res.Report = j.Report.Clone()
	return &res
}

// KeepIdentity restores fields that must never change after creation
func (j *Job) KeepIdentity(from *Job) {
	j.ID = from.ID
	j.SellerID = from.SellerID
	j.UploaderName = from.UploaderName
	j.CreatedAt = from.CreatedAt
	j.FileName = from.FileName
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	res := *t
	return &res
}

// Normalize returns filter with day granularity bounds: From at the day start, To at the day end
func (f Filter) Normalize() Filter {
	res := f
	if !f.From.IsZero() {
		res.From = dayStart(f.From)
	}
	if !f.To.IsZero() {
		res.To = dayStart(f.To).Add(24*time.Hour - time.Nanosecond)
	}
	return res
}

// dayStart truncates in the bound's own location, so an offset bound keeps its calendar day
func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Bound returns page with page size in [1, max], def is used for a non positive size
func (p Page) Bound(def, max int) Page {
	if def <= 0 {
		def = DefaultPageSize
	}
	if max <= 0 {
		max = MaxPageSize
	}
	if p.PageSize <= 0 {
		p.PageSize = def
	}
	if p.PageSize > max {
		p.PageSize = max
	}
	if p.Page < 1 {
		p.Page = 1
	}
	return p
}

// Paginate calculates page info for total items. The page is clamped to [1, TotalPages].
func Paginate(total int, p Page) *ListResult {
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	res := &ListResult{Total: total, PageSize: p.PageSize}
	res.TotalPages = (total + p.PageSize - 1) / p.PageSize
	if res.TotalPages < 1 {
		res.TotalPages = 1
	}
	res.Page = p.Page
	if res.Page < 1 {
		res.Page = 1
	}
	if res.Page > res.TotalPages {
		res.Page = res.TotalPages
	}
	res.HasPrev = res.Page > 1
	res.HasNext = res.Page < res.TotalPages
	return res
}

// Offset of the first item on the page
func (r *ListResult) Offset() int {
	return (r.Page - 1) * r.PageSize
}
