package service

import (
	"time"

	"github.com/airenas/callaudit/internal/pkg/checklist"
	"github.com/airenas/callaudit/internal/pkg/persistence"
	"github.com/airenas/callaudit/internal/pkg/status"
)

type jobView struct {
	ID           string            `json:"id"`
	SellerID     string            `json:"sellerId"`
	UploaderName string            `json:"uploaderName"`
	Status       status.Status     `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	StartedAt    *time.Time        `json:"startedAt"`
	FinishedAt   *time.Time        `json:"finishedAt"`
	FileName     string            `json:"fileName"`
	Error        *string           `json:"error"`
	PDF          *string           `json:"pdf"`
	Report       *checklist.Report `json:"report"`
	Transcript   *string           `json:"transcript"`
	DeleteAfter  time.Time         `json:"deleteAfter"`
}

type jobListItem struct {
	ID            string        `json:"id"`
	SellerID      string        `json:"sellerId"`
	UploaderName  string        `json:"uploaderName"`
	Status        status.Status `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
	StartedAt     *time.Time    `json:"startedAt"`
	FinishedAt    *time.Time    `json:"finishedAt"`
	FileName      string        `json:"fileName"`
	Error         *string       `json:"error"`
	PDF           *string       `json:"pdf"`
	HasReport     bool          `json:"hasReport"`
	HasTranscript bool          `json:"hasTranscript"`
	DeleteAfter   time.Time     `json:"deleteAfter"`
}

type pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"pageSize"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasPrev    bool `json:"hasPrev"`
	HasNext    bool `json:"hasNext"`
}

func toView(j *persistence.Job) *jobView {
	return &jobView{ID: j.ID, SellerID: j.SellerID, UploaderName: j.UploaderName, Status: j.Status,
		CreatedAt: j.CreatedAt, StartedAt: j.StartedAt, FinishedAt: j.FinishedAt, FileName: j.FileName,
		Error: strPtr(j.Error), PDF: strPtr(j.PDF), Report: j.Report, Transcript: strPtr(j.Transcript),
		DeleteAfter: j.DeleteAfter}
}

func toViews(jobs []*persistence.Job) []*jobView {
	res := make([]*jobView, 0, len(jobs))
	for _, j := range jobs {
		res = append(res, toView(j))
	}
	return res
}

func toListItems(jobs []*persistence.Job) []*jobListItem {
	res := make([]*jobListItem, 0, len(jobs))
	for _, j := range jobs {
		res = append(res, &jobListItem{ID: j.ID, SellerID: j.SellerID, UploaderName: j.UploaderName,
			Status: j.Status, CreatedAt: j.CreatedAt, StartedAt: j.StartedAt, FinishedAt: j.FinishedAt,
			FileName: j.FileName, Error: strPtr(j.Error), PDF: strPtr(j.PDF), HasReport: j.Report != nil,
			HasTranscript: j.Transcript != "", DeleteAfter: j.DeleteAfter})
	}
	return res
}

func toPagination(r *persistence.ListResult) pagination {
	return pagination{Page: r.Page, PageSize: r.PageSize, Total: r.Total, TotalPages: r.TotalPages,
		HasPrev: r.HasPrev, HasNext: r.HasNext}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
