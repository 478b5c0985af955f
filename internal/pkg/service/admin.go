package service

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/callaudit/internal/pkg/persistence"
	"github.com/airenas/callaudit/internal/pkg/status"
	"github.com/airenas/callaudit/internal/pkg/utils"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const unauthorizedMsg = "Unauthorized admin access"

type listResult struct {
	OK         bool           `json:"ok"`
	Jobs       []*jobListItem `json:"jobs"`
	Pagination pagination     `json:"pagination"`
}

func adminAuth(token string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, c echo.Context) (bool, error) {
			key = strings.TrimSpace(key)
			return token != "" && key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			goapp.Log.Warn().Str("path", c.Path()).Str("ip", c.RealIP()).Msg("unauthorized admin call")
			return errorJSON(c, http.StatusUnauthorized, unauthorizedMsg)
		},
	})
}

func listJobs(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("list method")()
		filter, err := parseFilter(c)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		page := persistence.Page{Page: queryInt(c, "page"), PageSize: queryInt(c, "pageSize")}.
			Bound(data.PageSize, data.MaxPageSize)
		res, err := data.Store.List(c.Request().Context(), filter, page)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return errorJSON(c, http.StatusInternalServerError, "can't load jobs")
		}
		return c.JSON(http.StatusOK, listResult{OK: true, Jobs: toListItems(res.Jobs), Pagination: toPagination(res)})
	}
}

func jobReport(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		job, err := completedJob(c, data)
		if err != nil || job.Report == nil {
			return notAvailable(c, err, "Report not available")
		}
		b, err := json.MarshalIndent(job.Report, "", "  ")
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return errorJSON(c, http.StatusInternalServerError, "can't encode report")
		}
		setAttachment(c, job.ID+"_report.json")
		return c.Blob(http.StatusOK, echo.MIMEApplicationJSONCharsetUTF8, b)
	}
}

func jobTranscript(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		job, err := completedJob(c, data)
		if err != nil || job.Transcript == "" {
			return notAvailable(c, err, "Transcript not available")
		}
		setAttachment(c, job.ID+"_transcript.txt")
		return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, []byte(job.Transcript))
	}
}

func jobPDF(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		job, err := completedJob(c, data)
		if err != nil || job.PDFPath == "" || !utils.FileExists(job.PDFPath) {
			return notAvailable(c, err, "PDF not available")
		}
		return c.Attachment(job.PDFPath, filepath.Base(job.PDFPath))
	}
}

var errNotCompleted = fmt.Errorf("job is not completed")

func completedJob(c echo.Context, data *Data) (*persistence.Job, error) {
	job, err := data.Store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if job.Status != status.Completed {
		return nil, errNotCompleted
	}
	return job, nil
}

func notAvailable(c echo.Context, err error, msg string) error {
	if err == nil || err == errNotCompleted {
		return errorJSON(c, http.StatusNotFound, msg)
	}
	return storeErr(c, err, "Job not found")
}

func setAttachment(c echo.Context, name string) {
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
}

func parseFilter(c echo.Context) (persistence.Filter, error) {
	res := persistence.Filter{Search: strings.TrimSpace(c.QueryParam("search"))}
	if s := strings.ToLower(strings.TrimSpace(c.QueryParam("status"))); s != "" && s != "all" {
		res.Status = status.From(s)
		if res.Status == 0 {
			return res, fmt.Errorf("unknown status '%s'", goapp.Sanitize(s))
		}
	}
	var err error
	if res.From, err = parseDate(c.QueryParam("from")); err != nil {
		return res, fmt.Errorf("wrong from: %w", err)
	}
	if res.To, err = parseDate(c.QueryParam("to")); err != nil {
		return res, fmt.Errorf("wrong to: %w", err)
	}
	return res, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD, got '%s'", goapp.Sanitize(s))
	}
	return t, nil
}

func queryInt(c echo.Context, name string) int {
	res, err := strconv.Atoi(strings.TrimSpace(c.QueryParam(name)))
	if err != nil {
		return 0
	}
	return res
}
