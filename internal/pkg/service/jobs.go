package service

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/callaudit/internal/pkg/metrics"
	"github.com/airenas/callaudit/internal/pkg/persistence"
	"github.com/airenas/callaudit/internal/pkg/ratelimit"
	"github.com/airenas/callaudit/internal/pkg/status"
	"github.com/airenas/callaudit/internal/pkg/utils"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

const (
	prmSellerID     = "sellerId"
	prmUploaderName = "uploaderName"
	prmAudio        = "audio"
)

type links struct {
	Job        string `json:"job"`
	SellerJobs string `json:"sellerJobs"`
}

type submitResult struct {
	OK      bool     `json:"ok"`
	Message string   `json:"message"`
	Job     *jobView `json:"job"`
	Links   links    `json:"links"`
}

type rateLimitResult struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

type receivedFile struct {
	OriginalName string `json:"originalname"`
	Ext          string `json:"ext"`
	Mime         string `json:"mimetype"`
}

type formatResult struct {
	Error             string       `json:"error"`
	Received          receivedFile `json:"received"`
	AllowedExtensions []string     `json:"allowedExtensions"`
}

type jobResult struct {
	OK  bool     `json:"ok"`
	Job *jobView `json:"job"`
}

type sellerJobsResult struct {
	OK       bool       `json:"ok"`
	SellerID string     `json:"sellerId"`
	Jobs     []*jobView `json:"jobs"`
}

func submit(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("submit method")()
		ctx := c.Request().Context()

		form, err := c.MultipartForm()
		if err != nil {
			goapp.Log.Warn().Err(err).Msg("no multipart form")
			metrics.UploadRejected("form")
			return errorJSON(c, http.StatusBadRequest, "multipart form data required")
		}
		defer cleanFiles(form)

		sellerID := strings.TrimSpace(takeFirst(form.Value[prmSellerID], ""))
		if sellerID == "" {
			metrics.UploadRejected("no_seller")
			return errorJSON(c, http.StatusBadRequest, "sellerId is required")
		}
		uploader := strings.TrimSpace(takeFirst(form.Value[prmUploaderName], ""))
		if uploader == "" {
			metrics.UploadRejected("no_uploader")
			return errorJSON(c, http.StatusBadRequest, "uploaderName is required")
		}
		fh := takeFirst(form.File[prmAudio], nil)
		if fh == nil {
			metrics.UploadRejected("no_file")
			return errorJSON(c, http.StatusBadRequest, "audio file required (field name: audio)")
		}

		now := data.Now()
		if ok, retry := data.Limiter.CheckAndRecord(ratelimit.Key(c.RealIP(), uploader), now); !ok {
			goapp.Log.Info().Str("uploader", goapp.Sanitize(uploader)).Int("retryAfter", retry).Msg("rate limited")
			metrics.UploadRejected("rate_limited")
			c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
			return c.JSON(http.StatusTooManyRequests, rateLimitResult{
				Error: fmt.Sprintf("Too many uploads, retry after %d seconds", retry), RetryAfter: retry})
		}

		v := data.Validator.Validate(fh.Filename, fh.Header.Get(echo.HeaderContentType))
		if !v.Accepted {
			metrics.UploadRejected("format")
			return c.JSON(http.StatusBadRequest, formatResult{Error: "Unsupported file format",
				Received:          receivedFile{OriginalName: fh.Filename, Ext: v.Ext, Mime: v.Mime},
				AllowedExtensions: data.Validator.Extensions()})
		}

		if err := data.Processor.Reserve(); err != nil {
			goapp.Log.Warn().Err(err).Msg("can't reserve queue slot")
			metrics.UploadRejected("queue_full")
			return errorJSON(c, http.StatusServiceUnavailable, "Processing queue is full, retry later")
		}
		id := uuid.New().String()
		file, err := saveAudio(data.AudioDir, id+v.Ext, fh)
		if err != nil {
			data.Processor.Release()
			goapp.Log.Error().Err(err).Send()
			return errorJSON(c, http.StatusInternalServerError, "can't save audio")
		}

		job := &persistence.Job{ID: id, SellerID: sellerID, UploaderName: uploader, Status: status.Queued,
			CreatedAt: now, FileName: fh.Filename, FilePath: file, FileMime: v.Mime, DeleteAfter: deleteAfter(data, now)}
		if err := data.Store.Create(ctx, job); err != nil {
			data.Processor.Release()
			goapp.Log.Error().Err(err).Send()
			utils.DeleteFile(file)
			return errorJSON(c, http.StatusInternalServerError, "can't create job")
		}
		data.Processor.Enqueue(id)
		goapp.Log.Info().Str("ID", id).Str("seller", goapp.Sanitize(sellerID)).Msg("job accepted")

		return c.JSON(http.StatusAccepted, submitResult{OK: true, Message: "Job accepted for async processing",
			Job: toView(job), Links: links{Job: "/jobs/" + id,
				SellerJobs: "/sellers/" + url.PathEscape(sellerID) + "/jobs"}})
	}
}

func deleteAfter(data *Data, now time.Time) time.Time {
	if data.Retention <= 0 {
		return now
	}
	return now.Add(data.Retention)
}

func getJob(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("job method")()
		job, err := data.Store.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			return storeErr(c, err, "Job not found")
		}
		return c.JSON(http.StatusOK, jobResult{OK: true, Job: toView(job)})
	}
}

func sellerJobs(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("seller jobs method")()
		sellerID := c.Param("sellerId")
		if s, err := url.PathUnescape(sellerID); err == nil {
			sellerID = s
		}
		jobs, err := data.Store.ListBySeller(c.Request().Context(), sellerID)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return errorJSON(c, http.StatusInternalServerError, "can't load jobs")
		}
		return c.JSON(http.StatusOK, sellerJobsResult{OK: true, SellerID: sellerID, Jobs: toViews(jobs)})
	}
}

func storeErr(c echo.Context, err error, notFoundMsg string) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, notFoundMsg)
	}
	goapp.Log.Error().Err(err).Send()
	return errorJSON(c, http.StatusInternalServerError, "internal error")
}

func saveAudio(dir, name string, fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("can't open upload: %w", err)
	}
	defer src.Close()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("can't create dir: %w", err)
	}
	res := filepath.Join(dir, name)
	dst, err := os.Create(res)
	if err != nil {
		return "", fmt.Errorf("can't create %s: %w", res, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		utils.DeleteFile(res)
		return "", fmt.Errorf("can't write %s: %w", res, err)
	}
	if err := dst.Close(); err != nil {
		utils.DeleteFile(res)
		return "", fmt.Errorf("can't close %s: %w", res, err)
	}
	return res, nil
}

func takeFirst[K interface{}](a []K, d K) K {
	if len(a) > 0 {
		return a[0]
	}
	return d
}

func cleanFiles(f *multipart.Form) {
	if f != nil {
		_ = f.RemoveAll()
	}
}
