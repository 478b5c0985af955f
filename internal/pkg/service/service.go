package service

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/callaudit/internal/pkg/persistence"
	"github.com/airenas/callaudit/internal/pkg/ratelimit"
	"github.com/airenas/callaudit/internal/pkg/upload"
	"github.com/facebookgo/grace/gracehttp"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
)

// JobStore provides job persistence
type JobStore interface {
	Create(ctx context.Context, job *persistence.Job) error
	Get(ctx context.Context, id string) (*persistence.Job, error)
	Update(ctx context.Context, id string, f func(*persistence.Job) error) (*persistence.Job, error)
	List(ctx context.Context, filter persistence.Filter, page persistence.Page) (*persistence.ListResult, error)
	ListBySeller(ctx context.Context, sellerID string) ([]*persistence.Job, error)
}

// Submitter hands accepted jobs to background processing.
// Reserve takes a queue slot before the job is created, Release returns it if creation fails.
type Submitter interface {
	Reserve() error
	Release()
	Enqueue(id string)
}

// Data keeps data required for service work
type Data struct {
	Port      int
	Store     JobStore
	Processor Submitter
	Limiter   *ratelimit.Limiter
	Validator *upload.Validator

	AudioDir     string
	AuditDir     string
	PublicPrefix string
	Retention    time.Duration
	// BodyLimit of the upload request, e.g. 200M, empty means no limit
	BodyLimit string

	// TrustProxy takes the client IP from X-Forwarded-For set by TrustedProxies (CIDRs)
	// or by private network proxies, otherwise the socket address is used
	TrustProxy     bool
	TrustedProxies []string

	// AdminToken guards admin routes, empty token denies every admin call
	AdminToken  string
	PageSize    int
	MaxPageSize int
	Now         func() time.Time
}

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Msgf("Starting HTTP call audit service at %d", data.Port)
	if err := validate(data); err != nil {
		return err
	}
	goapp.Log.Info().Dur("window", data.Limiter.Window()).Bool("trustProxy", data.TrustProxy).Msg("rate limit")

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 180 * time.Second
	e.Server.WriteTimeout = 60 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

func validate(data *Data) error {
	if data.Store == nil {
		return errors.New("no job store")
	}
	if data.Processor == nil {
		return errors.New("no processor")
	}
	if data.Limiter == nil {
		return errors.New("no rate limiter")
	}
	if data.Validator == nil {
		return errors.New("no upload validator")
	}
	if data.AudioDir == "" {
		return errors.New("no audio dir")
	}
	if data.AuditDir == "" {
		return errors.New("no audit dir")
	}
	if data.PublicPrefix == "" {
		return errors.New("no public prefix")
	}
	if _, err := ipExtractor(data); err != nil {
		return err
	}
	if data.AdminToken == "" {
		goapp.Log.Warn().Msg("no admin token, admin routes are disabled")
	}
	return nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("call_audit", nil)
}

func initRoutes(data *Data) *echo.Echo {
	if data.Now == nil {
		data.Now = time.Now
	}
	e := echo.New()
	ipe, err := ipExtractor(data)
	if err != nil {
		goapp.Log.Error().Err(err).Msg("wrong trusted proxies, use socket address")
		ipe = echo.ExtractIPDirect()
	}
	e.IPExtractor = ipe
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	promMdlw.Use(e)

	uploadMdlw := []echo.MiddlewareFunc{}
	if data.BodyLimit != "" {
		uploadMdlw = append(uploadMdlw, middleware.BodyLimit(data.BodyLimit))
	}
	e.POST("/jobs", submit(data), uploadMdlw...)
	e.GET("/jobs/:id", getJob(data))
	e.GET("/sellers/:sellerId/jobs", sellerJobs(data))

	admin := e.Group("/admin", adminAuth(data.AdminToken))
	admin.GET("/jobs", listJobs(data))
	admin.GET("/jobs/:id/report", jobReport(data))
	admin.GET("/jobs/:id/transcript", jobTranscript(data))
	admin.GET("/jobs/:id/pdf", jobPDF(data))

	e.Static(data.PublicPrefix, data.AuditDir)
	e.GET("/live", live(data))

	goapp.Log.Info().Msg("Routes:")
	for _, r := range e.Routes() {
		goapp.Log.Info().Msgf("  %s %s", r.Method, r.Path)
	}
	return e
}

func ipExtractor(data *Data) (echo.IPExtractor, error) {
	if !data.TrustProxy {
		return echo.ExtractIPDirect(), nil
	}
	var opts []echo.TrustOption
	for _, s := range data.TrustedProxies {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("wrong trusted proxy '%s': %w", s, err)
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}

func live(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK"}`))
	}
}

type errorResult struct {
	Error string `json:"error"`
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, errorResult{Error: msg})
}
