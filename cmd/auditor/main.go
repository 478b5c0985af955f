package main

import (
	"context"
	"os"
	"time"

	"github.com/airenas/callaudit/internal/pkg/checklist"
	"github.com/airenas/callaudit/internal/pkg/clean"
	"github.com/airenas/callaudit/internal/pkg/extractor"
	"github.com/airenas/callaudit/internal/pkg/metrics"
	"github.com/airenas/callaudit/internal/pkg/postgres"
	"github.com/airenas/callaudit/internal/pkg/ratelimit"
	"github.com/airenas/callaudit/internal/pkg/report"
	"github.com/airenas/callaudit/internal/pkg/service"
	"github.com/airenas/callaudit/internal/pkg/store"
	"github.com/airenas/callaudit/internal/pkg/transcriber"
	"github.com/airenas/callaudit/internal/pkg/upload"
	"github.com/airenas/callaudit/internal/pkg/worker"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/labstack/gommon/color"
)

type jobStore interface {
	service.JobStore
	worker.JobStore
}

type defaulter interface {
	SetDefault(key string, value interface{})
}

func main() {
	_ = godotenv.Load()
	goapp.StartWithDefault()
	cfg := goapp.Config
	setDefaults(cfg)

	printBanner()

	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	audioDir, auditDir := cfg.GetString("audio.dir"), cfg.GetString("audit.dir")
	for _, d := range []string{audioDir, auditDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			goapp.Log.Fatal().Err(err).Str("dir", d).Msg("can't create dir")
		}
	}
	retention := cfg.GetDuration("audio.retention")

	jobs, queued, closeFunc := initStore(ctx, cfg.GetString("db.url"), cfg.GetString("db.logLevel"))
	defer closeFunc()

	metrics.MustRegister()

	list, err := checklist.Load(cfg.GetString("checklist.file"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't load checklist")
	}
	goapp.Log.Info().Str("name", list.Name).Int("questions", len(list.Questions)).Msg("checklist")

	wData := &worker.ServiceData{Store: jobs, WorkerCount: cfg.GetInt("worker.count"),
		QueueSize: cfg.GetInt("worker.queueSize"), AuditDir: auditDir, PublicPrefix: cfg.GetString("audit.prefix"),
		Retention: retention, TranscribeTimeout: cfg.GetDuration("transcriber.timeout"),
		ExtractTimeout: cfg.GetDuration("extractor.timeout"), RenderTimeout: cfg.GetDuration("renderer.timeout")}
	wData.Transcriber, err = transcriber.NewClient(cfg.GetString("transcriber.url"), cfg.GetString("transcriber.key"),
		cfg.GetString("transcriber.model"), cfg.GetString("transcriber.prompt"), wData.TranscribeTimeout)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init transcriber")
	}
	wData.Extractor, err = extractor.NewClient(cfg.GetString("extractor.url"), cfg.GetString("extractor.key"),
		cfg.GetString("extractor.model"), list, wData.ExtractTimeout)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init extractor")
	}
	wData.Renderer = report.NewPDF(cfg.GetString("renderer.title"))

	processor, err := worker.NewProcessor(wData)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init processor")
	}
	workerDoneCh := processor.Start(ctx)
	resubmitDoneCh := processor.Resubmit(ctx, queued)

	cleanDoneCh, err := clean.StartSweeper(ctx, audioDir, retention, cfg.GetDuration("audio.sweepMinInterval"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start sweeper")
	}

	data := &service.Data{Port: cfg.GetInt("port"), Store: jobs, Processor: processor,
		Limiter:   ratelimit.NewLimiter(cfg.GetDuration("ratelimit.window")),
		TrustProxy: cfg.GetBool("http.trustProxy"), TrustedProxies: cfg.GetStringSlice("http.trustedProxies"),
		Validator: upload.NewValidator(cfg.GetStringSlice("upload.extensions"), cfg.GetStringSlice("upload.mimeExact"),
			cfg.GetStringSlice("upload.mimePrefixes")),
		AudioDir: audioDir, AuditDir: auditDir, PublicPrefix: wData.PublicPrefix, Retention: retention,
		BodyLimit: cfg.GetString("upload.bodyLimit"), AdminToken: cfg.GetString("admin.token"),
		PageSize: cfg.GetInt("page.size"), MaxPageSize: cfg.GetInt("page.max")}

	if err := service.StartWebServer(data); err != nil {
		goapp.Log.Error().Err(err).Msg("can't start web server")
	}
	goapp.Log.Info().Msg("web server stopped")

	cancelFunc()
	wait("resubmit", resubmitDoneCh)
	wait("worker", workerDoneCh)
	wait("sweeper", cleanDoneCh)
}

// initStore returns the job store and IDs of jobs a previous run left queued
func initStore(ctx context.Context, url, logLevel string) (jobStore, []string, func()) {
	if url == "" {
		goapp.Log.Info().Msg("using in-memory job store")
		return store.NewMemory(), nil, func() {}
	}
	dbConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	dbConfig.ConnConfig.Tracer = postgres.NewTracer(logLevel)
	goapp.Log.Info().Int32("max_conn", dbConfig.MaxConns).Int32("min_conn", dbConfig.MinConns).Msg("db info")
	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	db, err := postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}
	if err := db.EnsureSchema(ctx); err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db schema")
	}
	n, err := db.FailUnfinished(ctx, "interrupted by service restart")
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't fail unfinished jobs")
	}
	queued, err := db.QueuedIDs(ctx)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't load queued jobs")
	}
	goapp.Log.Info().Int64("failed", n).Int("queued", len(queued)).Msg("jobs left by previous run")
	return db, queued, dbPool.Close
}

func setDefaults(cfg defaulter) {
	cfg.SetDefault("port", 3000)
	cfg.SetDefault("audio.dir", "audios")
	cfg.SetDefault("audio.retention", 24*time.Hour)
	cfg.SetDefault("audio.sweepMinInterval", clean.DefaultMinInterval)
	cfg.SetDefault("audit.dir", "audits")
	cfg.SetDefault("audit.prefix", "/audits")
	cfg.SetDefault("worker.count", 2)
	cfg.SetDefault("worker.queueSize", 100)
	cfg.SetDefault("ratelimit.window", time.Minute)
	cfg.SetDefault("http.trustProxy", false)
	cfg.SetDefault("upload.bodyLimit", "200M")
	cfg.SetDefault("page.size", 20)
	cfg.SetDefault("page.max", 100)
	cfg.SetDefault("transcriber.url", "https://api.openai.com/v1")
	cfg.SetDefault("transcriber.model", "gpt-4o-transcribe")
	cfg.SetDefault("transcriber.timeout", 10*time.Minute)
	cfg.SetDefault("extractor.url", "https://api.openai.com/v1")
	cfg.SetDefault("extractor.timeout", 5*time.Minute)
	cfg.SetDefault("renderer.timeout", time.Minute)
	cfg.SetDefault("db.logLevel", "warn")
	cfg.SetDefault("renderer.title", "Onboarding Call Audit")
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.SetDefault("transcriber.key", key)
		cfg.SetDefault("extractor.key", key)
	}
}

func wait(name string, doneCh <-chan struct{}) {
	if doneCh == nil {
		return
	}
	select {
	case <-doneCh:
		goapp.Log.Info().Str("service", name).Msg("stopped")
	case <-time.After(time.Second * 15):
		goapp.Log.Warn().Str("service", name).Msg("Timeout gracefull shutdown")
	}
}

var (
	version = "DEV"
)

func printBanner() {
	banner := `
               ____                  ___ __ 
   _________ _/ / /  ____ ___  ______/ (_) /_
  / ___/ __ ` + "`" + `/ / /  / __ ` + "`" + `/ / / / __  / / __/
 / /__/ /_/ / / /  / /_/ / /_/ / /_/ / / /_  
 \___/\__,_/_/_/   \__,_/\__,_/\__,_/_/\__/   v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/airenas/callaudit"))
}
