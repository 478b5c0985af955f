package worker

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/callaudit/internal/pkg/checklist"
	"github.com/airenas/callaudit/internal/pkg/metrics"
	"github.com/airenas/callaudit/internal/pkg/persistence"
	"github.com/airenas/callaudit/internal/pkg/status"
	"github.com/airenas/callaudit/internal/pkg/utils"
	"github.com/pkg/errors"
)

const finishTimeout = 10 * time.Second

// JobStore provides job persistence
type JobStore interface {
	Get(ctx context.Context, id string) (*persistence.Job, error)
	Update(ctx context.Context, id string, f func(*persistence.Job) error) (*persistence.Job, error)
}

// Transcriber converts audio to text
type Transcriber interface {
	Transcribe(ctx context.Context, file, name, mime string) (string, error)
}

// Extractor builds a checklist report from a transcript
type Extractor interface {
	Extract(ctx context.Context, transcript string) (*checklist.Report, error)
}

// Renderer writes a report document
type Renderer interface {
	Render(ctx context.Context, rep *checklist.Report, file string) error
}

// ServiceData keeps data required for processor work
type ServiceData struct {
	Store       JobStore
	Transcriber Transcriber
	Extractor   Extractor
	Renderer    Renderer

	WorkerCount int
	QueueSize   int
	// AuditDir is local dir of rendered reports, PublicPrefix is their URL path prefix
	AuditDir     string
	PublicPrefix string
	// Retention <= 0 removes the audio as soon as the job finishes
	Retention time.Duration

	TranscribeTimeout time.Duration
	ExtractTimeout    time.Duration
	RenderTimeout     time.Duration

	Now func() time.Time
}

// Processor runs audit jobs in the background
type Processor struct {
	data *ServiceData
	pool *Pool
}

var errSkip = errors.New("skip")

// NewProcessor validates data and creates a processor
func NewProcessor(data *ServiceData) (*Processor, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	if data.Now == nil {
		data.Now = time.Now
	}
	res := &Processor{data: data}
	pool, err := NewPool(data.WorkerCount, data.QueueSize, res.process)
	if err != nil {
		return nil, err
	}
	res.pool = pool
	return res, nil
}

// Start starts workers, returns channel closed after all workers exit
func (p *Processor) Start(ctx context.Context) <-chan struct{} {
	return p.pool.Start(ctx)
}

// Reserve takes a queue slot for a job about to be created, returns ErrQueueFull when the queue is full
func (p *Processor) Reserve() error {
	return p.pool.Reserve()
}

// Release frees a slot taken by Reserve when the job was not created
func (p *Processor) Release() {
	p.pool.Release()
}

// Enqueue hands the created job to the reserved slot
func (p *Processor) Enqueue(id string) {
	p.pool.Enqueue(id)
}

// Submit hands the job to a worker without blocking, returns ErrQueueFull when the queue is full
func (p *Processor) Submit(id string) error {
	return p.pool.Submit(id)
}

// Resubmit queues jobs left queued by a previous run, waiting for free slots.
// Returns channel closed when all IDs are queued or ctx is done.
func (p *Processor) Resubmit(ctx context.Context, ids []string) <-chan struct{} {
	res := make(chan struct{})
	go func() {
		defer close(res)
		for i, id := range ids {
			if err := p.pool.SubmitWait(ctx, id); err != nil {
				goapp.Log.Warn().Err(err).Int("left", len(ids)-i).Msg("resubmit stopped")
				return
			}
			goapp.Log.Info().Str("ID", id).Msg("resubmitted")
		}
	}()
	return res
}

func (p *Processor) process(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			goapp.Log.Error().Str("ID", id).Interface("panic", r).Str("stack", string(debug.Stack())).Msg("job panic")
			p.fail(ctx, id, fmt.Errorf("internal error: %v", r))
		}
	}()
	defer goapp.Estimate("job " + id)()

	job, err := p.data.Store.Update(ctx, id, func(j *persistence.Job) error {
		if j.Status != status.Queued {
			return errSkip
		}
		now := p.data.Now()
		j.Status = status.Processing
		j.StartedAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, errSkip) {
			goapp.Log.Warn().Str("ID", id).Msg("job is not queued, skip")
		} else {
			goapp.Log.Error().Err(err).Str("ID", id).Msg("can't start job")
		}
		return
	}
	if p.data.Retention <= 0 {
		defer utils.DeleteFile(job.FilePath)
	}
	goapp.Log.Info().Str("ID", id).Str("file", job.FileName).Msg("processing")

	if err := p.run(ctx, job); err != nil {
		goapp.Log.Error().Err(err).Str("ID", id).Msg("job failed")
		p.fail(ctx, id, err)
	}
}

func (p *Processor) run(ctx context.Context, job *persistence.Job) error {
	var text string
	err := p.stage(ctx, job.ID, "transcribe", p.data.TranscribeTimeout, func(ctx context.Context) error {
		var err error
		text, err = p.data.Transcriber.Transcribe(ctx, job.FilePath, job.FileName, job.FileMime)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "transcription failed")
	}

	var rep *checklist.Report
	err = p.stage(ctx, job.ID, "extract", p.data.ExtractTimeout, func(ctx context.Context) error {
		var err error
		rep, err = p.data.Extractor.Extract(ctx, text)
		if err == nil && rep == nil {
			err = fmt.Errorf("no report")
		}
		return err
	})
	if err != nil {
		return errors.Wrap(err, "extraction failed")
	}

	name := ArtifactName(job.FileName, job.SellerID, p.data.Now(), job.ID)
	file := filepath.Join(p.data.AuditDir, name)
	err = p.stage(ctx, job.ID, "render", p.data.RenderTimeout, func(ctx context.Context) error {
		return p.data.Renderer.Render(ctx, rep, file)
	})
	if err != nil {
		utils.DeleteFile(file)
		return errors.Wrap(err, "report rendering failed")
	}

	fCtx, cf := finishCtx(ctx)
	defer cf()
	_, err = p.data.Store.Update(fCtx, job.ID, func(j *persistence.Job) error {
		now := p.data.Now()
		j.Status = status.Completed
		j.FinishedAt = &now
		j.Transcript = text
		j.Report = rep
		j.PDF = path.Join(p.data.PublicPrefix, name)
		j.PDFPath = file
		j.Error = ""
		return nil
	})
	if err != nil {
		utils.DeleteFile(file)
		return errors.Wrap(err, "can't save result")
	}
	metrics.JobFinished(status.Completed.String())
	goapp.Log.Info().Str("ID", job.ID).Str("file", name).Msg("completed")
	return nil
}

func (p *Processor) stage(ctx context.Context, id, name string, timeout time.Duration, f func(context.Context) error) error {
	if timeout > 0 {
		var cf func()
		ctx, cf = context.WithTimeout(ctx, timeout)
		defer cf()
	}
	start := time.Now()
	goapp.Log.Debug().Str("ID", id).Str("stage", name).Msg("start")
	err := f(ctx)
	metrics.ObserveStage(name, time.Since(start), err == nil)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s timeout after %s: %w", name, timeout, err)
	}
	return err
}

func (p *Processor) fail(ctx context.Context, id string, cause error) {
	fCtx, cf := finishCtx(ctx)
	defer cf()
	_, err := p.data.Store.Update(fCtx, id, func(j *persistence.Job) error {
		if j.Status.Terminal() {
			return errSkip
		}
		now := p.data.Now()
		j.Status = status.Failed
		j.FinishedAt = &now
		j.Error = cause.Error()
		return nil
	})
	if err != nil {
		if !errors.Is(err, errSkip) {
			goapp.Log.Error().Err(err).Str("ID", id).Msg("can't mark failed")
		}
		return
	}
	metrics.JobFinished(status.Failed.String())
}

// finishCtx keeps final status writes alive during shutdown
func finishCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
}

// ArtifactName makes the report file name <file>_<seller>_<dd-mm_hh-mm-ss>_<id[:8]>.pdf
func ArtifactName(fileName, sellerID string, t time.Time, id string) string {
	return fmt.Sprintf("%s_%s_%s_%s.pdf", orDefault(utils.SanitizeFileName(fileName), "audio"),
		orDefault(utils.SanitizeID(sellerID), "seller"), utils.TimeSuffix(t), utils.SanitizeID(utils.ShortID(id, 8)))
}

func orDefault(s, def string) string {
	if s == "" || s == "_" {
		return def
	}
	return s
}

func validate(data *ServiceData) error {
	if data.Store == nil {
		return fmt.Errorf("no job store")
	}
	if data.Transcriber == nil {
		return fmt.Errorf("no transcriber")
	}
	if data.Extractor == nil {
		return fmt.Errorf("no extractor")
	}
	if data.Renderer == nil {
		return fmt.Errorf("no renderer")
	}
	if data.AuditDir == "" {
		return fmt.Errorf("no audit dir")
	}
	if data.PublicPrefix == "" {
		return fmt.Errorf("no public prefix")
	}
	return nil
}
