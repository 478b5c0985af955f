package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/airenas/callaudit/internal/pkg/checklist"
	"github.com/airenas/callaudit/internal/pkg/persistence"
	"github.com/airenas/callaudit/internal/pkg/status"
	"github.com/airenas/callaudit/internal/pkg/store"
	"github.com/airenas/callaudit/internal/pkg/test"
	"github.com/airenas/callaudit/internal/pkg/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	transcriberMock *mocks.Transcriber
	extractorMock   *mocks.Extractor
	rendererMock    *mocks.Renderer
	jobStore        *store.Memory
	srvData         *ServiceData
	tNow            = time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	tReport         = &checklist.Report{CallSummary: "sum", Questions: []checklist.QuestionResult{{ID: 1, Discussed: true}}}
)

func initTest(t *testing.T) *persistence.Job {
	t.Helper()
	transcriberMock = &mocks.Transcriber{}
	extractorMock = &mocks.Extractor{}
	rendererMock = &mocks.Renderer{}
	jobStore = store.NewMemory()
	dir := t.TempDir()
	srvData = &ServiceData{Store: jobStore, Transcriber: transcriberMock, Extractor: extractorMock,
		Renderer: rendererMock, WorkerCount: 1, QueueSize: 2, AuditDir: filepath.Join(dir, "audits"),
		PublicPrefix: "/audits", Retention: time.Hour, Now: func() time.Time { return tNow }}
	audio := filepath.Join(dir, "a.mp3")
	require.Nil(t, os.WriteFile(audio, []byte("audio"), 0o644))
	job := &persistence.Job{ID: "0123456789ab", SellerID: "S 1", UploaderName: "olia", Status: status.Queued,
		CreatedAt: tNow.Add(-time.Minute), FileName: "My Call.mp3", FilePath: audio, FileMime: "audio/mpeg"}
	require.Nil(t, jobStore.Create(test.Ctx(t), job))

	transcriberMock.On("Transcribe", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("text", nil)
	extractorMock.On("Extract", mock.Anything, mock.Anything).Return(tReport, nil)
	rendererMock.On("Render", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return job
}

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	p, err := NewProcessor(srvData)
	require.Nil(t, err)
	return p
}

func getJob(t *testing.T, id string) *persistence.Job {
	t.Helper()
	res, err := jobStore.Get(test.Ctx(t), id)
	require.Nil(t, err)
	return res
}

func TestNewProcessor(t *testing.T) {
	initTest(t)
	tests := []struct {
		name    string
		change  func(d ServiceData) *ServiceData
		wantErr bool
	}{
		{name: "ok", change: func(d ServiceData) *ServiceData { return &d }, wantErr: false},
		{name: "no store", change: func(d ServiceData) *ServiceData { d.Store = nil; return &d }, wantErr: true},
		{name: "no transcriber", change: func(d ServiceData) *ServiceData { d.Transcriber = nil; return &d }, wantErr: true},
		{name: "no extractor", change: func(d ServiceData) *ServiceData { d.Extractor = nil; return &d }, wantErr: true},
		{name: "no renderer", change: func(d ServiceData) *ServiceData { d.Renderer = nil; return &d }, wantErr: true},
		{name: "no dir", change: func(d ServiceData) *ServiceData { d.AuditDir = ""; return &d }, wantErr: true},
		{name: "no prefix", change: func(d ServiceData) *ServiceData { d.PublicPrefix = ""; return &d }, wantErr: true},
		{name: "no workers", change: func(d ServiceData) *ServiceData { d.WorkerCount = 0; return &d }, wantErr: true},
		{name: "no queue", change: func(d ServiceData) *ServiceData { d.QueueSize = 0; return &d }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor(tt.change(*srvData))
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func Test_process(t *testing.T) {
	job := initTest(t)
	p := newTestProcessor(t)

	p.process(test.Ctx(t), job.ID)

	res := getJob(t, job.ID)
	assert.Equal(t, status.Completed, res.Status)
	assert.Equal(t, "", res.Error)
	assert.Equal(t, "text", res.Transcript)
	assert.Equal(t, tReport, res.Report)
	assert.Equal(t, "/audits/my_call_s_1_04-03_05-06-07_01234567.pdf", res.PDF)
	assert.Equal(t, filepath.Join(srvData.AuditDir, "my_call_s_1_04-03_05-06-07_01234567.pdf"), res.PDFPath)
	require.NotNil(t, res.StartedAt)
	require.NotNil(t, res.FinishedAt)
	assert.False(t, res.StartedAt.After(*res.FinishedAt))
	assert.FileExists(t, job.FilePath)

	transcriberMock.AssertCalled(t, "Transcribe", mock.Anything, job.FilePath, "My Call.mp3", "audio/mpeg")
	extractorMock.AssertCalled(t, "Extract", mock.Anything, "text")
	rendererMock.AssertCalled(t, "Render", mock.Anything, tReport, res.PDFPath)
}

func Test_process_DeletesAudio(t *testing.T) {
	for _, fail := range []bool{false, true} {
		t.Run(fmt.Sprintf("fail=%v", fail), func(t *testing.T) {
			job := initTest(t)
			srvData.Retention = 0
			if fail {
				transcriberMock.ExpectedCalls = nil
				transcriberMock.On("Transcribe", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return("", fmt.Errorf("olia"))
			}
			p := newTestProcessor(t)

			p.process(test.Ctx(t), job.ID)

			_, err := os.Stat(job.FilePath)
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func Test_process_Fail(t *testing.T) {
	tests := []struct {
		name    string
		prepare func()
		wantErr string
		called  []string
	}{
		{name: "transcribe", prepare: func() {
			transcriberMock.ExpectedCalls = nil
			transcriberMock.On("Transcribe", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", fmt.Errorf("olia"))
		}, wantErr: "transcription failed: olia"},
		{name: "extract", prepare: func() {
			extractorMock.ExpectedCalls = nil
			extractorMock.On("Extract", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("olia"))
		}, wantErr: "extraction failed: olia"},
		{name: "extract nil", prepare: func() {
			extractorMock.ExpectedCalls = nil
			extractorMock.On("Extract", mock.Anything, mock.Anything).Return(nil, nil)
		}, wantErr: "extraction failed: no report"},
		{name: "render", prepare: func() {
			rendererMock.ExpectedCalls = nil
			rendererMock.On("Render", mock.Anything, mock.Anything, mock.Anything).Return(fmt.Errorf("olia"))
		}, wantErr: "report rendering failed: olia"},
		{name: "panic", prepare: func() {
			extractorMock.ExpectedCalls = nil
			extractorMock.On("Extract", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
				panic("olia")
			}).Return(nil, nil)
		}, wantErr: "internal error: olia"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := initTest(t)
			tt.prepare()
			p := newTestProcessor(t)

			assert.NotPanics(t, func() { p.process(test.Ctx(t), job.ID) })

			res := getJob(t, job.ID)
			assert.Equal(t, status.Failed, res.Status)
			assert.Equal(t, tt.wantErr, res.Error)
			assert.NotNil(t, res.FinishedAt)
			assert.Equal(t, "", res.PDF)
			assert.Nil(t, res.Report)
		})
	}
}

func Test_process_FailSkipsLaterStages(t *testing.T) {
	job := initTest(t)
	transcriberMock.ExpectedCalls = nil
	transcriberMock.On("Transcribe", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", fmt.Errorf("olia"))
	p := newTestProcessor(t)

	p.process(test.Ctx(t), job.ID)

	extractorMock.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
	rendererMock.AssertNotCalled(t, "Render", mock.Anything, mock.Anything, mock.Anything)
}

func Test_process_Timeout(t *testing.T) {
	job := initTest(t)
	srvData.TranscribeTimeout = time.Millisecond * 10
	transcriberMock.ExpectedCalls = nil
	transcriberMock.On("Transcribe", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return("", context.DeadlineExceeded)
	p := newTestProcessor(t)

	p.process(test.Ctx(t), job.ID)

	res := getJob(t, job.ID)
	assert.Equal(t, status.Failed, res.Status)
	assert.Contains(t, res.Error, "transcribe timeout")
}

func Test_process_SkipsNotQueued(t *testing.T) {
	job := initTest(t)
	for _, st := range []status.Status{status.Processing, status.Failed} {
		_, err := jobStore.Update(test.Ctx(t), job.ID, func(j *persistence.Job) error {
			j.Status = st
			j.Error = "interrupted"
			return nil
		})
		require.Nil(t, err)
	}
	p := newTestProcessor(t)

	p.process(test.Ctx(t), job.ID)

	res := getJob(t, job.ID)
	assert.Equal(t, status.Failed, res.Status)
	assert.Equal(t, "interrupted", res.Error)
	transcriberMock.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func Test_process_Missing(t *testing.T) {
	initTest(t)
	p := newTestProcessor(t)
	assert.NotPanics(t, func() { p.process(test.Ctx(t), "missing") })
}

func TestProcessor_StartSubmit(t *testing.T) {
	job := initTest(t)
	p := newTestProcessor(t)
	ctx, cf := context.WithCancel(context.Background())
	done := p.Start(ctx)

	require.Nil(t, p.Submit(job.ID))

	assert.Eventually(t, func() bool {
		return getJob(t, job.ID).Status == status.Completed
	}, time.Second*5, time.Millisecond*10)
	cf()
	select {
	case <-done:
	case <-time.After(time.Second * 5):
		assert.Fail(t, "workers did not exit")
	}
}

func TestProcessor_ReserveEnqueue(t *testing.T) {
	job := initTest(t)
	p := newTestProcessor(t)

	require.Nil(t, p.Reserve())
	require.Nil(t, p.Reserve())
	assert.ErrorIs(t, p.Reserve(), ErrQueueFull)
	p.Enqueue(job.ID)
	assert.Equal(t, 1, p.pool.Pending())
	assert.ErrorIs(t, p.Submit("other"), ErrQueueFull)
	p.Release()

	ctx, cf := context.WithCancel(context.Background())
	done := p.Start(ctx)
	assert.Eventually(t, func() bool {
		return getJob(t, job.ID).Status == status.Completed
	}, time.Second*5, time.Millisecond*10)
	assert.Nil(t, p.Submit("other"))
	cf()
	<-done
}

func TestProcessor_Resubmit(t *testing.T) {
	job := initTest(t)
	srvData.QueueSize = 1
	second := &persistence.Job{ID: "second", SellerID: "S1", UploaderName: "olia", Status: status.Queued,
		CreatedAt: tNow, FileName: "b.mp3", FilePath: job.FilePath, FileMime: "audio/mpeg"}
	require.Nil(t, jobStore.Create(test.Ctx(t), second))
	p := newTestProcessor(t)
	ctx, cf := context.WithCancel(context.Background())
	defer cf()

	resubmitted := p.Resubmit(ctx, []string{job.ID, second.ID})
	done := p.Start(ctx)

	select {
	case <-resubmitted:
	case <-time.After(time.Second * 5):
		require.Fail(t, "not resubmitted")
	}
	assert.Eventually(t, func() bool {
		return getJob(t, job.ID).Status == status.Completed && getJob(t, second.ID).Status == status.Completed
	}, time.Second*5, time.Millisecond*10)
	cf()
	<-done
}

func TestProcessor_ResubmitStops(t *testing.T) {
	initTest(t)
	srvData.QueueSize = 1
	p := newTestProcessor(t)
	ctx, cf := context.WithCancel(context.Background())

	resubmitted := p.Resubmit(ctx, []string{"1", "2", "3"})
	cf()
	select {
	case <-resubmitted:
	case <-time.After(time.Second * 5):
		require.Fail(t, "resubmit did not stop")
	}
	assert.LessOrEqual(t, p.pool.Pending(), 1)
}

func TestArtifactName(t *testing.T) {
	tests := []struct {
		file, seller, id string
		want             string
	}{
		{file: "call.mp3", seller: "S1", id: "abcdefghijk", want: "call_s1_04-03_05-06-07_abcdefgh.pdf"},
		{file: "My  Call!!.final.WAV", seller: "AB/CD", id: "12", want: "my_call_final_ab_cd_04-03_05-06-07_12.pdf"},
		{file: "", seller: "", id: "12345678", want: "audio_seller_04-03_05-06-07_12345678.pdf"},
		{file: "!!!.mp3", seller: "...", id: "x", want: "audio_seller_04-03_05-06-07_x.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ArtifactName(tt.file, tt.seller, tNow, tt.id))
		})
	}
}
