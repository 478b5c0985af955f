package mocks

import (
	"context"

	"github.com/airenas/callaudit/internal/pkg/checklist"
	"github.com/stretchr/testify/mock"
)

// Transcriber is transcription client mock
type Transcriber struct{ mock.Mock }

func (m *Transcriber) Transcribe(ctx context.Context, file, name, mime string) (string, error) {
	args := m.Called(ctx, file, name, mime)
	return args.String(0), args.Error(1)
}

// Extractor is checklist extraction client mock
type Extractor struct{ mock.Mock }

func (m *Extractor) Extract(ctx context.Context, transcript string) (*checklist.Report, error) {
	args := m.Called(ctx, transcript)
	return to[*checklist.Report](args.Get(0)), args.Error(1)
}

// Renderer is pdf renderer mock
type Renderer struct{ mock.Mock }

func (m *Renderer) Render(ctx context.Context, rep *checklist.Report, file string) error {
	args := m.Called(ctx, rep, file)
	return args.Error(0)
}

// Submitter is job processor mock
type Submitter struct{ mock.Mock }

func (m *Submitter) Reserve() error {
	args := m.Called()
	return args.Error(0)
}

func (m *Submitter) Release() {
	m.Called()
}

func (m *Submitter) Enqueue(id string) {
	m.Called(id)
}

func to[T interface{}](val interface{}) T {
	if val == nil {
		var res T
		return res
	}
	return val.(T)
}
