package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/airenas/callaudit/internal/pkg/persistence"
	"github.com/airenas/callaudit/internal/pkg/status"
)

// Memory keeps jobs in process memory
type Memory struct {
	lock sync.RWMutex
	jobs map[string]*persistence.Job
}

// NewMemory creates empty job store
func NewMemory() *Memory {
	return &Memory{jobs: map[string]*persistence.Job{}}
}

// Create inserts a new job
func (m *Memory) Create(ctx context.Context, job *persistence.Job) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, persistence.ErrDuplicateKey)
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a copy of the job
func (m *Memory) Get(ctx context.Context, id string) (*persistence.Job, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return j.Clone(), nil
}

// Update applies f to a copy of the job and replaces the stored record with it.
// Readers see either the old or the new record, never a partial one.
func (m *Memory) Update(ctx context.Context, id string, f func(*persistence.Job) error) (*persistence.Job, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	old, ok := m.jobs[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	next := old.Clone()
	if err := f(next); err != nil {
		return nil, err
	}
	next.KeepIdentity(old)
	if err := status.CheckTransition(old.Status, next.Status); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	m.jobs[id] = next
	return next.Clone(), nil
}

// List returns the filtered page of jobs, newest first
func (m *Memory) List(ctx context.Context, filter persistence.Filter, page persistence.Page) (*persistence.ListResult, error) {
	filter = filter.Normalize()
	all := m.sorted(func(j *persistence.Job) bool { return matches(j, filter) })
	res := persistence.Paginate(len(all), page)
	from := res.Offset()
	to := from + res.PageSize
	if to > len(all) {
		to = len(all)
	}
	res.Jobs = all[from:to]
	return res, nil
}

// ListBySeller returns all seller's jobs, newest first
func (m *Memory) ListBySeller(ctx context.Context, sellerID string) ([]*persistence.Job, error) {
	return m.sorted(func(j *persistence.Job) bool { return j.SellerID == sellerID }), nil
}

func (m *Memory) sorted(keep func(*persistence.Job) bool) []*persistence.Job {
	m.lock.RLock()
	res := make([]*persistence.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if keep(j) {
			res = append(res, j.Clone())
		}
	}
	m.lock.RUnlock()

	sort.Slice(res, func(i, k int) bool {
		if res[i].CreatedAt.Equal(res[k].CreatedAt) {
			return res[i].ID > res[k].ID
		}
		return res[i].CreatedAt.After(res[k].CreatedAt)
	})
	return res
}

func matches(j *persistence.Job, f persistence.Filter) bool {
	if f.Status != 0 && j.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && j.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && j.CreatedAt.After(f.To) {
		return false
	}
	if s := strings.ToLower(strings.TrimSpace(f.Search)); s != "" {
		return contains(j.ID, s) || contains(j.SellerID, s) || contains(j.UploaderName, s) ||
			contains(j.Status.String(), s)
	}
	return true
}

func contains(v, lowerPart string) bool {
	return strings.Contains(strings.ToLower(v), lowerPart)
}
