package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/pkg/errors"
)

// ErrQueueFull is returned by Reserve when no queue slot is free
var ErrQueueFull = errors.New("processing queue is full")

// Pool runs a fixed number of workers over a buffered queue of job IDs
type Pool struct {
	queue   chan string
	// slots counts reserved and queued IDs
	slots   chan struct{}
	count   int
	handler func(context.Context, string)
}

// NewPool creates a pool, call Start to run the workers
func NewPool(count, queueSize int, handler func(context.Context, string)) (*Pool, error) {
	if count < 1 {
		return nil, fmt.Errorf("no worker count provided")
	}
	if queueSize < 1 {
		return nil, fmt.Errorf("wrong queue size %d", queueSize)
	}
	if handler == nil {
		return nil, fmt.Errorf("no handler")
	}
	return &Pool{queue: make(chan string, queueSize), slots: make(chan struct{}, queueSize), count: count,
		handler: handler}, nil
}

// Start runs workers until ctx is cancelled.
// Returns channel closed when all workers exit.
func (p *Pool) Start(ctx context.Context) <-chan struct{} {
	res := make(chan struct{})
	wg := &sync.WaitGroup{}
	for i := 0; i < p.count; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.run(ctx, n)
		}(i)
	}
	go func() {
		wg.Wait()
		goapp.Log.Info().Msg("Pool workers finished")
		close(res)
	}()
	goapp.Log.Info().Int("workers", p.count).Int("queue", cap(p.queue)).Msg("Started workers")
	return res
}

func (p *Pool) run(ctx context.Context, n int) {
	for {
		select {
		case <-ctx.Done():
			goapp.Log.Debug().Int("worker", n).Msg("exit")
			return
		case id := <-p.queue:
			<-p.slots
			p.handler(ctx, id)
		}
	}
}

// Reserve takes a queue slot without blocking, returns ErrQueueFull if none is free.
// A reservation ends with Enqueue or Release.
func (p *Pool) Reserve() error {
	select {
	case p.slots <- struct{}{}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Release returns an unused reservation
func (p *Pool) Release() {
	select {
	case <-p.slots:
	default:
	}
}

// Enqueue puts ID into a reserved slot, never blocks
func (p *Pool) Enqueue(id string) {
	p.queue <- id
}

// Submit reserves a slot and enqueues ID without blocking
func (p *Pool) Submit(id string) error {
	if err := p.Reserve(); err != nil {
		return err
	}
	p.Enqueue(id)
	return nil
}

// SubmitWait waits for a free slot until ctx is done
func (p *Pool) SubmitWait(ctx context.Context, id string) error {
	select {
	case p.slots <- struct{}{}:
		p.Enqueue(id)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued IDs
func (p *Pool) Pending() int {
	return len(p.queue)
}
