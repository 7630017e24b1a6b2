package artifacts

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/certkeeper/internal/logging"
)

// Regenerator renders and stores the artifacts of one certificate.
type Regenerator interface {
	RegenerateArtifacts(ctx context.Context, certificateID string) error
}

// Pipeline renders artifacts after issuance, outside the request path.
// Jobs are attempted once; a failure leaves the URLs empty until an
// explicit regenerate call succeeds.
type Pipeline struct {
	regen   Regenerator
	log     logging.Logger
	jobs    chan string
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPipeline creates a pipeline with a queue of the given size.
func NewPipeline(regen Regenerator, log logging.Logger, queueSize int, timeout time.Duration) *Pipeline {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Pipeline{
		regen:   regen,
		log:     log.With("module", "artifacts"),
		jobs:    make(chan string, queueSize),
		timeout: timeout,
	}
}

// Start launches the given number of workers. They stop after Close once
// the queue is drained.
func (p *Pipeline) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Enqueue schedules rendering and reports false when the queue is full
// or the pipeline is closed.
func (p *Pipeline) Enqueue(certificateID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- certificateID:
		return true
	default:
		p.log.Warn(context.Background(), "artifact queue full, job dropped", "certificate_id", certificateID)
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for id := range p.jobs {
		p.run(ctx, id)
	}
}

func (p *Pipeline) run(parent context.Context, certificateID string) {
	// Jobs outlive the request that scheduled them but not the process.
	ctx := context.WithoutCancel(parent)
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.regen.RegenerateArtifacts(ctx, certificateID); err != nil {
		p.log.Warn(ctx, "artifact generation failed", "certificate_id", certificateID, "error", err)
		return
	}
	p.log.Info(ctx, "artifacts generated", "certificate_id", certificateID)
}
