package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/statisticsnorway/rawdata-converter-boss/internal/store"
)

// defaultPollInterval is used when the configured interval is zero.
const defaultPollInterval = 2 * time.Second

// Pool manages one polling goroutine per registered source. Each goroutine
// claims jobs for its source via the store's atomic claim and runs the
// registered handler. Registering with [AnySource] polls across all sources;
// a job whose source has its own registered handler always runs that handler,
// whichever goroutine claimed it.
type Pool struct {
	store        *store.Store
	workerID     string
	pollInterval time.Duration
	mu           sync.RWMutex
	handlers     map[string]Handler
}

// AnySource registers a handler that claims jobs regardless of their source.
const AnySource = ""

// New creates a Pool backed by s. A random workerID is generated at
// construction time to identify this process in logs.
func New(s *store.Store, pollInterval time.Duration) *Pool {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Pool{
		store:        s,
		workerID:     uuid.New().String(),
		pollInterval: pollInterval,
		handlers:     make(map[string]Handler),
	}
}

// Register associates h with the given source. Must be called before Start.
func (p *Pool) Register(source string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[source] = h
}

// Start launches one polling goroutine per registered source, then blocks
// until ctx is cancelled. On cancellation the goroutines stop claiming, any
// in-flight job completes, and Start returns once all goroutines have exited.
func (p *Pool) Start(ctx context.Context) {
	p.mu.RLock()
	sources := make([]string, 0, len(p.handlers))
	for s := range p.handlers {
		sources = append(sources, s)
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sources {
		wg.Add(1)
		go func(source string) {
			defer wg.Done()
			p.runSource(ctx, source)
		}(s)
	}
	wg.Wait()
	slog.Info("worker pool stopped", "worker_id", p.workerID)
}

// runSource polls for jobs of one source until ctx is cancelled. Uses
// time.NewTicker (not time.After) to avoid timer leaks.
func (p *Pool) runSource(ctx context.Context, source string) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	slog.Info("worker started", "source", source, "worker_id", p.workerID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopping", "source", source)
			return
		case <-ticker.C:
			p.processOne(ctx, source)
		}
	}
}

// processOne claims one job and executes its handler. Errors are logged but
// never stop the polling loop.
func (p *Pool) processOne(ctx context.Context, source string) {
	job, err := p.store.ClaimNext(ctx, source)
	if err != nil {
		slog.Error("claim job error", "source", source, "error", err)
		return
	}
	if job == nil {
		return // nothing available; normal case
	}

	// Dispatch on the claimed job's source, not the polled one: the AnySource
	// goroutine can claim a job whose source also has a dedicated handler,
	// and that handler must win.
	p.mu.RLock()
	h, ok := p.handlers[job.Source]
	if !ok {
		h = p.handlers[AnySource]
	}
	p.mu.RUnlock()

	slog.Info("executing job",
		"source", job.Source, "job_id", job.ID, "worker_id", p.workerID)

	if err := h(ctx, job.Document); err != nil {
		// The job stays ACTIVE. There is no retry; an operator decides what
		// to do with jobs stuck in ACTIVE.
		slog.Error("job handler failed",
			"source", job.Source, "job_id", job.ID, "error", err)
		return
	}

	if _, err := p.store.MarkDone(ctx, job.Source, job.ID); err != nil {
		slog.Error("mark done error", "job_id", job.ID, "error", err)
		return
	}
	slog.Info("job completed", "source", job.Source, "job_id", job.ID)
}
