package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"deepintrospect/backend/internal/metrics"
	"deepintrospect/backend/pkg/logger"
)

// Job asks for post-turn processing of one conversation
type Job struct {
	UserID         string
	ConversationID string
	// TurnID identifies the turn that produced the job; a turn is attempted at most once
	TurnID      string
	SubmittedAt time.Time
}

func (j Job) key() string {
	return j.ConversationID + "/" + j.TurnID
}

// Handler runs one job
type Handler interface {
	Process(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Process(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// DispatcherConfig sizes the worker pool
type DispatcherConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	Metrics    *metrics.Collector
}

// Dispatcher is a bounded submit-and-detach queue drained by a fixed set of workers.
// Jobs are never retried and Submit never blocks.
type Dispatcher struct {
	handler Handler
	cfg     DispatcherConfig
	logger  *zap.Logger

	queue chan Job

	mu      sync.Mutex
	closed  bool
	started bool
	pending map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(handler Handler, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler: handler,
		cfg:     cfg,
		logger:  logger.Named("pipeline"),
		queue:   make(chan Job, cfg.QueueSize),
		pending: make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling it again has no effect.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func(worker int) {
			defer d.wg.Done()
			for job := range d.queue {
				d.cfg.Metrics.QueueDepth(len(d.queue))
				d.run(worker, job)
			}
		}(i)
	}
	d.logger.Info("Pipeline dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("queue_size", d.cfg.QueueSize),
		zap.Duration("job_timeout", d.cfg.JobTimeout),
	)
}

// Submit enqueues job and reports whether it was accepted. A full queue, a stopped dispatcher or
// a turn that is already queued or running drops the job.
func (d *Dispatcher) Submit(job Job) bool {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	reason := ""
	switch {
	case d.closed:
		reason = "stopped"
	default:
		if _, dup := d.pending[job.key()]; dup {
			reason = "duplicate"
			break
		}
		select {
		case d.queue <- job:
			d.pending[job.key()] = struct{}{}
			d.cfg.Metrics.QueueDepth(len(d.queue))
			return true
		default:
			reason = "queue_full"
		}
	}

	d.cfg.Metrics.PipelineJob("dropped", time.Time{})
	d.logger.Warn("Dropped pipeline job",
		zap.String("reason", reason),
		zap.String("user_id", job.UserID),
		zap.String("conversation_id", job.ConversationID),
	)
	return false
}

// Stop refuses new jobs, lets queued jobs drain and waits for the workers. If ctx ends first,
// running jobs are cancelled and ctx's error is returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info("Pipeline dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.cancel()
		d.logger.Warn("Pipeline dispatcher stop timed out; cancelling running jobs")
		return ctx.Err()
	}
}

func (d *Dispatcher) run(worker int, job Job) {
	started := time.Now()
	defer func() {
		d.mu.Lock()
		delete(d.pending, job.key())
		d.mu.Unlock()
	}()

	ctx := d.ctx
	if d.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(d.ctx, d.cfg.JobTimeout)
		defer cancel()
	}

	err := d.safeProcess(ctx, job)
	fields := []zap.Field{
		zap.Int("worker", worker),
		zap.String("user_id", job.UserID),
		zap.String("conversation_id", job.ConversationID),
		zap.Duration("queued", started.Sub(job.SubmittedAt)),
		zap.Duration("elapsed", time.Since(started)),
	}
	switch {
	case err == nil:
		d.cfg.Metrics.PipelineJob("success", started)
		d.logger.Debug("Pipeline job finished", fields...)
	case errors.Is(err, ErrBelowThreshold):
		d.cfg.Metrics.PipelineJob("skipped", started)
		d.logger.Debug("Pipeline job skipped", fields...)
	default:
		d.cfg.Metrics.PipelineJob("error", started)
		d.logger.Error("Pipeline job failed", append(fields, zap.Error(err))...)
	}
}

// safeProcess keeps a panicking job from taking its worker down
func (d *Dispatcher) safeProcess(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline job panicked: %v", r)
		}
	}()
	return d.handler.Process(ctx, job)
}
