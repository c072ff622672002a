// Package sender runs outbound Telegram calls on a small worker pool with
// retries, so handlers do not block on the Bot API.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/curatorbot/core/logger"
	"github.com/m3rciful/curatorbot/core/telegram/netutil"
)

var (
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull is returned when the job was not accepted.
	ErrQueueFull = errors.New("telegram sender: queue full")
)

// Options controls the dispatcher. Zero values take defaults.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent on a single job, retries included.
	MaxDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
	return o
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

// Dispatcher executes queued calls asynchronously.
type Dispatcher struct {
	opts Options

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup

	sent atomic.Uint64
	errs atomic.Uint64
}

// NewDispatcher starts the workers.
func NewDispatcher(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{
		opts: opts,
		jobs: make(chan job, opts.QueueSize),
	}
	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go d.worker()
	}
	return d
}

// Enqueue schedules run. run may be called more than once when it fails
// with a retryable error.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.jobs <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stats returns the number of completed and failed jobs.
func (d *Dispatcher) Stats() (sent, failed uint64) {
	return d.sent.Load(), d.errs.Load()
}

// Close stops accepting jobs and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.handle(j)
	}
}

func (d *Dispatcher) handle(j job) {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	// The update that queued the job may be finished already; only its
	// values matter here.
	deadline, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := d.opts.MaxRetries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = j.run(); err == nil {
			d.sent.Add(1)
			logger.Debug(ctx, logger.CompTG, "send.ok", append(jobAttrs(j),
				slog.Int("attempt", attempt),
				slog.Duration("took", logger.Took(start)),
			)...)
			return
		}
		if !netutil.ShouldRetry(err) || attempt == attempts {
			break
		}
		delay := netutil.Backoff(err, attempt, d.opts.RetryBackoff)
		timer := time.NewTimer(delay)
		select {
		case <-deadline.Done():
			timer.Stop()
			err = errors.Join(err, deadline.Err())
			attempt = attempts
		case <-timer.C:
			logger.Debug(ctx, logger.CompTG, "send.retry", append(jobAttrs(j),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)...)
		}
	}

	d.errs.Add(1)
	logger.Error(ctx, logger.CompTG, "send.fail", append(jobAttrs(j),
		slog.String("err", Redact(err)),
		slog.String("err_kind", Classify(err)),
		slog.Duration("took", logger.Took(start)),
	)...)
}

func jobAttrs(j job) []slog.Attr {
	attrs := []slog.Attr{slog.String("action", j.action)}
	if j.endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", j.endpoint))
	}
	return attrs
}
