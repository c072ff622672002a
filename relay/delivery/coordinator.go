// Package delivery hands new requests to the admin and keeps retrying the
// ones that could not be delivered.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/curatorbot/core/clock"
	"github.com/m3rciful/curatorbot/core/kvstore"
	"github.com/m3rciful/curatorbot/core/logger"
	"github.com/m3rciful/curatorbot/relay/notify"
	"github.com/m3rciful/curatorbot/relay/request"
)

// ErrDeliveryFailure marks a request that reached the retry queue instead
// of the admin.
var ErrDeliveryFailure = errors.New("delivery failed")

const (
	DefaultResponseTimeout = 30 * time.Minute
	DefaultBatchSize       = 5
	DefaultSendTimeout     = 15 * time.Second
	DefaultSweepInterval   = 2 * time.Minute
)

// Armer schedules the response-window check of a delivered request.
type Armer interface {
	Arm(id string, delay time.Duration)
}

// Options tune the coordinator. Zero values take the defaults above; a
// zero Pause sweeps without pausing.
type Options struct {
	AdminID         int64
	ResponseTimeout time.Duration
	SweepInterval   time.Duration
	BatchSize       int
	Pause           time.Duration
	SendTimeout     time.Duration
	// MaxAttempts drops a request after that many failed attempts; zero
	// keeps retrying until the request expires.
	MaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Pause < 0 {
		o.Pause = 0
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.MaxAttempts < 0 {
		o.MaxAttempts = 0
	}
	return o
}

// SweepResult reports what one sweep did.
type SweepResult struct {
	Skipped   bool
	Processed int
	Delivered int
	Requeued  int
	Dropped   int
}

// Coordinator delivers requests to the admin and owns the retry queue.
type Coordinator struct {
	registry  *request.Registry
	messenger notify.Messenger
	monitor   Armer
	clock     clock.Clock
	queue     queue
	opts      Options

	sweepMu sync.Mutex
}

// New builds a coordinator. monitor may be nil when no response window is
// enforced.
func New(reg *request.Registry, store kvstore.Store, m notify.Messenger, monitor Armer, c clock.Clock, opts Options) *Coordinator {
	if c == nil {
		c = clock.Real()
	}
	return &Coordinator{
		registry:  reg,
		messenger: m,
		monitor:   monitor,
		clock:     c,
		queue:     queue{store: store},
		opts:      opts.withDefaults(),
	}
}

// Deliver sends r to the admin. On transport failure r is queued for retry
// and the returned error wraps ErrDeliveryFailure.
func (c *Coordinator) Deliver(ctx context.Context, r request.Request) error {
	start := time.Now()
	sendErr := c.send(ctx, r)
	if sendErr != nil {
		if _, err := c.registry.RecordDeliveryAttempt(ctx, r.ID, false); err != nil {
			logger.Warn(ctx, logger.CompDelivery, "delivery.record",
				slog.String("status", "fail"),
				slog.String("request_id", r.ID),
				logger.Err(err),
			)
		}
		if _, err := c.queue.push(ctx, r.ID); err != nil {
			// Resume picks the request up again on the next start.
			logger.Error(ctx, logger.CompDelivery, "delivery.enqueue",
				slog.String("status", "fail"),
				slog.String("request_id", r.ID),
				logger.Err(err),
			)
			return fmt.Errorf("%w: %s: %w", ErrDeliveryFailure, r.ID, errors.Join(sendErr, err))
		}
		logger.Warn(ctx, logger.CompDelivery, "delivery.send",
			slog.String("status", "fail"),
			slog.String("request_id", r.ID),
			slog.Bool("queued", true),
			slog.Duration("took", logger.Took(start)),
			logger.Err(sendErr),
		)
		return fmt.Errorf("%w: %s: %v", ErrDeliveryFailure, r.ID, sendErr)
	}

	c.delivered(ctx, r.ID)
	logger.Info(ctx, logger.CompDelivery, "delivery.send",
		slog.String("status", "ok"),
		slog.String("request_id", r.ID),
		slog.Duration("took", logger.Took(start)),
	)
	return nil
}

// delivered records a successful attempt and arms the response window.
func (c *Coordinator) delivered(ctx context.Context, id string) {
	if _, err := c.registry.RecordDeliveryAttempt(ctx, id, true); err != nil {
		logger.Warn(ctx, logger.CompDelivery, "delivery.record",
			slog.String("status", "fail"),
			slog.String("request_id", id),
			logger.Err(err),
		)
		return
	}
	if c.monitor != nil {
		c.monitor.Arm(id, c.opts.ResponseTimeout)
	}
}

// send is one delivery attempt. When the native dialog link is rejected
// the summary is resent once with the web link, within the same deadline.
func (c *Coordinator) send(ctx context.Context, r request.Request) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	defer cancel()

	text := notify.AdminSummary(r)
	actions := notify.AdminActions(r)
	err := c.messenger.Notify(ctx, c.opts.AdminID, text, actions...)
	if err == nil || ctx.Err() != nil {
		return err
	}
	web := notify.WebLink(r.SubmitterID, r.SubmitterUsername)
	logger.Debug(ctx, logger.CompDelivery, "delivery.fallback",
		slog.String("request_id", r.ID),
		logger.Err(err),
	)
	if err2 := c.messenger.Notify(ctx, c.opts.AdminID, text, notify.WithURL(actions, notify.DialogLink(r.SubmitterID), web)...); err2 != nil {
		return errors.Join(err, err2)
	}
	return nil
}

// Pending lists the queued request ids head first.
func (c *Coordinator) Pending(ctx context.Context) ([]string, error) {
	return c.queue.list(ctx)
}

// Sweep retries at most BatchSize queued requests, pausing between them.
// Failures go back to the tail. A sweep that finds another one running
// returns immediately with Skipped set.
func (c *Coordinator) Sweep(ctx context.Context) (SweepResult, error) {
	if !c.sweepMu.TryLock() {
		return SweepResult{Skipped: true}, nil
	}
	defer c.sweepMu.Unlock()

	ids, err := c.queue.pop(ctx, c.opts.BatchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("pop retry queue: %w", err)
	}
	var res SweepResult
	var failed []string
	for i, id := range ids {
		if i > 0 && !c.pause(ctx) {
			// Put the untouched rest back so nothing is lost on shutdown.
			failed = append(failed, ids[i:]...)
			break
		}
		res.Processed++
		switch c.retry(ctx, id) {
		case outcomeDelivered:
			res.Delivered++
		case outcomeRequeue:
			failed = append(failed, id)
		case outcomeDrop:
			res.Dropped++
		}
	}
	res.Requeued = len(failed)
	if _, err := c.queue.push(context.WithoutCancel(ctx), failed...); err != nil {
		return res, fmt.Errorf("requeue: %w", err)
	}
	if res.Processed > 0 {
		logger.Info(ctx, logger.CompDelivery, "delivery.sweep",
			slog.Int("batch", res.Processed),
			slog.Int("count", res.Delivered),
			slog.Int("queued", res.Requeued),
			slog.Int("dropped", res.Dropped),
		)
	}
	return res, nil
}

// Resume queues every undelivered request that is missing from the retry
// queue, such as one whose enqueue failed or a batch lost mid-sweep. It
// returns the number of ids added.
func (c *Coordinator) Resume(ctx context.Context) (int, error) {
	reqs, err := c.registry.List(ctx)
	if err != nil {
		return 0, err
	}
	var ids []string
	for _, r := range reqs {
		if r.Status == request.StatusNew {
			ids = append(ids, r.ID)
		}
	}
	n, err := c.queue.push(ctx, ids...)
	if err != nil {
		return 0, fmt.Errorf("resume retry queue: %w", err)
	}
	logger.Info(ctx, logger.CompDelivery, "delivery.resume", slog.Int("queued", n))
	return n, nil
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeRequeue
	outcomeDrop
)

func (c *Coordinator) retry(ctx context.Context, id string) outcome {
	r, err := c.registry.Get(ctx, id)
	if errors.Is(err, request.ErrRequestNotFound) {
		logger.Debug(ctx, logger.CompDelivery, "delivery.drop", slog.String("request_id", id), slog.String("reason", "expired"))
		return outcomeDrop
	}
	if err != nil {
		logger.Warn(ctx, logger.CompDelivery, "delivery.retry", slog.String("status", "fail"), slog.String("request_id", id), logger.Err(err))
		return outcomeRequeue
	}
	if r.Status != request.StatusNew {
		logger.Debug(ctx, logger.CompDelivery, "delivery.drop", slog.String("request_id", id), slog.String("reason", string(r.Status)))
		return outcomeDrop
	}

	if sendErr := c.send(ctx, r); sendErr != nil {
		updated, err := c.registry.RecordDeliveryAttempt(ctx, id, false)
		if errors.Is(err, request.ErrRequestNotFound) {
			return outcomeDrop
		}
		if c.opts.MaxAttempts > 0 && err == nil && updated.DeliveryAttempts >= c.opts.MaxAttempts {
			logger.Error(ctx, logger.CompDelivery, "delivery.give_up",
				slog.String("request_id", id),
				slog.Int("attempt", updated.DeliveryAttempts),
				logger.Err(sendErr),
			)
			c.tell(ctx, r.SubmitterID, notify.TextResubmit)
			return outcomeDrop
		}
		logger.Debug(ctx, logger.CompDelivery, "delivery.retry",
			slog.String("status", "fail"),
			slog.String("request_id", id),
			slog.Int("attempt", updated.DeliveryAttempts),
			logger.Err(sendErr),
		)
		return outcomeRequeue
	}

	c.delivered(ctx, id)
	c.tell(ctx, r.SubmitterID, notify.TextNowVisible)
	return outcomeDelivered
}

func (c *Coordinator) tell(ctx context.Context, actorID int64, text string) {
	if err := c.messenger.Notify(ctx, actorID, text); err != nil {
		logger.Warn(ctx, logger.CompDelivery, "delivery.notify_submitter",
			slog.String("status", "fail"),
			slog.Int64("submitter_id", actorID),
			logger.Err(err),
		)
	}
}

func (c *Coordinator) pause(ctx context.Context) bool {
	if c.opts.Pause <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(c.opts.Pause):
		return true
	}
}

// Run sweeps every SweepInterval until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	t := c.clock.NewTicker(c.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := c.Sweep(ctx); err != nil {
				logger.Error(ctx, logger.CompDelivery, "delivery.sweep", slog.String("status", "fail"), logger.Err(err))
			}
		}
	}
}
