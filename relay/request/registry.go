package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/curatorbot/core/clock"
	"github.com/m3rciful/curatorbot/core/codec"
	"github.com/m3rciful/curatorbot/core/kvstore"
	"github.com/m3rciful/curatorbot/core/logger"
)

const (
	keyPrefix   = "request:"
	indexPrefix = "submitter:"

	maxIDProbes = 1000
)

var errIDTaken = errors.New("request id taken")

// Key returns the store key of request id.
func Key(id string) string { return keyPrefix + id }

func indexKey(submitterID int64) string {
	return indexPrefix + strconv.FormatInt(submitterID, 10)
}

// Registry persists requests in a kvstore.Store. Every mutation is a single
// Store.Update so concurrent writers always act on the latest value.
type Registry struct {
	store   kvstore.Store
	clock   clock.Clock
	horizon time.Duration
}

// NewRegistry builds a registry. Records live for horizon from creation;
// zero means kvstore.DefaultHorizon.
func NewRegistry(store kvstore.Store, c clock.Clock, horizon time.Duration) *Registry {
	if c == nil {
		c = clock.Real()
	}
	if horizon <= 0 {
		horizon = kvstore.DefaultHorizon
	}
	return &Registry{store: store, clock: c, horizon: horizon}
}

// Create stores a new request in status New and indexes it under its
// submitter. The index entry is written first; an id left dangling by a
// failed request write is skipped on read.
func (r *Registry) Create(ctx context.Context, in NewRequest) (Request, error) {
	if !in.Category.Valid() {
		return Request{}, fmt.Errorf("%w: %q", ErrInvalidCategory, in.Category)
	}
	now := r.clock.Now()
	req := Request{
		SubmitterID:       in.SubmitterID,
		SubmitterLabel:    in.Label,
		SubmitterUsername: in.Username,
		Category:          in.Category,
		Text:              in.Text,
		Status:            StatusNew,
		CreatedAt:         now,
		LastActivityAt:    now,
	}

	ms := now.UnixMilli()
	for probe := 0; probe < maxIDProbes; probe, ms = probe+1, ms+1 {
		req.ID = fmt.Sprintf("%d-%d", ms, in.SubmitterID)
		if _, taken, err := r.store.Get(ctx, Key(req.ID)); err != nil {
			return Request{}, fmt.Errorf("create request: %w", err)
		} else if taken {
			continue
		}
		if err := r.index(ctx, in.SubmitterID, req.ID); err != nil {
			return Request{}, err
		}
		err := r.store.Update(ctx, Key(req.ID), r.horizon, func(_ []byte, exists bool) ([]byte, error) {
			if exists {
				return nil, errIDTaken
			}
			return codec.Marshal(req)
		})
		if errors.Is(err, errIDTaken) {
			continue
		}
		if err != nil {
			return Request{}, fmt.Errorf("create request: %w", err)
		}
		logger.Info(ctx, logger.CompRegistry, "request.create",
			slog.String("status", "ok"),
			slog.String("request_id", req.ID),
			slog.Int64("submitter_id", req.SubmitterID),
			slog.String("category", string(req.Category)),
		)
		return req, nil
	}
	return Request{}, fmt.Errorf("create request: no free id for submitter %d", in.SubmitterID)
}

func (r *Registry) index(ctx context.Context, submitterID int64, id string) error {
	err := r.store.Update(ctx, indexKey(submitterID), r.horizon, func(cur []byte, exists bool) ([]byte, error) {
		var ids []string
		if exists {
			if err := codec.Unmarshal(cur, &ids); err != nil {
				return nil, err
			}
		}
		live := ids[:0]
		for _, old := range ids {
			if r.ttl(old) > 0 {
				live = append(live, old)
			}
		}
		return codec.Marshal(append(live, id))
	})
	if err != nil {
		return fmt.Errorf("index request %s: %w", id, err)
	}
	return nil
}

// Get loads a live request.
func (r *Registry) Get(ctx context.Context, id string) (Request, error) {
	data, ok, err := r.store.Get(ctx, Key(id))
	if err != nil {
		return Request{}, fmt.Errorf("get request %s: %w", id, err)
	}
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	var req Request
	if err := codec.Unmarshal(data, &req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// RecordDeliveryAttempt counts an attempt. Success moves New to Waiting;
// failure leaves the status and only refreshes LastActivityAt.
func (r *Registry) RecordDeliveryAttempt(ctx context.Context, id string, succeeded bool) (Request, error) {
	return r.mutate(ctx, id, "request.delivery", func(req *Request) error {
		req.DeliveryAttempts++
		if succeeded && req.Status == StatusNew {
			req.Status = StatusWaiting
		}
		return nil
	})
}

// RecordAnswer attaches the admin reply. Answering twice yields
// ErrAlreadyAnswered and leaves the first answer untouched.
func (r *Registry) RecordAnswer(ctx context.Context, id, text, byLabel string) (Request, error) {
	return r.mutate(ctx, id, "request.answer", func(req *Request) error {
		switch req.Status {
		case StatusAnswered:
			return ErrAlreadyAnswered
		case StatusWaiting, StatusTimeout:
		default:
			return fmt.Errorf("%w: answer from %s", ErrInvalidTransition, req.Status)
		}
		req.Status = StatusAnswered
		req.Answer = &Answer{Text: text, AnsweredBy: byLabel, AnsweredAt: r.clock.Now()}
		return nil
	})
}

// Reclassify changes the category of an unanswered request.
func (r *Registry) Reclassify(ctx context.Context, id string, category Category) (Request, error) {
	if !category.Valid() {
		return Request{}, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	return r.mutate(ctx, id, "request.reclassify", func(req *Request) error {
		if req.Status == StatusAnswered {
			return ErrAlreadyAnswered
		}
		req.Category = category
		return nil
	})
}

// MarkTimedOut moves a Waiting request to TimedOut.
func (r *Registry) MarkTimedOut(ctx context.Context, id string) (Request, error) {
	return r.mutate(ctx, id, "request.timeout", func(req *Request) error {
		if req.Status != StatusWaiting {
			return fmt.Errorf("%w: timeout from %s", ErrInvalidTransition, req.Status)
		}
		req.Status = StatusTimeout
		return nil
	})
}

func (r *Registry) mutate(ctx context.Context, id, event string, apply func(*Request) error) (Request, error) {
	var out Request
	var from Status
	err := r.store.Update(ctx, Key(id), max(r.ttl(id), time.Millisecond), func(cur []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
		}
		var req Request
		if err := codec.Unmarshal(cur, &req); err != nil {
			return nil, err
		}
		from = req.Status
		if err := apply(&req); err != nil {
			return nil, err
		}
		req.LastActivityAt = r.clock.Now()
		out = req
		return codec.Marshal(req)
	})
	if err != nil {
		logger.Debug(ctx, logger.CompRegistry, event,
			slog.String("status", "fail"),
			slog.String("request_id", id),
			slog.String("from", string(from)),
			logger.Err(err),
		)
		return Request{}, err
	}
	logger.Debug(ctx, logger.CompRegistry, event,
		slog.String("status", "ok"),
		slog.String("request_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(out.Status)),
	)
	return out, nil
}

// ttl is what is left of a request's horizon; records are rewritten on
// their original expiry. The creation time is encoded in the id, so no
// extra read is needed. Zero means the request has expired.
func (r *Registry) ttl(id string) time.Duration {
	ms, _, ok := strings.Cut(id, "-")
	if !ok {
		return r.horizon
	}
	created, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return r.horizon
	}
	return max(time.UnixMilli(created).Add(r.horizon).Sub(r.clock.Now()), 0)
}

// ListBySubmitter returns the submitter's live requests oldest first.
func (r *Registry) ListBySubmitter(ctx context.Context, submitterID int64) ([]Request, error) {
	data, ok, err := r.store.Get(ctx, indexKey(submitterID))
	if err != nil {
		return nil, fmt.Errorf("list submitter %d: %w", submitterID, err)
	}
	if !ok {
		return nil, nil
	}
	var ids []string
	if err := codec.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	out := make([]Request, 0, len(ids))
	for _, id := range ids {
		req, err := r.Get(ctx, id)
		if errors.Is(err, ErrRequestNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// List returns every live request ordered by creation time.
func (r *Registry) List(ctx context.Context) ([]Request, error) {
	keys, err := r.store.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	out := make([]Request, 0, len(keys))
	for _, k := range keys {
		req, err := r.Get(ctx, strings.TrimPrefix(k, keyPrefix))
		if errors.Is(err, ErrRequestNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Stats counts live requests by status and distinct submitters.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	reqs, err := r.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Total: len(reqs), ByStatus: make(map[Status]int, 4)}
	seen := make(map[int64]struct{})
	for _, req := range reqs {
		s.ByStatus[req.Status]++
		seen[req.SubmitterID] = struct{}{}
	}
	s.Submitters = len(seen)
	return s, nil
}
