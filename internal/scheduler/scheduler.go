// Package scheduler serialises all outbound provider calls behind a shared
// sliding-window quota. A single background worker drains the queue so the
// window counter never needs cross-goroutine reconciliation.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/strideleague/pointsd/internal/credentials"
	"github.com/strideleague/pointsd/internal/domain"
)

// Executor performs one upstream call on behalf of the worker.
type Executor interface {
	Execute(ctx context.Context, accessToken string, req *Request) ([]byte, error)
}

// TokenSource resolves a fresh access token before each call.
type TokenSource interface {
	GetValidToken(ctx context.Context, userID string) (credentials.Token, error)
}

// Config carries the scheduler tunables.
type Config struct {
	Quota           int           // calls per window
	Window          time.Duration // sliding window span
	ThrottleBackoff time.Duration // re-check interval while throttled
	Spacing         time.Duration // minimum gap between consecutive calls
	MaxRetries      int
}

// Scheduler owns the request queue and the rate window. Callers funnel every
// upstream request through Do and experience back-pressure transparently
// when the quota is exhausted.
type Scheduler struct {
	executor Executor
	tokens   TokenSource
	win      *window
	spacing  *rate.Limiter
	backoff  time.Duration
	retries  int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	queue requestHeap
	seq   uint64
	wake  chan struct{}

	logger *zap.Logger
	done   chan struct{}
}

// Option configures optional behaviour for the Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source used by the rate window.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSleeper overrides how the worker waits while throttled.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New constructs a Scheduler. Run must be started for queued requests to make
// progress.
func New(executor Executor, tokens TokenSource, cfg Config, opts ...Option) *Scheduler {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ThrottleBackoff <= 0 {
		cfg.ThrottleBackoff = time.Minute
	}

	spacing := rate.NewLimiter(rate.Inf, 1)
	if cfg.Spacing > 0 {
		spacing = rate.NewLimiter(rate.Every(cfg.Spacing), 1)
	}

	s := &Scheduler{
		executor: executor,
		tokens:   tokens,
		spacing:  spacing,
		backoff:  cfg.ThrottleBackoff,
		retries:  cfg.MaxRetries,
		now:      time.Now,
		sleep:    sleepContext,
		wake:     make(chan struct{}, 1),
		logger:   zap.NewNop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.win = newWindow(cfg.Quota, cfg.Window, s.now)
	return s
}

// Do enqueues the request and blocks until it reaches a final outcome or the
// caller's context is cancelled. Cancellation abandons the wait; the worker
// still drains the request against the window.
func (s *Scheduler) Do(ctx context.Context, req *Request) ([]byte, error) {
	ch := s.Enqueue(req)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Payload, res.Err
	}
}

// Enqueue adds a request to the queue and returns the channel its final
// result will be delivered on.
func (s *Scheduler) Enqueue(req *Request) <-chan Result {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Priority == 0 {
		req.Priority = PriorityNormal
	}
	req.EnqueuedAt = s.now()
	req.result = make(chan Result, 1)

	s.push(req)
	return req.result
}

// Run drains the queue until the context is cancelled. It is the only
// goroutine that mutates the rate window.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)

	for {
		req := s.pop(ctx)
		if req == nil {
			return ctx.Err()
		}

		if err := s.waitForQuota(ctx); err != nil {
			s.deliver(req, Result{Err: err})
			return ctx.Err()
		}
		if err := s.spacing.Wait(ctx); err != nil {
			s.deliver(req, Result{Err: err})
			return ctx.Err()
		}

		s.execute(ctx, req)
	}
}

// Wait blocks until the worker has exited.
func (s *Scheduler) Wait() {
	<-s.done
}

// QueueDepth reports how many requests are pending.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *Scheduler) execute(ctx context.Context, req *Request) {
	var token string
	if req.Kind != KindRefreshToken {
		tok, err := s.tokens.GetValidToken(ctx, req.UserID)
		if err != nil {
			// Credential trouble is not retryable here; the caller decides
			// whether to skip the user.
			s.deliver(req, Result{Err: err})
			return
		}
		if tok.Refreshed {
			// The refresh round-trip consumed a window slot; the call itself
			// needs a second one, so re-check the quota before sending.
			s.win.RecordSent()
			if err := s.waitForQuota(ctx); err != nil {
				s.deliver(req, Result{Err: err})
				return
			}
		}
		token = tok.AccessToken
	}

	s.win.RecordSent()
	sentCounter.WithLabelValues(string(req.Kind)).Inc()

	payload, err := s.executor.Execute(ctx, token, req)
	if err == nil {
		s.deliver(req, Result{Payload: payload})
		return
	}

	if errors.Is(err, context.Canceled) {
		s.deliver(req, Result{Err: err})
		return
	}

	if req.RetryCount < s.retries {
		req.RetryCount++
		if req.Priority < priorityFloor {
			req.Priority++
		}
		retryCounter.WithLabelValues(string(req.Kind)).Inc()
		s.logger.Warn("request failed, re-queued",
			zap.String("request_id", req.ID),
			zap.String("kind", string(req.Kind)),
			zap.Int("retry", req.RetryCount),
			zap.Error(err),
		)
		s.push(req)
		return
	}

	droppedCounter.WithLabelValues(string(req.Kind)).Inc()
	s.logger.Error("request dropped after final retry",
		zap.String("request_id", req.ID),
		zap.String("kind", string(req.Kind)),
		zap.Error(err),
	)
	s.deliver(req, Result{Err: fmt.Errorf("%w: %w", domain.ErrRetriesExhausted, err)})
}

func (s *Scheduler) waitForQuota(ctx context.Context) error {
	for !s.win.CanProceed() {
		throttledCounter.Inc()
		if err := s.sleep(ctx, s.backoff); err != nil {
			return domain.ErrRateLimited
		}
	}
	return nil
}

func (s *Scheduler) push(req *Request) {
	s.mu.Lock()
	s.seq++
	req.seq = s.seq
	heap.Push(&s.queue, req)
	queueDepthGauge.Set(float64(s.queue.Len()))
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) pop(ctx context.Context) *Request {
	for {
		s.mu.Lock()
		if s.queue.Len() > 0 {
			req := heap.Pop(&s.queue).(*Request)
			queueDepthGauge.Set(float64(s.queue.Len()))
			s.mu.Unlock()
			return req
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		}
	}
}

func (s *Scheduler) deliver(req *Request, res Result) {
	req.result <- res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
