// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package workers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Task is a unit of work. index is the position it was submitted with.
type Task func(ctx context.Context, index int) error

// Result is the outcome of one task
type Result struct {
	Index int
	Error error
}

// Config contains configuration for a worker pool
type Config struct {
	Workers   int     // Concurrent tasks
	RateLimit float64 // Tasks started per second (0 = unlimited)
	BurstSize int     // Limiter burst, defaults to Workers
}

// Pool runs tasks with bounded concurrency and optional rate limiting
type Pool struct {
	limiter   *rate.Limiter
	semaphore chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	wg      sync.WaitGroup
	mu      sync.Mutex
	results []Result
}

// NewPool creates a new worker pool
func NewPool(ctx context.Context, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = cfg.Workers
	}

	poolCtx, cancel := context.WithCancel(ctx)

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.BurstSize)
	}

	return &Pool{
		limiter:   limiter,
		semaphore: make(chan struct{}, cfg.Workers),
		ctx:       poolCtx,
		cancel:    cancel,
	}
}

// Submit schedules task. It blocks while all workers are busy.
func (p *Pool) Submit(index int, task Task) {
	select {
	case p.semaphore <- struct{}{}:
	case <-p.ctx.Done():
		p.record(Result{Index: index, Error: p.ctx.Err()})
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.semaphore }()

		if p.limiter != nil {
			if err := p.limiter.Wait(p.ctx); err != nil {
				p.record(Result{Index: index, Error: err})
				return
			}
		}

		p.record(Result{Index: index, Error: task(p.ctx, index)})
	}()
}

func (p *Pool) record(r Result) {
	p.mu.Lock()
	p.results = append(p.results, r)
	p.mu.Unlock()
}

// Wait blocks until every submitted task has finished and returns the
// results ordered by index
func (p *Pool) Wait() []Result {
	p.wg.Wait()
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	sort.Slice(p.results, func(i, j int) bool {
		return p.results[i].Index < p.results[j].Index
	})
	return p.results
}

// Stop cancels all pending tasks
func (p *Pool) Stop() {
	p.cancel()
}

// RetryConfig contains configuration for retry logic
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns the retry policy used for downloads
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Retry executes fn with exponential backoff until it succeeds,
// returns a Permanent error, or attempts run out
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if pe, ok := err.(*PermanentError); ok {
			return pe.Err
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// PermanentError stops Retry immediately
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	return &PermanentError{Err: err}
}
