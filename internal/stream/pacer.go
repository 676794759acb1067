package stream

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultInitialDelay = 800 * time.Millisecond
	DefaultStepDelay    = 10 * time.Millisecond
)

// Pacer suspends a generation before its first increment and between
// increments. A Pacer serves a single generation.
type Pacer interface {
	Initial(ctx context.Context) error
	Step(ctx context.Context) error
}

// TimedPacer waits a fixed initial latency, then releases one increment per
// step interval.
type TimedPacer struct {
	initial time.Duration
	limiter *rate.Limiter
}

// NewTimedPacer creates a pacer. A zero step releases increments immediately.
func NewTimedPacer(initial, step time.Duration) *TimedPacer {
	limit := rate.Inf
	if step > 0 {
		limit = rate.Every(step)
	}
	return &TimedPacer{
		initial: initial,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Timed returns a pacer factory for Simulator
func Timed(initial, step time.Duration) func() Pacer {
	return func() Pacer { return NewTimedPacer(initial, step) }
}

func (p *TimedPacer) Initial(ctx context.Context) error {
	if p.initial > 0 {
		timer := time.NewTimer(p.initial)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// spend the burst token so the first step waits a full interval
	p.limiter.Allow()
	return nil
}

// Step waits for the next release. When the release falls after the ctx
// deadline it holds until the deadline passes and returns ctx.Err().
func (p *TimedPacer) Step(ctx context.Context) error {
	err := p.limiter.Wait(ctx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

// Instant never suspends
type Instant struct{}

// InstantPacing returns a pacer factory that never suspends
func InstantPacing() func() Pacer {
	return func() Pacer { return Instant{} }
}

func (Instant) Initial(context.Context) error { return nil }
func (Instant) Step(context.Context) error    { return nil }
