package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ChatStream/internal/session"
)

var (
	ErrGenerationFailed   = errors.New("generation failed")
	ErrGenerationCanceled = errors.New("generation canceled")
	ErrSequenceConsumed   = errors.New("reply sequence already consumed")
)

// Simulator reveals canned replies incrementally, as a streaming model would
type Simulator struct {
	source   Source
	pacer    func() Pacer
	split    Splitter
	now      func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
	duration metric.Float64Histogram
}

// Option configures a Simulator
type Option func(*Simulator)

// WithSource sets the reply source
func WithSource(src Source) Option {
	return func(s *Simulator) { s.source = src }
}

// WithPacing sets the pacer factory, called once per generation
func WithPacing(pacer func() Pacer) Option {
	return func(s *Simulator) { s.pacer = pacer }
}

// WithSplitter sets the reveal granularity
func WithSplitter(split Splitter) Option {
	return func(s *Simulator) { s.split = split }
}

// WithClock overrides time.Now for message timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Simulator) { s.logger = logger }
}

// WithTracer sets the tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Simulator) { s.tracer = tracer }
}

// WithMeter sets the meter used for the duration histogram
func WithMeter(meter metric.Meter) Option {
	return func(s *Simulator) { s.initMetrics(meter) }
}

// New creates a simulator with the canned source, character reveal and
// default pacing.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		source: NewCannedSource(),
		pacer:  Timed(DefaultInitialDelay, DefaultStepDelay),
		split:  Runes,
		now:    time.Now,
		logger: slog.Default(),
		tracer: otel.Tracer("chatstream/stream"),
	}
	s.initMetrics(otel.Meter("chatstream/stream"))

	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) initMetrics(meter metric.Meter) {
	h, err := meter.Float64Histogram(
		"chatstream.stream.duration_ms",
		metric.WithDescription("Time to reveal a complete reply"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		slog.Warn("failed to create histogram", "name", "chatstream.stream.duration_ms", "error", err)
		return
	}
	s.duration = h
}

// Generate returns the increments of the reply to prompt. Every message
// carries responseID and the content revealed so far; the last one has
// IsStreaming false.
//
// The sequence can be ranged once. When ctx is canceled after at least one
// increment, a final message with the partial content is yielded together with
// an error wrapping ErrGenerationCanceled; a pacing failure does the same with
// ErrGenerationFailed. Other failures yield only an error.
func (s *Simulator) Generate(ctx context.Context, responseID, prompt string) iter.Seq2[session.Message, error] {
	var consumed atomic.Bool
	return func(yield func(session.Message, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(session.Message{}, ErrSequenceConsumed)
			return
		}
		s.run(ctx, responseID, prompt, yield)
	}
}

func canceled(err error) error {
	return fmt.Errorf("%w: %w", ErrGenerationCanceled, err)
}

// paceErr classifies a pacer error: canceled only when ctx actually ended
func paceErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return canceled(err)
	}
	return fmt.Errorf("%w: %w", ErrGenerationFailed, err)
}

func (s *Simulator) run(ctx context.Context, responseID, prompt string, yield func(session.Message, error) bool) {
	ctx, span := s.tracer.Start(ctx, "stream.generate", trace.WithAttributes(
		attribute.String("response.id", responseID),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		if s.duration != nil {
			s.duration.Record(context.WithoutCancel(ctx), float64(time.Since(start).Microseconds())/1000)
		}
	}()

	fail := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		yield(session.Message{}, err)
	}

	if err := ctx.Err(); err != nil {
		fail(canceled(err))
		return
	}

	body, err := s.source.Response(ctx, prompt)
	if err != nil {
		s.logger.Warn("reply source failed", "response_id", responseID, "error", err)
		fail(fmt.Errorf("%w: %w", ErrGenerationFailed, err))
		return
	}

	pacer := s.pacer()
	if err := pacer.Initial(ctx); err != nil {
		fail(paceErr(ctx, err))
		return
	}

	units := s.split(body)
	span.SetAttributes(
		attribute.Int("response.length", len(body)),
		attribute.Int("units", len(units)),
	)

	msg := session.Message{
		ID:        responseID,
		Role:      session.RoleAssistant,
		Timestamp: session.Millis(s.now()),
	}
	if len(units) == 0 {
		yield(msg, nil)
		return
	}

	// finish yields the partial reply as finished together with err
	finish := func(revealed string, err error) {
		span.RecordError(err)
		s.logger.Debug("generation stopped", "response_id", responseID, "revealed", len(revealed))
		msg.Content = revealed
		msg.IsStreaming = false
		yield(msg, err)
	}

	var b strings.Builder
	b.Grow(len(body))
	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			finish(b.String(), canceled(err))
			return
		}

		b.WriteString(unit)
		msg.Content = b.String()
		msg.IsStreaming = i < len(units)-1
		if !yield(msg, nil) {
			return
		}

		if msg.IsStreaming {
			if err := pacer.Step(ctx); err != nil {
				finish(b.String(), paceErr(ctx, err))
				return
			}
		}
	}

	s.logger.Debug("generation complete", "response_id", responseID, "units", len(units))
}
