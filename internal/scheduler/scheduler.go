/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler drains the sample feed into the discretization engine at the
// control-loop rate while keeping a lookahead buffer in the downstream consumer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/pathfeed/internal/events"
	"github.com/friendsincode/pathfeed/internal/feed"
	"github.com/friendsincode/pathfeed/internal/telemetry"
	"github.com/friendsincode/pathfeed/internal/timegrid"
)

// ErrTimeout indicates a bounded wait ran out.
var ErrTimeout = errors.New("timed out")

const (
	DefaultLookahead           = 150 * time.Millisecond
	DefaultPacingRate          = 100.0 // Hz
	DefaultFirstSampleTimeout  = time.Second
	DefaultFirstSamplePollRate = 1000.0 // Hz
)

// Sampler computes and publishes every registered quantity at one time value.
type Sampler interface {
	Compute(ctx context.Context, t float64) error
}

// Config holds the two rates the scheduler works with. ControlPeriod is the
// reference period the samples represent; PacingRate is only how often the
// steady-state loop re-checks the watermark.
type Config struct {
	ControlPeriod       time.Duration
	Lookahead           time.Duration
	PacingRate          float64
	FirstSampleTimeout  time.Duration
	FirstSamplePollRate float64
	Clock               Clock
}

// Result summarizes one publish run.
type Result struct {
	RunID       string
	StartedAt   time.Time
	Samples     int
	Total       int
	GridStart   float64
	GridEnd     float64
	Elapsed     time.Duration
	ComputeTime time.Duration
	AvgCompute  time.Duration
	Degraded    bool
}

// Scheduler publishes the feed's grid through a Sampler.
type Scheduler struct {
	feed    *feed.Feed
	sampler Sampler
	bus     *events.Bus
	clock   Clock
	cfg     Config
	logger  zerolog.Logger

	frequency float64
	advance   float64

	// observe, when set, sees every watermark update.
	observe func(n int, nstar float64)
}

// New validates cfg and creates a scheduler.
func New(f *feed.Feed, sampler Sampler, bus *events.Bus, cfg Config, logger zerolog.Logger) (*Scheduler, error) {
	if cfg.ControlPeriod <= 0 {
		return nil, fmt.Errorf("%w: control period must be positive, got %s", timegrid.ErrInvalidArgument, cfg.ControlPeriod)
	}
	if cfg.Lookahead < 0 {
		return nil, fmt.Errorf("%w: lookahead must not be negative, got %s", timegrid.ErrInvalidArgument, cfg.Lookahead)
	}
	if cfg.Lookahead == 0 {
		cfg.Lookahead = DefaultLookahead
	}
	if cfg.PacingRate <= 0 {
		cfg.PacingRate = DefaultPacingRate
	}
	if cfg.FirstSampleTimeout <= 0 {
		cfg.FirstSampleTimeout = DefaultFirstSampleTimeout
	}
	if cfg.FirstSamplePollRate <= 0 {
		cfg.FirstSamplePollRate = DefaultFirstSamplePollRate
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}

	frequency := 1 / cfg.ControlPeriod.Seconds()

	return &Scheduler{
		feed:      f,
		sampler:   sampler,
		bus:       bus,
		clock:     cfg.Clock,
		cfg:       cfg,
		logger:    logger.With().Str("component", "publish_scheduler").Logger(),
		frequency: frequency,
		advance:   cfg.Lookahead.Seconds() * frequency,
	}, nil
}

// Frequency returns the reference sampling frequency in Hz.
func (s *Scheduler) Frequency() float64 {
	return s.frequency
}

// Advance returns the lookahead expressed in samples.
func (s *Scheduler) Advance() float64 {
	return s.advance
}

// Publish drains the whole current grid and blocks until it is done.
//
// Samples are computed back to back until the lookahead watermark is reached,
// then the loop waits on the pacing rate. The watermark grows with elapsed
// wall-clock time at the reference frequency, so a slow sample is absorbed by
// the catch-up branch instead of shifting every later sample.
//
// The grid is discarded when Publish returns, whether it succeeded or not.
func (s *Scheduler) Publish(ctx context.Context) (Result, error) {
	grid, err := s.feed.BeginPublish()
	if err != nil {
		return Result{}, err
	}
	return s.PublishClaimed(ctx, grid)
}

// PublishClaimed drains a grid the caller already took with feed.BeginPublish.
// It always ends the claim.
func (s *Scheduler) PublishClaimed(ctx context.Context, grid timegrid.Grid) (res Result, err error) {
	defer s.feed.EndPublish()

	total := grid.Len()
	res = Result{
		RunID:     uuid.NewString(),
		Total:     total,
		GridStart: grid.Start(),
		GridEnd:   grid.End(),
	}
	logger := s.logger.With().Str("run_id", res.RunID).Logger()

	ctx, span := telemetry.StartSpan(ctx, "scheduler.Publish",
		attribute.String("run_id", res.RunID),
		attribute.Int("samples", total),
	)
	defer func() {
		span.SetAttributes(attribute.Int("published", res.Samples))
		telemetry.EndSpan(span, err)
	}()

	logger.Info().Int("size", total).Msg("start publishing path")
	s.bus.Publish(events.EventPublishStarted, events.Payload{
		"run_id": res.RunID,
		"size":   total,
	})

	rate := s.clock.NewRate(time.Duration(float64(time.Second) / s.cfg.PacingRate))
	defer rate.Stop()

	m := float64(total)
	n := 0
	nstar := math.Min(s.advance, m)
	start := s.clock.Now()
	now := start
	res.StartedAt = start

	for n < total {
		if err := ctx.Err(); err != nil {
			return s.fail(logger, res, n, start, err)
		}

		if float64(n) < nstar {
			prev := s.clock.Now()
			if err := s.sampler.Compute(ctx, grid.At(n)); err != nil {
				res.Samples = n
				return s.fail(logger, res, n, start, fmt.Errorf("compute sample %d (t=%g): %w", n, grid.At(n), err))
			}
			now = s.clock.Now()
			took := now.Sub(prev)
			res.ComputeTime += took
			telemetry.SampleComputeDuration.Observe(took.Seconds())
			telemetry.SamplesComputed.Inc()
			n++
		} else {
			if err := rate.Sleep(ctx); err != nil {
				return s.fail(logger, res, n, start, err)
			}
			now = s.clock.Now()
		}

		elapsed := now.Sub(start).Seconds()
		nstar = math.Min(s.advance+elapsed*s.frequency, m)
		telemetry.Watermark.Set(nstar)
		telemetry.BufferedLead.Set(float64(n) - elapsed*s.frequency)
		if s.observe != nil {
			s.observe(n, nstar)
		}
	}

	res.Samples = n
	res.Elapsed = s.clock.Now().Sub(start)
	res.AvgCompute = res.ComputeTime / time.Duration(n)
	res.Degraded = res.AvgCompute >= s.cfg.ControlPeriod

	telemetry.PublishDuration.Observe(res.Elapsed.Seconds())
	telemetry.PublishRuns.WithLabelValues(OutcomeDone).Inc()

	if res.Degraded {
		telemetry.PublishDegraded.Inc()
		logger.Warn().
			Dur("average_compute", res.AvgCompute).
			Dur("control_period", s.cfg.ControlPeriod).
			Msg("average sampling time of the reference trajectory is higher than the control period; consider subsampling or preprocessing")
		s.bus.Publish(events.EventPublishDegraded, events.Payload{
			"run_id":             res.RunID,
			"average_compute_ms": durationMillis(res.AvgCompute),
			"control_period_ms":  durationMillis(s.cfg.ControlPeriod),
		})
	}

	s.bus.Publish(events.EventPublishDone, resultPayload(res, ""))
	logger.Info().
		Int("published", n).
		Dur("elapsed", res.Elapsed).
		Msg("finished publishing queue")

	return res, nil
}

func (s *Scheduler) fail(logger zerolog.Logger, res Result, n int, start time.Time, err error) (Result, error) {
	res.Samples = n
	res.Elapsed = s.clock.Now().Sub(start)
	if n > 0 {
		res.AvgCompute = res.ComputeTime / time.Duration(n)
	}

	outcome := Outcome(err)
	eventType := events.EventPublishFailed
	if outcome == OutcomeAborted {
		eventType = events.EventPublishAborted
	}
	telemetry.PublishRuns.WithLabelValues(outcome).Inc()

	logger.Error().
		Err(err).
		Int("published", n).
		Int("size", res.Total).
		Msg("publish " + outcome)
	s.bus.Publish(eventType, resultPayload(res, err.Error()))

	return res, err
}

// Publish outcomes.
const (
	OutcomeDone    = "done"
	OutcomeFailed  = "failed"
	OutcomeAborted = "aborted"
)

// Outcome classifies the error returned by Publish.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeDone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeAborted
	default:
		return OutcomeFailed
	}
}

// PublishFirst waits (bounded) for a grid and computes only its first sample,
// priming the consumer before the full publish starts.
func (s *Scheduler) PublishFirst(ctx context.Context) error {
	if !s.feed.HasGrid() {
		s.logger.Warn().
			Dur("timeout", s.cfg.FirstSampleTimeout).
			Msg("first message not ready yet, polling")

		rate := s.clock.NewRate(time.Duration(float64(time.Second) / s.cfg.FirstSamplePollRate))
		defer rate.Stop()

		polls := int(math.Round(s.cfg.FirstSampleTimeout.Seconds() * s.cfg.FirstSamplePollRate))
		for ; polls > 0 && !s.feed.HasGrid(); polls-- {
			if err := rate.Sleep(ctx); err != nil {
				return err
			}
		}
	}

	t, err := s.feed.FirstSampleTime()
	if err != nil {
		s.logger.Error().Msg("could not publish first message")
		return fmt.Errorf("%w: %w; was a path read?", ErrTimeout, err)
	}

	if err := s.sampler.Compute(ctx, t); err != nil {
		return fmt.Errorf("compute first sample (t=%g): %w", t, err)
	}
	telemetry.SamplesComputed.Inc()
	return nil
}

func resultPayload(res Result, errMsg string) events.Payload {
	payload := events.Payload{
		"run_id":             res.RunID,
		"samples":            res.Samples,
		"size":               res.Total,
		"grid_start":         res.GridStart,
		"grid_end":           res.GridEnd,
		"elapsed_ms":         durationMillis(res.Elapsed),
		"average_compute_ms": durationMillis(res.AvgCompute),
		"degraded":           res.Degraded,
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	return payload
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
