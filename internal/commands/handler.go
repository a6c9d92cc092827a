/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package commands implements the operations exposed on the command surface.
// Transports (HTTP, NATS) decode requests and call into a Handler.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/pathfeed/internal/events"
	"github.com/friendsincode/pathfeed/internal/feed"
	"github.com/friendsincode/pathfeed/internal/hpp"
	"github.com/friendsincode/pathfeed/internal/scheduler"
	"github.com/friendsincode/pathfeed/internal/telemetry"
	"github.com/friendsincode/pathfeed/internal/timegrid"
)

var (
	// ErrCollaborator wraps failures reported by the planning server or the
	// discretization engine.
	ErrCollaborator = errors.New("collaborator failure")

	// ErrNotLeader is returned for publish commands on a standby instance.
	ErrNotLeader = errors.New("not the active publisher")
)

// Planner is the subset of the planning server used by commands.
type Planner interface {
	PathLength(ctx context.Context, id uint32) (float64, error)
	WithPath(ctx context.Context, id uint32, fn func(hpp.Handle) error) error
	WithCenterOfMass(ctx context.Context, name string, fn func(hpp.Handle) error) error
}

// Discretizer is the subset of the discretization engine used by commands.
type Discretizer interface {
	scheduler.Sampler
	SetPath(ctx context.Context, h hpp.Handle) error
	AddCenterOfMass(ctx context.Context, name string, comp hpp.Handle, kind hpp.Kind) error
	AddOperationalFrame(ctx context.Context, name string, kind hpp.Kind) error
	SetJointNames(ctx context.Context, names []string) error
	ResetTopics(ctx context.Context) error
}

// LeaderGate reports whether this instance may drive the consumer.
type LeaderGate interface {
	IsLeader() bool
}

// RunRecorder stores the outcome of each publish.
type RunRecorder interface {
	RecordRun(ctx context.Context, pathID uint32, res scheduler.Result, runErr error) error
}

// Config configures a Handler.
type Config struct {
	// RootJoint is filtered out of joint name lists; any name containing it is dropped.
	RootJoint string

	// Leader gates publish commands. Nil means this instance always publishes.
	Leader LeaderGate

	// Recorder, when set, receives every finished publish.
	Recorder RunRecorder
}

// Handler runs commands against the feed, the scheduler and the collaborators.
type Handler struct {
	feed      *feed.Feed
	scheduler *scheduler.Scheduler
	planner   Planner
	disc      Discretizer
	bus       *events.Bus
	leader    LeaderGate
	recorder  RunRecorder
	rootJoint string
	logger    zerolog.Logger

	mu     sync.Mutex
	pathID uint32 // path behind the loaded grid

	// publish worker
	baseCtx context.Context
	stop    context.CancelFunc
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHandler wires a Handler.
func NewHandler(f *feed.Feed, sched *scheduler.Scheduler, planner Planner, disc Discretizer, bus *events.Bus, cfg Config, logger zerolog.Logger) *Handler {
	baseCtx, stop := context.WithCancel(context.Background())
	h := &Handler{
		feed:      f,
		scheduler: sched,
		planner:   planner,
		disc:      disc,
		bus:       bus,
		leader:    cfg.Leader,
		recorder:  cfg.Recorder,
		rootJoint: cfg.RootJoint,
		logger:    logger.With().Str("component", "commands").Logger(),
		baseCtx:   baseCtx,
		stop:      stop,
	}
	h.reportState()
	return h
}

// ReadPath samples the whole path with the given id.
func (h *Handler) ReadPath(ctx context.Context, id uint32) (size int, err error) {
	defer func() { h.record("read_path", err) }()

	length, err := h.planner.PathLength(ctx, id)
	if err != nil {
		h.logger.Error().Err(err).Uint32("path_id", id).Msg("could not get path length")
		return 0, fmt.Errorf("%w: %w", ErrCollaborator, err)
	}
	return h.read(ctx, id, 0, length)
}

// ReadSubPath samples [start, start+length] of the path with the given id.
// A negative length samples backwards.
func (h *Handler) ReadSubPath(ctx context.Context, id uint32, start, length float64) (size int, err error) {
	defer func() { h.record("read_subpath", err) }()
	return h.read(ctx, id, start, length)
}

func (h *Handler) read(ctx context.Context, id uint32, start, length float64) (int, error) {
	grid, err := timegrid.Build(start, length, h.scheduler.Frequency())
	if err != nil {
		h.logger.Error().Err(err).Uint32("path_id", id).Msg("cannot sample path")
		return 0, err
	}

	// The reservation keeps publishes and other reads off the feed while the
	// engine's path is being swapped.
	if err := h.feed.BeginLoad(); err != nil {
		return 0, fmt.Errorf("read path %d: %w", id, err)
	}

	h.logger.Info().
		Uint32("path_id", id).
		Float64("from", grid.Start()).
		Float64("to", grid.End()).
		Int("points", grid.Len()).
		Msg("prepare sampling of path")

	err = h.planner.WithPath(ctx, id, func(p hpp.Handle) error {
		return h.disc.SetPath(ctx, p)
	})
	if err != nil {
		h.feed.AbortLoad()
		h.logger.Error().Err(err).Uint32("path_id", id).Msg("could not load path into discretization")
		return 0, fmt.Errorf("%w: %w", ErrCollaborator, err)
	}

	h.mu.Lock()
	err = h.feed.CommitLoad(grid)
	if err == nil {
		h.pathID = id
	}
	h.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("read path %d: %w", id, err)
	}
	h.reportState()

	h.bus.Publish(events.EventReadPathDone, events.Payload{
		"id":     id,
		"size":   grid.Len(),
		"start":  grid.Start(),
		"length": length,
	})
	return grid.Len(), nil
}

// QueueSize returns the number of samples in the loaded grid.
func (h *Handler) QueueSize() (size int, err error) {
	defer func() { h.record("get_queue_size", err) }()
	return h.feed.Size()
}

// State reports the feed state.
func (h *Handler) State() feed.State {
	return h.feed.State()
}

// PublishFirst primes the consumer with the first sample of the loaded grid,
// waiting a bounded time for a read to land.
func (h *Handler) PublishFirst(ctx context.Context) (err error) {
	defer func() { h.record("publish_first", err) }()

	if err := h.checkLeader(); err != nil {
		return err
	}
	if err := h.scheduler.PublishFirst(ctx); err != nil {
		if errors.Is(err, scheduler.ErrTimeout) || errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrCollaborator, err)
	}
	return nil
}

// Publish drains the loaded grid on the caller's goroutine.
func (h *Handler) Publish(ctx context.Context) (res scheduler.Result, err error) {
	defer func() { h.record("publish", err) }()

	if err := h.checkLeader(); err != nil {
		return scheduler.Result{}, err
	}
	grid, pathID, err := h.claim()
	if err != nil {
		return scheduler.Result{}, err
	}
	return h.runPublish(ctx, grid, pathID)
}

// claim takes the loaded grid for a publish together with the path it came from.
func (h *Handler) claim() (timegrid.Grid, uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.claimLocked()
}

func (h *Handler) claimLocked() (timegrid.Grid, uint32, error) {
	grid, err := h.feed.BeginPublish()
	if err != nil {
		if errors.Is(err, feed.ErrNotReady) {
			h.logger.Error().Msg("publish requested without a loaded path")
		}
		return timegrid.Grid{}, 0, fmt.Errorf("start publish: %w", err)
	}
	return grid, h.pathID, nil
}

func (h *Handler) runPublish(ctx context.Context, grid timegrid.Grid, pathID uint32) (scheduler.Result, error) {
	defer h.reportState()
	h.reportStateAs(feed.StatePublishing)

	res, err := h.scheduler.PublishClaimed(ctx, grid)
	if h.recorder != nil && res.RunID != "" {
		// The run context may already be cancelled; the record must still land.
		if rerr := h.recorder.RecordRun(context.WithoutCancel(ctx), pathID, res, err); rerr != nil {
			h.logger.Warn().Err(rerr).Str("run_id", res.RunID).Msg("could not record publish run")
		}
	}
	return res, err
}

// SetJointNames selects the published joints. Names containing the root joint
// are dropped.
func (h *Handler) SetJointNames(ctx context.Context, names []string) (err error) {
	defer func() { h.record("set_joint_names", err) }()

	filtered := make([]string, 0, len(names))
	for _, n := range names {
		if h.rootJoint != "" && strings.Contains(n, h.rootJoint) {
			continue
		}
		filtered = append(filtered, n)
	}

	if err := h.disc.SetJointNames(ctx, filtered); err != nil {
		h.logger.Error().Err(err).Msg("could not set joint names")
		return fmt.Errorf("%w: %w", ErrCollaborator, err)
	}
	h.logger.Info().Strs("joints", filtered).Msg("joint names set")
	return nil
}

// AddCenterOfMass registers a center-of-mass output. An empty name is the
// whole robot.
func (h *Handler) AddCenterOfMass(ctx context.Context, name string, kind hpp.Kind) (err error) {
	defer func() { h.record("add_center_of_mass", err) }()

	err = h.planner.WithCenterOfMass(ctx, name, func(comp hpp.Handle) error {
		return h.disc.AddCenterOfMass(ctx, name, comp, kind)
	})
	if err != nil {
		h.logger.Error().Err(err).Str("name", name).Stringer("kind", kind).Msg("could not add center of mass")
		return fmt.Errorf("%w: %w", ErrCollaborator, err)
	}
	h.logger.Info().Str("name", name).Stringer("kind", kind).Msg("added center of mass topic")
	return nil
}

// AddOperationalFrame registers an operational-frame output.
func (h *Handler) AddOperationalFrame(ctx context.Context, name string, kind hpp.Kind) (err error) {
	defer func() { h.record("add_operational_frame", err) }()

	if err := h.disc.AddOperationalFrame(ctx, name, kind); err != nil {
		h.logger.Error().Err(err).Str("name", name).Stringer("kind", kind).Msg("could not add operational frame")
		return fmt.Errorf("%w: %w", ErrCollaborator, err)
	}
	h.logger.Info().Str("name", name).Stringer("kind", kind).Msg("added operational frame topic")
	return nil
}

// ResetTopics aborts any running publish, drops the loaded grid and every
// registered output.
func (h *Handler) ResetTopics(ctx context.Context) (err error) {
	defer func() { h.record("reset_topics", err) }()

	h.cancelPublish()

	h.mu.Lock()
	if err := h.feed.Clear(); err != nil {
		// Only a publish running on a caller's goroutine holds the grid here.
		// It drops the grid when it ends.
		h.logger.Warn().Err(err).Msg("grid still in use by a publish")
	} else {
		h.pathID = 0
	}
	h.mu.Unlock()
	h.reportState()

	if err := h.disc.ResetTopics(ctx); err != nil {
		h.logger.Error().Err(err).Msg("could not reset topics")
		return fmt.Errorf("%w: %w", ErrCollaborator, err)
	}
	h.logger.Info().Msg("reset topics")
	h.bus.Publish(events.EventTopicsReset, events.Payload{})
	return nil
}

func (h *Handler) checkLeader() error {
	if h.leader != nil && !h.leader.IsLeader() {
		return ErrNotLeader
	}
	return nil
}

func (h *Handler) record(command string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	telemetry.CommandsTotal.WithLabelValues(command, result).Inc()
}

func (h *Handler) reportState() {
	h.reportStateAs(h.feed.State())
}

func (h *Handler) reportStateAs(s feed.State) {
	telemetry.SetFeedState(string(s), string(feed.StateIdle), string(feed.StateLoaded), string(feed.StatePublishing))
}
