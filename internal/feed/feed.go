/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package feed holds the single live time grid shared by the read and publish paths.
package feed

import (
	"errors"
	"fmt"
	"sync"

	"github.com/friendsincode/pathfeed/internal/timegrid"
)

var (
	// ErrNotReady indicates an operation that needs a grid was called before one was read.
	ErrNotReady = errors.New("no time grid loaded")

	// ErrBusy indicates the grid cannot change because a publish or another
	// read is in progress.
	ErrBusy = errors.New("publish in progress")
)

// State enumerates the feed lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateLoaded     State = "loaded"
	StatePublishing State = "publishing"
)

// Feed owns the current grid. Reads replace it, a publish drains it, and the
// transitions Idle -> Loaded -> Publishing -> Idle are enforced under one lock.
//
// A read that must prepare the engine before its grid is usable reserves the
// feed with BeginLoad. While the reservation is held the previous grid stays
// visible but cannot be published, and other loads are refused.
type Feed struct {
	mu      sync.Mutex
	state   State
	grid    timegrid.Grid
	loading bool
}

// New creates an idle feed.
func New() *Feed {
	return &Feed{state: StateIdle}
}

// SetGrid replaces the current grid. It fails with ErrBusy while publishing
// or while a load is reserved.
func (f *Feed) SetGrid(grid timegrid.Grid) error {
	if grid.IsZero() {
		return fmt.Errorf("set grid: %w", timegrid.ErrInvalidArgument)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StatePublishing || f.loading {
		return fmt.Errorf("set grid: %w", ErrBusy)
	}

	f.grid = grid
	f.state = StateLoaded
	return nil
}

// BeginLoad reserves the feed for a read. It fails with ErrBusy while
// publishing or while another load holds the reservation. The caller must
// finish with CommitLoad or AbortLoad.
func (f *Feed) BeginLoad() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StatePublishing || f.loading {
		return fmt.Errorf("begin load: %w", ErrBusy)
	}
	f.loading = true
	return nil
}

// CommitLoad installs the grid of a reserved load and releases the reservation.
func (f *Feed) CommitLoad(grid timegrid.Grid) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.loading = false
	if grid.IsZero() {
		return fmt.Errorf("commit load: %w", timegrid.ErrInvalidArgument)
	}
	f.grid = grid
	f.state = StateLoaded
	return nil
}

// AbortLoad releases the reservation and keeps the previous grid.
func (f *Feed) AbortLoad() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loading = false
}

// Loading reports whether a load holds the reservation.
func (f *Feed) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

// HasGrid reports whether a grid is loaded or being published.
func (f *Feed) HasGrid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state != StateIdle
}

// State returns the current lifecycle state.
func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Size returns the number of samples in the current grid.
func (f *Feed) Size() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateIdle {
		return 0, ErrNotReady
	}
	return f.grid.Len(), nil
}

// FirstSampleTime returns the time of the first sample in the current grid.
func (f *Feed) FirstSampleTime() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateIdle {
		return 0, ErrNotReady
	}
	return f.grid.Start(), nil
}

// Clear drops a loaded grid. Clearing an idle feed is a no-op.
func (f *Feed) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case StatePublishing:
		return fmt.Errorf("clear: %w", ErrBusy)
	case StateLoaded:
		f.resetLocked()
	}
	return nil
}

// BeginPublish hands the grid to the publisher and locks out reads until
// EndPublish. It fails with ErrBusy while a load is reserved.
func (f *Feed) BeginPublish() (timegrid.Grid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.loading {
		return timegrid.Grid{}, fmt.Errorf("begin publish: %w", ErrBusy)
	}

	switch f.state {
	case StateIdle:
		return timegrid.Grid{}, fmt.Errorf("begin publish: %w", ErrNotReady)
	case StatePublishing:
		return timegrid.Grid{}, fmt.Errorf("begin publish: %w", ErrBusy)
	}

	f.state = StatePublishing
	return f.grid, nil
}

// EndPublish discards the published grid and returns the feed to idle.
func (f *Feed) EndPublish() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StatePublishing {
		return
	}
	f.resetLocked()
}

func (f *Feed) resetLocked() {
	f.grid = timegrid.Grid{}
	f.state = StateIdle
}
