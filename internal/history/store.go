/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history persists one record per publish run.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/pathfeed/internal/scheduler"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("publish run not found")

// Run records the outcome of one publish.
type Run struct {
	ID               string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	PathID           uint32    `gorm:"index:idx_publish_runs_path" json:"path_id"`
	InstanceID       string    `gorm:"type:varchar(64)" json:"instance_id,omitempty"`
	Outcome          string    `gorm:"type:varchar(16);index:idx_publish_runs_outcome;not null" json:"outcome"`
	Samples          int       `json:"samples"`
	Total            int       `json:"total"`
	GridStart        float64   `json:"grid_start"`
	GridEnd          float64   `json:"grid_end"`
	ElapsedMS        float64   `json:"elapsed_ms"`
	AverageComputeMS float64   `json:"average_compute_ms"`
	Degraded         bool      `json:"degraded"`
	Error            string    `gorm:"type:text" json:"error,omitempty"`
	StartedAt        time.Time `gorm:"index:idx_publish_runs_started;not null" json:"started_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (Run) TableName() string {
	return "publish_runs"
}

// Store reads and writes runs.
type Store struct {
	db         *gorm.DB
	instanceID string
	logger     zerolog.Logger
}

// NewStore creates a store. instanceID tags every run written by this process.
func NewStore(db *gorm.DB, instanceID string, logger zerolog.Logger) *Store {
	return &Store{
		db:         db,
		instanceID: instanceID,
		logger:     logger.With().Str("component", "history").Logger(),
	}
}

// RecordRun stores the result of a publish of the given path.
func (s *Store) RecordRun(ctx context.Context, pathID uint32, res scheduler.Result, runErr error) error {
	if res.RunID == "" {
		return fmt.Errorf("record run: missing run id")
	}

	run := Run{
		ID:               res.RunID,
		PathID:           pathID,
		InstanceID:       s.instanceID,
		Outcome:          scheduler.Outcome(runErr),
		Samples:          res.Samples,
		Total:            res.Total,
		GridStart:        res.GridStart,
		GridEnd:          res.GridEnd,
		ElapsedMS:        float64(res.Elapsed) / float64(time.Millisecond),
		AverageComputeMS: float64(res.AvgCompute) / float64(time.Millisecond),
		Degraded:         res.Degraded,
		StartedAt:        res.StartedAt,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to record publish run")
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// ListFilter narrows List.
type ListFilter struct {
	Outcome string
	PathID  *uint32
	Limit   int
	Offset  int
}

// List returns runs, most recent first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Run, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	q := s.db.WithContext(ctx).Model(&Run{})
	if filter.Outcome != "" {
		q = q.Where("outcome = ?", filter.Outcome)
	}
	if filter.PathID != nil {
		q = q.Where("path_id = ?", *filter.PathID)
	}

	var runs []Run
	if err := q.Order("started_at DESC").Limit(limit).Offset(filter.Offset).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Get returns one run.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}
