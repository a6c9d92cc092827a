/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the command surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/pathfeed/internal/auth"
	"github.com/friendsincode/pathfeed/internal/commands"
	"github.com/friendsincode/pathfeed/internal/events"
	"github.com/friendsincode/pathfeed/internal/feed"
	"github.com/friendsincode/pathfeed/internal/history"
	"github.com/friendsincode/pathfeed/internal/hpp"
	"github.com/friendsincode/pathfeed/internal/scheduler"
	"github.com/friendsincode/pathfeed/internal/timegrid"
)

// Commands is the command surface served over HTTP. commands.Handler
// implements it.
type Commands interface {
	ReadPath(ctx context.Context, id uint32) (int, error)
	ReadSubPath(ctx context.Context, id uint32, start, length float64) (int, error)
	StartPublish() error
	PublishFirst(ctx context.Context) error
	QueueSize() (int, error)
	State() feed.State
	Publishing() bool
	SetJointNames(ctx context.Context, names []string) error
	AddCenterOfMass(ctx context.Context, name string, kind hpp.Kind) error
	AddOperationalFrame(ctx context.Context, name string, kind hpp.Kind) error
	ResetTopics(ctx context.Context) error
}

// RunLister reads publish history. history.Store implements it.
type RunLister interface {
	List(ctx context.Context, filter history.ListFilter) ([]history.Run, error)
	Get(ctx context.Context, id string) (*history.Run, error)
}

// API exposes HTTP handlers.
type API struct {
	cmds      Commands
	runs      RunLister
	bus       *events.Bus
	jwtSecret []byte
	logger    zerolog.Logger
}

// New creates the API router wrapper. runs may be nil when history is
// disabled; a nil jwtSecret disables authentication.
func New(cmds Commands, runs RunLister, bus *events.Bus, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		cmds:      cmds,
		runs:      runs,
		bus:       bus,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers the command surface on r.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.Route("/target", func(r chi.Router) {
				r.Get("/queue_size", a.handleQueueSize)
				r.Get("/state", a.handleState)
				r.Get("/events", a.handleEvents)
				r.Route("/runs", func(r chi.Router) {
					r.Get("/", a.handleRunsList)
					r.Get("/{runID}", a.handleRunsGet)
				})

				r.Group(func(r chi.Router) {
					r.Use(auth.RequireRole(auth.RoleOperator))
					r.Post("/read_path", a.handleReadPath)
					r.Post("/read_subpath", a.handleReadSubPath)
					r.Post("/publish", a.handlePublish)
					r.Post("/publish_first", a.handlePublishFirst)
					r.Post("/joint_names", a.handleJointNames)
					r.Post("/center_of_mass", a.handleCenterOfMass)
					r.Post("/operational_frames", a.handleOperationalFrame)
					r.Post("/reset_topics", a.handleResetTopics)
				})
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeCommandError maps command errors onto HTTP statuses.
func (a *API) writeCommandError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("command failed")
	} else {
		a.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("command rejected")
	}
	writeJSON(w, status, map[string]string{"error": code, "message": err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, timegrid.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, scheduler.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, feed.ErrNotReady):
		return http.StatusConflict, "not_ready"
	case errors.Is(err, feed.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, commands.ErrNotLeader):
		return http.StatusServiceUnavailable, "not_leader"
	case errors.Is(err, commands.ErrCollaborator):
		return http.StatusBadGateway, "collaborator_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "aborted"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
