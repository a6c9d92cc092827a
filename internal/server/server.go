/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-multierror"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/pathfeed/internal/api"
	"github.com/friendsincode/pathfeed/internal/commands"
	"github.com/friendsincode/pathfeed/internal/config"
	"github.com/friendsincode/pathfeed/internal/db"
	"github.com/friendsincode/pathfeed/internal/events"
	"github.com/friendsincode/pathfeed/internal/feed"
	"github.com/friendsincode/pathfeed/internal/history"
	"github.com/friendsincode/pathfeed/internal/hpp"
	"github.com/friendsincode/pathfeed/internal/leadership"
	"github.com/friendsincode/pathfeed/internal/natsapi"
	"github.com/friendsincode/pathfeed/internal/presets"
	"github.com/friendsincode/pathfeed/internal/scheduler"
	"github.com/friendsincode/pathfeed/internal/telemetry"
)

const (
	startupTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
	reinitRetry     = 2 * time.Second
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	bus      *events.Bus
	db       *gorm.DB
	hpp      *hpp.Client
	disc     *hpp.Discretization
	handler  *commands.Handler
	election *leadership.Election
	nats     *natsapi.Server

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. It connects to the path
// planning server and initializes the discretization node before returning.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("pathfeed-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for the websocket event stream
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		if cerr := srv.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("cleanup after failed startup")
		}
		return nil, err
	}

	srv.configureRoutes()
	if err := srv.startBackgroundWorkers(); err != nil {
		if cerr := srv.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("cleanup after failed startup")
		}
		return nil, err
	}

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout set to 0 for the event stream; the middleware timeout covers the rest
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	// Path planning server and discretization engine
	s.hpp = hpp.New(hpp.DefaultConfig(s.cfg.HPPGRPCAddr), s.logger)
	if err := s.hpp.Connect(ctx); err != nil {
		return fmt.Errorf("connect to path planning server: %w", err)
	}
	s.DeferClose(s.hpp.Close)

	planner := hpp.NewPlanner(s.hpp, s.logger)
	disc := hpp.NewDiscretization(s.hpp, s.logger)
	s.disc = disc
	if err := disc.Initialize(ctx, s.cfg.DiscretizationNode); err != nil {
		return err
	}
	s.DeferClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return disc.Shutdown(ctx)
	})

	f := feed.New()
	sched, err := scheduler.New(f, disc, s.bus, scheduler.Config{
		ControlPeriod:       s.cfg.ControlPeriod(),
		Lookahead:           s.cfg.Lookahead,
		PacingRate:          s.cfg.PacingRate,
		FirstSampleTimeout:  s.cfg.FirstSampleTimeout,
		FirstSamplePollRate: s.cfg.FirstSamplePollRate,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	// Run history
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	runs := history.NewStore(database, s.cfg.InstanceID, s.logger)

	handlerCfg := commands.Config{
		RootJoint: s.cfg.RootJoint,
		Recorder:  runs,
	}

	// Only one instance drives the consumer when leader election is enabled
	if s.cfg.LeaderElectionEnabled {
		electionConfig := leadership.DefaultConfig()
		electionConfig.RedisAddr = s.cfg.RedisAddr
		electionConfig.RedisPassword = s.cfg.RedisPassword
		electionConfig.RedisDB = s.cfg.RedisDB
		electionConfig.InstanceID = s.cfg.InstanceID

		election, err := leadership.NewElection(electionConfig, s.bus, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}
		s.election = election
		s.DeferClose(election.Stop)
		handlerCfg.Leader = election

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", electionConfig.InstanceID).
			Msg("leader election enabled for publisher")
	}

	s.handler = commands.NewHandler(f, sched, planner, disc, s.bus, handlerCfg, s.logger)
	s.DeferClose(s.handler.Close)

	if s.cfg.PresetsFile != "" {
		preset, err := presets.Load(s.cfg.PresetsFile)
		if err != nil {
			return err
		}
		// The remaining outputs stay registered after a partial failure.
		if err := preset.Apply(ctx, s.handler, s.logger); err != nil {
			s.logger.Warn().Err(err).Str("file", s.cfg.PresetsFile).Msg("some presets could not be applied")
		}
	}

	if s.cfg.NATSURL != "" {
		natsCfg := natsapi.DefaultConfig(s.cfg.NATSURL)
		nc, err := natsapi.Connect(natsCfg, s.logger)
		if err != nil {
			return err
		}
		s.DeferClose(func() error { return drain(nc) })
		s.nats = natsapi.NewServer(nc, s.handler, s.bus, s.cfg.NATSSubjectPrefix, natsCfg.RequestTimeout, s.logger)
	}

	var jwtSecret []byte
	if s.cfg.JWTSigningKey != "" {
		jwtSecret = []byte(s.cfg.JWTSigningKey)
	} else {
		s.logger.Warn().Msg("PATHFEED_JWT_SIGNING_KEY not set, HTTP command surface is unauthenticated")
	}
	api.New(s.handler, runs, s.bus, jwtSecret, s.logger).Routes(s.router)

	return nil
}

func drain(nc *nats.Conn) error {
	if nc.IsClosed() {
		return nil
	}
	return nc.Drain()
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()

	var result *multierror.Error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.closers = nil
	return result.ErrorOrNil()
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.election != nil {
		if err := s.election.Start(ctx); err != nil {
			return fmt.Errorf("start leader election: %w", err)
		}
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.handler.WatchLeadership(ctx, s.election.LeaderCh())
		}()
	}

	if s.nats != nil {
		if err := s.nats.Start(ctx); err != nil {
			return err
		}
	}

	// A restarted planning server has lost the discretization node.
	if s.disc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.disc.Maintain(ctx, s.cfg.DiscretizationNode, reinitRetry)
		}()
	}

	// Start database metrics updater
	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}

	return nil
}

func (s *Server) stopBackgroundWorkers() {
	if s.nats != nil {
		s.nats.Stop()
	}
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", telemetry.Handler())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	response := map[string]any{"status": "ok"}

	connected := s.hpp != nil && s.hpp.IsConnected()
	response["hpp_connected"] = connected
	if !connected {
		status = http.StatusServiceUnavailable
		response["status"] = "degraded"
	}

	if s.handler != nil {
		response["state"] = s.handler.State()
	}

	// Add leader status if leader election is enabled
	if s.election != nil {
		response["leader"] = s.election.IsLeader()
		response["instance_id"] = s.election.InstanceID()
	}

	writeJSON(w, status, response)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
