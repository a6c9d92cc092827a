/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package hpp talks to the path-planning server and its discretization plugin
// over gRPC.
package hpp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/friendsincode/pathfeed/internal/telemetry"
)

var (
	// ErrNotConnected is returned when a call is made before Connect.
	ErrNotConnected = errors.New("not connected to path planning server")

	// ErrNotFound is returned when the server does not know the requested object.
	ErrNotFound = errors.New("not found on path planning server")

	// ErrRejected is returned when the server answered but refused the request.
	ErrRejected = errors.New("rejected by path planning server")
)

const releaseTimeout = 2 * time.Second

// Client holds the gRPC connection shared by Planner and Discretization.
type Client struct {
	addr            string
	opts            []grpc.DialOption
	connectTimeout  time.Duration
	monitorInterval time.Duration
	logger          zerolog.Logger

	mu         sync.RWMutex
	conn       *grpc.ClientConn
	connected  bool
	reconnectC chan struct{}
	done       chan struct{}
}

// Config holds client configuration
type Config struct {
	Address           string
	ConnectionTimeout time.Duration
	MonitorInterval   time.Duration

	// DialOptions are appended to the defaults; tests use them to dial in memory.
	DialOptions []grpc.DialOption
}

// DefaultConfig returns default client configuration
func DefaultConfig(address string) *Config {
	return &Config{
		Address:           address,
		ConnectionTimeout: 5 * time.Second,
		MonitorInterval:   5 * time.Second,
	}
}

// New creates a new client. It does not dial until Connect is called.
func New(cfg *Config, logger zerolog.Logger) *Client {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
	opts = append(opts, cfg.DialOptions...)

	c := &Client{
		addr:            cfg.Address,
		opts:            opts,
		connectTimeout:  cfg.ConnectionTimeout,
		monitorInterval: cfg.MonitorInterval,
		logger:          logger.With().Str("component", "hpp_client").Logger(),
		reconnectC:      make(chan struct{}, 1),
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = 5 * time.Second
	}
	if c.monitorInterval <= 0 {
		c.monitorInterval = 5 * time.Second
	}
	return c
}

// Connect establishes the connection and waits until it is ready.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	c.logger.Info().Str("address", c.addr).Msg("connecting to path planning server")

	conn, err := grpc.NewClient(c.addr, c.opts...)
	if err != nil {
		return fmt.Errorf("failed to create gRPC client: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			break
		}
		if state == connectivity.Shutdown {
			_ = conn.Close()
			return fmt.Errorf("connection failed, state: %v", state)
		}
		if !conn.WaitForStateChange(waitCtx, state) {
			_ = conn.Close()
			return fmt.Errorf("timeout waiting for connection to %s", c.addr)
		}
	}

	c.conn = conn
	c.connected = true
	c.done = make(chan struct{})

	c.logger.Info().Msg("connected to path planning server")

	go c.monitorConnection(c.conn, c.done, c.monitorInterval)

	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	c.logger.Info().Msg("closing path planning server connection")
	close(c.done)
	err := c.conn.Close()
	c.conn = nil
	c.connected = false
	return err
}

// IsConnected returns whether the client is connected and ready.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.conn != nil && c.conn.GetState() == connectivity.Ready
}

// WaitReady blocks until the connection is ready again or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return fmt.Errorf("wait ready: %w", ErrNotConnected)
		case connectivity.Idle:
			conn.Connect()
		}
		if !conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

// Unhealthy fires (non-blocking, coalesced) when the connection degrades.
func (c *Client) Unhealthy() <-chan struct{} {
	return c.reconnectC
}

func (c *Client) monitorConnection(conn *grpc.ClientConn, done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		state := conn.GetState()
		if state == connectivity.TransientFailure || state == connectivity.Shutdown {
			c.logger.Warn().Str("state", state.String()).Msg("path planning server connection unhealthy")
			select {
			case c.reconnectC <- struct{}{}:
			default:
			}
		}
	}
}

// invoke performs one unary call and records its latency.
func (c *Client) invoke(ctx context.Context, method string, req, resp proto.Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("%s: %w", method, ErrNotConnected)
	}

	start := time.Now()
	err := conn.Invoke(ctx, method, req, resp)
	telemetry.CollaboratorCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	if err != nil {
		return fmt.Errorf("%s: %w", method, mapError(err))
	}
	return nil
}

// mapError keeps the gRPC status and adds a package sentinel where one fits.
func mapError(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case codes.Unavailable:
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	case codes.FailedPrecondition, codes.InvalidArgument:
		return fmt.Errorf("%w: %w", ErrRejected, err)
	default:
		return err
	}
}
