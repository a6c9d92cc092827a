/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hpp

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	methodInitialize          = "/agimus.hpp.Discretization/Initialize"
	methodShutdown            = "/agimus.hpp.Discretization/Shutdown"
	methodCompute             = "/agimus.hpp.Discretization/Compute"
	methodSetPath             = "/agimus.hpp.Discretization/SetPath"
	methodAddCenterOfMass     = "/agimus.hpp.Discretization/AddCenterOfMass"
	methodAddOperationalFrame = "/agimus.hpp.Discretization/AddOperationalFrame"
	methodSetJointNames       = "/agimus.hpp.Discretization/SetJointNames"
	methodResetTopics         = "/agimus.hpp.Discretization/ResetTopics"
)

// Kind selects whether a registered quantity is published as a position or
// as its time derivative.
type Kind int

const (
	Position Kind = iota
	Derivative
)

func (k Kind) String() string {
	switch k {
	case Position:
		return "position"
	case Derivative:
		return "velocity"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts "position" and "velocity" (or "derivative"). Empty means Position.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "position":
		return Position, nil
	case "velocity", "derivative":
		return Derivative, nil
	default:
		return Position, fmt.Errorf("unknown output kind %q", s)
	}
}

// Discretization drives the server-side discretization engine. Every Compute
// evaluates the current path at one time value and publishes all registered
// quantities to the downstream consumer.
type Discretization struct {
	client *Client
	logger zerolog.Logger
}

// NewDiscretization wraps a connected client.
func NewDiscretization(client *Client, logger zerolog.Logger) *Discretization {
	return &Discretization{
		client: client,
		logger: logger.With().Str("component", "hpp_discretization").Logger(),
	}
}

// Initialize starts the engine's publishing node.
func (d *Discretization) Initialize(ctx context.Context, nodeName string) error {
	req, err := structpb.NewStruct(map[string]any{
		"name":        nodeName,
		"multithread": false,
	})
	if err != nil {
		return fmt.Errorf("build initialize request: %w", err)
	}
	if err := d.client.invoke(ctx, methodInitialize, req, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("initialize discretization node %q: %w", nodeName, err)
	}
	d.logger.Info().Str("node", nodeName).Msg("discretization node initialized")
	return nil
}

// Maintain re-initializes the node every time the connection recovers from a
// failure, since a restarted server has lost it. Failed attempts are retried
// every retry interval. It returns when ctx ends.
func (d *Discretization) Maintain(ctx context.Context, nodeName string, retry time.Duration) {
	if retry <= 0 {
		retry = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.client.Unhealthy():
		}

		d.logger.Warn().Msg("path planning server unhealthy, waiting to re-initialize discretization")
		for {
			err := d.client.WaitReady(ctx)
			if err == nil {
				err = d.Initialize(ctx, nodeName)
			}
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			d.logger.Error().Err(err).Dur("retry", retry).Msg("could not re-initialize discretization")

			select {
			case <-ctx.Done():
				return
			case <-time.After(retry):
			}
		}
	}
}

// Shutdown stops the publishing node and releases the engine.
func (d *Discretization) Shutdown(ctx context.Context) error {
	if err := d.client.invoke(ctx, methodShutdown, &emptypb.Empty{}, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("shutdown discretization: %w", err)
	}
	return nil
}

// Compute evaluates and publishes every registered quantity at t.
func (d *Discretization) Compute(ctx context.Context, t float64) error {
	return d.client.invoke(ctx, methodCompute, wrapperspb.Double(t), &emptypb.Empty{})
}

// SetPath makes h the path sampled by Compute.
func (d *Discretization) SetPath(ctx context.Context, h Handle) error {
	if err := d.client.invoke(ctx, methodSetPath, wrapperspb.String(string(h)), &emptypb.Empty{}); err != nil {
		return fmt.Errorf("set path: %w", err)
	}
	return nil
}

// AddCenterOfMass registers a center-of-mass output backed by the given computation.
func (d *Discretization) AddCenterOfMass(ctx context.Context, name string, comp Handle, kind Kind) error {
	req, err := structpb.NewStruct(map[string]any{
		"name":        name,
		"computation": string(comp),
		"kind":        kind.String(),
	})
	if err != nil {
		return fmt.Errorf("build center of mass request: %w", err)
	}
	return d.register(ctx, methodAddCenterOfMass, req, "center of mass", name, kind)
}

// AddOperationalFrame registers an operational-frame output.
func (d *Discretization) AddOperationalFrame(ctx context.Context, name string, kind Kind) error {
	req, err := structpb.NewStruct(map[string]any{
		"name": name,
		"kind": kind.String(),
	})
	if err != nil {
		return fmt.Errorf("build operational frame request: %w", err)
	}
	return d.register(ctx, methodAddOperationalFrame, req, "operational frame", name, kind)
}

func (d *Discretization) register(ctx context.Context, method string, req *structpb.Struct, what, name string, kind Kind) error {
	resp := &wrapperspb.BoolValue{}
	if err := d.client.invoke(ctx, method, req, resp); err != nil {
		return fmt.Errorf("add %s %s %q: %w", what, kind, name, err)
	}
	if !resp.GetValue() {
		return fmt.Errorf("add %s %s %q: %w", what, kind, name, ErrRejected)
	}
	return nil
}

// SetJointNames selects the joints whose values are published.
func (d *Discretization) SetJointNames(ctx context.Context, names []string) error {
	values := make([]any, len(names))
	for i, n := range names {
		values[i] = n
	}
	req, err := structpb.NewList(values)
	if err != nil {
		return fmt.Errorf("build joint names request: %w", err)
	}
	if err := d.client.invoke(ctx, methodSetJointNames, req, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("set joint names: %w", err)
	}
	return nil
}

// ResetTopics drops every registered output.
func (d *Discretization) ResetTopics(ctx context.Context) error {
	if err := d.client.invoke(ctx, methodResetTopics, &emptypb.Empty{}, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("reset topics: %w", err)
	}
	return nil
}
