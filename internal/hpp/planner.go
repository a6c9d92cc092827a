/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hpp

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	methodPathLength       = "/hpp.corbaserver.Problem/PathLength"
	methodGetPath          = "/hpp.corbaserver.Problem/GetPath"
	methodDeleteServant    = "/hpp.corbaserver.Tools/DeleteServant"
	methodCenterOfMassComp = "/hpp.corbaserver.Robot/GetCenterOfMassComputation"
)

// Handle references a server-side object that must be released after use.
type Handle string

// Planner exposes the path-planning queries the publisher needs.
type Planner struct {
	client *Client
	logger zerolog.Logger
}

// NewPlanner wraps a connected client.
func NewPlanner(client *Client, logger zerolog.Logger) *Planner {
	return &Planner{
		client: client,
		logger: logger.With().Str("component", "hpp_planner").Logger(),
	}
}

// PathLength returns the parametric length of a stored path, in seconds.
func (p *Planner) PathLength(ctx context.Context, id uint32) (float64, error) {
	resp := &wrapperspb.DoubleValue{}
	if err := p.client.invoke(ctx, methodPathLength, wrapperspb.UInt32(id), resp); err != nil {
		return 0, fmt.Errorf("path length of %d: %w", id, err)
	}
	return resp.GetValue(), nil
}

// GetPath returns a handle on a stored path. The caller must Release it.
func (p *Planner) GetPath(ctx context.Context, id uint32) (Handle, error) {
	resp := &wrapperspb.StringValue{}
	if err := p.client.invoke(ctx, methodGetPath, wrapperspb.UInt32(id), resp); err != nil {
		return "", fmt.Errorf("get path %d: %w", id, err)
	}
	return Handle(resp.GetValue()), nil
}

// CenterOfMassComputation returns a handle on the named center-of-mass
// computation. The caller must Release it.
func (p *Planner) CenterOfMassComputation(ctx context.Context, name string) (Handle, error) {
	resp := &wrapperspb.StringValue{}
	if err := p.client.invoke(ctx, methodCenterOfMassComp, wrapperspb.String(name), resp); err != nil {
		return "", fmt.Errorf("center of mass computation %q: %w", name, err)
	}
	return Handle(resp.GetValue()), nil
}

// Release frees a server-side object.
func (p *Planner) Release(ctx context.Context, h Handle) error {
	if h == "" {
		return nil
	}
	if err := p.client.invoke(ctx, methodDeleteServant, wrapperspb.String(string(h)), &emptypb.Empty{}); err != nil {
		return fmt.Errorf("release %s: %w", h, err)
	}
	return nil
}

// WithPath fetches a path, hands it to fn, and always releases it.
func (p *Planner) WithPath(ctx context.Context, id uint32, fn func(Handle) error) error {
	h, err := p.GetPath(ctx, id)
	if err != nil {
		return err
	}
	defer p.release(h)
	return fn(h)
}

// WithCenterOfMass is WithPath for center-of-mass computations.
func (p *Planner) WithCenterOfMass(ctx context.Context, name string, fn func(Handle) error) error {
	h, err := p.CenterOfMassComputation(ctx, name)
	if err != nil {
		return err
	}
	defer p.release(h)
	return fn(h)
}

// release runs on its own context so a cancelled caller still frees the object.
func (p *Planner) release(h Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := p.Release(ctx, h); err != nil {
		p.logger.Warn().Err(err).Str("handle", string(h)).Msg("failed to release server object")
	}
}
