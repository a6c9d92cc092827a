/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package presets loads output registrations from YAML and applies them at
// startup.
package presets

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/pathfeed/internal/hpp"
)

// Output names one registered quantity.
type Output struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

// Preset is the file format.
//
//	joint_names: [arm_joint_1, arm_joint_2]
//	centers_of_mass:
//	  - name: ""
//	    kind: velocity
//	operational_frames:
//	  - name: gripper
type Preset struct {
	JointNames        []string `yaml:"joint_names"`
	CentersOfMass     []Output `yaml:"centers_of_mass"`
	OperationalFrames []Output `yaml:"operational_frames"`
}

// Registrar receives registrations. commands.Handler implements it.
type Registrar interface {
	SetJointNames(ctx context.Context, names []string) error
	AddCenterOfMass(ctx context.Context, name string, kind hpp.Kind) error
	AddOperationalFrame(ctx context.Context, name string, kind hpp.Kind) error
}

// Load reads and validates a preset file.
func Load(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates preset YAML.
func Parse(data []byte) (*Preset, error) {
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}

	var result *multierror.Error
	for i, o := range p.CentersOfMass {
		if _, err := hpp.ParseKind(o.Kind); err != nil {
			result = multierror.Append(result, fmt.Errorf("centers_of_mass[%d]: %w", i, err))
		}
	}
	for i, o := range p.OperationalFrames {
		if o.Name == "" {
			result = multierror.Append(result, fmt.Errorf("operational_frames[%d]: name is required", i))
		}
		if _, err := hpp.ParseKind(o.Kind); err != nil {
			result = multierror.Append(result, fmt.Errorf("operational_frames[%d]: %w", i, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Apply registers every output. It keeps going after a failure and returns all
// errors together for the caller to report.
func (p *Preset) Apply(ctx context.Context, r Registrar, logger zerolog.Logger) error {
	var result *multierror.Error

	if len(p.JointNames) > 0 {
		if err := r.SetJointNames(ctx, p.JointNames); err != nil {
			result = multierror.Append(result, fmt.Errorf("joint names: %w", err))
		}
	}
	for _, o := range p.CentersOfMass {
		kind, _ := hpp.ParseKind(o.Kind)
		if err := r.AddCenterOfMass(ctx, o.Name, kind); err != nil {
			result = multierror.Append(result, fmt.Errorf("center of mass %q: %w", o.Name, err))
		}
	}
	for _, o := range p.OperationalFrames {
		kind, _ := hpp.ParseKind(o.Kind)
		if err := r.AddOperationalFrame(ctx, o.Name, kind); err != nil {
			result = multierror.Append(result, fmt.Errorf("operational frame %q: %w", o.Name, err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	logger.Info().
		Int("joints", len(p.JointNames)).
		Int("centers_of_mass", len(p.CentersOfMass)).
		Int("operational_frames", len(p.OperationalFrames)).
		Msg("presets applied")
	return nil
}
