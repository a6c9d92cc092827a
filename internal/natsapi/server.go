/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package natsapi exposes the command surface as NATS topics and
// request-reply services, and forwards completion notifications.
package natsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/pathfeed/internal/events"
	"github.com/friendsincode/pathfeed/internal/hpp"
)

// Conn is the part of *nats.Conn used by the server.
type Conn interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
}

// Commands is the command surface served over NATS. commands.Handler
// implements it.
type Commands interface {
	ReadPath(ctx context.Context, id uint32) (int, error)
	ReadSubPath(ctx context.Context, id uint32, start, length float64) (int, error)
	StartPublish() error
	PublishFirst(ctx context.Context) error
	QueueSize() (int, error)
	SetJointNames(ctx context.Context, names []string) error
	AddCenterOfMass(ctx context.Context, name string, kind hpp.Kind) error
	AddOperationalFrame(ctx context.Context, name string, kind hpp.Kind) error
	ResetTopics(ctx context.Context) error
}

// Notifications forwarded from the event bus to NATS.
var forwarded = []events.EventType{events.EventReadPathDone, events.EventPublishDone}

// Server binds subjects under a prefix to Commands.
type Server struct {
	conn           Conn
	cmds           Commands
	bus            *events.Bus
	prefix         string
	requestTimeout time.Duration
	logger         zerolog.Logger

	mu     sync.Mutex
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server. prefix is the subject prefix, e.g. "hpp.target".
func NewServer(conn Conn, cmds Commands, bus *events.Bus, prefix string, requestTimeout time.Duration, logger zerolog.Logger) *Server {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Server{
		conn:           conn,
		cmds:           cmds,
		bus:            bus,
		prefix:         strings.TrimSuffix(prefix, "."),
		requestTimeout: requestTimeout,
		logger:         logger.With().Str("component", "natsapi").Logger(),
	}
}

// Subject returns the full subject for name.
func (s *Server) Subject(name string) string {
	return s.prefix + "." + name
}

// Start subscribes every topic and service and starts forwarding
// notifications. ctx bounds the lifetime of commands run for messages.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New("natsapi: already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	handlers := map[string]nats.MsgHandler{
		// topics
		"read_path":    s.onReadPath,
		"read_subpath": s.onReadSubPath,
		"publish":      s.onPublish,

		// services
		"publish_first":                  s.onPublishFirst,
		"get_queue_size":                 s.onQueueSize,
		"set_joint_names":                s.onSetJointNames,
		"add_center_of_mass":             s.onAddCenterOfMass(hpp.Position),
		"add_center_of_mass_velocity":    s.onAddCenterOfMass(hpp.Derivative),
		"add_operational_frame":          s.onAddOperationalFrame(hpp.Position),
		"add_operational_frame_velocity": s.onAddOperationalFrame(hpp.Derivative),
		"reset_topics":                   s.onResetTopics,
	}
	for name, h := range handlers {
		sub, err := s.conn.Subscribe(s.Subject(name), h)
		if err != nil {
			s.unsubscribeLocked()
			s.cancel()
			s.cancel = nil
			return fmt.Errorf("subscribe %s: %w", s.Subject(name), err)
		}
		if sub != nil {
			s.subs = append(s.subs, sub)
		}
	}

	for _, eventType := range forwarded {
		sub := s.bus.Subscribe(eventType)
		s.wg.Add(1)
		go s.forward(eventType, sub)
	}

	s.logger.Info().Str("prefix", s.prefix).Int("subjects", len(handlers)).Msg("NATS command surface started")
	return nil
}

// Stop unsubscribes and stops forwarding.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.unsubscribeLocked()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) unsubscribeLocked() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug().Err(err).Str("subject", sub.Subject).Msg("unsubscribe failed")
		}
	}
	s.subs = nil
}

func (s *Server) forward(eventType events.EventType, sub events.Subscriber) {
	defer s.wg.Done()
	defer s.bus.Unsubscribe(eventType, sub)

	subject := s.Subject(string(eventType))
	for {
		select {
		case <-s.ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(payload)
			if err != nil {
				s.logger.Error().Err(err).Str("subject", subject).Msg("encode notification")
				continue
			}
			if err := s.conn.Publish(subject, data); err != nil {
				s.logger.Warn().Err(err).Str("subject", subject).Msg("publish notification failed")
			}
		}
	}
}

func (s *Server) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.requestTimeout)
}

// reply answers a service request. Messages without a reply subject are
// treated as fire-and-forget.
func (s *Server) reply(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Str("subject", msg.Subject).Msg("encode reply")
		return
	}
	if err := s.conn.Publish(msg.Reply, data); err != nil {
		s.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("send reply failed")
	}
}

func (s *Server) replyResult(msg *nats.Msg, err error) {
	resp := map[string]any{"success": err == nil}
	if err != nil {
		resp["message"] = err.Error()
	}
	s.reply(msg, resp)
}

// parsePathID accepts {"id":N} or a bare integer.
func parsePathID(data []byte) (uint32, error) {
	raw := strings.TrimSpace(string(data))
	if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
		return uint32(id), nil
	}

	var req struct {
		ID *uint32 `json:"id"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return 0, fmt.Errorf("invalid path id %q: %w", raw, err)
	}
	if req.ID == nil {
		return 0, errors.New("path id is required")
	}
	return *req.ID, nil
}

func (s *Server) onReadPath(msg *nats.Msg) {
	id, err := parsePathID(msg.Data)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("ignoring read_path")
		return
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	// Failures are logged by the command handler.
	_, _ = s.cmds.ReadPath(ctx, id)
}

func (s *Server) onReadSubPath(msg *nats.Msg) {
	var req struct {
		ID     *uint32  `json:"id"`
		Start  float64  `json:"start"`
		Length *float64 `json:"length"`
	}
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.ID == nil || req.Length == nil {
		s.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("ignoring read_subpath: id and length are required")
		return
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	_, _ = s.cmds.ReadSubPath(ctx, *req.ID, req.Start, *req.Length)
}

func (s *Server) onPublish(msg *nats.Msg) {
	if err := s.cmds.StartPublish(); err != nil {
		s.logger.Warn().Err(err).Msg("publish request rejected")
	}
}

func (s *Server) onPublishFirst(msg *nats.Msg) {
	ctx, cancel := s.requestContext()
	defer cancel()

	err := s.cmds.PublishFirst(ctx)
	message := ""
	if err != nil {
		message = err.Error()
	}
	s.reply(msg, map[string]any{"success": err == nil, "message": message})
}

func (s *Server) onQueueSize(msg *nats.Msg) {
	size, err := s.cmds.QueueSize()
	if err != nil {
		s.reply(msg, map[string]string{"error": err.Error()})
		return
	}
	s.reply(msg, map[string]int{"data": size})
}

func (s *Server) onSetJointNames(msg *nats.Msg) {
	var req struct {
		Names []string `json:"names"`
	}
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.replyResult(msg, fmt.Errorf("invalid request: %w", err))
		return
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	s.replyResult(msg, s.cmds.SetJointNames(ctx, req.Names))
}

type valueRequest struct {
	Value string `json:"value"`
}

func decodeValue(data []byte) (string, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", nil
	}
	var req valueRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}
	return req.Value, nil
}

func (s *Server) onAddCenterOfMass(kind hpp.Kind) nats.MsgHandler {
	return func(msg *nats.Msg) {
		name, err := decodeValue(msg.Data)
		if err != nil {
			s.replyResult(msg, err)
			return
		}

		ctx, cancel := s.requestContext()
		defer cancel()
		s.replyResult(msg, s.cmds.AddCenterOfMass(ctx, name, kind))
	}
}

func (s *Server) onAddOperationalFrame(kind hpp.Kind) nats.MsgHandler {
	return func(msg *nats.Msg) {
		name, err := decodeValue(msg.Data)
		if err == nil && name == "" {
			err = errors.New("operational frame name is required")
		}
		if err != nil {
			s.replyResult(msg, err)
			return
		}

		ctx, cancel := s.requestContext()
		defer cancel()
		s.replyResult(msg, s.cmds.AddOperationalFrame(ctx, name, kind))
	}
}

func (s *Server) onResetTopics(msg *nats.Msg) {
	ctx, cancel := s.requestContext()
	defer cancel()
	s.replyResult(msg, s.cmds.ResetTopics(ctx))
}
