/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/pathfeed/internal/events"
	"github.com/friendsincode/pathfeed/internal/feed"
	"github.com/friendsincode/pathfeed/internal/hpp"
	"github.com/friendsincode/pathfeed/internal/scheduler"
	"github.com/friendsincode/pathfeed/internal/timegrid"
)

type fakePlanner struct {
	mu       sync.Mutex
	lengths  map[uint32]float64
	next     int
	live     map[hpp.Handle]bool
	released []hpp.Handle
}

func newFakePlanner() *fakePlanner {
	return &fakePlanner{
		lengths: map[uint32]float64{1: 0.5, 2: 0.1},
		live:    map[hpp.Handle]bool{},
	}
}

func (p *fakePlanner) PathLength(_ context.Context, id uint32) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.lengths[id]
	if !ok {
		return 0, fmt.Errorf("path %d: %w", id, hpp.ErrNotFound)
	}
	return l, nil
}

func (p *fakePlanner) acquire(prefix string) hpp.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	h := hpp.Handle(fmt.Sprintf("%s-%d", prefix, p.next))
	p.live[h] = true
	return h
}

func (p *fakePlanner) release(h hpp.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, h)
	p.released = append(p.released, h)
}

func (p *fakePlanner) WithPath(_ context.Context, id uint32, fn func(hpp.Handle) error) error {
	p.mu.Lock()
	_, ok := p.lengths[id]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("get path %d: %w", id, hpp.ErrNotFound)
	}
	h := p.acquire("path")
	defer p.release(h)
	return fn(h)
}

func (p *fakePlanner) WithCenterOfMass(_ context.Context, _ string, fn func(hpp.Handle) error) error {
	h := p.acquire("com")
	defer p.release(h)
	return fn(h)
}

func (p *fakePlanner) liveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

type fakeDisc struct {
	mu         sync.Mutex
	path       hpp.Handle
	computed   []float64
	joints     []string
	registered []string
	resets     int

	setPathErr  error
	registerErr error

	// gate, when set, blocks Compute until it is closed or ctx ends.
	gate    chan struct{}
	started chan struct{}

	// pathGate, when set, blocks SetPath until it is closed.
	pathGate    chan struct{}
	pathStarted chan struct{}
}

func (d *fakeDisc) Compute(ctx context.Context, t float64) error {
	if d.gate != nil {
		select {
		case d.started <- struct{}{}:
		default:
		}
		select {
		case <-d.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.computed = append(d.computed, t)
	return nil
}

func (d *fakeDisc) SetPath(_ context.Context, h hpp.Handle) error {
	if d.pathGate != nil {
		d.pathStarted <- struct{}{}
		<-d.pathGate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.setPathErr != nil {
		return d.setPathErr
	}
	d.path = h
	return nil
}

func (d *fakeDisc) AddCenterOfMass(_ context.Context, name string, comp hpp.Handle, kind hpp.Kind) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.registerErr != nil {
		return d.registerErr
	}
	d.registered = append(d.registered, fmt.Sprintf("com:%s:%s:%s", name, kind, comp))
	return nil
}

func (d *fakeDisc) AddOperationalFrame(_ context.Context, name string, kind hpp.Kind) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.registerErr != nil {
		return d.registerErr
	}
	d.registered = append(d.registered, fmt.Sprintf("frame:%s:%s", name, kind))
	return nil
}

func (d *fakeDisc) SetJointNames(_ context.Context, names []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.joints = append([]string(nil), names...)
	return nil
}

func (d *fakeDisc) ResetTopics(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registered = nil
	d.resets++
	return nil
}

func (d *fakeDisc) computedTimes() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.computed...)
}

type staticLeader bool

func (l staticLeader) IsLeader() bool { return bool(l) }

type fixture struct {
	handler *Handler
	feed    *feed.Feed
	planner *fakePlanner
	disc    *fakeDisc
	bus     *events.Bus
}

func newFixture(t *testing.T, leader LeaderGate) *fixture {
	return newFixtureWithRecorder(t, leader, nil)
}

func newFixtureWithRecorder(t *testing.T, leader LeaderGate, recorder RunRecorder) *fixture {
	t.Helper()

	f := feed.New()
	bus := events.NewBus()
	planner := newFakePlanner()
	disc := &fakeDisc{}

	sched, err := scheduler.New(f, disc, bus, scheduler.Config{
		ControlPeriod:      time.Millisecond,
		FirstSampleTimeout: 50 * time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}

	h := NewHandler(f, sched, planner, disc, bus, Config{RootJoint: "root_joint", Leader: leader, Recorder: recorder}, zerolog.Nop())
	t.Cleanup(func() { _ = h.Close() })

	return &fixture{handler: h, feed: f, planner: planner, disc: disc, bus: bus}
}

func waitEvent(t *testing.T, sub events.Subscriber) events.Payload {
	t.Helper()
	select {
	case p := <-sub:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestReadPathLoadsGrid(t *testing.T) {
	fx := newFixture(t, nil)
	done := fx.bus.Subscribe(events.EventReadPathDone)

	size, err := fx.handler.ReadPath(context.Background(), 1)
	if err != nil {
		t.Fatalf("ReadPath: %v", err)
	}
	if size != 501 {
		t.Errorf("size = %d, want 501", size)
	}

	if qs, err := fx.handler.QueueSize(); err != nil || qs != 501 {
		t.Errorf("QueueSize = %d, %v", qs, err)
	}
	if fx.handler.State() != feed.StateLoaded {
		t.Errorf("state = %s, want loaded", fx.handler.State())
	}
	if fx.disc.path == "" {
		t.Error("expected discretization path to be set")
	}
	if fx.planner.liveCount() != 0 {
		t.Error("path handle was not released")
	}

	payload := waitEvent(t, done)
	if payload["id"] != uint32(1) || payload["size"] != 501 {
		t.Errorf("read_path_done payload = %v", payload)
	}
}

func TestReadPathUnknownPath(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.handler.ReadPath(context.Background(), 42)
	if !errors.Is(err, ErrCollaborator) || !errors.Is(err, hpp.ErrNotFound) {
		t.Fatalf("expected collaborator failure, got %v", err)
	}
	if fx.feed.HasGrid() {
		t.Error("feed must stay empty after a failed read")
	}
}

func TestReadSubPath(t *testing.T) {
	tests := []struct {
		name      string
		start     float64
		length    float64
		wantSize  int
		wantFirst float64
		wantErr   error
	}{
		{name: "forward", start: 0.25, length: 0.5, wantSize: 501, wantFirst: 0.25},
		{name: "backward", start: 1, length: -0.5, wantSize: 501, wantFirst: 1},
		{name: "zero length", start: 1, length: 0, wantErr: timegrid.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, nil)

			size, err := fx.handler.ReadSubPath(context.Background(), 1, tt.start, tt.length)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadSubPath: %v", err)
			}
			if size != tt.wantSize {
				t.Errorf("size = %d, want %d", size, tt.wantSize)
			}
			first, err := fx.feed.FirstSampleTime()
			if err != nil || first != tt.wantFirst {
				t.Errorf("first sample = %v, %v; want %v", first, err, tt.wantFirst)
			}
		})
	}
}

func TestReadKeepsPreviousGridOnFailure(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	if _, err := fx.handler.ReadPath(ctx, 2); err != nil {
		t.Fatalf("ReadPath: %v", err)
	}

	fx.disc.mu.Lock()
	fx.disc.setPathErr = errors.New("engine unavailable")
	fx.disc.mu.Unlock()

	if _, err := fx.handler.ReadPath(ctx, 1); !errors.Is(err, ErrCollaborator) {
		t.Fatalf("expected ErrCollaborator, got %v", err)
	}
	if size, _ := fx.feed.Size(); size != 101 {
		t.Errorf("previous grid replaced: size = %d, want 101", size)
	}
}

func TestQueueSizeWithoutPath(t *testing.T) {
	fx := newFixture(t, nil)

	for i := 0; i < 2; i++ {
		if _, err := fx.handler.QueueSize(); !errors.Is(err, feed.ErrNotReady) {
			t.Fatalf("call %d: expected ErrNotReady, got %v", i, err)
		}
	}
}

func TestPublishDrainsGrid(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	done := fx.bus.Subscribe(events.EventPublishDone)

	if _, err := fx.handler.ReadPath(ctx, 2); err != nil {
		t.Fatalf("ReadPath: %v", err)
	}
	res, err := fx.handler.Publish(ctx)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Samples != 101 {
		t.Errorf("published %d, want 101", res.Samples)
	}

	times := fx.disc.computedTimes()
	if len(times) != 101 || times[0] != 0 || times[100] != 0.1 {
		t.Errorf("unexpected computed times: len=%d", len(times))
	}
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			t.Fatalf("times not increasing at %d", i)
		}
	}

	if _, err := fx.handler.QueueSize(); !errors.Is(err, feed.ErrNotReady) {
		t.Errorf("expected empty feed after publish, got %v", err)
	}
	waitEvent(t, done)
}

func TestStartPublishRunsInBackground(t *testing.T) {
	fx := newFixture(t, nil)
	done := fx.bus.Subscribe(events.EventPublishDone)

	if _, err := fx.handler.ReadPath(context.Background(), 2); err != nil {
		t.Fatalf("ReadPath: %v", err)
	}
	if err := fx.handler.StartPublish(); err != nil {
		t.Fatalf("StartPublish: %v", err)
	}

	payload := waitEvent(t, done)
	if payload["samples"] != 101 {
		t.Errorf("publish_done samples = %v", payload["samples"])
	}

	deadline := time.Now().Add(time.Second)
	for fx.handler.Publishing() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fx.handler.Publishing() {
		t.Error("worker still busy after publish_done")
	}
}

func TestStartPublishWithoutPath(t *testing.T) {
	fx := newFixture(t, nil)

	if err := fx.handler.StartPublish(); !errors.Is(err, feed.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if len(fx.disc.computedTimes()) != 0 {
		t.Error("nothing should be computed")
	}
}

func TestPublishInProgressRejectsConflicts(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	aborted := fx.bus.Subscribe(events.EventPublishAborted)
	reset := fx.bus.Subscribe(events.EventTopicsReset)

	fx.disc.gate = make(chan struct{})
	fx.disc.started = make(chan struct{}, 1)

	if _, err := fx.handler.ReadPath(ctx, 2); err != nil {
		t.Fatalf("ReadPath: %v", err)
	}
	if err := fx.handler.StartPublish(); err != nil {
		t.Fatalf("StartPublish: %v", err)
	}

	select {
	case <-fx.disc.started:
	case <-time.After(5 * time.Second):
		t.Fatal("publish never reached the engine")
	}

	if err := fx.handler.StartPublish(); !errors.Is(err, feed.ErrBusy) {
		t.Errorf("second publish: expected ErrBusy, got %v", err)
	}
	if _, err := fx.handler.ReadPath(ctx, 1); !errors.Is(err, feed.ErrBusy) {
		t.Errorf("read during publish: expected ErrBusy, got %v", err)
	}
	if size, err := fx.handler.QueueSize(); err != nil || size != 101 {
		t.Errorf("QueueSize during publish = %d, %v", size, err)
	}

	if err := fx.handler.ResetTopics(ctx); err != nil {
		t.Fatalf("ResetTopics: %v", err)
	}

	waitEvent(t, aborted)
	waitEvent(t, reset)
	if fx.handler.Publishing() {
		t.Error("worker still busy after reset")
	}
	if fx.feed.State() != feed.StateIdle {
		t.Errorf("state = %s, want idle", fx.feed.State())
	}
}

func TestPublishFirst(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	if err := fx.handler.PublishFirst(ctx); !errors.Is(err, scheduler.ErrTimeout) {
		t.Fatalf("expected ErrTimeout without a path, got %v", err)
	}

	if _, err := fx.handler.ReadSubPath(ctx, 1, 0.3, 0.1); err != nil {
		t.Fatalf("ReadSubPath: %v", err)
	}
	if err := fx.handler.PublishFirst(ctx); err != nil {
		t.Fatalf("PublishFirst: %v", err)
	}

	times := fx.disc.computedTimes()
	if len(times) != 1 || times[0] != 0.3 {
		t.Errorf("computed = %v, want [0.3]", times)
	}
	if !fx.feed.HasGrid() {
		t.Error("grid must remain loaded after PublishFirst")
	}
}

func TestSetJointNamesDropsRootJoint(t *testing.T) {
	fx := newFixture(t, nil)

	err := fx.handler.SetJointNames(context.Background(), []string{"robot/root_joint", "arm_1", "arm_2"})
	if err != nil {
		t.Fatalf("SetJointNames: %v", err)
	}

	want := []string{"arm_1", "arm_2"}
	if len(fx.disc.joints) != len(want) {
		t.Fatalf("joints = %v, want %v", fx.disc.joints, want)
	}
	for i := range want {
		if fx.disc.joints[i] != want[i] {
			t.Errorf("joints[%d] = %q, want %q", i, fx.disc.joints[i], want[i])
		}
	}
}

func TestRegistrations(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	if err := fx.handler.AddCenterOfMass(ctx, "", hpp.Position); err != nil {
		t.Fatalf("AddCenterOfMass: %v", err)
	}
	if err := fx.handler.AddCenterOfMass(ctx, "", hpp.Derivative); err != nil {
		t.Fatalf("AddCenterOfMass velocity: %v", err)
	}
	if err := fx.handler.AddOperationalFrame(ctx, "gripper", hpp.Derivative); err != nil {
		t.Fatalf("AddOperationalFrame: %v", err)
	}

	if got := len(fx.disc.registered); got != 3 {
		t.Fatalf("registered %d outputs, want 3: %v", got, fx.disc.registered)
	}
	if fx.disc.registered[2] != "frame:gripper:velocity" {
		t.Errorf("frame registration = %q", fx.disc.registered[2])
	}
	if fx.planner.liveCount() != 0 {
		t.Error("center of mass computations were not released")
	}

	fx.disc.registerErr = hpp.ErrRejected
	if err := fx.handler.AddOperationalFrame(ctx, "base", hpp.Position); !errors.Is(err, ErrCollaborator) {
		t.Errorf("expected ErrCollaborator, got %v", err)
	}
	if err := fx.handler.AddCenterOfMass(ctx, "", hpp.Position); !errors.Is(err, ErrCollaborator) {
		t.Errorf("expected ErrCollaborator, got %v", err)
	}
	if fx.planner.liveCount() != 0 {
		t.Error("center of mass computation leaked on failure")
	}
}

func TestStandbyRejectsPublish(t *testing.T) {
	fx := newFixture(t, staticLeader(false))
	ctx := context.Background()

	if _, err := fx.handler.ReadPath(ctx, 2); err != nil {
		t.Fatalf("reads are allowed on standby: %v", err)
	}
	if err := fx.handler.StartPublish(); !errors.Is(err, ErrNotLeader) {
		t.Errorf("StartPublish: expected ErrNotLeader, got %v", err)
	}
	if _, err := fx.handler.Publish(ctx); !errors.Is(err, ErrNotLeader) {
		t.Errorf("Publish: expected ErrNotLeader, got %v", err)
	}
	if err := fx.handler.PublishFirst(ctx); !errors.Is(err, ErrNotLeader) {
		t.Errorf("PublishFirst: expected ErrNotLeader, got %v", err)
	}
	if len(fx.disc.computedTimes()) != 0 {
		t.Error("standby instance must not drive the engine")
	}
}

func TestCloseStopsWorker(t *testing.T) {
	fx := newFixture(t, staticLeader(true))

	if _, err := fx.handler.ReadPath(context.Background(), 2); err != nil {
		t.Fatalf("ReadPath: %v", err)
	}
	if err := fx.handler.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := fx.handler.StartPublish(); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled after close, got %v", err)
	}
}

type recordedRun struct {
	pathID  uint32
	outcome string
	samples int
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []recordedRun
}

func (r *fakeRecorder) RecordRun(ctx context.Context, pathID uint32, res scheduler.Result, runErr error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, recordedRun{pathID: pathID, outcome: scheduler.Outcome(runErr), samples: res.Samples})
	return nil
}

func TestPublishRunsAreRecorded(t *testing.T) {
	recorder := &fakeRecorder{}
	fx := newFixtureWithRecorder(t, nil, recorder)
	ctx := context.Background()

	if _, err := fx.handler.ReadPath(ctx, 2); err != nil {
		t.Fatalf("ReadPath: %v", err)
	}
	if _, err := fx.handler.Publish(ctx); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := fx.handler.ReadPath(ctx, 1); err != nil {
		t.Fatalf("ReadPath: %v", err)
	}
	if _, err := fx.handler.Publish(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled publish, got %v", err)
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.runs) != 2 {
		t.Fatalf("recorded %d runs, want 2", len(recorder.runs))
	}
	if got := recorder.runs[0]; got.pathID != 2 || got.outcome != scheduler.OutcomeDone || got.samples != 101 {
		t.Errorf("first run = %+v", got)
	}
	if got := recorder.runs[1]; got.pathID != 1 || got.outcome != scheduler.OutcomeAborted || got.samples != 0 {
		t.Errorf("second run = %+v", got)
	}
}

func TestLeadershipLossAbortsPublish(t *testing.T) {
	fx := newFixture(t, nil)
	aborted := fx.bus.Subscribe(events.EventPublishAborted)

	fx.disc.gate = make(chan struct{})
	fx.disc.started = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan bool)
	watching := make(chan struct{})
	go func() {
		defer close(watching)
		fx.handler.WatchLeadership(ctx, changes)
	}()

	if _, err := fx.handler.ReadPath(ctx, 2); err != nil {
		t.Fatalf("ReadPath: %v", err)
	}
	if err := fx.handler.StartPublish(); err != nil {
		t.Fatalf("StartPublish: %v", err)
	}
	select {
	case <-fx.disc.started:
	case <-time.After(5 * time.Second):
		t.Fatal("publish never reached the engine")
	}

	changes <- true
	if !fx.handler.Publishing() {
		t.Fatal("gaining leadership must not stop the publish")
	}

	changes <- false
	waitEvent(t, aborted)
	if fx.handler.Publishing() {
		t.Error("worker still busy after leadership loss")
	}

	close(changes)
	select {
	case <-watching:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not exit when the channel closed")
	}
}

func TestResetTopicsClearsLoadedGrid(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	if _, err := fx.handler.ReadPath(ctx, 2); err != nil {
		t.Fatalf("ReadPath: %v", err)
	}
	if err := fx.handler.ResetTopics(ctx); err != nil {
		t.Fatalf("ResetTopics: %v", err)
	}

	if _, err := fx.handler.QueueSize(); !errors.Is(err, feed.ErrNotReady) {
		t.Errorf("QueueSize after reset: expected ErrNotReady, got %v", err)
	}
	if err := fx.handler.StartPublish(); !errors.Is(err, feed.ErrNotReady) {
		t.Errorf("StartPublish after reset: expected ErrNotReady, got %v", err)
	}
	if fx.handler.State() != feed.StateIdle {
		t.Errorf("state = %s, want idle", fx.handler.State())
	}
	if fx.disc.resets != 1 {
		t.Errorf("engine resets = %d, want 1", fx.disc.resets)
	}
}

func TestReadInProgressHoldsFeed(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	if _, err := fx.handler.ReadPath(ctx, 2); err != nil {
		t.Fatalf("ReadPath: %v", err)
	}

	fx.disc.pathGate = make(chan struct{})
	fx.disc.pathStarted = make(chan struct{}, 1)

	type readResult struct {
		size int
		err  error
	}
	result := make(chan readResult, 1)
	go func() {
		size, err := fx.handler.ReadPath(ctx, 1)
		result <- readResult{size, err}
	}()

	select {
	case <-fx.disc.pathStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("read never reached the engine")
	}

	// The engine is switching paths: the old grid must not be published and
	// no other read may interleave.
	if err := fx.handler.StartPublish(); !errors.Is(err, feed.ErrBusy) {
		t.Errorf("StartPublish during read: expected ErrBusy, got %v", err)
	}
	if _, err := fx.handler.Publish(ctx); !errors.Is(err, feed.ErrBusy) {
		t.Errorf("Publish during read: expected ErrBusy, got %v", err)
	}
	if _, err := fx.handler.ReadSubPath(ctx, 2, 0, 0.05); !errors.Is(err, feed.ErrBusy) {
		t.Errorf("concurrent read: expected ErrBusy, got %v", err)
	}
	if size, err := fx.handler.QueueSize(); err != nil || size != 101 {
		t.Errorf("QueueSize during read = %d, %v; want previous grid", size, err)
	}

	close(fx.disc.pathGate)
	var got readResult
	select {
	case got = <-result:
	case <-time.After(5 * time.Second):
		t.Fatal("read did not finish")
	}
	if got.err != nil || got.size != 501 {
		t.Fatalf("ReadPath = %d, %v", got.size, got.err)
	}
	if len(fx.disc.computedTimes()) != 0 {
		t.Fatal("nothing may be computed while the path is swapped")
	}

	fx.disc.pathGate = nil
	res, err := fx.handler.Publish(ctx)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Samples != 501 {
		t.Errorf("published %d samples, want the new grid's 501", res.Samples)
	}
}
