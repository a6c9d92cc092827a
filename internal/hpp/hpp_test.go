/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hpp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// fakeServer stands in for the planning server and its discretization plugin.
type fakeServer struct {
	mu           sync.Mutex
	lengths      map[uint32]float64
	nextServant  int
	live         map[string]bool
	released     []string
	currentPath  string
	computed     []float64
	joints       []string
	registered   []string
	rejectFrames bool
	node         string
	initialized  int
	failInit     int
	shutdown     bool
	resets       int
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		lengths: map[uint32]float64{0: 4.5, 7: 1.25},
		live:    map[string]bool{},
	}
}

func (f *fakeServer) servant(prefix string) string {
	f.nextServant++
	ref := fmt.Sprintf("%s-%d", prefix, f.nextServant)
	f.live[ref] = true
	return ref
}

func unary[Req proto.Message](newReq func() Req, fn func(Req) (proto.Message, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		req := newReq()
		if err := dec(req); err != nil {
			return nil, err
		}
		return fn(req)
	}
}

func newUInt32() *wrapperspb.UInt32Value { return &wrapperspb.UInt32Value{} }
func newString() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }
func newDouble() *wrapperspb.DoubleValue { return &wrapperspb.DoubleValue{} }
func newStruct() *structpb.Struct        { return &structpb.Struct{} }
func newList() *structpb.ListValue       { return &structpb.ListValue{} }
func newEmpty() *emptypb.Empty           { return &emptypb.Empty{} }

func (f *fakeServer) register(s *grpc.Server) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "hpp.corbaserver.Problem",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "PathLength", Handler: unary(newUInt32, func(req *wrapperspb.UInt32Value) (proto.Message, error) {
				f.mu.Lock()
				defer f.mu.Unlock()
				l, ok := f.lengths[req.GetValue()]
				if !ok {
					return nil, status.Errorf(codes.NotFound, "no path %d", req.GetValue())
				}
				return wrapperspb.Double(l), nil
			})},
			{MethodName: "GetPath", Handler: unary(newUInt32, func(req *wrapperspb.UInt32Value) (proto.Message, error) {
				f.mu.Lock()
				defer f.mu.Unlock()
				if _, ok := f.lengths[req.GetValue()]; !ok {
					return nil, status.Errorf(codes.NotFound, "no path %d", req.GetValue())
				}
				return wrapperspb.String(f.servant("path")), nil
			})},
		},
	}, f)

	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "hpp.corbaserver.Tools",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "DeleteServant", Handler: unary(newString, func(req *wrapperspb.StringValue) (proto.Message, error) {
				f.mu.Lock()
				defer f.mu.Unlock()
				delete(f.live, req.GetValue())
				f.released = append(f.released, req.GetValue())
				return &emptypb.Empty{}, nil
			})},
		},
	}, f)

	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "hpp.corbaserver.Robot",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetCenterOfMassComputation", Handler: unary(newString, func(req *wrapperspb.StringValue) (proto.Message, error) {
				f.mu.Lock()
				defer f.mu.Unlock()
				return wrapperspb.String(f.servant("com")), nil
			})},
		},
	}, f)

	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "agimus.hpp.Discretization",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Initialize", Handler: unary(newStruct, func(req *structpb.Struct) (proto.Message, error) {
				f.mu.Lock()
				defer f.mu.Unlock()
				if f.failInit > 0 {
					f.failInit--
					return nil, status.Error(codes.FailedPrecondition, "plugin not loaded")
				}
				f.node = req.GetFields()["name"].GetStringValue()
				f.initialized++
				return &emptypb.Empty{}, nil
			})},
			{MethodName: "Shutdown", Handler: unary(newEmpty, func(*emptypb.Empty) (proto.Message, error) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.shutdown = true
				return &emptypb.Empty{}, nil
			})},
			{MethodName: "Compute", Handler: unary(newDouble, func(req *wrapperspb.DoubleValue) (proto.Message, error) {
				f.mu.Lock()
				defer f.mu.Unlock()
				if f.currentPath == "" {
					return nil, status.Error(codes.FailedPrecondition, "no path set")
				}
				f.computed = append(f.computed, req.GetValue())
				return &emptypb.Empty{}, nil
			})},
			{MethodName: "SetPath", Handler: unary(newString, func(req *wrapperspb.StringValue) (proto.Message, error) {
				f.mu.Lock()
				defer f.mu.Unlock()
				if !f.live[req.GetValue()] {
					return nil, status.Errorf(codes.NotFound, "unknown servant %s", req.GetValue())
				}
				f.currentPath = req.GetValue()
				return &emptypb.Empty{}, nil
			})},
			{MethodName: "AddCenterOfMass", Handler: unary(newStruct, func(req *structpb.Struct) (proto.Message, error) {
				f.mu.Lock()
				defer f.mu.Unlock()
				fields := req.GetFields()
				if !f.live[fields["computation"].GetStringValue()] {
					return wrapperspb.Bool(false), nil
				}
				f.registered = append(f.registered, "com:"+fields["name"].GetStringValue()+":"+fields["kind"].GetStringValue())
				return wrapperspb.Bool(true), nil
			})},
			{MethodName: "AddOperationalFrame", Handler: unary(newStruct, func(req *structpb.Struct) (proto.Message, error) {
				f.mu.Lock()
				defer f.mu.Unlock()
				if f.rejectFrames {
					return wrapperspb.Bool(false), nil
				}
				fields := req.GetFields()
				f.registered = append(f.registered, "frame:"+fields["name"].GetStringValue()+":"+fields["kind"].GetStringValue())
				return wrapperspb.Bool(true), nil
			})},
			{MethodName: "SetJointNames", Handler: unary(newList, func(req *structpb.ListValue) (proto.Message, error) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.joints = f.joints[:0]
				for _, v := range req.GetValues() {
					f.joints = append(f.joints, v.GetStringValue())
				}
				return &emptypb.Empty{}, nil
			})},
			{MethodName: "ResetTopics", Handler: unary(newEmpty, func(*emptypb.Empty) (proto.Message, error) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.registered = nil
				f.resets++
				return &emptypb.Empty{}, nil
			})},
		},
	}, f)
}

func startFakeServer(t *testing.T) (*fakeServer, *Client) {
	t.Helper()

	fake := newFakeServer()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	fake.register(srv)

	go func() {
		_ = srv.Serve(lis)
	}()

	cfg := DefaultConfig("passthrough:///bufnet")
	cfg.DialOptions = []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	}
	client := New(cfg, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		_ = client.Close()
		srv.Stop()
	})
	return fake, client
}

func TestClientConnection(t *testing.T) {
	_, client := startFakeServer(t)

	if !client.IsConnected() {
		t.Fatal("expected client to be connected")
	}
	// Connecting twice is a no-op.
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected client to be disconnected after close")
	}
}

func TestCallsBeforeConnect(t *testing.T) {
	client := New(DefaultConfig("localhost:1"), zerolog.Nop())
	planner := NewPlanner(client, zerolog.Nop())

	if _, err := planner.PathLength(context.Background(), 0); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestPlannerPathLength(t *testing.T) {
	_, client := startFakeServer(t)
	planner := NewPlanner(client, zerolog.Nop())
	ctx := context.Background()

	l, err := planner.PathLength(ctx, 7)
	if err != nil {
		t.Fatalf("PathLength: %v", err)
	}
	if l != 1.25 {
		t.Errorf("length = %v, want 1.25", l)
	}

	_, err = planner.PathLength(ctx, 99)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown path, got %v", err)
	}
	if status.Code(err) != codes.NotFound {
		t.Errorf("expected gRPC status to survive wrapping, got %v", status.Code(err))
	}
}

func TestWithPathReleases(t *testing.T) {
	fake, client := startFakeServer(t)
	planner := NewPlanner(client, zerolog.Nop())
	disc := NewDiscretization(client, zerolog.Nop())
	ctx := context.Background()

	err := planner.WithPath(ctx, 0, func(h Handle) error {
		return disc.SetPath(ctx, h)
	})
	if err != nil {
		t.Fatalf("WithPath: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.released) != 1 || fake.released[0] != fake.currentPath {
		t.Errorf("expected path %s to be released, released=%v", fake.currentPath, fake.released)
	}
	if len(fake.live) != 0 {
		t.Errorf("leaked servants: %v", fake.live)
	}
}

func TestWithPathReleasesOnError(t *testing.T) {
	fake, client := startFakeServer(t)
	planner := NewPlanner(client, zerolog.Nop())

	boom := errors.New("boom")
	err := planner.WithPath(context.Background(), 0, func(Handle) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.released) != 1 {
		t.Errorf("expected one release, got %v", fake.released)
	}
}

func TestDiscretizationCompute(t *testing.T) {
	fake, client := startFakeServer(t)
	planner := NewPlanner(client, zerolog.Nop())
	disc := NewDiscretization(client, zerolog.Nop())
	ctx := context.Background()

	if err := disc.Compute(ctx, 0); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected before a path is set, got %v", err)
	}

	if err := planner.WithPath(ctx, 0, func(h Handle) error { return disc.SetPath(ctx, h) }); err != nil {
		t.Fatalf("set path: %v", err)
	}
	for _, ts := range []float64{0, 0.5, 1} {
		if err := disc.Compute(ctx, ts); err != nil {
			t.Fatalf("Compute(%v): %v", ts, err)
		}
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.computed) != 3 || fake.computed[1] != 0.5 {
		t.Errorf("computed = %v", fake.computed)
	}
}

func TestDiscretizationRegistrations(t *testing.T) {
	fake, client := startFakeServer(t)
	planner := NewPlanner(client, zerolog.Nop())
	disc := NewDiscretization(client, zerolog.Nop())
	ctx := context.Background()

	err := planner.WithCenterOfMass(ctx, "", func(h Handle) error {
		return disc.AddCenterOfMass(ctx, "", h, Derivative)
	})
	if err != nil {
		t.Fatalf("AddCenterOfMass: %v", err)
	}
	if err := disc.AddOperationalFrame(ctx, "gripper", Position); err != nil {
		t.Fatalf("AddOperationalFrame: %v", err)
	}

	fake.mu.Lock()
	got := append([]string(nil), fake.registered...)
	live := len(fake.live)
	fake.rejectFrames = true
	fake.mu.Unlock()

	want := []string{"com::velocity", "frame:gripper:position"}
	if len(got) != len(want) {
		t.Fatalf("registered = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("registered[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if live != 0 {
		t.Errorf("center of mass computation was not released")
	}

	if err := disc.AddOperationalFrame(ctx, "gripper", Derivative); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}

	if err := disc.ResetTopics(ctx); err != nil {
		t.Fatalf("ResetTopics: %v", err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.resets != 1 || len(fake.registered) != 0 {
		t.Errorf("reset did not clear registrations: resets=%d registered=%v", fake.resets, fake.registered)
	}
}

func TestDiscretizationLifecycle(t *testing.T) {
	fake, client := startFakeServer(t)
	disc := NewDiscretization(client, zerolog.Nop())
	ctx := context.Background()

	if err := disc.Initialize(ctx, "hpp_discretization"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := disc.SetJointNames(ctx, []string{"arm_1", "arm_2"}); err != nil {
		t.Fatalf("SetJointNames: %v", err)
	}
	if err := disc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.node != "hpp_discretization" {
		t.Errorf("node = %q", fake.node)
	}
	if len(fake.joints) != 2 || fake.joints[1] != "arm_2" {
		t.Errorf("joints = %v", fake.joints)
	}
	if !fake.shutdown {
		t.Error("expected shutdown")
	}
}

func TestMaintainReinitializesAfterFailure(t *testing.T) {
	fake, client := startFakeServer(t)
	disc := NewDiscretization(client, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.Cleanup(func() {
		cancel()
		<-done
	})

	if err := disc.Initialize(ctx, "hpp_discretization"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	fake.mu.Lock()
	fake.failInit = 1
	fake.mu.Unlock()

	go func() {
		defer close(done)
		disc.Maintain(ctx, "hpp_discretization", 10*time.Millisecond)
	}()

	// What the connection monitor sends after a server restart.
	client.reconnectC <- struct{}{}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		fake.mu.Lock()
		n := fake.initialized
		fake.mu.Unlock()
		if n == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("discretization node was not re-initialized after the connection recovered")
}

func TestWaitReadyBeforeConnect(t *testing.T) {
	client := New(DefaultConfig("localhost:1"), zerolog.Nop())
	if err := client.WaitReady(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{Position, "position"},
		{Derivative, "velocity"},
		{Kind(7), "kind(7)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"", Position, false},
		{"position", Position, false},
		{"velocity", Derivative, false},
		{"derivative", Derivative, false},
		{"acceleration", Position, true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
