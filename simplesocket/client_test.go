package simplesocket

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// fakeTransport stands in for the websocket connection. Reads block
// until an envelope or error is fed in.
type fakeTransport struct {
	mu     sync.Mutex
	writes []Inbound
	closed bool

	readCh chan Outbound
	errCh  chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		readCh: make(chan Outbound),
		errCh:  make(chan error),
	}
}

func (f *fakeTransport) Read(ctx context.Context, v any) error {
	select {
	case out := <-f.readCh:
		*(v.(*Outbound)) = out
		return nil
	case err := <-f.errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Write(_ context.Context, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("write on closed connection")
	}
	f.writes = append(f.writes, v.(Inbound))
	return nil
}

func (f *fakeTransport) Close(websocket.StatusCode, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sent(msgType string) []Inbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Inbound
	for _, in := range f.writes {
		if in.Type == msgType {
			out = append(out, in)
		}
	}
	return out
}

func newFakeClient(cfg Config) (*Client, *fakeTransport) {
	if cfg.URL == "" {
		cfg.URL = "ws://localhost:8080/ws"
	}
	ft := newFakeTransport()
	c := NewClient(cfg)
	c.dial = func(context.Context, string, Config) (transport, error) {
		return ft, nil
	}
	return c, ft
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestUpdateStateNotConnected(t *testing.T) {
	c := NewClient(Config{URL: "ws://localhost:8080/ws"})
	if c.UpdateState(context.Background(), State{"count": 1}) {
		t.Fatal("expected false while not connected")
	}
	if err := c.LastError(); err == nil || err.Type != ErrorConnection {
		t.Fatalf("expected connection error, got %+v", err)
	}

	c.ClearError()
	if c.LastError() != nil {
		t.Fatal("expected cleared error slot")
	}

	if c.ReplaceState(context.Background(), State{"count": 1}) {
		t.Fatal("expected false while not connected")
	}
	if err := c.LastError(); err == nil || err.Type != ErrorConnection {
		t.Fatalf("expected connection error, got %+v", err)
	}
}

func TestEmitDeclinesSilentlyWhenNotConnected(t *testing.T) {
	c, ft := newFakeClient(Config{})
	c.Emit(context.Background(), "chat", "hello")

	if len(ft.writes) != 0 {
		t.Fatalf("unexpected send: %+v", ft.writes)
	}
	if c.LastError() != nil {
		t.Fatalf("emit should not record errors, got %+v", c.LastError())
	}
}

func TestConnectJoinsConfiguredRoomOnce(t *testing.T) {
	c, ft := newFakeClient(Config{Room: "lobby"})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Close()

	joins := ft.sent(inboundJoin)
	if len(joins) != 1 {
		t.Fatalf("join sent %d times, want exactly once", len(joins))
	}
	if joins[0].Data.(RoomPayload).Room != "lobby" {
		t.Fatalf("joined %+v, want lobby", joins[0].Data)
	}

	st := c.ConnectionState()
	if !st.IsConnected || st.IsConnecting {
		t.Fatalf("bad state after connect: %+v", st)
	}
	if st.ConnectionID == "" || st.ConnectedAt.IsZero() {
		t.Fatalf("missing connection stamps: %+v", st)
	}
}

func TestReplaceStateValidatorRejectsOutgoing(t *testing.T) {
	validator := ValidatorFunc(func(s State) bool {
		n, ok := s["count"].(int)
		return ok && n >= 0
	})
	c, ft := newFakeClient(Config{Validator: validator})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Close()

	if c.ReplaceState(context.Background(), State{"count": -5}) {
		t.Fatal("expected rejection")
	}
	if err := c.LastError(); err == nil || err.Type != ErrorValidation {
		t.Fatalf("expected validation error, got %+v", err)
	}
	if len(ft.sent(inboundReplaceState)) != 0 {
		t.Fatal("rejected payload was sent")
	}

	if !c.ReplaceState(context.Background(), State{"count": 5}) {
		t.Fatal("valid payload should send")
	}
	if len(ft.sent(inboundReplaceState)) != 1 {
		t.Fatal("expected one replace sent")
	}
}

func TestEmitSendsEventEnvelope(t *testing.T) {
	c, ft := newFakeClient(Config{})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Close()

	c.Emit(context.Background(), "chat", "hello")

	events := ft.sent(inboundEvent)
	if len(events) != 1 || events[0].Event != "chat" || events[0].Data != "hello" {
		t.Fatalf("unexpected event envelope: %+v", events)
	}
}

func TestServerDisconnectRaisesOneConnectionError(t *testing.T) {
	var mu sync.Mutex
	connErrs := 0
	cfg := Config{
		// park the retry far in the future so assertions are stable
		ReconnectDelay:    time.Hour,
		MaxReconnectDelay: time.Hour,
		ErrorHandler: ErrorHandlerFunc(func(err *SocketError) {
			if err.Type == ErrorConnection {
				mu.Lock()
				connErrs++
				mu.Unlock()
			}
		}),
	}
	c, ft := newFakeClient(cfg)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Close()

	ft.errCh <- websocket.CloseError{Code: websocket.StatusGoingAway, Reason: "server shutdown"}

	waitFor(t, "disconnect", func() bool { return !c.IsConnected() })
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	n := connErrs
	mu.Unlock()
	if n != 1 {
		t.Fatalf("connection errors raised %d times, want exactly once", n)
	}

	st := c.ConnectionState()
	if st.LastDisconnectedAt.IsZero() || st.DisconnectReason == "" {
		t.Fatalf("missing disconnect stamps: %+v", st)
	}
	if !c.Reconnection().IsReconnecting {
		t.Fatal("expected a reconnect to be scheduled")
	}
}

func TestConnectFailureClassified(t *testing.T) {
	c := NewClient(Config{
		URL:               "ws://localhost:8080/ws",
		ReconnectDelay:    time.Hour,
		MaxReconnectDelay: time.Hour,
	})
	c.dial = func(context.Context, string, Config) (transport, error) {
		return nil, errors.New("handshake timeout")
	}
	defer c.Close()

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	if err := c.LastError(); err == nil || err.Type != ErrorTimeout {
		t.Fatalf("expected timeout classification, got %+v", err)
	}
}

func TestReconnectExhaustionRaisesTerminalError(t *testing.T) {
	c := NewClient(Config{
		URL:                  "ws://localhost:8080/ws",
		MaxReconnectAttempts: 1,
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectDelay:    10 * time.Millisecond,
	})
	c.dial = func(context.Context, string, Config) (transport, error) {
		return nil, errors.New("connection refused")
	}
	defer c.Close()

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}

	waitFor(t, "exhaustion", func() bool {
		err := c.LastError()
		return err != nil && err.Type == ErrorConnection &&
			strings.Contains(err.Message, "after 1 attempts")
	})

	info := c.Reconnection()
	if info.IsReconnecting {
		t.Fatal("expected IsReconnecting false after exhaustion")
	}
}

func TestCloseLeavesNoTimersOrListeners(t *testing.T) {
	c, ft := newFakeClient(Config{
		ReconnectDelay:    time.Hour,
		MaxReconnectDelay: time.Hour,
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	off := c.On("ping", func(json.RawMessage) {})
	c.On("pong", func(json.RawMessage) {})
	_ = off

	// force a disconnect so a countdown and retry timer are live
	ft.errCh <- websocket.CloseError{Code: websocket.StatusGoingAway, Reason: "server shutdown"}
	waitFor(t, "disconnect", func() bool { return !c.IsConnected() })
	waitFor(t, "countdown", func() bool { return c.Reconnection().IsReconnecting })

	if err := c.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if n := c.dispatcher.listenerCount(); n != 0 {
		t.Fatalf("%d listeners still registered after close", n)
	}

	c.tracker.mu.Lock()
	countdownLive := c.tracker.stopCh != nil
	c.tracker.mu.Unlock()
	if countdownLive {
		t.Fatal("countdown still running after close")
	}

	c.mu.Lock()
	timerLive := c.retryTimer != nil
	c.mu.Unlock()
	if timerLive {
		t.Fatal("retry timer still pending after close")
	}

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected error connecting a closed client")
	}
}

func TestDisconnectOnlyActsWhenConnected(t *testing.T) {
	c, _ := newFakeClient(Config{})
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect while idle should be a no-op, got %v", err)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if c.IsConnected() {
		t.Fatal("still connected after disconnect")
	}
	// no error raised for a client-initiated disconnect
	if c.LastError() != nil {
		t.Fatalf("unexpected error: %+v", c.LastError())
	}
	c.Close()
}

func TestOverlappingConnectsLeaveOneTransport(t *testing.T) {
	c := NewClient(Config{URL: "ws://localhost:8080/ws"})
	gate := make(chan struct{})
	var mu sync.Mutex
	var transports []*fakeTransport
	c.dial = func(context.Context, string, Config) (transport, error) {
		<-gate
		ft := newFakeTransport()
		mu.Lock()
		transports = append(transports, ft)
		mu.Unlock()
		return ft, nil
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = c.Connect(context.Background()) }()
	go func() { defer wg.Done(); _ = c.Reconnect(context.Background()) }()

	// let both goroutines race for the dial before releasing it
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()
	defer c.Close()

	waitFor(t, "connect", func() bool { return c.IsConnected() })

	mu.Lock()
	defer mu.Unlock()
	open := 0
	for _, ft := range transports {
		ft.mu.Lock()
		if !ft.closed {
			open++
		}
		ft.mu.Unlock()
	}
	if open != 1 {
		t.Fatalf("%d transports left open after overlapping connects, want 1", open)
	}
}

func TestLastErrorReturnsCopy(t *testing.T) {
	c := NewClient(Config{URL: "ws://localhost:8080/ws"})
	c.UpdateState(context.Background(), State{"count": 1})

	got := c.LastError()
	if got == nil || got.Type != ErrorConnection {
		t.Fatalf("expected connection error, got %+v", got)
	}
	got.Type = ErrorUnknown
	got.Message = "mutated"
	got.Details = "mutated"

	kept := c.LastError()
	if kept.Type != ErrorConnection || kept.Message == "mutated" || kept.Details != nil {
		t.Fatalf("error slot aliased by caller mutation: %+v", kept)
	}
}

func TestInboundStateUpdateReachesStore(t *testing.T) {
	c, ft := newFakeClient(Config{})
	var gotState State
	var stateMu sync.Mutex
	c.OnStateChange(func(s State) {
		stateMu.Lock()
		gotState = s
		stateMu.Unlock()
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Close()

	ft.readCh <- Outbound{Type: outboundStateUpdate, Data: []byte(`{"count":1}`)}

	waitFor(t, "state update", func() bool {
		stateMu.Lock()
		defer stateMu.Unlock()
		return gotState != nil && gotState["count"] == float64(1)
	})
	if got := c.State(); got["count"] != float64(1) {
		t.Fatalf("snapshot = %v", got)
	}
}
