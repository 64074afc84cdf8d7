package simplesocket

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Tpgainz/simple-socket-go/simplesocket/internal"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var errNotConnected = errors.New("not connected")

// transport is the minimal connection surface the client needs. Satisfied
// by internal.Conn; tests substitute a fake.
type transport interface {
	Read(ctx context.Context, v any) error
	Write(ctx context.Context, v any) error
	Close(code websocket.StatusCode, reason string) error
}

type dialFunc func(ctx context.Context, addr string, cfg Config) (transport, error)

func dialWebsocket(ctx context.Context, addr string, cfg Config) (transport, error) {
	conn, err := internal.Dial(ctx, addr, cfg.HandshakeTimeout, cfg.ReadTimeout, cfg.WriteTimeout)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Client owns one logical connection to a state-synchronizing socket
// server. Register callbacks before calling Connect.
type Client struct {
	cfg        Config
	logger     Logger
	store      *stateStore
	tracker    *reconnectTracker
	dispatcher *Dispatcher

	dial dialFunc

	onStateChange      func(State)
	onConnectionChange func(ConnectionState)

	mu         sync.Mutex
	conn       transport
	connState  ConnectionState
	cancel     context.CancelFunc
	retryTimer *time.Timer
	lastErr    *SocketError
	closed     bool
	dialing    bool

	// writeMu serializes writes to the connection.
	writeMu sync.Mutex
}

// NewClient constructs a client with the provided config. Use
// DefaultConfig() as a starting point and modify as needed.
func NewClient(cfg Config) *Client {
	cfg.applyDefaults()

	var logger Logger = noopLogger{}
	if cfg.Logging {
		logger = NewSlogLogger(nil)
	}

	store := newStateStore(cfg.Validator)
	c := &Client{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		tracker:    newReconnectTracker(cfg.ReconnectDelay, cfg.MaxReconnectDelay, cfg.MaxReconnectAttempts),
		dispatcher: newDispatcher(store),
		dial:       dialWebsocket,
		connState:  ConnectionState{Status: StatusIdle},
	}
	store.onChange = c.notifyState
	c.dispatcher.SetOnError(c.recordError)
	return c
}

// Dial constructs a client and, when cfg.AutoConnect is set, immediately
// connects.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	c := NewClient(cfg)
	if c.cfg.AutoConnect {
		if err := c.Connect(ctx); err != nil {
			return c, err
		}
	}
	return c, nil
}

// SetLogger overrides the logger (optional).
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
}

// OnUserJoined registers a callback for user joined events.
func (c *Client) OnUserJoined(fn func(UserEvent)) { c.dispatcher.SetOnUserJoined(fn) }

// OnUserLeft registers a callback for user left events.
func (c *Client) OnUserLeft(fn func(UserEvent)) { c.dispatcher.SetOnUserLeft(fn) }

// OnStateChange registers a callback receiving a snapshot after every
// applied state update.
func (c *Client) OnStateChange(fn func(State)) { c.onStateChange = fn }

// OnConnectionChange registers a callback receiving a snapshot after
// every connection transition.
func (c *Client) OnConnectionChange(fn func(ConnectionState)) { c.onConnectionChange = fn }

// Connect dials the server and starts the read loop. On success the
// configured Room, if any, is joined exactly once.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("client closed")
	}
	if c.connState.IsConnected {
		c.mu.Unlock()
		return errors.New("already connected")
	}
	c.mu.Unlock()

	if err := c.cfg.Validate(); err != nil {
		return err
	}
	return c.connect(ctx)
}

// Reconnect closes any current connection and dials again. The retry
// tracker's countdown is cancelled first; a dial already in flight is
// left to finish instead of overlapping it.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("client closed")
	}
	conn := c.conn
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.stopRetryTimerLocked()
	c.mu.Unlock()

	c.tracker.stop()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "reconnect")
		c.markDisconnected("reconnect")
	}
	return c.connect(ctx)
}

// Disconnect closes the connection. Only acts when currently connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connState.IsConnected {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	c.tracker.stop()
	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	c.markDisconnected("client disconnect")
	return err
}

// Close tears the client down: stops any countdown or pending retry,
// deregisters every listener, and closes the connection. The client
// cannot be connected again afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.stopRetryTimerLocked()
	c.mu.Unlock()

	c.tracker.stop()
	c.dispatcher.RemoveAll()
	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client close")
	}
	c.markDisconnected("client close")
	return err
}

// JoinRoom subscribes to a room.
func (c *Client) JoinRoom(ctx context.Context, room string) error {
	return c.send(ctx, Inbound{Type: inboundJoin, Data: RoomPayload{Room: room}})
}

// LeaveRoom unsubscribes from a room.
func (c *Client) LeaveRoom(ctx context.Context, room string) error {
	return c.send(ctx, Inbound{Type: inboundLeave, Data: RoomPayload{Room: room}})
}

// UpdateState sends a partial state update. The returned boolean reflects
// only whether the send was attempted without a local error; failures are
// recorded in the error slot, never returned.
func (c *Client) UpdateState(ctx context.Context, partial State) bool {
	if !c.IsConnected() {
		c.recordError(NewError(ErrorConnection, "cannot update state: not connected"))
		return false
	}
	if err := c.send(ctx, Inbound{Type: inboundUpdateState, Data: partial}); err != nil {
		c.recordError(WrapError(ErrorUnknown, "state update send failed", err))
		return false
	}
	return true
}

// ReplaceState sends a full state replacement. The outgoing payload is
// run through the validator first; a rejected payload records a
// validation error and nothing is sent.
func (c *Client) ReplaceState(ctx context.Context, full State) bool {
	if !c.IsConnected() {
		c.recordError(NewError(ErrorConnection, "cannot replace state: not connected"))
		return false
	}
	if c.cfg.Validator != nil && !c.cfg.Validator.Validate(full) {
		err := NewError(ErrorValidation, "outgoing state rejected by validator")
		err.Details = full
		c.recordError(err)
		return false
	}
	if err := c.send(ctx, Inbound{Type: inboundReplaceState, Data: full}); err != nil {
		c.recordError(WrapError(ErrorUnknown, "state replace send failed", err))
		return false
	}
	return true
}

// Emit sends a free-form application event. Silently declines when not
// connected.
func (c *Client) Emit(ctx context.Context, event string, args ...any) {
	if !c.IsConnected() {
		c.logger.Debug("emit dropped: not connected", map[string]any{"event": event})
		return
	}
	var data any
	switch len(args) {
	case 0:
	case 1:
		data = args[0]
	default:
		data = args
	}
	if err := c.send(ctx, Inbound{Type: inboundEvent, Event: event, Data: data}); err != nil {
		c.logger.Warn("emit failed", map[string]any{"event": event, "error": err.Error()})
	}
}

// On registers a listener for a free-form application event and returns
// an unsubscribe closure deregistering exactly that listener.
func (c *Client) On(event string, fn EventListener) func() {
	return c.dispatcher.Subscribe(event, fn)
}

// State returns a snapshot of the application state, nil before the
// first full update.
func (c *Client) State() State { return c.store.snapshot() }

// ConnectionState returns a snapshot of connection bookkeeping.
func (c *Client) ConnectionState() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// Reconnection returns a snapshot of the retry tracker.
func (c *Client) Reconnection() ReconnectionInfo { return c.tracker.snapshot() }

// IsConnected reports whether the client is currently connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState.IsConnected
}

// LastError returns a copy of the most recent recorded error, nil when
// clear. Mutating the copy does not touch the slot.
func (c *Client) LastError() *SocketError {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr == nil {
		return nil
	}
	e := *c.lastErr
	return &e
}

// ClearError empties the error slot.
func (c *Client) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = nil
}

func (c *Client) connect(ctx context.Context) error {
	addr, err := c.buildAddr()
	if err != nil {
		sockErr := WrapError(ErrorConnection, "invalid address: "+err.Error(), err)
		c.recordError(sockErr)
		return sockErr
	}

	// one connect in flight at a time: a timer-fired retry and a manual
	// Connect/Reconnect must not both dial
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("client closed")
	}
	if c.connState.IsConnected {
		c.mu.Unlock()
		return errors.New("already connected")
	}
	if c.dialing {
		c.mu.Unlock()
		return errors.New("connect already in progress")
	}
	c.dialing = true
	c.mu.Unlock()

	c.setConnecting()
	c.logger.Info("connecting", map[string]any{"addr": addr})

	conn, err := c.dial(ctx, addr, c.cfg)
	if err != nil {
		c.mu.Lock()
		c.dialing = false
		c.mu.Unlock()
		reason := err.Error()
		sockErr := WrapError(classifyConnectError(err), "connect failed: "+reason, err)
		c.recordError(sockErr)
		c.markDisconnected(reason)
		c.scheduleReconnect(reason)
		return sockErr
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.dialing = false
	if c.closed {
		c.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "client close")
		return errors.New("client closed")
	}
	prev, prevCancel := c.conn, c.cancel
	c.stopRetryTimerLocked()
	c.conn = conn
	c.cancel = cancel
	c.connState = ConnectionState{
		Status:       StatusConnected,
		IsConnected:  true,
		ConnectionID: uuid.NewString(),
		ConnectedAt:  time.Now(),
	}
	c.lastErr = nil
	c.mu.Unlock()

	// a transport stored while we dialed is superseded: stop its read
	// loop and close it so no socket is orphaned
	if prevCancel != nil {
		prevCancel()
	}
	if prev != nil {
		_ = prev.Close(websocket.StatusNormalClosure, "superseded")
	}

	c.tracker.reset()
	c.notifyConnection()
	c.logger.Info("connected", map[string]any{"addr": addr})

	go c.readLoop(runCtx, conn)

	if c.cfg.Room != "" {
		if err := c.JoinRoom(ctx, c.cfg.Room); err != nil {
			c.logger.Warn("room join failed", map[string]any{"room": c.cfg.Room, "error": err.Error()})
		}
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn transport) {
	for {
		var out Outbound
		if err := conn.Read(ctx, &out); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				// client-initiated teardown, already handled
				return
			}
			reason := err.Error()
			if status := websocket.CloseStatus(err); status != -1 {
				c.recordError(WrapError(ErrorConnection, "server disconnected: "+reason, err))
			} else {
				c.recordError(WrapError(ErrorNetwork, "connection lost: "+reason, err))
			}
			c.markDisconnected(reason)
			c.scheduleReconnect(reason)
			return
		}
		c.dispatcher.Dispatch(out)
	}
}

func (c *Client) send(ctx context.Context, in Inbound) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connState.IsConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return errNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.Write(ctx, in)
}

func (c *Client) scheduleReconnect(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	attempt := c.tracker.snapshot().Attempt + 1
	if attempt > c.cfg.MaxReconnectAttempts {
		c.tracker.exhaust(reason)
		c.recordError(NewError(ErrorConnection,
			fmt.Sprintf("reconnection failed after %d attempts", c.cfg.MaxReconnectAttempts)))
		return
	}

	delay := c.tracker.retryScheduled(attempt, reason)
	c.logger.Info("reconnect scheduled", map[string]any{"attempt": attempt, "delay": delay.String()})

	c.mu.Lock()
	c.stopRetryTimerLocked()
	c.retryTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		// connect schedules the next retry itself on failure
		_ = c.connect(context.Background())
	})
	c.mu.Unlock()
}

func (c *Client) setConnecting() {
	c.mu.Lock()
	c.connState.Status = StatusConnecting
	c.connState.IsConnected = false
	c.connState.IsConnecting = true
	c.mu.Unlock()
	c.notifyConnection()
}

func (c *Client) markDisconnected(reason string) {
	c.mu.Lock()
	if c.connState.Status == StatusDisconnected {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.conn = nil
	c.connState.Status = StatusDisconnected
	c.connState.IsConnected = false
	c.connState.IsConnecting = false
	c.connState.LastDisconnectedAt = time.Now()
	c.connState.DisconnectReason = reason
	c.mu.Unlock()
	c.notifyConnection()
}

func (c *Client) recordError(err *SocketError) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	c.logger.Error(err.Message, map[string]any{"type": err.Type.String(), "id": err.ID})
	if c.cfg.ErrorHandler != nil {
		c.cfg.ErrorHandler.HandleError(err)
	}
}

func (c *Client) notifyState(snap State) {
	if c.onStateChange != nil {
		c.onStateChange(snap)
	}
}

func (c *Client) notifyConnection() {
	if c.onConnectionChange != nil {
		c.onConnectionChange(c.ConnectionState())
	}
}

// stopRetryTimerLocked must be called with c.mu held.
func (c *Client) stopRetryTimerLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Client) buildAddr() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	if c.cfg.Namespace != "" {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(c.cfg.Namespace, "/")
	}
	q := u.Query()
	if c.cfg.UserID != "" {
		q.Set("user_id", c.cfg.UserID)
	}
	if c.cfg.Room != "" {
		q.Set("room", c.cfg.Room)
	}
	for k, v := range c.cfg.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
