package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"golang.org/x/sync/errgroup"

	"github.com/dmora/copilot/internal/errfmt"
	"github.com/dmora/copilot/internal/jsonrpc"
)

// eventQueueSize decouples session.event dispatch from the read loop so
// handlers may issue RPCs. If handlers fall this far behind, the read loop
// blocks and RPC responses stall until they catch up.
const eventQueueSize = 1024

// maxConcurrentDestroy bounds the session.destroy calls Stop issues at once.
const maxConcurrentDestroy = 8

// ConnectionState is the lifecycle state of a Client.
type ConnectionState string

// Client states.
const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// Client manages the connection to a Copilot CLI server and the sessions
// created on it. A Client is safe for concurrent use.
type Client struct {
	opts ClientOptions
	log  *slog.Logger

	// dial opens the transport. Replaced in tests.
	dial func(ctx context.Context) (*transport, error)

	startMu sync.Mutex // serializes Start and Stop

	mu       sync.Mutex
	state    ConnectionState
	lost     bool // connection dropped without Stop
	conn     *jsonrpc.Conn
	tr       *transport
	sessions map[string]*Session
}

// NewClient creates a client. Nothing is spawned until Start, or until the
// first session operation when auto-start is enabled (the default).
func NewClient(opts ...ClientOption) *Client {
	o := resolveClientOptions(opts...)
	c := &Client{
		opts:     o,
		log:      o.Logger,
		state:    StateDisconnected,
		sessions: make(map[string]*Session),
	}
	c.dial = c.dialCLI
	return c
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start spawns or connects to the CLI server and verifies its protocol
// version. Calling Start on a connected client is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	return c.start(ctx)
}

func (c *Client) start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	stale := c.tr
	var orphaned []*Session
	c.tr, c.conn, c.lost = nil, nil, false
	if stale != nil {
		// Sessions of a dead server cannot be used on the new one.
		orphaned = slices.Collect(maps.Values(c.sessions))
		c.sessions = make(map[string]*Session)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	for _, s := range orphaned {
		s.markDestroyed()
	}
	if stale != nil {
		stale.kill()
	}

	if c.opts.StartTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.StartTimeout)
		defer cancel()
	}

	tr, err := c.dial(ctx)
	if err != nil {
		c.setState(StateError)
		return err
	}
	conn := c.wire(tr)
	if err := c.verifyProtocolVersion(ctx, conn); err != nil {
		tr.kill()
		c.setState(StateError)
		return err
	}

	c.mu.Lock()
	c.conn, c.tr, c.state = conn, tr, StateConnected
	c.mu.Unlock()
	go c.watch(conn)

	c.log.Info("copilot client connected")
	return nil
}

// wire registers protocol handlers on a new connection and starts its read
// loop and event dispatcher.
func (c *Client) wire(tr *transport) *jsonrpc.Conn {
	conn := jsonrpc.NewConn(tr.r, tr.w, jsonrpc.Options{
		MaxMessageSize: c.opts.MaxMessageSize,
		OnParseError: func(body []byte, err error) {
			c.log.Warn("malformed message from copilot cli", "err", err, "body", errfmt.Truncate(string(body)))
		},
	})

	events := make(chan sessionEventParams, eventQueueSize)
	conn.OnNotification(MethodSessionEvent, func(params jsontext.Value) {
		var p sessionEventParams
		if err := json.Unmarshal(params, &p); err != nil {
			c.log.Warn("malformed session.event", "err", errfmt.Truncate(err.Error()))
			return
		}
		events <- p
	})
	conn.OnMethod(MethodToolCall, c.handleToolCall)
	conn.OnMethod(MethodPermissionRequest, c.handlePermissionRequest)

	go func() {
		for p := range events {
			c.dispatchEvent(p)
		}
	}()
	go func() {
		conn.ReadLoop()
		close(events)
	}()
	return conn
}

// watch marks the client as failed when conn drops without Stop.
func (c *Client) watch(conn *jsonrpc.Conn) {
	<-conn.Done()
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateError
	c.lost = true
	c.mu.Unlock()
	c.log.Warn("copilot cli connection lost", "err", conn.Err())
}

// connDone returns a channel closed when the current connection ends. It
// is already closed when there is no connection.
func (c *Client) connDone() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c.conn.Done()
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) verifyProtocolVersion(ctx context.Context, conn *jsonrpc.Conn) error {
	var resp PingResponse
	if err := c.callConn(ctx, conn, MethodPing, pingParams{}, &resp); err != nil {
		return err
	}
	if resp.ProtocolVersion == nil {
		return fmt.Errorf("%w: want %d, server does not report a version", ErrProtocolVersion, ProtocolVersion)
	}
	if *resp.ProtocolVersion != ProtocolVersion {
		return fmt.Errorf("%w: want %d, server reports %d", ErrProtocolVersion, ProtocolVersion, *resp.ProtocolVersion)
	}
	return nil
}

// Stop destroys every live session, closes the connection and terminates
// the CLI (SIGTERM, then SIGKILL after the grace period or when ctx
// expires). All failures are joined into the returned error.
func (c *Client) Stop(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	conn, tr, sessions := c.detach()
	if conn == nil {
		for _, s := range sessions {
			s.markDestroyed()
		}
	}

	var (
		errs  []error
		errMu sync.Mutex
	)
	if conn != nil && len(sessions) > 0 {
		var g errgroup.Group
		g.SetLimit(maxConcurrentDestroy)
		for _, s := range sessions {
			g.Go(func() error {
				if err := s.destroyOn(ctx, conn); err != nil {
					errMu.Lock()
					errs = append(errs, fmt.Errorf("copilot: destroy session %s: %w", s.id, err))
					errMu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	if tr != nil {
		if err := tr.stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.log.Info("copilot client stopped", "sessions", len(sessions), "errors", len(errs))
	return errors.Join(errs...)
}

// ForceStop drops all sessions without notifying the server and kills the
// CLI immediately.
func (c *Client) ForceStop() {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	_, tr, sessions := c.detach()
	for _, s := range sessions {
		s.markDestroyed()
	}
	if tr != nil {
		tr.kill()
	}
}

// detach resets the client to disconnected and hands back what must be torn
// down.
func (c *Client) detach() (*jsonrpc.Conn, *transport, []*Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, tr := c.conn, c.tr
	sessions := slices.Collect(maps.Values(c.sessions))
	c.sessions = make(map[string]*Session)
	c.conn, c.tr, c.state, c.lost = nil, nil, StateDisconnected, false
	return conn, tr, sessions
}

// ensureConn returns the live connection, starting or restarting the
// client when its options allow.
func (c *Client) ensureConn(ctx context.Context) (*jsonrpc.Conn, error) {
	c.mu.Lock()
	state, conn, lost := c.state, c.conn, c.lost
	c.mu.Unlock()
	if state == StateConnected && conn != nil {
		return conn, nil
	}

	allowed := c.opts.AutoStart
	if lost {
		allowed = c.opts.AutoRestart
	}
	if !allowed {
		return nil, ErrNotConnected
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()
	if lost {
		c.log.Info("restarting copilot cli after lost connection")
	}
	if err := c.start(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	conn, err := c.ensureConn(ctx)
	if err != nil {
		return err
	}
	return c.callConn(ctx, conn, method, params, result)
}

func (c *Client) callConn(ctx context.Context, conn *jsonrpc.Conn, method string, params, result any) error {
	err := conn.Call(ctx, method, params, result)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jsonrpc.ErrClosed):
		return fmt.Errorf("%w: %s", ErrConnectionClosed, method)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("copilot: %s: %w", method, err)
	}
}

// Ping round-trips a message through the server.
func (c *Client) Ping(ctx context.Context, message string) (*PingResponse, error) {
	var resp PingResponse
	if err := c.call(ctx, MethodPing, pingParams{Message: message}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status reports the server version.
func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	var resp ServerStatus
	if err := c.call(ctx, MethodStatusGet, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateSession starts a new conversation.
func (c *Client) CreateSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	var res sessionResult
	if err := c.call(ctx, MethodSessionCreate, cfg.params(), &res); err != nil {
		return nil, err
	}
	if res.SessionID == "" {
		return nil, fmt.Errorf("copilot: %s: response missing sessionId", MethodSessionCreate)
	}
	s := newSession(res.SessionID, c, cfg.Tools, cfg.OnPermissionRequest)
	c.register(s)
	c.log.Debug("session created", "sessionId", s.id)
	return s, nil
}

// ResumeSession reattaches to a session persisted by the server. Tools and
// handlers are not persisted; pass them again in cfg.
func (c *Client) ResumeSession(ctx context.Context, id string, cfg ResumeSessionConfig) (*Session, error) {
	var res sessionResult
	if err := c.call(ctx, MethodSessionResume, cfg.params(id), &res); err != nil {
		if isSessionNotFound(err) {
			return nil, fmt.Errorf("%w: %s: %w", ErrSessionNotFound, id, err)
		}
		return nil, err
	}
	if res.SessionID == "" {
		res.SessionID = id
	}
	s := newSession(res.SessionID, c, cfg.Tools, cfg.OnPermissionRequest)
	c.register(s)
	c.log.Debug("session resumed", "sessionId", s.id)
	return s, nil
}

// ListSessions returns the sessions the server has persisted.
func (c *Client) ListSessions(ctx context.Context) ([]SessionMetadata, error) {
	var res listSessionsResult
	if err := c.call(ctx, MethodSessionList, nil, &res); err != nil {
		return nil, err
	}
	return res.Sessions, nil
}

// DeleteSession permanently removes a session and its stored history.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	var res deleteSessionResult
	if err := c.call(ctx, MethodSessionDelete, sessionIDParams{SessionID: id}, &res); err != nil {
		return err
	}
	if !res.Success {
		reason := res.Error
		if reason == "" {
			reason = "unknown error"
		}
		return fmt.Errorf("%w: delete %s: %s", ErrSessionNotFound, id, errfmt.Truncate(reason))
	}
	if s := c.unregister(id); s != nil {
		s.markDestroyed()
	}
	return nil
}

// LastSessionID returns the most recently updated session, or "" if there
// is none.
func (c *Client) LastSessionID(ctx context.Context) (string, error) {
	var res lastSessionIDResult
	if err := c.call(ctx, MethodSessionGetLastID, nil, &res); err != nil {
		return "", err
	}
	return res.SessionID, nil
}

// isSessionNotFound reports whether err is the server rejecting an unknown
// session ID. The CLI signals this only in the error message.
func isSessionNotFound(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	msg := strings.ToLower(rpcErr.Message)
	return strings.Contains(msg, "session") && strings.Contains(msg, "not found")
}

func (c *Client) register(s *Session) {
	c.mu.Lock()
	c.sessions[s.id] = s
	c.mu.Unlock()
}

func (c *Client) unregister(id string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sessions[id]
	delete(c.sessions, id)
	return s
}

func (c *Client) session(id string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[id]
}

// --- Server to client ---

func (c *Client) dispatchEvent(p sessionEventParams) {
	ev, err := UnmarshalSessionEvent(p.Event)
	if err != nil {
		c.log.Warn("dropping malformed session event", "sessionId", p.SessionID, "err", err)
		return
	}
	s := c.session(p.SessionID)
	if s == nil {
		c.log.Debug("event for unknown session", "sessionId", p.SessionID, "type", ev.Type)
		return
	}
	if !ev.Type.Known() {
		c.log.Debug("unrecognized event type", "sessionId", p.SessionID, "type", errfmt.Value(string(ev.Type)))
	}
	s.dispatch(ev)
}

func (c *Client) handleToolCall(ctx context.Context, params jsontext.Value) (any, error) {
	var p toolCallParams
	if err := json.Unmarshal(params, &p); err != nil || p.SessionID == "" || p.ToolCallID == "" || p.ToolName == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "invalid tool call payload"}
	}
	s := c.session(p.SessionID)
	if s == nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "unknown session " + p.SessionID}
	}
	h, ok := s.toolHandler(p.ToolName)
	if !ok {
		c.log.Warn("tool call for unregistered tool", "sessionId", p.SessionID, "tool", errfmt.Value(p.ToolName))
		return toolCallResult{Result: unsupportedToolResult(p.ToolName)}, nil
	}
	result := runTool(ctx, c.log, h, ToolInvocation{
		SessionID:  p.SessionID,
		ToolCallID: p.ToolCallID,
		ToolName:   p.ToolName,
		Arguments:  p.Arguments,
	})
	return toolCallResult{Result: result}, nil
}

func (c *Client) handlePermissionRequest(ctx context.Context, params jsontext.Value) (any, error) {
	var p permissionRequestParams
	if err := json.Unmarshal(params, &p); err != nil || p.SessionID == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "invalid permission request payload"}
	}
	s := c.session(p.SessionID)
	if s == nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "unknown session " + p.SessionID}
	}

	h := s.permissionHandler()
	if h == nil {
		return permissionResult{Result: deniedPermission()}, nil
	}
	req := PermissionRequest{SessionID: p.SessionID, Raw: p.PermissionRequest}
	if len(p.PermissionRequest) > 0 {
		if err := json.Unmarshal(p.PermissionRequest, &req); err != nil {
			c.log.Warn("malformed permission request", "sessionId", p.SessionID, "err", errfmt.Truncate(err.Error()))
			return permissionResult{Result: deniedPermission()}, nil
		}
	}
	decision, err := safeCallPermissionHandler(ctx, h, req)
	if err != nil {
		c.log.Warn("permission handler failed", "sessionId", p.SessionID, "kind", req.Kind, "err", err)
		return permissionResult{Result: deniedPermission()}, nil
	}
	return permissionResult{Result: decision}, nil
}
