package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmora/copilot/internal/jsonrpc"
)

// DefaultSendAndWaitTimeout applies to SendAndWait when ctx has no deadline.
const DefaultSendAndWaitTimeout = 60 * time.Second

// EventHandler receives session events. Handlers run on the client's
// dispatch goroutine in arrival order and should return promptly.
type EventHandler func(SessionEvent)

// Session is one conversation on a Client. Obtain it from CreateSession or
// ResumeSession. A Session is safe for concurrent use.
type Session struct {
	id     string
	client *Client
	log    *slog.Logger

	mu          sync.Mutex
	handlers    []handlerEntry
	nextHandler int
	tools       map[string]ToolHandler
	permission  PermissionHandler

	destroyed atomic.Bool
}

type handlerEntry struct {
	id int
	fn EventHandler
}

func newSession(id string, c *Client, tools []Tool, perm PermissionHandler) *Session {
	s := &Session{
		id:         id,
		client:     c,
		log:        c.log.With("sessionId", id),
		tools:      make(map[string]ToolHandler, len(tools)),
		permission: perm,
	}
	for _, t := range tools {
		if t.Name != "" && t.Handler != nil {
			s.tools[t.Name] = t.Handler
		}
	}
	return s
}

// ID returns the server-assigned session ID.
func (s *Session) ID() string { return s.id }

// On subscribes h to every event of this session. The returned function
// unsubscribes it; calling it more than once is a no-op.
func (s *Session) On(h EventHandler) (unsubscribe func()) {
	s.mu.Lock()
	s.nextHandler++
	id := s.nextHandler
	s.handlers = append(s.handlers, handlerEntry{id: id, fn: h})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, e := range s.handlers {
				if e.id == id {
					s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// dispatch delivers ev to a snapshot of the current handlers.
func (s *Session) dispatch(ev SessionEvent) {
	s.mu.Lock()
	handlers := make([]EventHandler, len(s.handlers))
	for i, e := range s.handlers {
		handlers[i] = e.fn
	}
	s.mu.Unlock()

	for _, h := range handlers {
		s.safeCall(h, ev)
	}
}

func (s *Session) safeCall(h EventHandler, ev SessionEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("event handler panic", "type", ev.Type, "panic", r)
		}
	}()
	h(ev)
}

func (s *Session) toolHandler(name string) (ToolHandler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.tools[name]
	return h, ok
}

func (s *Session) permissionHandler() PermissionHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// Send queues a user message and returns its message ID. It returns as soon
// as the server accepts the message; progress arrives as events.
func (s *Session) Send(ctx context.Context, msg MessageOptions) (string, error) {
	if s.destroyed.Load() {
		return "", ErrSessionDestroyed
	}
	var res sendResult
	err := s.client.call(ctx, MethodSessionSend, sendParams{
		SessionID:   s.id,
		Prompt:      msg.Prompt,
		Attachments: msg.Attachments,
		Mode:        msg.Mode,
	}, &res)
	if err != nil {
		return "", err
	}
	return res.MessageID, nil
}

// SendAndWait sends msg and blocks until the session goes idle. It returns
// the last assistant.message event of the turn, or nil if the turn produced
// none. A session.error event fails the call with ErrSessionError.
//
// When ctx has no deadline, DefaultSendAndWaitTimeout applies.
func (s *Session) SendAndWait(ctx context.Context, msg MessageOptions) (*SessionEvent, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultSendAndWaitTimeout)
		defer cancel()
	}

	var (
		mu   sync.Mutex
		last *SessionEvent
	)
	// Handlers run in order, so a session.error that precedes session.idle
	// always fills done first.
	done := make(chan error, 1)
	unsubscribe := s.On(func(ev SessionEvent) {
		var result error
		switch ev.Type {
		case AssistantMessage:
			mu.Lock()
			last = &ev
			mu.Unlock()
			return
		case SessionIdle:
		case SessionError:
			result = sessionError(ev)
		default:
			return
		}
		select {
		case done <- result:
		default:
		}
	})
	defer unsubscribe()

	if _, err := s.Send(ctx, msg); err != nil {
		return nil, err
	}

	connDone := s.client.connDone()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		mu.Lock()
		defer mu.Unlock()
		return last, nil
	case <-connDone:
		return nil, fmt.Errorf("%w: waiting for session.idle", ErrConnectionClosed)
	case <-ctx.Done():
		return nil, fmt.Errorf("copilot: waiting for session.idle: %w", ctx.Err())
	}
}

func sessionError(ev SessionEvent) error {
	var d SessionErrorData
	if err := ev.DecodeData(&d); err != nil || d.Message == "" {
		return ErrSessionError
	}
	if d.ErrorType != "" {
		return fmt.Errorf("%w: %s: %s", ErrSessionError, d.ErrorType, d.Message)
	}
	return fmt.Errorf("%w: %s", ErrSessionError, d.Message)
}

// Messages returns the session's persisted event history.
func (s *Session) Messages(ctx context.Context) ([]SessionEvent, error) {
	if s.destroyed.Load() {
		return nil, ErrSessionDestroyed
	}
	var res getMessagesResult
	if err := s.client.call(ctx, MethodSessionGetMessages, sessionIDParams{SessionID: s.id}, &res); err != nil {
		return nil, err
	}
	events := make([]SessionEvent, 0, len(res.Events))
	for i, raw := range res.Events {
		ev, err := UnmarshalSessionEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Abort cancels the turn in progress. The session stays usable.
func (s *Session) Abort(ctx context.Context) error {
	if s.destroyed.Load() {
		return ErrSessionDestroyed
	}
	return s.client.call(ctx, MethodSessionAbort, sessionIDParams{SessionID: s.id}, nil)
}

// Destroy releases the session on the server. Its history stays on disk
// and can be resumed; use Client.DeleteSession to remove it. Handlers are
// dropped. Destroying twice returns ErrSessionDestroyed.
func (s *Session) Destroy(ctx context.Context) error {
	if s.destroyed.Load() {
		return ErrSessionDestroyed
	}
	s.client.mu.Lock()
	conn := s.client.conn
	s.client.mu.Unlock()
	if conn == nil {
		s.client.unregister(s.id)
		s.markDestroyed()
		return ErrNotConnected
	}
	s.client.unregister(s.id)
	return s.destroyOn(ctx, conn)
}

// destroyOn issues session.destroy on conn without auto-starting the client.
func (s *Session) destroyOn(ctx context.Context, conn *jsonrpc.Conn) error {
	if !s.markDestroyed() {
		return ErrSessionDestroyed
	}
	return s.client.callConn(ctx, conn, MethodSessionDestroy, sessionIDParams{SessionID: s.id}, nil)
}

// markDestroyed flips the destroyed flag and drops handlers. Reports
// whether this call did the flip.
func (s *Session) markDestroyed() bool {
	if !s.destroyed.CompareAndSwap(false, true) {
		return false
	}
	s.mu.Lock()
	s.handlers = nil
	s.tools = nil
	s.permission = nil
	s.mu.Unlock()
	return true
}
