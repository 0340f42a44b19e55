package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"

	"github.com/dmora/copilot/internal/jsonrpc"
)

const testTimeout = 5 * time.Second

// fakeCLI is an in-process Copilot CLI server. Client.dial is pointed at
// it, so every (re)start opens a fresh net.Pipe connection to it.
// Shared across root-package test files.
type fakeCLI struct {
	t *testing.T

	mu              sync.Mutex
	protocolVersion *int
	dials           int
	dialErr         error
	conn            *jsonrpc.Conn
	closeConn       func()
	calls           []fakeCall
	persisted       map[string]SessionMetadata
	history         map[string][]jsontext.Value
	nextID          int

	// onSend runs after session.send is recorded and before it returns.
	onSend func(srv *fakeCLI, sessionID, prompt string)

	// override replaces the default handler for a method.
	override map[string]jsonrpc.MethodHandler
}

type fakeCall struct {
	Method string
	Params jsontext.Value
}

func newFakeCLI(t *testing.T) *fakeCLI {
	t.Helper()
	v := ProtocolVersion
	return &fakeCLI{
		t:               t,
		protocolVersion: &v,
		persisted:       make(map[string]SessionMetadata),
		history:         make(map[string][]jsontext.Value),
		override:        make(map[string]jsonrpc.MethodHandler),
	}
}

// newTestClient returns a client wired to srv. It is force-stopped when
// the test ends.
func newTestClient(t *testing.T, srv *fakeCLI, opts ...ClientOption) *Client {
	t.Helper()
	base := []ClientOption{WithLogger(slog.New(slog.DiscardHandler))}
	c := NewClient(append(base, opts...)...)
	c.dial = srv.dial
	t.Cleanup(c.ForceStop)
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func (f *fakeCLI) dial(context.Context) (*transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.dialErr != nil {
		return nil, f.dialErr
	}

	clientEnd, serverEnd := net.Pipe()
	conn := jsonrpc.NewConn(serverEnd, serverEnd, jsonrpc.Options{})
	for method, h := range f.handlers() {
		conn.OnMethod(method, h)
	}
	go conn.ReadLoop()

	closeBoth := func() {
		_ = clientEnd.Close()
		_ = serverEnd.Close()
	}
	f.conn, f.closeConn = conn, closeBoth
	return &transport{
		r:    clientEnd,
		w:    clientEnd,
		stop: func(context.Context) error { closeBoth(); return nil },
		kill: closeBoth,
	}, nil
}

// drop severs the current connection as if the CLI crashed.
func (f *fakeCLI) drop() {
	f.mu.Lock()
	closeConn := f.closeConn
	f.mu.Unlock()
	if closeConn != nil {
		closeConn()
	}
}

func (f *fakeCLI) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeCLI) currentConn() *jsonrpc.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn
}

// callsTo returns the recorded params of every call to method.
func (f *fakeCLI) callsTo(method string) []jsontext.Value {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []jsontext.Value
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c.Params)
		}
	}
	return out
}

// emit sends a session.event notification for sessionID.
func (f *fakeCLI) emit(sessionID string, typ SessionEventType, data any) {
	f.t.Helper()
	if err := f.currentConn().Notify(MethodSessionEvent, map[string]any{
		"sessionId": sessionID,
		"event":     testEvent(f.t, typ, data),
	}); err != nil {
		f.t.Errorf("emit %s: %v", typ, err)
	}
}

// request calls a server-to-client method on the current connection.
func (f *fakeCLI) request(ctx context.Context, method string, params, result any) error {
	return f.currentConn().Call(ctx, method, params, result)
}

func testEvent(t *testing.T, typ SessionEventType, data any) jsontext.Value {
	t.Helper()
	ev := map[string]any{
		"id":        uuid.NewString(),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"type":      string(typ),
	}
	if data != nil {
		ev["data"] = data
	}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return b
}

func (f *fakeCLI) record(method string, params jsontext.Value) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{Method: method, Params: append(jsontext.Value(nil), params...)})
	f.mu.Unlock()
}

func (f *fakeCLI) handlers() map[string]jsonrpc.MethodHandler {
	hs := map[string]jsonrpc.MethodHandler{
		MethodPing: func(_ context.Context, params jsontext.Value) (any, error) {
			var p pingParams
			_ = json.Unmarshal(params, &p)
			f.mu.Lock()
			v := f.protocolVersion
			f.mu.Unlock()
			return PingResponse{Message: "pong: " + p.Message, Timestamp: time.Now().UnixMilli(), ProtocolVersion: v}, nil
		},
		MethodStatusGet: func(context.Context, jsontext.Value) (any, error) {
			return ServerStatus{Version: "0.0.0-test", ProtocolVersion: ProtocolVersion}, nil
		},
		MethodSessionCreate: func(_ context.Context, params jsontext.Value) (any, error) {
			var p createSessionParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			id := p.SessionID
			if id == "" {
				f.nextID++
				id = fmt.Sprintf("session-%d", f.nextID)
			}
			f.persisted[id] = SessionMetadata{SessionID: id, StartTime: time.Now().UTC()}
			return sessionResult{SessionID: id}, nil
		},
		MethodSessionResume: func(_ context.Context, params jsontext.Value) (any, error) {
			var p resumeSessionParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.persisted[p.SessionID]; !ok {
				return nil, &jsonrpc.Error{Code: jsonrpc.CodeApplicationError, Message: "Session not found: " + p.SessionID}
			}
			return sessionResult{SessionID: p.SessionID}, nil
		},
		MethodSessionSend: func(_ context.Context, params jsontext.Value) (any, error) {
			var p struct {
				SessionID string `json:"sessionId"`
				Prompt    string `json:"prompt"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			f.mu.Lock()
			f.nextID++
			msgID := fmt.Sprintf("msg-%d", f.nextID)
			f.history[p.SessionID] = append(f.history[p.SessionID],
				testEvent(f.t, UserMessage, map[string]any{"content": p.Prompt}))
			onSend := f.onSend
			f.mu.Unlock()
			if onSend != nil {
				onSend(f, p.SessionID, p.Prompt)
			}
			return sendResult{MessageID: msgID}, nil
		},
		MethodSessionGetMessages: func(_ context.Context, params jsontext.Value) (any, error) {
			var p sessionIDParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			return getMessagesResult{Events: append([]jsontext.Value{}, f.history[p.SessionID]...)}, nil
		},
		MethodSessionAbort:   func(context.Context, jsontext.Value) (any, error) { return map[string]any{}, nil },
		MethodSessionDestroy: func(context.Context, jsontext.Value) (any, error) { return map[string]any{}, nil },
		MethodSessionList: func(context.Context, jsontext.Value) (any, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			out := make([]SessionMetadata, 0, len(f.persisted))
			for _, m := range f.persisted {
				out = append(out, m)
			}
			return listSessionsResult{Sessions: out}, nil
		},
		MethodSessionDelete: func(_ context.Context, params jsontext.Value) (any, error) {
			var p sessionIDParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.persisted[p.SessionID]; !ok {
				return deleteSessionResult{Error: "no such session"}, nil
			}
			delete(f.persisted, p.SessionID)
			delete(f.history, p.SessionID)
			return deleteSessionResult{Success: true}, nil
		},
		MethodSessionGetLastID: func(context.Context, jsontext.Value) (any, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			var last SessionMetadata
			for _, m := range f.persisted {
				if last.SessionID == "" || m.StartTime.After(last.StartTime) {
					last = m
				}
			}
			return lastSessionIDResult{SessionID: last.SessionID}, nil
		},
	}
	for method, h := range f.override {
		hs[method] = h
	}
	for method, h := range hs {
		hs[method] = func(ctx context.Context, params jsontext.Value) (any, error) {
			f.record(method, params)
			return h(ctx, params)
		}
	}
	return hs
}
