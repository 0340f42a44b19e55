// Package jsonrpc implements the JSON-RPC 2.0 connection spoken by the
// Copilot CLI server: Content-Length framed messages carried over the
// subprocess's stdio or a TCP socket.
//
// A Conn is symmetric. The client SDK uses Call and OnNotification; the
// test servers in this module use OnMethod and Notify on the other end of
// the same pipe.
package jsonrpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// DefaultMaxMessageSize bounds a single inbound frame.
const DefaultMaxMessageSize = 16 << 20

// ErrClosed is returned by Call when ReadLoop exits before the response
// arrives.
var ErrClosed = errors.New("jsonrpc: connection closed")

// NotificationHandler handles an inbound notification. It runs on the
// ReadLoop goroutine and must not block.
type NotificationHandler func(params jsontext.Value)

// MethodHandler handles an inbound request and returns its result.
// Returning an *Error controls the JSON-RPC error code sent back; any other
// error is reported as CodeApplicationError. The context is cancelled when
// ReadLoop exits.
type MethodHandler func(ctx context.Context, params jsontext.Value) (any, error)

// Options configures a Conn.
type Options struct {
	// MaxMessageSize bounds inbound frames. Zero means DefaultMaxMessageSize.
	MaxMessageSize int

	// OnParseError is called with a copy of any frame body that is not a
	// valid JSON-RPC message. The frame is then skipped.
	OnParseError func(body []byte, err error)
}

// Conn is a bidirectional JSON-RPC 2.0 multiplexer.
//
// Outbound messages (Call, Notify, responses) are serialized under writeMu.
// Inbound messages are dispatched by ReadLoop. All handlers must be
// registered before ReadLoop starts. When ReadLoop exits every pending Call
// is released with ErrClosed.
type Conn struct {
	writeMu sync.Mutex
	w       io.Writer
	r       *bufio.Reader

	mu      sync.Mutex
	nextID  atomic.Int64
	pending map[int64]chan *response
	closed  bool

	notifyHandlers map[string]NotificationHandler
	methodHandlers map[string]MethodHandler
	onParseError   func(body []byte, err error)

	ctx    context.Context
	cancel context.CancelFunc

	done    chan struct{}
	readErr atomic.Value

	maxMessageSize int
}

// NewConn creates a connection reading frames from r and writing frames to w.
// Call ReadLoop in a goroutine to start processing inbound messages.
func NewConn(r io.Reader, w io.Writer, opts Options) *Conn {
	maxSize := opts.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		w:              w,
		r:              bufio.NewReaderSize(r, min(64<<10, maxSize)),
		pending:        make(map[int64]chan *response),
		notifyHandlers: make(map[string]NotificationHandler),
		methodHandlers: make(map[string]MethodHandler),
		onParseError:   opts.OnParseError,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		maxMessageSize: maxSize,
	}
}

// OnNotification registers a handler for notifications with the given method.
// Must be called before ReadLoop starts.
func (c *Conn) OnNotification(method string, h NotificationHandler) {
	c.notifyHandlers[method] = h
}

// OnMethod registers a handler for requests with the given method.
// Each request runs in its own goroutine. Must be called before ReadLoop starts.
func (c *Conn) OnMethod(method string, h MethodHandler) {
	c.methodHandlers[method] = h
}

// Call sends a request and blocks until the response arrives, ctx expires,
// or the connection closes. If result is non-nil the response result is
// decoded into it.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	id := c.nextID.Add(1)
	ch := make(chan *response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", method, ErrClosed)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := &request{
		JSONRPC: version,
		ID:      &id,
		Method:  method,
		Params:  params,
	}
	if err := c.send(req); err != nil {
		c.forget(id)
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		return decodeResponse(resp, ok, method, result)
	case <-ctx.Done():
		c.forget(id)
		// The response may have landed just before cancellation.
		select {
		case resp, ok := <-ch:
			return decodeResponse(resp, ok, method, result)
		default:
			return ctx.Err()
		}
	}
}

// Notify sends a notification. No response is expected.
func (c *Conn) Notify(method string, params any) error {
	return c.send(&request{
		JSONRPC: version,
		Method:  method,
		Params:  params,
	})
}

// ReadLoop reads and dispatches inbound messages until the reader closes or
// a framing error occurs. Must be called exactly once.
func (c *Conn) ReadLoop() {
	defer close(c.done)
	defer c.drainPending()
	defer c.cancel()

	for {
		body, err := readFrame(c.r, c.maxMessageSize)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.readErr.Store(err)
			}
			return
		}

		var msg message
		if err := json.Unmarshal(body, &msg); err != nil {
			if c.onParseError != nil {
				c.onParseError(body, err)
			}
			continue
		}
		c.dispatch(&msg)
	}
}

// Err returns the error that stopped ReadLoop, or nil if it is still running
// or the peer closed the stream cleanly.
func (c *Conn) Err() error {
	if v := c.readErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Done returns a channel that is closed when ReadLoop exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) send(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	frame := appendFrame(make([]byte, 0, len(body)+32), body)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.w.Write(frame)
	return err
}

func (c *Conn) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) dispatch(msg *message) {
	switch {
	case msg.ID != nil && msg.Method == "":
		c.handleResponse(msg)
	case msg.ID != nil:
		c.handleMethodCall(msg)
	case msg.Method != "":
		c.handleNotification(msg)
	}
}

func (c *Conn) handleResponse(msg *message) {
	c.mu.Lock()
	ch, ok := c.pending[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
	}
	c.mu.Unlock()
	if !ok {
		return // late or unsolicited
	}
	ch <- &response{Result: msg.Result, Error: msg.Error}
}

func (c *Conn) handleMethodCall(msg *message) {
	id := *msg.ID
	h, ok := c.methodHandlers[msg.Method]
	if !ok {
		c.sendError(id, &Error{Code: CodeMethodNotFound, Message: "method not found: " + msg.Method})
		return
	}
	params := msg.Params
	go func() {
		result, err := h(c.ctx, params)
		if err != nil {
			var rpcErr *Error
			if !errors.As(err, &rpcErr) {
				rpcErr = &Error{Code: CodeApplicationError, Message: err.Error()}
			}
			c.sendError(id, rpcErr)
			return
		}
		c.sendResult(id, result)
	}()
}

func (c *Conn) handleNotification(msg *message) {
	if h, ok := c.notifyHandlers[msg.Method]; ok {
		h(msg.Params)
	}
}

// sendResult and sendError run on handler goroutines while the connection
// may be closing, so write failures are dropped.
func (c *Conn) sendResult(id int64, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		c.sendError(id, &Error{Code: CodeInternalError, Message: "marshal result: " + err.Error()})
		return
	}
	_ = c.send(&response{JSONRPC: version, ID: &id, Result: data})
}

func (c *Conn) sendError(id int64, e *Error) {
	_ = c.send(&response{JSONRPC: version, ID: &id, Error: e})
}

func (c *Conn) drainPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func decodeResponse(resp *response, ok bool, method string, result any) error {
	if !ok {
		return fmt.Errorf("%s: %w", method, ErrClosed)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("unmarshal %s result: %w", method, err)
		}
	}
	return nil
}
