//go:build ignore

// Command mock-copilot simulates the Copilot CLI server for integration
// tests. It speaks JSON-RPC 2.0 with Content-Length framing over
// stdin/stdout (--stdio) or over one TCP connection, announcing the port
// on stdout the way the real CLI does.
//
// Environment variables control behavior:
//
//	COPILOT_MOCK_MODE=bad-version    report protocol version 1 from ping
//	COPILOT_MOCK_MODE=crash-on-send  exit when session.send arrives
//	COPILOT_MOCK_MODE=banner         print a non-framed line before serving
//	COPILOT_MOCK_MODE=tool           call the "echo" tool during each turn
//	COPILOT_MOCK_MODE=permission     request shell permission during each turn
//	COPILOT_MOCK_MODE=session-error  end each turn with session.error
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type session struct {
	ID        string
	StartTime time.Time
	History   []json.RawMessage
}

var (
	mode = os.Getenv("COPILOT_MOCK_MODE")

	out   io.Writer
	outMu sync.Mutex

	mu       sync.Mutex
	sessions = map[string]*session{}
	nextID   int
	eventSeq int
	pending  = map[string]chan rpcMessage{}
)

func main() {
	stdio := flag.Bool("stdio", false, "serve on stdin/stdout")
	port := flag.Int("port", 0, "tcp port")
	flag.Bool("server", false, "server mode")
	flag.String("log-level", "", "log level")
	flag.Parse()

	if mode == "banner" {
		fmt.Println("mock-copilot 0.0.1 starting")
	}

	if *stdio {
		out = os.Stdout
		serve(os.Stdin)
		return
	}

	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(*port))
	if err != nil {
		fmt.Fprintln(os.Stderr, "listen:", err)
		os.Exit(1)
	}
	fmt.Printf("CLI server listening on port %d\n", ln.Addr().(*net.TCPAddr).Port)
	conn, err := ln.Accept()
	if err != nil {
		fmt.Fprintln(os.Stderr, "accept:", err)
		os.Exit(1)
	}
	out = conn
	serve(conn)
}

func serve(r io.Reader) {
	br := bufio.NewReader(r)
	for {
		body, err := readFrame(br)
		if err != nil {
			return
		}
		var msg rpcMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			continue
		}
		if msg.Method == "" {
			mu.Lock()
			ch := pending[string(msg.ID)]
			delete(pending, string(msg.ID))
			mu.Unlock()
			if ch != nil {
				ch <- msg
			}
			continue
		}
		handle(msg)
	}
}

func readFrame(br *bufio.Reader) ([]byte, error) {
	length := -1
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if length >= 0 {
				break
			}
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			length, err = strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, err
			}
		}
	}
	body := make([]byte, length)
	_, err := io.ReadFull(br, body)
	return body, err
}

func write(v any) {
	body, _ := json.Marshal(v)
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(out, "Content-Length: %d\r\n\r\n%s", len(body), body)
}

func respond(id json.RawMessage, result any) {
	raw, _ := json.Marshal(result)
	write(rpcMessage{JSONRPC: "2.0", ID: id, Result: raw})
}

func respondError(id json.RawMessage, code int, message string) {
	write(rpcMessage{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

// request calls the client and waits for its answer.
func request(method string, params any) (rpcMessage, bool) {
	mu.Lock()
	nextID++
	id := json.RawMessage(strconv.Itoa(1000 + nextID))
	ch := make(chan rpcMessage, 1)
	pending[string(id)] = ch
	mu.Unlock()

	raw, _ := json.Marshal(params)
	write(rpcMessage{JSONRPC: "2.0", ID: id, Method: method, Params: raw})
	select {
	case resp := <-ch:
		return resp, true
	case <-time.After(5 * time.Second):
		return rpcMessage{}, false
	}
}

func handle(msg rpcMessage) {
	var params struct {
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
		Prompt    string `json:"prompt"`
	}
	_ = json.Unmarshal(msg.Params, &params)

	switch msg.Method {
	case "ping":
		version := 2
		if mode == "bad-version" {
			version = 1
		}
		respond(msg.ID, map[string]any{
			"message":         "pong: " + params.Message,
			"timestamp":       time.Now().UnixMilli(),
			"protocolVersion": version,
		})
	case "status.get":
		respond(msg.ID, map[string]any{"version": "0.0.1-mock", "protocolVersion": 2})
	case "session.create":
		mu.Lock()
		id := params.SessionID
		if id == "" {
			nextID++
			id = fmt.Sprintf("mock-session-%03d", nextID)
		}
		sessions[id] = &session{ID: id, StartTime: time.Now().UTC()}
		mu.Unlock()
		respond(msg.ID, map[string]any{"sessionId": id})
	case "session.resume":
		mu.Lock()
		_, ok := sessions[params.SessionID]
		mu.Unlock()
		if !ok {
			respondError(msg.ID, -32603, "session not found: "+params.SessionID)
			return
		}
		respond(msg.ID, map[string]any{"sessionId": params.SessionID})
	case "session.send":
		if mode == "crash-on-send" {
			os.Exit(3)
		}
		mu.Lock()
		nextID++
		messageID := fmt.Sprintf("msg-%d", nextID)
		mu.Unlock()
		respond(msg.ID, map[string]any{"messageId": messageID})
		go turn(params.SessionID, params.Prompt)
	case "session.abort":
		respond(msg.ID, map[string]any{})
		emit(params.SessionID, "abort", map[string]any{"reason": "user"}, false)
	case "session.getMessages":
		mu.Lock()
		var events []json.RawMessage
		if s := sessions[params.SessionID]; s != nil {
			events = append(events, s.History...)
		}
		mu.Unlock()
		if events == nil {
			events = []json.RawMessage{}
		}
		respond(msg.ID, map[string]any{"events": events})
	case "session.destroy":
		respond(msg.ID, map[string]any{})
	case "session.list":
		mu.Lock()
		list := []map[string]any{}
		for _, s := range sessions {
			list = append(list, map[string]any{
				"sessionId":    s.ID,
				"startTime":    s.StartTime.Format(time.RFC3339Nano),
				"modifiedTime": s.StartTime.Format(time.RFC3339Nano),
				"isRemote":     false,
			})
		}
		mu.Unlock()
		respond(msg.ID, map[string]any{"sessions": list})
	case "session.delete":
		mu.Lock()
		_, ok := sessions[params.SessionID]
		delete(sessions, params.SessionID)
		mu.Unlock()
		if !ok {
			respond(msg.ID, map[string]any{"success": false, "error": "no such session"})
			return
		}
		respond(msg.ID, map[string]any{"success": true})
	case "session.getLastId":
		mu.Lock()
		var last *session
		for _, s := range sessions {
			if last == nil || s.StartTime.After(last.StartTime) {
				last = s
			}
		}
		mu.Unlock()
		if last == nil {
			respond(msg.ID, map[string]any{})
			return
		}
		respond(msg.ID, map[string]any{"sessionId": last.ID})
	default:
		if len(msg.ID) > 0 {
			respondError(msg.ID, -32601, "method not found: "+msg.Method)
		}
	}
}

// turn plays one assistant turn as session.event notifications.
func turn(sessionID, prompt string) {
	emit(sessionID, "user.message", map[string]any{"content": prompt}, false)
	emit(sessionID, "assistant.turn_start", map[string]any{"turnId": "0"}, false)

	content := "Hello world"
	switch mode {
	case "tool":
		emit(sessionID, "tool.execution_start", map[string]any{"toolCallId": "call-1", "toolName": "echo"}, false)
		resp, ok := request("tool.call", map[string]any{
			"sessionId":  sessionID,
			"toolCallId": "call-1",
			"toolName":   "echo",
			"arguments":  map[string]any{"text": prompt},
		})
		var res struct {
			Result struct {
				TextResultForLLM string `json:"textResultForLlm"`
				ResultType       string `json:"resultType"`
			} `json:"result"`
		}
		if ok {
			_ = json.Unmarshal(resp.Result, &res)
		}
		emit(sessionID, "tool.execution_complete", map[string]any{"toolCallId": "call-1", "success": res.Result.ResultType == "success"}, false)
		content = "tool said: " + res.Result.TextResultForLLM
	case "permission":
		resp, ok := request("permission.request", map[string]any{
			"sessionId": sessionID,
			"permissionRequest": map[string]any{
				"kind":            "shell",
				"toolCallId":      "call-1",
				"fullCommandText": "rm -rf build",
			},
		})
		var res struct {
			Result struct {
				Kind string `json:"kind"`
			} `json:"result"`
		}
		if ok {
			_ = json.Unmarshal(resp.Result, &res)
		}
		content = "permission: " + res.Result.Kind
	case "session-error":
		emit(sessionID, "session.error", map[string]any{"errorType": "model", "message": "mock model failure"}, false)
		emit(sessionID, "session.idle", map[string]any{}, true)
		return
	}

	for _, word := range strings.SplitAfter(content, " ") {
		emit(sessionID, "assistant.message_delta", map[string]any{"messageId": "m1", "deltaContent": word}, true)
	}
	emit(sessionID, "assistant.message", map[string]any{"messageId": "m1", "content": content}, false)
	emit(sessionID, "assistant.turn_end", map[string]any{"turnId": "0"}, false)
	emit(sessionID, "session.idle", map[string]any{}, true)
}

func emit(sessionID, typ string, data any, ephemeral bool) {
	mu.Lock()
	eventSeq++
	ev := map[string]any{
		"id":        fmt.Sprintf("00000000-0000-4000-8000-%012d", eventSeq),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"type":      typ,
		"data":      data,
	}
	if ephemeral {
		ev["ephemeral"] = true
	}
	raw, _ := json.Marshal(ev)
	if s := sessions[sessionID]; s != nil && !ephemeral {
		s.History = append(s.History, raw)
	}
	mu.Unlock()

	write(rpcMessage{
		JSONRPC: "2.0",
		Method:  "session.event",
		Params:  json.RawMessage(fmt.Sprintf(`{"sessionId":%q,"event":%s}`, sessionID, raw)),
	})
}
