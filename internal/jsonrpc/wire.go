package jsonrpc

import (
	"fmt"

	"github.com/go-json-experiment/json/jsontext"
)

const version = "2.0"

// Standard and server-defined JSON-RPC 2.0 error codes.
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeApplicationError = -32000
)

// request is an outbound request or notification.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitzero"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitzero"`
}

// message is any inbound message: request, response or notification.
type message struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      *int64         `json:"id,omitzero"`
	Method  string         `json:"method,omitempty"`
	Params  jsontext.Value `json:"params,omitzero"`
	Result  jsontext.Value `json:"result,omitzero"`
	Error   *Error         `json:"error,omitzero"`
}

// response is an outbound response, also used to hand results to Call.
type response struct {
	JSONRPC string         `json:"jsonrpc,omitempty"`
	ID      *int64         `json:"id,omitzero"`
	Result  jsontext.Value `json:"result,omitzero"`
	Error   *Error         `json:"error,omitzero"`
}

// Error is a JSON-RPC 2.0 error object. It is returned by Call when the peer
// answers with an error, and may be returned by a MethodHandler to choose
// the code sent back.
type Error struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    jsontext.Value `json:"data,omitzero"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
