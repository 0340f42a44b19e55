package jsonrpc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMessageTooLarge is returned by ReadLoop when a frame announces a body
// larger than the configured maximum.
var ErrMessageTooLarge = errors.New("jsonrpc: message too large")

// ErrFraming indicates a malformed header block.
var ErrFraming = errors.New("jsonrpc: malformed frame")

const headerContentLength = "Content-Length"

// appendFrame returns body prefixed with its Content-Length header.
// Callers write the result with a single Write so concurrent senders
// never interleave headers and bodies.
func appendFrame(dst, body []byte) []byte {
	dst = append(dst, headerContentLength...)
	dst = append(dst, ": "...)
	dst = strconv.AppendInt(dst, int64(len(body)), 10)
	dst = append(dst, "\r\n\r\n"...)
	return append(dst, body...)
}

// readFrame reads one header block and its body from r.
//
// Lines that do not look like headers are skipped until the first header is
// seen (the CLI may print a banner before switching to framed output).
// Unknown headers such as Content-Type are ignored. Returns io.EOF only when
// the stream ends cleanly between frames.
func readFrame(r *bufio.Reader, maxSize int) ([]byte, error) {
	length := -1
	sawHeader := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && !sawHeader && strings.TrimSpace(line) == "" {
				return nil, io.EOF
			}
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if !sawHeader {
				continue
			}
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			if !sawHeader {
				continue
			}
			return nil, fmt.Errorf("%w: header %q", ErrFraming, line)
		}
		sawHeader = true
		if !strings.EqualFold(strings.TrimSpace(name), headerContentLength) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: content length %q", ErrFraming, value)
		}
		length = n
	}

	if length < 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrFraming, headerContentLength)
	}
	if length > maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLarge, length, maxSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}
