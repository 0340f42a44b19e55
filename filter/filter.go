// Package filter provides composable middleware for Copilot session events.
//
// Handler middleware wraps a copilot.EventHandler passed to Session.On.
// Channel middleware works on the stream returned by Stream, for consumers
// that prefer ranging over a channel.
package filter

import (
	"context"
	"strings"

	"github.com/dmora/copilot"
)

// Subscriber is satisfied by *copilot.Session.
type Subscriber interface {
	On(h copilot.EventHandler) (unsubscribe func())
}

// Only returns a handler that calls h for events of the given types.
func Only(h copilot.EventHandler, types ...copilot.SessionEventType) copilot.EventHandler {
	allowed := make(map[copilot.SessionEventType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return func(ev copilot.SessionEvent) {
		if _, ok := allowed[ev.Type]; ok {
			h(ev)
		}
	}
}

// Persistent returns a handler that drops ephemeral events and streaming
// deltas, passing only events that are kept in the session history.
func Persistent(h copilot.EventHandler) copilot.EventHandler {
	return func(ev copilot.SessionEvent) {
		if !ev.Ephemeral && !IsDelta(ev.Type) {
			h(ev)
		}
	}
}

// IsDelta reports whether t is a streaming delta event type.
// Convention: all delta types use the "_delta" suffix (e.g.,
// assistant.message_delta, assistant.reasoning_delta).
func IsDelta(t copilot.SessionEventType) bool {
	return strings.HasSuffix(string(t), "_delta")
}

// Stream subscribes to s and returns a channel of its events. The
// subscription ends and the channel is closed when ctx is cancelled.
// Delivery blocks the client's event dispatch while the channel is full,
// so consumers must keep draining it.
func Stream(ctx context.Context, s Subscriber, buffer int) <-chan copilot.SessionEvent {
	ch := make(chan copilot.SessionEvent, max(buffer, 0))
	unsubscribe := s.On(func(ev copilot.SessionEvent) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	})
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return pipe(ctx, ch, func(copilot.SessionEvent) bool { return true })
}

// Filter returns a channel that only passes events of the given types.
// Spawns a goroutine that exits when ctx is cancelled or ch is closed.
// The returned channel is closed when the goroutine exits.
func Filter(ctx context.Context, ch <-chan copilot.SessionEvent, types ...copilot.SessionEventType) <-chan copilot.SessionEvent {
	allowed := make(map[copilot.SessionEventType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return pipe(ctx, ch, func(ev copilot.SessionEvent) bool {
		_, ok := allowed[ev.Type]
		return ok
	})
}

// Completed returns a channel that drops ephemeral events and deltas.
// Spawns a goroutine that exits when ctx is cancelled or ch is closed.
func Completed(ctx context.Context, ch <-chan copilot.SessionEvent) <-chan copilot.SessionEvent {
	return pipe(ctx, ch, func(ev copilot.SessionEvent) bool {
		return !ev.Ephemeral && !IsDelta(ev.Type)
	})
}

// pipe spawns a goroutine that reads from ch, passes events matching
// the predicate to the returned channel, and closes it when ch closes
// or ctx is cancelled. Callers must either drain the returned channel
// or cancel ctx to avoid goroutine leaks. Events accepted by the
// predicate may be silently dropped if ctx is cancelled mid-send.
func pipe(ctx context.Context, ch <-chan copilot.SessionEvent, accept func(copilot.SessionEvent) bool) <-chan copilot.SessionEvent {
	out := make(chan copilot.SessionEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if accept(ev) && !trySend(ctx, out, ev) {
					return
				}
			}
		}
	}()
	return out
}

// trySend sends ev on out, returning true on success.
// Returns false if ctx is cancelled before the send completes.
func trySend(ctx context.Context, out chan<- copilot.SessionEvent, ev copilot.SessionEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
