// Package copilot is a Go client for the Copilot CLI agent server.
//
// The client spawns the CLI in server mode (or connects to a running one),
// speaks JSON-RPC 2.0 with Content-Length framing over stdio or TCP, and
// exposes conversations as sessions that stream typed events.
//
// # Core Types
//
//   - [Client]: owns the CLI process and connection, creates and resumes sessions
//   - [Session]: one conversation; send prompts, subscribe to events, abort, destroy
//   - [SessionEvent]: one progress notification, with a typed payload per [SessionEventType]
//   - [Attachment]: file, directory or selection context sent with a prompt
//   - [Tool]: a Go function the agent may call during a turn
//   - [ClientOption]: functional options for [NewClient]
//
// # Records
//
// Attachments and events arrive as loosely-typed JSON. [AttachmentFromRecord],
// [UnmarshalAttachment] and [UnmarshalSessionEvent] validate them and return
// errors matching [ErrMalformedRecord]; [SessionEvent.ParsedData] maps each
// known event kind to its payload struct. Unknown event kinds are delivered
// with their raw payload.
//
// # Quick Start
//
//	client := copilot.NewClient()
//	defer client.Stop(ctx)
//	session, err := client.CreateSession(ctx, copilot.SessionConfig{Model: "gpt-5"})
//	if err != nil { log.Fatal(err) }
//	reply, err := session.SendAndWait(ctx, copilot.MessageOptions{Prompt: "Hello"})
//	if err != nil { log.Fatal(err) }
//	var msg copilot.AssistantMessageData
//	if reply != nil && reply.DecodeData(&msg) == nil {
//	    fmt.Println(msg.Content)
//	}
package copilot
