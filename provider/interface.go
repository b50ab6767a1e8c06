// Package provider implements the wire protocols for chat servers.
//
// Two protocols are supported: the Ollama NDJSON line stream and the
// OpenAI-style SSE event stream. Each protocol lives in one translation
// unit (ollama.go, openai.go) holding its typed wire structs plus pure
// build/parse functions; decoding happens once at the protocol boundary
// and the rest of the engine works with chat.Entry values.
//
// # Architecture
//
//   - provider.Client defines the contract (interface)
//   - provider.OllamaClient implements the NDJSON protocol
//   - provider.OpenAIClient implements the SSE protocol
//   - provider.New() creates a client from a server config entry
//
// # Usage
//
//	client, err := provider.New(serverCfg)
//	if err != nil {
//	    // handle error
//	}
//	err = client.Stream(ctx, req, func(d provider.Delta) error {
//	    fmt.Print(d.Content)
//	    return nil
//	})
package provider

import (
	"context"

	"atui/chat"
)

// ToolDef is a provider-neutral tool definition offered to the model.
type ToolDef struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Request is one chat completion request, shared by both protocols.
type Request struct {
	Model         string
	Entries       []chat.Entry
	Tools         []ToolDef
	Temperature   *float64
	RepeatPenalty *float64
}

// Delta is one increment of a streamed reply. Done marks the stream-complete
// line; a stream that ends without one is tolerated and logged.
type Delta struct {
	Content string
	Done    bool
}

// Turn is a complete non-streamed assistant reply, including any tool calls
// the model requested.
type Turn struct {
	Content   string
	ToolCalls []chat.ToolCall
}

// StreamFunc is called for each decoded increment of a streamed reply.
type StreamFunc func(Delta) error

// ModelInfo describes one model available on a server.
type ModelInfo struct {
	Name string
	Size int64
}

// Client is the protocol-agnostic contract the engine dispatches through.
type Client interface {
	// Stream sends a chat request and delivers the reply incrementally.
	Stream(ctx context.Context, req Request, fn StreamFunc) error

	// Complete sends a chat request and returns the whole reply. Used for
	// tool rounds, where the reply must be inspected before anything is
	// shown to the user.
	Complete(ctx context.Context, req Request) (Turn, error)

	// ListModels returns the models available on the server.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Ping checks if the server is reachable.
	Ping(ctx context.Context) error
}
