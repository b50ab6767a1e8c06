// Package engine executes one turn against a chat server: the orchestrator
// prepares the conversation (context injection, trailing user entry) and the
// runtime drives the provider, either as a bounded tool-call loop or as a
// native incremental stream.
package engine

import (
	"context"
	"fmt"
	"time"

	"atui/chat"
	"atui/config"
	"atui/mcp"
	"atui/policy"
	"atui/provider"
)

// Runtime dispatches turns to providers and resolves tools against the
// connected tool servers.
type Runtime struct {
	servers  mcp.Servers
	selector FunctionSelector

	// newClient is swapped out by tests.
	newClient func(config.ServerConfig) (provider.Client, error)
}

func NewRuntime(servers mcp.Servers) *Runtime {
	return &Runtime{
		servers:   servers,
		selector:  KeywordSelector{},
		newClient: provider.New,
	}
}

// StreamTurn runs one turn and returns its chunk stream. Chunks arrive in
// emission order and exactly one carries Final=true; every failure inside
// the turn surfaces as a chunk, never as a panic or a dropped channel.
// audit is the shared function-call trail for the turn.
func (r *Runtime) StreamTurn(ctx context.Context, agent chat.Agent, cfg *config.Config, entries []chat.Entry, userText string, audit *policy.Invoker) <-chan chat.Chunk {
	out := make(chan chat.Chunk)
	go func() {
		defer close(out)
		r.run(ctx, out, agent, cfg, entries, userText, audit)
	}()
	return out
}

func (r *Runtime) run(ctx context.Context, out chan<- chat.Chunk, agent chat.Agent, cfg *config.Config, entries []chat.Entry, userText string, audit *policy.Invoker) {
	model := agent.Model
	if model == "" {
		model = cfg.Model()
	}
	if model == "" {
		r.fail(ctx, out, agent, "no model configured: set default_model in the settings file or a model on the agent")
		return
	}

	server, ok := cfg.Server(agent.Server)
	if !ok {
		name := agent.Server
		if name == "" {
			name = cfg.DefaultServer
		}
		r.fail(ctx, out, agent, fmt.Sprintf("no server configuration named %q", name))
		return
	}

	client, err := r.newClient(server)
	if err != nil {
		r.fail(ctx, out, agent, err.Error())
		return
	}

	req := provider.Request{
		Model:         model,
		Entries:       entries,
		Temperature:   agent.Temperature,
		RepeatPenalty: agent.RepeatPenalty,
	}

	registry := mcp.NewRegistry()
	if provider.SupportsTools(server, model) {
		registry = r.resolveRegistry(ctx, agent, userText)
	} else if len(agent.Functions) > 0 {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Engine] model %s on %s does not support tool calling, dropping requested tools %v", model, server.Name, agent.Functions)
		}
	}

	if !registry.Empty() {
		r.toolLoop(ctx, out, agent, cfg, client, req, registry, audit)
		return
	}
	r.streamPlain(ctx, out, agent, client, req)
}

// resolveRegistry intersects the agent's requested function names (exact
// "server:tool" or bare tool name), augmented by the selector, against the
// tools the connected servers expose. Resolution failures degrade to an
// empty registry; a turn without tools is always preferable to no turn.
func (r *Runtime) resolveRegistry(ctx context.Context, agent chat.Agent, userText string) *mcp.Registry {
	registry := mcp.NewRegistry()

	servers, err := r.servers.ListServers(ctx)
	if err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Engine] listing tool servers failed: %v", err)
		}
		return registry
	}
	if len(servers) == 0 {
		return registry
	}

	var available []string
	for _, s := range servers {
		for _, t := range s.Tools {
			available = append(available, s.Name+":"+t.Name)
		}
	}

	requested := map[string]bool{}
	for _, name := range agent.Functions {
		requested[name] = true
	}
	for _, name := range r.selector.Select(userText, available) {
		requested[name] = true
	}
	if len(requested) == 0 {
		return registry
	}

	for _, s := range servers {
		for _, t := range s.Tools {
			if requested[s.Name+":"+t.Name] || requested[t.Name] {
				registry.Add(s.Name, t)
			}
		}
	}
	return registry
}

// toolLoop runs bounded non-streaming rounds. Tool calling and incremental
// streaming are mutually exclusive: the reply of a round must be inspected
// for tool calls before any of it is shown.
func (r *Runtime) toolLoop(ctx context.Context, out chan<- chat.Chunk, agent chat.Agent, cfg *config.Config, client provider.Client, req provider.Request, registry *mcp.Registry, audit *policy.Invoker) {
	req.Tools = toolDefs(registry)
	convo := req.Entries

	maxRounds := cfg.Tools.MaxRounds
	for round := 1; round <= maxRounds; round++ {
		roundReq := req
		roundReq.Entries = convo

		turn, err := client.Complete(ctx, roundReq)
		if err != nil {
			r.fail(ctx, out, agent, err.Error())
			return
		}

		if len(turn.ToolCalls) == 0 {
			if turn.Content != "" {
				if !r.emit(ctx, out, chat.Chunk{Agent: agent.Name, Content: turn.Content}) {
					return
				}
			}
			r.emit(ctx, out, chat.Chunk{Agent: agent.Name, Final: true, FunctionCalls: audit.Records()})
			return
		}

		if config.DebugLog != nil {
			config.DebugLog.Printf("[Engine] round %d/%d: %d tool call(s)", round, maxRounds, len(turn.ToolCalls))
		}

		convo = append(convo, chat.Entry{
			Role:      chat.RoleAssistant,
			Content:   turn.Content,
			ToolCalls: turn.ToolCalls,
		})

		// Sequential on purpose: a later call may depend on an earlier
		// result already being in the conversation.
		for _, call := range turn.ToolCalls {
			convo = append(convo, r.resolveCall(ctx, registry, audit, call))
		}
	}

	r.emit(ctx, out, chat.Chunk{
		Agent:         agent.Name,
		Content:       fmt.Sprintf("tool call limit reached: the model requested tools for %d rounds without producing a final answer", maxRounds),
		Err:           true,
		Final:         true,
		FunctionCalls: audit.Records(),
	})
}

// resolveCall executes one requested tool call and returns the tool-result
// entry to append. A name the registry cannot resolve yields a synthesized
// error result and an audit record, not a failed turn.
func (r *Runtime) resolveCall(ctx context.Context, registry *mcp.Registry, audit *policy.Invoker, call chat.ToolCall) chat.Entry {
	binding, ok := registry.Lookup(call.Name)
	if !ok {
		msg := fmt.Sprintf("unknown tool %q", call.Name)
		audit.Record(chat.FunctionCall{
			Server:  "unknown",
			Tool:    call.Name,
			Request: policy.Canonical(call.Arguments),
			Result:  policy.Diagnostic("error", 1, 0, msg),
		})
		return chat.Entry{
			Role:       chat.RoleTool,
			Content:    policy.CanonicalError(msg),
			ToolCallID: call.ID,
			ToolName:   call.Name,
		}
	}

	response, err := audit.Invoke(ctx, binding, call.Arguments)
	content := ""
	if err != nil {
		content = policy.CanonicalError(err.Error())
	} else {
		content = policy.CanonicalText(response)
	}
	return chat.Entry{
		Role:       chat.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   binding.Name,
	}
}

// streamPlain streams the provider's native incremental response. A stream
// that ends without an explicit done marker is logged and still terminated
// with a synthesized terminal chunk.
func (r *Runtime) streamPlain(ctx context.Context, out chan<- chat.Chunk, agent chat.Agent, client provider.Client, req provider.Request) {
	sawDone := false
	err := client.Stream(ctx, req, func(d provider.Delta) error {
		if d.Done {
			sawDone = true
		}
		if d.Done && d.Content == "" {
			return nil
		}
		if !r.emit(ctx, out, chat.Chunk{Agent: agent.Name, Content: d.Content}) {
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		r.fail(ctx, out, agent, err.Error())
		return
	}
	if !sawDone && config.DebugLog != nil {
		config.DebugLog.Printf("[Engine] stream for %s ended without a done marker", req.Model)
	}
	r.emit(ctx, out, chat.Chunk{Agent: agent.Name, Final: true})
}

// fail emits the single error+terminal chunk for a turn.
func (r *Runtime) fail(ctx context.Context, out chan<- chat.Chunk, agent chat.Agent, msg string) {
	r.emit(ctx, out, chat.Chunk{Agent: agent.Name, Content: msg, Err: true, Final: true})
}

// emit sends one chunk, giving up when the caller has cancelled and stopped
// reading. Reports whether the chunk was delivered.
func (r *Runtime) emit(ctx context.Context, out chan<- chat.Chunk, c chat.Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		// One more chance for a reader that is still draining.
		select {
		case out <- c:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}
}

func toolDefs(registry *mcp.Registry) []provider.ToolDef {
	bindings := registry.Bindings()
	defs := make([]provider.ToolDef, 0, len(bindings))
	for _, b := range bindings {
		defs = append(defs, provider.ToolDef{
			Name:        b.Name,
			Description: b.Description,
			Schema:      b.Schema,
		})
	}
	return defs
}
