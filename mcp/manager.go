package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"atui/config"
)

// Manager launches tool servers over stdio and implements Servers against
// them. Lifecycle is deliberately minimal: connect at startup, close at exit.
type Manager struct {
	mu        sync.RWMutex
	processes map[string]*process
}

type process struct {
	name   string
	cmd    *exec.Cmd
	client *client.Client
	tools  []mcptypes.Tool
}

func NewManager() *Manager {
	return &Manager{
		processes: make(map[string]*process),
	}
}

// Connect starts every configured server. A server that fails to start is
// logged and skipped; the rest keep working.
func (m *Manager) Connect(ctx context.Context, servers []config.MCPServerConfig) {
	for _, cfg := range servers {
		if err := m.connectOne(ctx, cfg); err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[MCP] Failed to start server '%s': %v", cfg.Name, err)
			}
			continue
		}
		if config.DebugLog != nil {
			config.DebugLog.Printf("[MCP] Connected to server '%s'", cfg.Name)
		}
	}
}

func (m *Manager) connectOne(ctx context.Context, cfg config.MCPServerConfig) error {
	m.mu.Lock()
	if m.processes[cfg.Name] != nil {
		m.mu.Unlock()
		return fmt.Errorf("server %s already running", cfg.Name)
	}
	m.mu.Unlock()

	var capturedCmd *exec.Cmd
	cmdFunc := func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Env = env
		capturedCmd = cmd
		return cmd, nil
	}

	mcpClient, err := client.NewStdioMCPClientWithOptions(
		cfg.Command,
		buildEnv(cfg.Env),
		cfg.Args,
		transport.WithCommandFunc(cmdFunc),
	)
	if err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	initReq := mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: "2025-06-18",
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    "ATUI",
				Version: "1.0.0",
			},
		},
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize: %w", err)
	}

	toolsResult, err := mcpClient.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	m.mu.Lock()
	m.processes[cfg.Name] = &process{
		name:   cfg.Name,
		cmd:    capturedCmd,
		client: mcpClient,
		tools:  toolsResult.Tools,
	}
	m.mu.Unlock()

	return nil
}

func buildEnv(extra map[string]string) []string {
	// Start with the process environment to preserve PATH and friends.
	env := os.Environ()
	for k, v := range extra {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// ListServers implements Servers. The snapshot is sorted by name so tool
// resolution is deterministic.
func (m *Manager) ListServers(ctx context.Context) ([]Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	servers := make([]Server, 0, len(m.processes))
	for _, p := range m.processes {
		servers = append(servers, Server{
			Name:  p.name,
			Tools: p.tools,
		})
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return servers, nil
}

// Invoke implements Servers by calling the tool and flattening the content
// items into a single string.
func (m *Manager) Invoke(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	m.mu.RLock()
	proc, exists := m.processes[server]
	m.mu.RUnlock()

	if !exists {
		return "", fmt.Errorf("server %s not running", server)
	}

	result, err := proc.client.CallTool(ctx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      tool,
			Arguments: args,
		},
	})
	if err != nil {
		return "", fmt.Errorf("tool call failed: %w", err)
	}

	text := flattenResult(result)
	if result.IsError {
		return "", fmt.Errorf("tool reported error: %s", text)
	}
	return text, nil
}

func flattenResult(result *mcptypes.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return "Tool executed successfully (no output)"
	}

	// Content items are interface values; JSON is the lossless flattening.
	raw, err := json.Marshal(result.Content)
	if err != nil {
		return fmt.Sprintf("Tool result (marshal error): %v", err)
	}
	return string(raw)
}

// Close stops all servers in parallel, killing processes whose clients do
// not close within a second.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	procs := make([]*process, 0, len(m.processes))
	for _, p := range m.processes {
		procs = append(procs, p)
	}
	m.processes = make(map[string]*process)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *process) {
			defer wg.Done()
			stopProcess(ctx, p)
		}(p)
	}
	wg.Wait()

	if config.DebugLog != nil {
		config.DebugLog.Printf("[MCP] Close: all %d servers stopped", len(procs))
	}
}

func stopProcess(ctx context.Context, p *process) {
	closed := false
	if p.client != nil {
		closeCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
		defer cancel()

		closeDone := make(chan error, 1)
		go func() {
			closeDone <- p.client.Close()
		}()

		select {
		case err := <-closeDone:
			closed = err == nil
		case <-closeCtx.Done():
			// Close is hanging, fall through to kill
		}
	}

	if !closed && p.cmd != nil && p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[MCP] Error killing process for '%s': %v", p.name, err)
		}
	}
}
