package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"atui/chat"
	"atui/config"
	"atui/engine"
	"atui/mcp"
	"atui/rag"
	"atui/session"
	"atui/storage"
	"atui/ui"
)

const Version = "v0.1.0"

func main() {
	// Validate environment variables first
	if config.HasAnyEnvVar() && !config.HasAllEnvVars() {
		fmt.Fprintf(os.Stderr, "Missing environment variable: %s\n\n"+
			"When using environment variables, all 3 must be set:\n"+
			"  ATUI_HOST\n  ATUI_MODEL\n  ATUI_DATA_DIR\n\n"+
			"Set the missing variable(s) before launching atui.\n",
			config.GetMissingEnvVar())
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize debug logging after config is loaded
	config.InitDebugLog(cfg.DataDir())

	sessionStorage, err := storage.NewSessionStorage(cfg.DataDir())
	if err != nil {
		fmt.Printf("Failed to initialize session storage: %v\n", err)
		os.Exit(1)
	}

	// Context retrieval store; a failure here degrades to turns without
	// retrieved context rather than refusing to start.
	var retriever rag.Retriever
	store, err := rag.NewStore(cfg.DataDir())
	if err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Main] context store unavailable: %v", err)
		}
	} else {
		retriever = store
		defer store.Close()
	}

	// Connect configured MCP servers. Individual failures are logged and
	// skipped inside Connect.
	manager := mcp.NewManager()
	if len(cfg.MCPServers) > 0 {
		connectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		manager.Connect(connectCtx, cfg.MCPServers)
		cancel()
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		manager.Close(closeCtx)
		cancel()
	}()

	runtime := engine.NewRuntime(manager)
	orchestrator := engine.NewOrchestrator(runtime, retriever)
	sess := session.New(orchestrator)

	agent := chat.Agent{
		Name:         "Assistant",
		SystemPrompt: cfg.DefaultSystemPrompt,
	}

	// Resume the last session unless another instance holds it.
	var history []*chat.Message
	if lastID, err := sessionStorage.LoadCurrentSessionID(); err == nil && lastID != "" {
		locked, lockErr := sessionStorage.CheckSessionLock(lastID)
		if lockErr == nil && !locked {
			if last, err := sessionStorage.Load(lastID); err == nil {
				history = last.Messages
			}
		}
	}

	if err := sess.Start([]chat.Agent{agent}, cfg, history); err != nil {
		fmt.Printf("Failed to start session: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(
		ui.NewApp(sess, sessionStorage, cfg, agent),
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running atui: %v\n", err)
		os.Exit(1)
	}
}
