package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

// ServerConfig describes one chat server the engine can dispatch to.
// Protocol selects the wire format: "ollama" (NDJSON line streaming) or
// "openai" (SSE event stream). Tools controls function calling for the
// server: "auto" (decide per model), "on", or "off".
type ServerConfig struct {
	Name     string `toml:"name"`
	Protocol string `toml:"protocol"`
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key,omitempty"`
	Tools    string `toml:"tools,omitempty"`
}

// ToolsConfig bounds the tool-invocation policy: how many call/execute
// rounds a single turn may run, and the retry/timeout budget of one
// invocation.
type ToolsConfig struct {
	MaxRounds      int `toml:"max_rounds"`
	MaxRetries     int `toml:"max_retries"`
	TimeoutSeconds int `toml:"timeout_seconds"`
	RetryDelayMS   int `toml:"retry_delay_ms"`
}

func (t ToolsConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

func (t ToolsConfig) RetryDelay() time.Duration {
	return time.Duration(t.RetryDelayMS) * time.Millisecond
}

// MCPServerConfig describes one tool server launched over stdio.
type MCPServerConfig struct {
	Name    string            `toml:"name"`
	Command string            `toml:"command"`
	Args    []string          `toml:"args,omitempty"`
	Env     map[string]string `toml:"env,omitempty"`
}

type UserConfig struct {
	DefaultServer       string            `toml:"default_server"`
	DefaultModel        string            `toml:"default_model"`
	DefaultSystemPrompt string            `toml:"default_system_prompt,omitempty"`
	ContextEnabled      bool              `toml:"context_enabled"`
	Servers             []ServerConfig    `toml:"servers"`
	Tools               ToolsConfig       `toml:"tools"`
	MCPServers          []MCPServerConfig `toml:"mcp_servers"`
}

type Config struct {
	DataDirectory       string
	DefaultServer       string
	DefaultModel        string
	DefaultSystemPrompt string
	ContextEnabled      bool
	Servers             []ServerConfig
	Tools               ToolsConfig
	MCPServers          []MCPServerConfig
}

var Debug = false
var DebugLog *log.Logger

// Server looks up a server configuration by name. An empty name resolves to
// the default server.
func (c *Config) Server(name string) (ServerConfig, bool) {
	if name == "" {
		name = c.DefaultServer
	}
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerConfig{}, false
}

func (c *Config) Model() string {
	return c.DefaultModel
}

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("ATUI_HOST"); host != "" {
		// An env-supplied host becomes (or replaces) the "ollama" entry.
		replaced := false
		for i := range c.Servers {
			if c.Servers[i].Name == "ollama" {
				c.Servers[i].BaseURL = host
				replaced = true
			}
		}
		if !replaced {
			c.Servers = append(c.Servers, ServerConfig{
				Name:     "ollama",
				Protocol: "ollama",
				BaseURL:  host,
				Tools:    "auto",
			})
		}
		c.DefaultServer = "ollama"
	}
	if model := os.Getenv("ATUI_MODEL"); model != "" {
		c.DefaultModel = model
	}
	if dataDir := os.Getenv("ATUI_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
}

func CheckDebug() bool {
	debug := os.Getenv("ATUI_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// 0600 - the log may carry conversation fragments
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (ATUI_DEBUG=%s) ===", os.Getenv("ATUI_DEBUG"))
	DebugLog.Printf("Log path: %s", logPath)
}

func HasAllEnvVars() bool {
	return os.Getenv("ATUI_HOST") != "" &&
		os.Getenv("ATUI_MODEL") != "" &&
		os.Getenv("ATUI_DATA_DIR") != ""
}

func HasAnyEnvVar() bool {
	return os.Getenv("ATUI_HOST") != "" ||
		os.Getenv("ATUI_MODEL") != "" ||
		os.Getenv("ATUI_DATA_DIR") != ""
}

func GetMissingEnvVar() string {
	if os.Getenv("ATUI_HOST") == "" {
		return "ATUI_HOST"
	}
	if os.Getenv("ATUI_MODEL") == "" {
		return "ATUI_MODEL"
	}
	if os.Getenv("ATUI_DATA_DIR") == "" {
		return "ATUI_DATA_DIR"
	}
	return ""
}

func Load() (*Config, error) {
	cfg := &Config{
		DataDirectory: "~/.local/share/atui",
		DefaultServer: "ollama",
		DefaultModel:  "llama3.1:latest",
		Servers: []ServerConfig{
			{Name: "ollama", Protocol: "ollama", BaseURL: "http://localhost:11434", Tools: "auto"},
		},
	}

	settingsPath := GetSettingsFilePath()
	settingsExist := FileExists(settingsPath)

	if settingsExist || !HasAllEnvVars() {
		systemCfg, err := LoadSystemConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load system config: %w", err)
		}
		cfg.DataDirectory = systemCfg.DataDirectory

		dataDir := cfg.DataDir()
		userCfg, err := LoadUserConfig(dataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
		cfg.DefaultServer = userCfg.DefaultServer
		cfg.DefaultModel = userCfg.DefaultModel
		cfg.DefaultSystemPrompt = userCfg.DefaultSystemPrompt
		cfg.ContextEnabled = userCfg.ContextEnabled
		cfg.Servers = userCfg.Servers
		cfg.Tools = userCfg.Tools
		cfg.MCPServers = userCfg.MCPServers
	}

	cfg.applyEnvOverrides()
	applyToolDefaults(&cfg.Tools)

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	// Tool servers toggled on in mcp_servers.toml join the inline list.
	serversFile, err := LoadMCPServersFile(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load mcp servers config: %w", err)
	}
	named := make(map[string]bool, len(cfg.MCPServers))
	for _, s := range cfg.MCPServers {
		named[s.Name] = true
	}
	for _, s := range serversFile.Enabled() {
		if !named[s.Name] {
			cfg.MCPServers = append(cfg.MCPServers, s)
		}
	}

	return cfg, nil
}

func applyToolDefaults(t *ToolsConfig) {
	if t.MaxRounds <= 0 {
		t.MaxRounds = 8
	}
	if t.MaxRetries < 0 {
		t.MaxRetries = 0
	}
	if t.TimeoutSeconds <= 0 {
		t.TimeoutSeconds = 60
	}
	if t.RetryDelayMS <= 0 {
		t.RetryDelayMS = 500
	}
}
