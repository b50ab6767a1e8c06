package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestServerLookup(t *testing.T) {
	cfg := &Config{
		DefaultServer: "local",
		Servers: []ServerConfig{
			{Name: "local", Protocol: "ollama", BaseURL: "http://localhost:11434"},
			{Name: "cloud", Protocol: "openai", BaseURL: "https://api.openai.com/v1"},
		},
	}

	tests := []struct {
		name      string
		lookup    string
		wantName  string
		wantFound bool
	}{
		{"by name", "cloud", "cloud", true},
		{"empty resolves default", "", "local", true},
		{"unknown", "nope", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := cfg.Server(tt.lookup)
			if ok != tt.wantFound {
				t.Fatalf("Server(%q) found = %v, want %v", tt.lookup, ok, tt.wantFound)
			}
			if ok && s.Name != tt.wantName {
				t.Errorf("Server(%q).Name = %q, want %q", tt.lookup, s.Name, tt.wantName)
			}
		})
	}
}

func TestApplyToolDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   ToolsConfig
		want ToolsConfig
	}{
		{
			"zero value gets defaults",
			ToolsConfig{},
			ToolsConfig{MaxRounds: 8, MaxRetries: 0, TimeoutSeconds: 60, RetryDelayMS: 500},
		},
		{
			"explicit values kept",
			ToolsConfig{MaxRounds: 3, MaxRetries: 1, TimeoutSeconds: 10, RetryDelayMS: 100},
			ToolsConfig{MaxRounds: 3, MaxRetries: 1, TimeoutSeconds: 10, RetryDelayMS: 100},
		},
		{
			"negative retries clamped",
			ToolsConfig{MaxRounds: 8, MaxRetries: -1, TimeoutSeconds: 30, RetryDelayMS: 200},
			ToolsConfig{MaxRounds: 8, MaxRetries: 0, TimeoutSeconds: 30, RetryDelayMS: 200},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			applyToolDefaults(&got)
			if got != tt.want {
				t.Errorf("applyToolDefaults(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestUserConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()

	in := DefaultUserConfig()
	in.DefaultModel = "qwen3:8b"
	in.ContextEnabled = true
	in.Servers = append(in.Servers, ServerConfig{
		Name:     "cloud",
		Protocol: "openai",
		BaseURL:  "https://api.openai.com/v1",
		APIKey:   "sk-test",
		Tools:    "on",
	})

	if err := SaveUserConfig(in, dir); err != nil {
		t.Fatalf("SaveUserConfig: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("stat config.toml: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config.toml perms = %o, want 0600", perm)
	}

	out, err := LoadUserConfig(dir)
	if err != nil {
		t.Fatalf("LoadUserConfig: %v", err)
	}
	if out.DefaultModel != "qwen3:8b" {
		t.Errorf("DefaultModel = %q, want %q", out.DefaultModel, "qwen3:8b")
	}
	if !out.ContextEnabled {
		t.Error("ContextEnabled not preserved")
	}
	if len(out.Servers) != 2 {
		t.Fatalf("len(Servers) = %d, want 2", len(out.Servers))
	}
	if out.Servers[1].APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want %q", out.Servers[1].APIKey, "sk-test")
	}
}

func TestUpdateServerField(t *testing.T) {
	dir := t.TempDir()
	if err := SaveUserConfig(DefaultUserConfig(), dir); err != nil {
		t.Fatalf("SaveUserConfig: %v", err)
	}

	if err := UpdateServerField(dir, "ollama", "base_url", "http://box:11434"); err != nil {
		t.Fatalf("UpdateServerField: %v", err)
	}
	if err := UpdateServerField(dir, "cloud", "api_key", "sk-abc"); err != nil {
		t.Fatalf("UpdateServerField new server: %v", err)
	}
	if err := UpdateServerField(dir, "ollama", "tools", "sometimes"); err == nil {
		t.Error("expected error for invalid tools mode")
	}

	cfg, err := LoadUserConfig(dir)
	if err != nil {
		t.Fatalf("LoadUserConfig: %v", err)
	}
	s, _ := findServer(cfg, "ollama")
	if s.BaseURL != "http://box:11434" {
		t.Errorf("base_url = %q, want %q", s.BaseURL, "http://box:11434")
	}
	c, ok := findServer(cfg, "cloud")
	if !ok {
		t.Fatal("new server not created")
	}
	if c.APIKey != "sk-abc" || c.Protocol != "openai" {
		t.Errorf("new server = %+v", c)
	}
}

func findServer(cfg *UserConfig, name string) (ServerConfig, bool) {
	for _, s := range cfg.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerConfig{}, false
}

func TestMCPServersFile(t *testing.T) {
	dir := t.TempDir()

	file := &MCPServersFile{Servers: map[string]MCPServerEntry{
		"files": {Enabled: true, Command: "mcp-filesystem", Args: []string{"--root", "/tmp"}},
		"web":   {Enabled: false, Command: "mcp-fetch"},
		"bare":  {Enabled: true}, // no command, never launchable
	}}
	if err := SaveMCPServersFile(dir, file); err != nil {
		t.Fatalf("SaveMCPServersFile: %v", err)
	}

	loaded, err := LoadMCPServersFile(dir)
	if err != nil {
		t.Fatalf("LoadMCPServersFile: %v", err)
	}
	enabled := loaded.Enabled()
	if len(enabled) != 1 {
		t.Fatalf("len(Enabled()) = %d, want 1", len(enabled))
	}
	if enabled[0].Name != "files" || enabled[0].Command != "mcp-filesystem" {
		t.Errorf("Enabled()[0] = %+v", enabled[0])
	}
}

func TestExpandPath(t *testing.T) {
	home := GetHomeDir()

	tests := []struct {
		in   string
		want string
	}{
		{"~/notes", filepath.Join(home, "notes")},
		{"/abs/path", "/abs/path"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
