package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// MCPServerEntry is one tool server in <data_directory>/mcp_servers.toml.
// Disabled entries stay on disk but are never launched.
type MCPServerEntry struct {
	Enabled bool              `toml:"enabled"`
	Command string            `toml:"command"`
	Args    []string          `toml:"args,omitempty"`
	Env     map[string]string `toml:"env,omitempty"`
}

type MCPServersFile struct {
	Servers map[string]MCPServerEntry `toml:"servers"`
}

func LoadMCPServersFile(dataDir string) (*MCPServersFile, error) {
	path := filepath.Join(dataDir, "mcp_servers.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &MCPServersFile{
			Servers: make(map[string]MCPServerEntry),
		}, nil
	}

	var file MCPServersFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to decode mcp servers config: %w", err)
	}

	if file.Servers == nil {
		file.Servers = make(map[string]MCPServerEntry)
	}

	return &file, nil
}

func SaveMCPServersFile(dataDir string, file *MCPServersFile) error {
	path := filepath.Join(dataDir, "mcp_servers.toml")

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// 0600 - env blocks may carry API keys
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create mcp servers config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(file); err != nil {
		return fmt.Errorf("failed to encode mcp servers config: %w", err)
	}

	return nil
}

func (f *MCPServersFile) SetEnabled(name string, enabled bool) {
	if f.Servers == nil {
		f.Servers = make(map[string]MCPServerEntry)
	}

	entry, exists := f.Servers[name]
	if !exists {
		entry = MCPServerEntry{}
	}
	entry.Enabled = enabled
	f.Servers[name] = entry
}

// Enabled returns the launchable servers as MCPServerConfig values, in
// name order so startup is deterministic.
func (f *MCPServersFile) Enabled() []MCPServerConfig {
	var out []MCPServerConfig
	for name, entry := range f.Servers {
		if !entry.Enabled || entry.Command == "" {
			continue
		}
		out = append(out, MCPServerConfig{
			Name:    name,
			Command: entry.Command,
			Args:    entry.Args,
			Env:     entry.Env,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
