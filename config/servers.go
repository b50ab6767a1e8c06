package config

import (
	"fmt"
)

// UpdateServerField updates a single chat server configuration field and
// persists the change.
//
// Fields: "base_url", "api_key", "tools", "protocol".
func UpdateServerField(dataDir, serverName, fieldName, value string) error {
	cfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	idx := -1
	for i := range cfg.Servers {
		if cfg.Servers[i].Name == serverName {
			idx = i
			break
		}
	}
	if idx == -1 {
		cfg.Servers = append(cfg.Servers, ServerConfig{
			Name:     serverName,
			Protocol: defaultProtocolFor(serverName),
			BaseURL:  defaultBaseURLFor(serverName),
		})
		idx = len(cfg.Servers) - 1
	}

	switch fieldName {
	case "base_url":
		cfg.Servers[idx].BaseURL = value
	case "api_key":
		cfg.Servers[idx].APIKey = value
	case "tools":
		switch value {
		case "auto", "on", "off":
			cfg.Servers[idx].Tools = value
		default:
			return fmt.Errorf("invalid tools mode: %s", value)
		}
	case "protocol":
		switch value {
		case "ollama", "openai":
			cfg.Servers[idx].Protocol = value
		default:
			return fmt.Errorf("unknown protocol: %s", value)
		}
	default:
		return fmt.Errorf("unknown field for %s: %s", serverName, fieldName)
	}

	if err := SaveUserConfig(cfg, dataDir); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// SetDefaultServer points the default server at an existing entry.
func SetDefaultServer(dataDir, serverName string) error {
	cfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	found := false
	for _, s := range cfg.Servers {
		if s.Name == serverName {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown server: %s", serverName)
	}

	cfg.DefaultServer = serverName
	if err := SaveUserConfig(cfg, dataDir); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

func defaultProtocolFor(serverName string) string {
	if serverName == "ollama" {
		return "ollama"
	}
	return "openai"
}

func defaultBaseURLFor(serverName string) string {
	switch serverName {
	case "ollama":
		return "http://localhost:11434"
	case "openai":
		return "https://api.openai.com/v1"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	default:
		return ""
	}
}
