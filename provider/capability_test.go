package provider

import (
	"testing"

	"atui/config"
)

func TestModelSupportsToolCalling(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"llama3.1:8b", true},
		{"llama3.2:3b", true},
		{"llama3:latest", false}, // generic llama3 lacks tool support
		{"llama3-gradient:8b", false},
		{"qwen3:8b", true},
		{"Mistral:latest", true}, // case-insensitive
		{"deepseek-r1:7b", false},
		{"totally-unknown", false}, // conservative default
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := ModelSupportsToolCalling(tt.model); got != tt.want {
				t.Errorf("ModelSupportsToolCalling(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestSupportsTools(t *testing.T) {
	tests := []struct {
		name   string
		server config.ServerConfig
		model  string
		want   bool
	}{
		{"forced on", config.ServerConfig{Protocol: "ollama", Tools: "on"}, "gemma:2b", true},
		{"forced off", config.ServerConfig{Protocol: "openai", Tools: "off"}, "gpt-4o", false},
		{"auto ollama capable", config.ServerConfig{Protocol: "ollama", Tools: "auto"}, "llama3.1", true},
		{"auto ollama incapable", config.ServerConfig{Protocol: "ollama", Tools: "auto"}, "gemma:2b", false},
		{"auto openai assumed capable", config.ServerConfig{Protocol: "openai", Tools: "auto"}, "anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SupportsTools(tt.server, tt.model); got != tt.want {
				t.Errorf("SupportsTools(%+v, %q) = %v, want %v", tt.server, tt.model, got, tt.want)
			}
		})
	}
}

func TestFactory(t *testing.T) {
	tests := []struct {
		name    string
		server  config.ServerConfig
		wantErr bool
	}{
		{"ollama", config.ServerConfig{Protocol: "ollama", BaseURL: "http://localhost:11434"}, false},
		{"empty protocol defaults to ollama", config.ServerConfig{BaseURL: "http://localhost:11434"}, false},
		{"openai", config.ServerConfig{Protocol: "openai", APIKey: "sk-x"}, false},
		{"openai without key", config.ServerConfig{Protocol: "openai"}, true},
		{"unknown protocol", config.ServerConfig{Protocol: "grpc"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.server)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%+v) err = %v, wantErr %v", tt.server, err, tt.wantErr)
			}
		})
	}
}
