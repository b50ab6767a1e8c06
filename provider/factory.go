package provider

import (
	"fmt"

	"atui/config"
)

// New creates a protocol client from a server config entry. An empty
// protocol defaults to "ollama".
func New(server config.ServerConfig) (Client, error) {
	switch server.Protocol {
	case "ollama", "":
		return NewOllamaClient(server.BaseURL)
	case "openai":
		return NewOpenAIClient(server.BaseURL, server.APIKey)
	default:
		return nil, fmt.Errorf("unknown protocol: %s", server.Protocol)
	}
}
