// Package mcp connects to tool servers over the Model Context Protocol and
// exposes their tools to the execution engine under provider-safe names.
package mcp

import (
	"context"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// Server is one connected tool server and the tools it advertises.
type Server struct {
	Name  string
	Tools []mcptypes.Tool
}

// Servers is the tool-server collaborator the engine resolves tools against.
// An implementation with no connected servers returns an empty list, which
// means no tools are offered to the model.
type Servers interface {
	// ListServers returns the connected servers and their tools.
	ListServers(ctx context.Context) ([]Server, error)

	// Invoke executes one tool on one server and returns the textual result.
	Invoke(ctx context.Context, server, tool string, args map[string]any) (string, error)
}
