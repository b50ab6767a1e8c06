package mcp

import (
	"regexp"
	"strconv"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// maxNameLen is the longest tool name providers accept.
const maxNameLen = 64

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Binding ties one provider-visible tool name back to the server and tool it
// resolves to.
type Binding struct {
	Server      string
	Tool        string
	Name        string // provider-visible, sanitized, unique within a registry
	Description string
	Schema      map[string]any
}

// Registry holds the tools offered to the model for one turn, keyed by their
// provider-visible names. An empty registry means no tools are offered.
type Registry struct {
	bindings []Binding
	byName   map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]int),
	}
}

// Add registers a tool under a provider-safe name derived from
// "server_tool": unsafe characters become underscores, the name is truncated
// to 64 characters, and collisions get numeric suffixes (_2, _3, ...).
func (r *Registry) Add(server string, tool mcptypes.Tool) Binding {
	base := tool.Name
	if server != "" {
		base = server + "_" + tool.Name
	}
	base = sanitizeName(base)

	name := base
	for i := 2; ; i++ {
		if _, taken := r.byName[name]; !taken {
			break
		}
		suffix := "_" + strconv.Itoa(i)
		name = truncateName(base, maxNameLen-len(suffix)) + suffix
	}

	b := Binding{
		Server:      server,
		Tool:        tool.Name,
		Name:        name,
		Description: tool.Description,
		Schema:      SchemaMap(tool.InputSchema),
	}
	r.byName[name] = len(r.bindings)
	r.bindings = append(r.bindings, b)
	return b
}

// Lookup resolves a provider-visible name back to its binding.
func (r *Registry) Lookup(name string) (Binding, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return Binding{}, false
	}
	return r.bindings[idx], true
}

// Bindings returns the registered tools in insertion order.
func (r *Registry) Bindings() []Binding {
	return r.bindings
}

func (r *Registry) Empty() bool {
	return len(r.bindings) == 0
}

func sanitizeName(s string) string {
	s = unsafeNameChars.ReplaceAllString(s, "_")
	s = truncateName(s, maxNameLen)
	if s == "" {
		s = "tool"
	}
	return s
}

func truncateName(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// SchemaMap converts a tool input schema to the plain JSON Schema map the
// providers send over the wire. A tool advertising no schema gets the
// permissive empty-object schema.
func SchemaMap(in mcptypes.ToolInputSchema) map[string]any {
	out := map[string]any{
		"type":       in.Type,
		"properties": in.Properties,
	}
	if in.Type == "" {
		out["type"] = "object"
	}
	if in.Properties == nil {
		out["properties"] = map[string]any{}
	}
	if len(in.Required) > 0 {
		out["required"] = in.Required
	}
	if in.Defs != nil {
		out["$defs"] = in.Defs
	}
	return out
}
