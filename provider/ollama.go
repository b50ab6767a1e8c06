package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"atui/chat"
	"atui/config"
)

// OllamaClient speaks the Ollama NDJSON protocol: /api/chat answers with one
// JSON object per line, each carrying a message fragment, a done marker, and
// optionally a server-reported error.
type OllamaClient struct {
	baseURL string
	httpc   *http.Client
	api     *api.Client
}

func NewOllamaClient(baseURL string) (*OllamaClient, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   http.DefaultClient,
		api:     api.NewClient(parsedURL, http.DefaultClient),
	}, nil
}

// ollamaChatRequest is the /api/chat request body.
type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []api.Message  `json:"messages"`
	Tools    []api.Tool     `json:"tools,omitempty"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

// ollamaStreamLine is one NDJSON line of the /api/chat response. The same
// shape carries the single object of a non-streamed completion.
type ollamaStreamLine struct {
	Message   api.Message `json:"message"`
	Done      bool        `json:"done"`
	Error     string      `json:"error,omitempty"`
	EvalCount int         `json:"eval_count,omitempty"`
}

// buildOllamaRequest translates a provider request into the wire shape.
// Pure; shared by the streaming and completion paths.
func buildOllamaRequest(req Request, stream bool) ollamaChatRequest {
	out := ollamaChatRequest{
		Model:    req.Model,
		Messages: entriesToOllama(req.Entries),
		Tools:    toolDefsToOllama(req.Tools),
		Stream:   stream,
	}

	if req.Temperature != nil || req.RepeatPenalty != nil {
		out.Options = make(map[string]any)
		if req.Temperature != nil {
			out.Options["temperature"] = *req.Temperature
		}
		if req.RepeatPenalty != nil {
			out.Options["repeat_penalty"] = *req.RepeatPenalty
		}
	}

	return out
}

func entriesToOllama(entries []chat.Entry) []api.Message {
	result := make([]api.Message, len(entries))
	for i, e := range entries {
		result[i] = api.Message{
			Role:    string(e.Role),
			Content: e.Content,
		}
		if len(e.ToolCalls) > 0 {
			calls := make([]api.ToolCall, len(e.ToolCalls))
			for j, c := range e.ToolCalls {
				calls[j] = api.ToolCall{
					Function: api.ToolCallFunction{
						Name:      c.Name,
						Arguments: api.ToolCallFunctionArguments(c.Arguments),
					},
				}
			}
			result[i].ToolCalls = calls
		}
	}
	return result
}

func toolDefsToOllama(tools []ToolDef) []api.Tool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]api.Tool, 0, len(tools))
	for _, t := range tools {
		// Both sides are JSON Schema; round-trip the map through JSON to
		// get the typed parameter struct.
		var params api.ToolFunctionParameters
		if raw, err := json.Marshal(t.Schema); err == nil {
			_ = json.Unmarshal(raw, &params)
		}

		result = append(result, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return result
}

// parseOllamaLine decodes one NDJSON line. Pure.
func parseOllamaLine(data []byte) (ollamaStreamLine, error) {
	var line ollamaStreamLine
	if err := json.Unmarshal(data, &line); err != nil {
		return ollamaStreamLine{}, fmt.Errorf("malformed stream line: %w", err)
	}
	return line, nil
}

func fromOllamaCalls(calls []api.ToolCall) []chat.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	result := make([]chat.ToolCall, len(calls))
	for i, c := range calls {
		result[i] = chat.ToolCall{
			Name:      c.Function.Name,
			Arguments: map[string]any(c.Function.Arguments),
		}
	}
	return result
}

func (c *OllamaClient) post(ctx context.Context, body ollamaChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var line ollamaStreamLine
		if json.Unmarshal(raw, &line) == nil && line.Error != "" {
			return nil, fmt.Errorf("server error: %s", line.Error)
		}
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	return resp, nil
}

// Stream implements Client.Stream over the NDJSON line protocol. A stream
// that ends without a done marker is tolerated; the caller synthesizes the
// terminal state.
func (c *OllamaClient) Stream(ctx context.Context, req Request, fn StreamFunc) error {
	resp, err := c.post(ctx, buildOllamaRequest(req, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	sawDone := false
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		line, err := parseOllamaLine(raw)
		if err != nil {
			return err
		}
		if line.Error != "" {
			return fmt.Errorf("server error: %s", line.Error)
		}

		if fn != nil {
			if err := fn(Delta{Content: line.Message.Content, Done: line.Done}); err != nil {
				return err
			}
		}
		if line.Done {
			sawDone = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}

	if !sawDone && config.Debug && config.DebugLog != nil {
		config.DebugLog.Printf("[Provider] ollama stream for %s ended without done marker", req.Model)
	}

	return nil
}

// Complete implements Client.Complete with a non-streamed request.
func (c *OllamaClient) Complete(ctx context.Context, req Request) (Turn, error) {
	resp, err := c.post(ctx, buildOllamaRequest(req, false))
	if err != nil {
		return Turn{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Turn{}, fmt.Errorf("failed to read response: %w", err)
	}

	line, err := parseOllamaLine(bytes.TrimSpace(raw))
	if err != nil {
		return Turn{}, err
	}
	if line.Error != "" {
		return Turn{}, fmt.Errorf("server error: %s", line.Error)
	}

	return Turn{
		Content:   line.Message.Content,
		ToolCalls: fromOllamaCalls(line.Message.ToolCalls),
	}, nil
}

func (c *OllamaClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := c.api.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	models := make([]ModelInfo, len(resp.Models))
	for i, m := range resp.Models {
		models[i] = ModelInfo{
			Name: m.Name,
			Size: m.Size,
		}
	}
	return models, nil
}

func (c *OllamaClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.api.List(ctx)
	return err
}
