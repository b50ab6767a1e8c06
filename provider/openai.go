package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3/packages/ssestream"

	"atui/chat"
)

// OpenAIClient speaks the OpenAI-style SSE protocol: /chat/completions
// streams `data:` events and terminates with `data: [DONE]`.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func NewOpenAIClient(baseURL, apiKey string) (*OpenAIClient, error) {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   http.DefaultClient,
	}, nil
}

// oaRequest is the /chat/completions request body.
type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Tools       []oaTool    `json:"tools,omitempty"`
	Stream      bool        `json:"stream"`
	Temperature *float64    `json:"temperature,omitempty"`
}

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
}

type oaToolCall struct {
	ID       string     `json:"id,omitempty"`
	Type     string     `json:"type"`
	Function oaFunction `json:"function"`
}

// oaFunction carries arguments as a JSON-encoded string, per the protocol.
type oaFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaTool struct {
	Type     string           `json:"type"`
	Function oaToolDefinition `json:"function"`
}

type oaToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type oaError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// oaChunk is one SSE data payload of a streamed completion.
type oaChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *oaError `json:"error,omitempty"`
}

// oaCompletion is the body of a non-streamed completion.
type oaCompletion struct {
	Choices []struct {
		Message      oaMessage `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Error *oaError `json:"error,omitempty"`
}

// buildOpenAIRequest translates a provider request into the wire shape.
// Pure; shared by the streaming and completion paths.
func buildOpenAIRequest(req Request, stream bool) oaRequest {
	return oaRequest{
		Model:       req.Model,
		Messages:    entriesToOpenAI(req.Entries),
		Tools:       toolDefsToOpenAI(req.Tools),
		Stream:      stream,
		Temperature: req.Temperature,
	}
}

func entriesToOpenAI(entries []chat.Entry) []oaMessage {
	result := make([]oaMessage, len(entries))
	for i, e := range entries {
		result[i] = oaMessage{
			Role:       string(e.Role),
			Content:    e.Content,
			ToolCallID: e.ToolCallID,
		}
		if len(e.ToolCalls) > 0 {
			calls := make([]oaToolCall, len(e.ToolCalls))
			for j, c := range e.ToolCalls {
				args, err := json.Marshal(c.Arguments)
				if err != nil {
					args = []byte("{}")
				}
				calls[j] = oaToolCall{
					ID:   c.ID,
					Type: "function",
					Function: oaFunction{
						Name:      c.Name,
						Arguments: string(args),
					},
				}
			}
			result[i].ToolCalls = calls
		}
	}
	return result
}

func toolDefsToOpenAI(tools []ToolDef) []oaTool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]oaTool, len(tools))
	for i, t := range tools {
		result[i] = oaTool{
			Type: "function",
			Function: oaToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		}
	}
	return result
}

// parseToolArguments decodes the protocol's JSON-string argument encoding.
// A malformed payload yields an empty map rather than failing the turn.
func parseToolArguments(argsJSON string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return make(map[string]any)
	}
	return args
}

func fromOpenAICalls(calls []oaToolCall) []chat.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	result := make([]chat.ToolCall, len(calls))
	for i, c := range calls {
		result[i] = chat.ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: parseToolArguments(c.Function.Arguments),
		}
	}
	return result
}

func (c *OpenAIClient) post(ctx context.Context, body oaRequest, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var wrapper struct {
			Error *oaError `json:"error"`
		}
		if json.Unmarshal(raw, &wrapper) == nil && wrapper.Error != nil {
			return nil, fmt.Errorf("server error: %s", wrapper.Error.Message)
		}
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	return resp, nil
}

// Stream implements Client.Stream over the SSE protocol. A stream that ends
// without `[DONE]` is tolerated; the caller synthesizes the terminal state.
func (c *OpenAIClient) Stream(ctx context.Context, req Request, fn StreamFunc) error {
	resp, err := c.post(ctx, buildOpenAIRequest(req, true), true)
	if err != nil {
		return err
	}

	decoder := ssestream.NewDecoder(resp)
	defer decoder.Close()

	for decoder.Next() {
		data := bytes.TrimSpace(decoder.Event().Data)
		if len(data) == 0 {
			continue
		}
		if string(data) == "[DONE]" {
			if fn != nil {
				if err := fn(Delta{Done: true}); err != nil {
					return err
				}
			}
			return nil
		}

		var chunk oaChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return fmt.Errorf("malformed stream event: %w", err)
		}
		if chunk.Error != nil {
			return fmt.Errorf("server error: %s", chunk.Error.Message)
		}

		if fn != nil && len(chunk.Choices) > 0 {
			if err := fn(Delta{Content: chunk.Choices[0].Delta.Content}); err != nil {
				return err
			}
		}
	}
	if err := decoder.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}

	return nil
}

// Complete implements Client.Complete with a non-streamed request.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Turn, error) {
	resp, err := c.post(ctx, buildOpenAIRequest(req, false), false)
	if err != nil {
		return Turn{}, err
	}
	defer resp.Body.Close()

	var completion oaCompletion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return Turn{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if completion.Error != nil {
		return Turn{}, fmt.Errorf("server error: %s", completion.Error.Message)
	}
	if len(completion.Choices) == 0 {
		return Turn{}, fmt.Errorf("server returned no choices")
	}

	choice := completion.Choices[0]
	return Turn{
		Content:   choice.Message.Content,
		ToolCalls: fromOpenAICalls(choice.Message.ToolCalls),
	}, nil
}

func (c *OpenAIClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}

	models := make([]ModelInfo, len(body.Data))
	for i, m := range body.Data {
		models[i] = ModelInfo{Name: m.ID}
	}
	return models, nil
}

func (c *OpenAIClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.ListModels(ctx)
	return err
}
