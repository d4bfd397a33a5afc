package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrUnavailable = errors.New("ai provider unavailable")

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Embedding task types. Providers that do not distinguish tasks ignore them.
const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

type ChatRequest struct {
	Messages    []ChatMessage
	Tools       []ToolSpec
	Temperature *float32
	JSONMode    bool
}

type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
}

type IProvider interface {
	Name() string
	Chat(ctx context.Context, model string, req *ChatRequest) (*ChatResponse, error)
	Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error)
}

type IChatter interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	ModelName() string
}

type IEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	ModelName() string
}

type chatter struct {
	provider IProvider
	model    string
}

func NewChatter(p IProvider, model string) IChatter {
	return &chatter{provider: p, model: model}
}

func (c *chatter) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return c.provider.Chat(ctx, c.model, req)
}

func (c *chatter) ModelName() string {
	return c.provider.Name() + ":" + c.model
}

type embedder struct {
	provider IProvider
	model    string
}

func NewEmbedder(p IProvider, model string) IEmbedder {
	return &embedder{provider: p, model: model}
}

func (e *embedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return e.provider.Embed(ctx, e.model, text, taskType)
}

func (e *embedder) ModelName() string {
	return e.model
}

type ProviderFactory func(name string, args interface{}) (IProvider, error)

var registry = map[string]ProviderFactory{}

func Register(typ string, factory ProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(typ))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

// NewProvider builds a provider of the registered type. name labels the
// instance so several accounts of one type can coexist.
func NewProvider(typ string, name string, args interface{}) (IProvider, error) {
	key := strings.ToLower(strings.TrimSpace(typ))
	if key == "" {
		return nil, fmt.Errorf("ai provider type is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai provider: %s", typ)
	}
	if name == "" {
		name = key
	}
	return factory(name, args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("ai provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode ai provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}
