package botengine

import (
	"context"

	"github.com/ypreiser/botgate/domains/chat"
)

// Usage is the token count a provider reported for one model call.
type Usage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
}

func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// ToolDefinition describes one callable tool exposed to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolInvoker is the aggregated tool surface of one session's tool pool.
type ToolInvoker interface {
	Tools() []ToolDefinition
	Invoke(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse is one tool result fed back to the model.
type ToolResponse struct {
	ID   string
	Name string
	Data map[string]any
}

// Turn is one entry of the conversation handed to a provider. Text carries
// plain bodies; Parts carries multi-modal bodies; ToolCalls/ToolResponses
// carry the tool loop. RawContent preserves the provider-native form of an
// earlier response so it can be re-injected verbatim.
type Turn struct {
	Role          string // "user" or "assistant"
	Text          string
	Parts         []chat.Part
	ToolCalls     []ToolCall
	ToolResponses []ToolResponse
	RawContent    any
}

// ChatRequest is one model call.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	History      []Turn
	Tools        []ToolDefinition
}

// ChatResponse is what one model call produced. Usage is nil when the
// vendor did not report it.
type ChatResponse struct {
	Text       string
	ToolCalls  []ToolCall
	Usage      *Usage
	RawContent any
}

// Provider is a vendor adapter for a single model call. The tool loop
// lives above it, in the Engine.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
