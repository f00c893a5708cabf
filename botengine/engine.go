package botengine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ypreiser/botgate/domains/chat"
)

// DefaultMaxToolSteps bounds the tool loop per turn. A step is one model
// call plus the tool invocations it requests.
const DefaultMaxToolSteps = 10

// Engine drives the reasoning loop of one turn until the model returns a
// final text response or the step cap is reached.
type Engine struct {
	provider Provider
	model    string
	maxSteps int
}

func NewEngine(provider Provider, model string, maxSteps int) *Engine {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxToolSteps
	}
	return &Engine{provider: provider, model: model, maxSteps: maxSteps}
}

func (e *Engine) Model() string { return e.model }

// Result is the outcome of one full turn.
type Result struct {
	Text      string
	ToolCalls []chat.ToolCall
	Usage     *Usage
}

// Generate runs the tool loop. Usage accumulates across steps and is nil
// when no step reported it. On cap, the last model text (if any) is
// returned.
func (e *Engine) Generate(ctx context.Context, systemPrompt string, history []Turn, tools ToolInvoker) (*Result, error) {
	req := ChatRequest{
		Model:        e.model,
		SystemPrompt: systemPrompt,
		History:      history,
	}
	if tools != nil {
		req.Tools = tools.Tools()
	}

	var totalUsage *Usage
	var executedCalls []chat.ToolCall
	var finalText string
	var lastText string

	for i := 0; i < e.maxSteps; i++ {
		start := time.Now()
		res, err := e.provider.Chat(ctx, req)
		if err != nil {
			return nil, err
		}

		if res.Usage != nil {
			if totalUsage == nil {
				totalUsage = &Usage{}
			}
			totalUsage.Add(res.Usage)
		}
		if res.Text != "" {
			lastText = res.Text
		}

		logrus.WithFields(logrus.Fields{
			"provider":    e.provider.Name(),
			"step":        i + 1,
			"tool_calls":  len(res.ToolCalls),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("[ENGINE] Model call completed")

		if len(res.ToolCalls) == 0 {
			finalText = res.Text
			break
		}

		// Assistant turn carrying the tool calls, with the provider-native
		// content preserved for re-injection.
		req.History = append(req.History, Turn{
			Role:       "assistant",
			Text:       res.Text,
			ToolCalls:  res.ToolCalls,
			RawContent: res.RawContent,
		})

		// All responses of one step go into a single user turn.
		var responses []ToolResponse
		for _, tc := range res.ToolCalls {
			var data map[string]any
			if tools == nil {
				data = map[string]any{"error": "tool not found"}
			} else if out, invokeErr := tools.Invoke(ctx, tc.Name, tc.Args); invokeErr != nil {
				logrus.WithError(invokeErr).Warnf("[ENGINE] Tool %s failed", tc.Name)
				data = map[string]any{"error": invokeErr.Error()}
			} else {
				data = out
			}

			argsJSON, _ := json.Marshal(tc.Args)
			executedCalls = append(executedCalls, chat.ToolCall{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: string(argsJSON),
			})
			responses = append(responses, ToolResponse{ID: tc.ID, Name: tc.Name, Data: data})
		}

		req.History = append(req.History, Turn{
			Role:          "user",
			ToolResponses: responses,
		})
	}

	if finalText == "" {
		finalText = lastText
	}

	return &Result{
		Text:      finalText,
		ToolCalls: executedCalls,
		Usage:     totalUsage,
	}, nil
}
