package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"
	"github.com/ypreiser/botgate/botengine"
	"github.com/ypreiser/botgate/domains/chat"
)

const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider is the adapter for the OpenAI chat completions API.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider fails fast when the API key is missing.
func NewOpenAIProvider(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Chat implements the Provider interface for OpenAI.
func (p *OpenAIProvider) Chat(ctx context.Context, req botengine.ChatRequest) (botengine.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	for _, t := range req.History {
		// Re-inject a previous response verbatim when we have its native form.
		if t.RawContent != nil {
			if msg, ok := t.RawContent.(openai.ChatCompletionMessageParamUnion); ok {
				messages = append(messages, msg)
				continue
			}
		}

		if len(t.ToolCalls) > 0 {
			var toolCalls []openai.ChatCompletionMessageToolCallUnionParam
			for _, tc := range t.ToolCalls {
				argsData, _ := json.Marshal(tc.Args)
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(argsData),
						},
						Type: "function",
					},
				})
			}
			msg := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: toolCalls,
			}
			if t.Text != "" {
				msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(t.Text),
				}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &msg,
			})
			continue
		}

		if len(t.ToolResponses) > 0 {
			for _, tr := range t.ToolResponses {
				data, _ := json.Marshal(tr.Data)
				messages = append(messages, openai.ToolMessage(string(data), tr.ID))
			}
			continue
		}

		if t.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(assembleText(t)))
			continue
		}

		if hasMediaParts(t.Parts) {
			messages = append(messages, openai.UserMessage(contentParts(t)))
		} else {
			messages = append(messages, openai.UserMessage(assembleText(t)))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}

	var tools []openai.ChatCompletionToolUnionParam
	for _, t := range req.Tools {
		tools = append(tools, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  openai.FunctionParameters(t.InputSchema),
				},
			},
		})
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return botengine.ChatResponse{}, classifyOpenAIError(err)
	}

	if len(completion.Choices) == 0 {
		return botengine.ChatResponse{}, botengine.Transient(fmt.Errorf("no response from openai"))
	}

	choice := completion.Choices[0]
	resp := botengine.ChatResponse{
		Text:       choice.Message.Content,
		RawContent: choice.Message.ToParam(),
	}

	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		resp.ToolCalls = append(resp.ToolCalls, botengine.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	if completion.Usage.PromptTokens > 0 || completion.Usage.CompletionTokens > 0 {
		resp.Usage = &botengine.Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
		}
	}

	logrus.WithFields(logrus.Fields{
		"model":          model,
		"has_tool_calls": len(resp.ToolCalls) > 0,
	}).Debug("[OPENAI] Chat completed")

	return resp, nil
}

func assembleText(t botengine.Turn) string {
	if t.Text != "" {
		return t.Text
	}
	text := ""
	for _, p := range t.Parts {
		if p.Type == chat.PartText {
			if text != "" {
				text += "\n"
			}
			text += p.Text
		}
	}
	return text
}

func hasMediaParts(parts []chat.Part) bool {
	for _, p := range parts {
		if p.Type == chat.PartImage {
			return true
		}
	}
	return false
}

func contentParts(t botengine.Turn) []openai.ChatCompletionContentPartUnionParam {
	var out []openai.ChatCompletionContentPartUnionParam
	if t.Text != "" {
		out = append(out, openai.TextContentPart(t.Text))
	}
	for _, p := range t.Parts {
		switch p.Type {
		case chat.PartText:
			out = append(out, openai.TextContentPart(p.Text))
		case chat.PartImage:
			out = append(out, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: p.URL,
			}))
		case chat.PartFile:
			// Files are referenced by URL; the model sees the link.
			out = append(out, openai.TextContentPart(fmt.Sprintf("[file: %s (%s)]", p.URL, p.MimeType)))
		}
	}
	return out
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return botengine.Transient(err)
		default:
			return botengine.Permanent(err)
		}
	}
	// Network-level failures are retryable.
	return botengine.Transient(err)
}
