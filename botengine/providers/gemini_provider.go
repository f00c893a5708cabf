package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/ypreiser/botgate/botengine"
	"github.com/ypreiser/botgate/domains/chat"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider is the adapter for the Google Gemini API.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider fails fast when the API key is missing.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

// Chat implements the Provider interface for Gemini.
func (p *GeminiProvider) Chat(ctx context.Context, req botengine.ChatRequest) (botengine.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = DefaultGeminiModel
	}

	var genConfig *genai.GenerateContentConfig
	if req.SystemPrompt != "" {
		genConfig = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.SystemPrompt, ""),
		}
	}

	var functionDecls []*genai.FunctionDeclaration
	for _, t := range req.Tools {
		functionDecls = append(functionDecls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchema(t.InputSchema),
		})
	}
	if len(functionDecls) > 0 {
		if genConfig == nil {
			genConfig = &genai.GenerateContentConfig{}
		}
		genConfig.Tools = []*genai.Tool{{FunctionDeclarations: functionDecls}}
	}

	var contents []*genai.Content
	for _, t := range req.History {
		if t.RawContent != nil {
			if raw, ok := t.RawContent.(*genai.Content); ok {
				contents = append(contents, raw)
				continue
			}
		}

		role := genai.RoleUser
		if t.Role == "assistant" {
			role = genai.RoleModel
		}

		if len(t.ToolCalls) > 0 {
			parts := []*genai.Part{}
			if t.Text != "" {
				parts = append(parts, &genai.Part{Text: t.Text})
			}
			for _, tc := range t.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: tc.Name,
						Args: tc.Args,
					},
				})
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
			continue
		}

		// All responses of one step must share one Content.
		if len(t.ToolResponses) > 0 {
			parts := []*genai.Part{}
			for _, tr := range t.ToolResponses {
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       tr.ID,
						Name:     tr.Name,
						Response: tr.Data,
					},
				})
			}
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
			continue
		}

		parts := turnParts(t)
		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}

	result, err := p.client.Models.GenerateContent(ctx, model, contents, genConfig)
	if err != nil {
		return botengine.ChatResponse{}, classifyGeminiError(err)
	}

	if result == nil || len(result.Candidates) == 0 {
		return botengine.ChatResponse{}, botengine.Transient(fmt.Errorf("no response from gemini"))
	}

	candidate := result.Candidates[0]

	var fullText string
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			fullText += part.Text
		}
	}

	resp := botengine.ChatResponse{
		Text:       fullText,
		RawContent: candidate.Content,
	}

	for _, part := range candidate.Content.Parts {
		if part.FunctionCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, botengine.ToolCall{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}

	if result.UsageMetadata != nil {
		resp.Usage = &botengine.Usage{
			PromptTokens:     int64(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int64(result.UsageMetadata.CandidatesTokenCount),
		}
	}

	logrus.WithFields(logrus.Fields{
		"model":          model,
		"has_tool_calls": len(resp.ToolCalls) > 0,
	}).Debug("[GEMINI] Chat completed")

	return resp, nil
}

func turnParts(t botengine.Turn) []*genai.Part {
	var parts []*genai.Part
	if t.Text != "" {
		parts = append(parts, &genai.Part{Text: t.Text})
	}
	for _, p := range t.Parts {
		switch p.Type {
		case chat.PartText:
			parts = append(parts, &genai.Part{Text: p.Text})
		case chat.PartImage, chat.PartFile:
			parts = append(parts, &genai.Part{
				FileData: &genai.FileData{FileURI: p.URL, MIMEType: p.MimeType},
			})
		}
	}
	return parts
}

func convertSchema(input map[string]any) *genai.Schema {
	data, _ := json.Marshal(input)
	var schema genai.Schema
	_ = json.Unmarshal(data, &schema)
	if schema.Type == "" {
		schema.Type = "object"
	}
	return &schema
}

func classifyGeminiError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "503") || strings.Contains(msg, "500") {
		return botengine.Transient(err)
	}
	if strings.Contains(msg, "API key") || strings.Contains(msg, "401") || strings.Contains(msg, "403") {
		return botengine.Permanent(err)
	}
	return botengine.Transient(err)
}
