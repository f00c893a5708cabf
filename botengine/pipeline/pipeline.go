package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ypreiser/botgate/botengine"
	"github.com/ypreiser/botgate/domains/chat"
	"github.com/ypreiser/botgate/domains/usage"
	"github.com/ypreiser/botgate/pkg/apperror"
)

const (
	// DefaultHistoryLimit bounds how many stored messages feed the model.
	DefaultHistoryLimit = 20

	// EmptyReplyText is persisted and returned when the model produces
	// no usable text.
	EmptyReplyText = "No text response from AI."

	// lockStripes bounds the chat-lock table. Distinct chats that hash
	// to the same stripe simply serialize.
	lockStripes = 64
)

// TurnInput carries one inbound user message through the pipeline.
type TurnInput struct {
	UserID         string
	ProfileID      string
	ProfileName    string
	Source         chat.Source
	SessionID      string
	ConnectionName string
	UserName       string
	SystemPrompt   string
	Parts          []chat.Part
	Attachments    []chat.Attachment
}

// TurnOutput is the assistant reply produced for one TurnInput.
type TurnOutput struct {
	ChatID    string
	Text      string
	ToolCalls []chat.ToolCall
	Usage     *botengine.Usage
}

type Pipeline struct {
	chats        chat.IChatRepository
	ledger       usage.ILedgerUsecase
	engine       *botengine.Engine
	historyLimit int

	locks [lockStripes]sync.Mutex
}

func NewPipeline(chats chat.IChatRepository, ledger usage.ILedgerUsecase, engine *botengine.Engine, historyLimit int) *Pipeline {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Pipeline{
		chats:        chats,
		ledger:       ledger,
		engine:       engine,
		historyLimit: historyLimit,
	}
}

// chatLock serializes turns for one conversation. Interleaved turns for
// the same chat would race on history reads and message ordering. The
// stripe table keeps memory constant no matter how many chats pass
// through.
func (p *Pipeline) chatLock(source chat.Source, sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(source))
	h.Write([]byte{'|'})
	h.Write([]byte(sessionID))
	return &p.locks[h.Sum32()%lockStripes]
}

// Process runs one full turn: persist the user message, call the model
// with recent history and tools, persist the reply, record usage.
// Bookkeeping failures after the model call are logged but never block
// the reply.
func (p *Pipeline) Process(ctx context.Context, input TurnInput, tools botengine.ToolInvoker) (*TurnOutput, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	lock := p.chatLock(input.Source, input.SessionID)
	lock.Lock()
	defer lock.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"source":    input.Source,
		"sessionId": input.SessionID,
		"profile":   input.ProfileName,
	})

	conv, err := p.chats.Upsert(ctx, chat.Key{
		SessionID:      input.SessionID,
		Source:         input.Source,
		UserID:         input.UserID,
		ConnectionName: input.ConnectionName,
	}, chat.Chat{
		ProfileID:   input.ProfileID,
		ProfileName: input.ProfileName,
		Metadata: chat.Metadata{
			UserName:       input.UserName,
			ConnectionName: input.ConnectionName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upsert chat: %w", err)
	}

	userMsg := chat.Message{
		Role:        chat.RoleUser,
		Content:     joinText(input.Parts),
		Parts:       input.Parts,
		Attachments: input.Attachments,
		Status:      chat.StatusDelivered,
		Timestamp:   time.Now().UTC(),
	}
	if err := p.chats.AppendMessages(ctx, conv.ID, []chat.Message{userMsg}); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	history, err := p.chats.LastMessages(ctx, conv.ID, p.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	result, err := p.engine.Generate(ctx, input.SystemPrompt, toTurns(history), tools)
	if err != nil {
		return nil, err
	}

	if result.Usage != nil {
		err := p.ledger.Record(ctx, usage.Entry{
			UserID:           input.UserID,
			ProfileID:        input.ProfileID,
			ProfileName:      input.ProfileName,
			ChatID:           conv.ID,
			SessionID:        input.SessionID,
			Source:           input.Source,
			ModelName:        p.engine.Model(),
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
		})
		if err != nil {
			log.WithError(err).Error("[PIPELINE] failed to record token usage")
		}
	} else {
		log.Warn("[PIPELINE] model reported no token usage for this turn")
	}

	replyText := result.Text
	if replyText == "" {
		replyText = EmptyReplyText
	}

	assistantMsg := chat.Message{
		Role:      chat.RoleAssistant,
		Content:   replyText,
		ToolCalls: result.ToolCalls,
		Status:    chat.StatusSent,
		Timestamp: time.Now().UTC(),
	}
	if err := p.chats.AppendMessages(ctx, conv.ID, []chat.Message{assistantMsg}); err != nil {
		log.WithError(err).Error("[PIPELINE] failed to persist assistant reply")
	}

	now := time.Now().UTC()
	patch := chat.MetadataPatch{LastActive: &now}
	if input.UserName != "" {
		patch.UserName = &input.UserName
	}
	if err := p.chats.SetMetadata(ctx, conv.ID, patch); err != nil {
		log.WithError(err).Warn("[PIPELINE] failed to update chat metadata")
	}

	return &TurnOutput{
		ChatID:    conv.ID,
		Text:      replyText,
		ToolCalls: result.ToolCalls,
		Usage:     result.Usage,
	}, nil
}

func validateInput(input TurnInput) error {
	if input.SessionID == "" {
		return apperror.ValidationError("sessionId is required")
	}
	if input.Source == "" {
		return apperror.ValidationError("source is required")
	}

	hasContent := false
	for _, part := range input.Parts {
		if part.Valid() {
			hasContent = true
			break
		}
	}
	if !hasContent {
		return apperror.ValidationError("message must contain at least one non-empty part")
	}
	return nil
}

func joinText(parts []chat.Part) string {
	text := ""
	for _, part := range parts {
		if part.Type == chat.PartText && part.Text != "" {
			if text != "" {
				text += "\n"
			}
			text += part.Text
		}
	}
	return text
}

// toTurns converts stored history into model turns. Malformed stored
// messages become a visible placeholder instead of poisoning the call.
func toTurns(messages []chat.Message) []botengine.Turn {
	turns := make([]botengine.Turn, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case chat.RoleUser, chat.RoleAssistant:
		default:
			// Tool and system rows are internal bookkeeping.
			continue
		}

		turn := botengine.Turn{Role: string(m.Role), Text: m.Content}
		if len(m.Parts) > 0 {
			valid := make([]chat.Part, 0, len(m.Parts))
			for _, part := range m.Parts {
				if part.Valid() {
					valid = append(valid, part)
				}
			}
			turn.Parts = valid
		}
		if turn.Text == "" && len(turn.Parts) == 0 {
			turn.Text = "[System: A message part could not be displayed]"
		}
		turns = append(turns, turn)
	}
	return turns
}
