package usage

import (
	"context"
	"time"

	"github.com/ypreiser/botgate/domains/chat"
)

// TokenUsageRecord is the immutable per-turn usage log. Insert-only; the
// ledger uses it as the reconciliation source of truth.
type TokenUsageRecord struct {
	ID               string      `json:"id"`
	UserID           string      `json:"userId"`
	ProfileID        string      `json:"systemPromptId"`
	ProfileName      string      `json:"systemPromptName"`
	ChatID           string      `json:"chatId"`
	SessionID        string      `json:"sessionId"`
	Source           chat.Source `json:"source"`
	ModelName        string      `json:"modelName"`
	PromptTokens     int64       `json:"promptTokens"`
	CompletionTokens int64       `json:"completionTokens"`
	TotalTokens      int64       `json:"totalTokens"`
	Timestamp        time.Time   `json:"timestamp"`
}

type IUsageRepository interface {
	Insert(ctx context.Context, record *TokenUsageRecord) (*TokenUsageRecord, error)
	ListByUser(ctx context.Context, userID string) ([]TokenUsageRecord, error)
}

// Entry is what one pipeline turn reports to the ledger.
type Entry struct {
	UserID           string
	ProfileID        string
	ProfileName      string
	ChatID           string
	SessionID        string
	Source           chat.Source
	ModelName        string
	PromptTokens     int64
	CompletionTokens int64
}

type ILedgerUsecase interface {
	// Record writes the immutable usage record, then increments the user
	// and profile counters, in that order.
	Record(ctx context.Context, entry Entry) error
}
