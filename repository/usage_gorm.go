package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ypreiser/botgate/domains/chat"
	"github.com/ypreiser/botgate/domains/usage"
	"gorm.io/gorm"
)

// usageRecordModel rows are insert-only.
type usageRecordModel struct {
	ID               string `gorm:"primaryKey"`
	UserID           string `gorm:"index;not null"`
	ProfileID        string `gorm:"column:system_prompt_id;index"`
	ProfileName      string `gorm:"column:system_prompt_name"`
	ChatID           string `gorm:"index"`
	SessionID        string
	Source           string
	ModelName        string
	PromptTokens     int64     `gorm:"not null"`
	CompletionTokens int64     `gorm:"not null"`
	TotalTokens      int64     `gorm:"not null"`
	Timestamp        time.Time `gorm:"index"`
}

func (usageRecordModel) TableName() string {
	return "token_usage_records"
}

type UsageGormRepository struct {
	db *gorm.DB
}

func NewUsageGormRepository(db *gorm.DB) *UsageGormRepository {
	return &UsageGormRepository{db: db}
}

func (r *UsageGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&usageRecordModel{})
}

func (r *UsageGormRepository) Insert(ctx context.Context, record *usage.TokenUsageRecord) (*usage.TokenUsageRecord, error) {
	model := usageRecordModel{
		ID:               record.ID,
		UserID:           record.UserID,
		ProfileID:        record.ProfileID,
		ProfileName:      record.ProfileName,
		ChatID:           record.ChatID,
		SessionID:        record.SessionID,
		Source:           string(record.Source),
		ModelName:        record.ModelName,
		PromptTokens:     record.PromptTokens,
		CompletionTokens: record.CompletionTokens,
		TotalTokens:      record.TotalTokens,
		Timestamp:        record.Timestamp,
	}
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	if model.Timestamp.IsZero() {
		model.Timestamp = time.Now().UTC()
	}

	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return nil, err
	}
	out := fromUsageModel(model)
	return &out, nil
}

func (r *UsageGormRepository) ListByUser(ctx context.Context, userID string) ([]usage.TokenUsageRecord, error) {
	var models []usageRecordModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("timestamp ASC").Find(&models).Error
	if err != nil {
		return nil, err
	}

	result := make([]usage.TokenUsageRecord, len(models))
	for i, m := range models {
		result[i] = fromUsageModel(m)
	}
	return result, nil
}

func fromUsageModel(m usageRecordModel) usage.TokenUsageRecord {
	return usage.TokenUsageRecord{
		ID:               m.ID,
		UserID:           m.UserID,
		ProfileID:        m.ProfileID,
		ProfileName:      m.ProfileName,
		ChatID:           m.ChatID,
		SessionID:        m.SessionID,
		Source:           chat.Source(m.Source),
		ModelName:        m.ModelName,
		PromptTokens:     m.PromptTokens,
		CompletionTokens: m.CompletionTokens,
		TotalTokens:      m.TotalTokens,
		Timestamp:        m.Timestamp,
	}
}
