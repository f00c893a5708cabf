package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ypreiser/botgate/domains/chat"
	"github.com/ypreiser/botgate/pkg/apperror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type chatModel struct {
	ID             string `gorm:"primaryKey"`
	SessionID      string `gorm:"uniqueIndex:idx_chats_session_source;not null"`
	Source         string `gorm:"uniqueIndex:idx_chats_session_source;not null"`
	ProfileID      string `gorm:"column:system_prompt_id"`
	ProfileName    string `gorm:"column:system_prompt_name"`
	UserID         string `gorm:"index;not null"`
	UserName       string
	ConnectionName string
	LastActive     time.Time
	IsArchived     bool   `gorm:"not null;default:false"`
	MetaTags       string // JSON
	Notes          string
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (chatModel) TableName() string {
	return "chats"
}

// chatMessageModel rows are append-only; the auto-increment id keeps the
// insertion order stable even for equal timestamps.
type chatMessageModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ChatID      string `gorm:"index;not null"`
	Role        string `gorm:"not null"`
	Content     string
	Parts       string // JSON
	ToolCalls   string // JSON
	ToolCallID  string
	ToolName    string
	Status      string
	Attachments string    // JSON
	Timestamp   time.Time `gorm:"index"`
}

func (chatMessageModel) TableName() string {
	return "chat_messages"
}

type ChatGormRepository struct {
	db *gorm.DB
}

func NewChatGormRepository(db *gorm.DB) *ChatGormRepository {
	return &ChatGormRepository{db: db}
}

func (r *ChatGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&chatModel{}, &chatMessageModel{})
}

// Upsert inserts the chat if (sessionID, source) is new and returns the
// current row either way. The insert is a no-op on conflict, so two
// concurrent upserts for the same key converge on one document.
func (r *ChatGormRepository) Upsert(ctx context.Context, key chat.Key, defaults chat.Chat) (*chat.Chat, error) {
	model := toChatModel(defaults)
	model.SessionID = key.SessionID
	model.Source = string(key.Source)
	model.UserID = key.UserID
	model.ConnectionName = key.ConnectionName
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	if model.LastActive.IsZero() {
		model.LastActive = time.Now().UTC()
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "source"}},
		DoNothing: true,
	}).Create(&model).Error
	if err != nil {
		return nil, err
	}

	return r.FindByKey(ctx, key.SessionID, key.Source)
}

func (r *ChatGormRepository) FindByID(ctx context.Context, id string) (*chat.Chat, error) {
	var model chatModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("chat not found")
		}
		return nil, err
	}

	messages, err := r.allMessages(ctx, model.ID)
	if err != nil {
		return nil, err
	}

	c := fromChatModel(model)
	c.Messages = messages
	return &c, nil
}

func (r *ChatGormRepository) FindByKey(ctx context.Context, sessionID string, source chat.Source) (*chat.Chat, error) {
	var model chatModel
	err := r.db.WithContext(ctx).First(&model, "session_id = ? AND source = ?", sessionID, string(source)).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("chat not found")
		}
		return nil, err
	}
	c := fromChatModel(model)
	return &c, nil
}

func (r *ChatGormRepository) ListByUser(ctx context.Context, userID string) ([]chat.Chat, error) {
	var models []chatModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").Find(&models).Error
	if err != nil {
		return nil, err
	}
	return fromChatModels(models), nil
}

func (r *ChatGormRepository) ListAll(ctx context.Context) ([]chat.Chat, error) {
	var models []chatModel
	err := r.db.WithContext(ctx).Order("updated_at DESC").Find(&models).Error
	if err != nil {
		return nil, err
	}
	return fromChatModels(models), nil
}

func (r *ChatGormRepository) AppendMessages(ctx context.Context, chatID string, messages []chat.Message) error {
	if len(messages) == 0 {
		return nil
	}

	models := make([]chatMessageModel, len(messages))
	for i, m := range messages {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		models[i] = chatMessageModel{
			ChatID:      chatID,
			Role:        string(m.Role),
			Content:     m.Content,
			Parts:       marshalJSON(m.Parts),
			ToolCalls:   marshalJSON(m.ToolCalls),
			ToolCallID:  m.ToolCallID,
			ToolName:    m.ToolName,
			Status:      string(m.Status),
			Attachments: marshalJSON(m.Attachments),
			Timestamp:   ts,
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models).Error; err != nil {
			return err
		}
		return tx.Model(&chatModel{}).Where("id = ?", chatID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

// LastMessages returns the most recent n messages in chronological order.
func (r *ChatGormRepository) LastMessages(ctx context.Context, chatID string, n int) ([]chat.Message, error) {
	var models []chatMessageModel
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id DESC").
		Limit(n).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	messages := make([]chat.Message, len(models))
	for i, m := range models {
		messages[len(models)-1-i] = fromChatMessageModel(m)
	}
	return messages, nil
}

func (r *ChatGormRepository) SetMetadata(ctx context.Context, chatID string, patch chat.MetadataPatch) error {
	updates := map[string]interface{}{}
	if patch.UserName != nil {
		updates["user_name"] = *patch.UserName
	}
	if patch.LastActive != nil {
		updates["last_active"] = *patch.LastActive
	}
	if patch.IsArchived != nil {
		updates["is_archived"] = *patch.IsArchived
	}
	if patch.Notes != nil {
		updates["notes"] = *patch.Notes
	}
	if len(updates) == 0 {
		return nil
	}

	res := r.db.WithContext(ctx).Model(&chatModel{}).Where("id = ?", chatID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.NotFoundError("chat not found")
	}
	return nil
}

func (r *ChatGormRepository) allMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	var models []chatMessageModel
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("id ASC").Find(&models).Error
	if err != nil {
		return nil, err
	}

	messages := make([]chat.Message, len(models))
	for i, m := range models {
		messages[i] = fromChatMessageModel(m)
	}
	return messages, nil
}

func toChatModel(c chat.Chat) chatModel {
	return chatModel{
		ID:             c.ID,
		SessionID:      c.SessionID,
		Source:         string(c.Source),
		ProfileID:      c.ProfileID,
		ProfileName:    c.ProfileName,
		UserID:         c.UserID,
		UserName:       c.Metadata.UserName,
		ConnectionName: c.Metadata.ConnectionName,
		LastActive:     c.Metadata.LastActive,
		IsArchived:     c.Metadata.IsArchived,
		MetaTags:       marshalJSON(c.Metadata.Tags),
		Notes:          c.Metadata.Notes,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func fromChatModel(m chatModel) chat.Chat {
	c := chat.Chat{
		ID:          m.ID,
		SessionID:   m.SessionID,
		ProfileID:   m.ProfileID,
		ProfileName: m.ProfileName,
		Source:      chat.Source(m.Source),
		UserID:      m.UserID,
		Metadata: chat.Metadata{
			UserName:       m.UserName,
			ConnectionName: m.ConnectionName,
			LastActive:     m.LastActive,
			IsArchived:     m.IsArchived,
			Notes:          m.Notes,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	unmarshalJSON(m.MetaTags, &c.Metadata.Tags)
	return c
}

func fromChatModels(models []chatModel) []chat.Chat {
	result := make([]chat.Chat, len(models))
	for i, m := range models {
		result[i] = fromChatModel(m)
	}
	return result
}

func fromChatMessageModel(m chatMessageModel) chat.Message {
	msg := chat.Message{
		Role:       chat.Role(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		ToolName:   m.ToolName,
		Status:     chat.MessageStatus(m.Status),
		Timestamp:  m.Timestamp,
	}
	unmarshalJSON(m.Parts, &msg.Parts)
	unmarshalJSON(m.ToolCalls, &msg.ToolCalls)
	unmarshalJSON(m.Attachments, &msg.Attachments)
	return msg
}
