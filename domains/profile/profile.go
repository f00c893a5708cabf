package profile

import (
	"context"
	"time"

	"github.com/ypreiser/botgate/domains/user"
)

type CommunicationStyle string

const (
	StyleFormal       CommunicationStyle = "Formal"
	StyleFriendly     CommunicationStyle = "Friendly"
	StyleHumorous     CommunicationStyle = "Humorous"
	StyleProfessional CommunicationStyle = "Professional"
	StyleCustom       CommunicationStyle = "Custom"
)

type KnowledgeItem struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
}

type ExampleResponse struct {
	Scenario string `json:"scenario"`
	Response string `json:"response"`
}

type EdgeCase struct {
	Case   string `json:"case"`
	Action string `json:"action"`
}

type ToolConfig struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Purposes    []string `json:"purposes"`
}

// ToolServerConfig describes one subprocess tool server attached to a
// profile. Name is unique within the profile.
type ToolServerConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Enabled bool     `json:"enabled"`
}

// BotProfile is a named prompt/tool bundle owned by one user.
// Name and OwnerUserID are immutable after creation.
type BotProfile struct {
	ID                    string             `json:"id"`
	OwnerUserID           string             `json:"ownerUserId"`
	Name                  string             `json:"name"`
	Identity              string             `json:"identity"`
	Description           string             `json:"description,omitempty"`
	CommunicationStyle    CommunicationStyle `json:"communicationStyle,omitempty"`
	PrimaryLanguage       string             `json:"primaryLanguage,omitempty"`
	SecondaryLanguage     string             `json:"secondaryLanguage,omitempty"`
	LanguageRules         []string           `json:"languageRules,omitempty"`
	KnowledgeBase         []KnowledgeItem    `json:"knowledgeBase,omitempty"`
	Tags                  []string           `json:"tags,omitempty"`
	InitialInteraction    []string           `json:"initialInteraction,omitempty"`
	InteractionGuidelines []string           `json:"interactionGuidelines,omitempty"`
	ExampleResponses      []ExampleResponse  `json:"exampleResponses,omitempty"`
	EdgeCases             []EdgeCase         `json:"edgeCases,omitempty"`
	ToolConfig            *ToolConfig        `json:"toolConfig,omitempty"`
	PrivacyGuidelines     string             `json:"privacyGuidelines,omitempty"`
	ToolServers           []ToolServerConfig `json:"toolServers,omitempty"`
	IsEnabled             bool               `json:"isEnabled"`
	Usage                 user.TokenUsage    `json:"tokenUsage"`
	CreatedAt             time.Time          `json:"createdAt"`
	UpdatedAt             time.Time          `json:"updatedAt"`
}

type IProfileRepository interface {
	FindByID(ctx context.Context, id string) (*BotProfile, error)
	FindByName(ctx context.Context, ownerUserID, name string) (*BotProfile, error)
	ListByOwner(ctx context.Context, ownerUserID string) ([]BotProfile, error)
	// Create rejects a duplicate (owner, name) with a conflict.
	Create(ctx context.Context, p *BotProfile) (*BotProfile, error)
	// UpdateByID rejects attempts to change id, name or owner.
	UpdateByID(ctx context.Context, id string, p *BotProfile) (*BotProfile, error)
	DeleteByID(ctx context.Context, id string) error
	// IncrementTokens has the same atomicity contract as the user variant.
	IncrementTokens(ctx context.Context, profileID string, prompt, completion int64) error
}

type IProfileUsecase interface {
	Create(ctx context.Context, owner user.User, p *BotProfile) (*BotProfile, error)
	Get(ctx context.Context, owner user.User, id string) (*BotProfile, error)
	GetByName(ctx context.Context, owner user.User, name string) (*BotProfile, error)
	List(ctx context.Context, owner user.User) ([]BotProfile, error)
	Update(ctx context.Context, owner user.User, id string, p *BotProfile) (*BotProfile, error)
	// Delete closes any session still referencing the profile.
	Delete(ctx context.Context, owner user.User, id string) error
}

// SystemPromptText renders the profile into the system prompt handed to the
// model. Sections with no content are omitted.
func (p *BotProfile) SystemPromptText() string {
	return renderSystemPrompt(p)
}
