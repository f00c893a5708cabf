package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/ypreiser/botgate/domains/profile"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
	"gorm.io/gorm"
)

type profileModel struct {
	ID                    string `gorm:"primaryKey"`
	OwnerUserID           string `gorm:"uniqueIndex:idx_profiles_owner_name;not null"`
	Name                  string `gorm:"uniqueIndex:idx_profiles_owner_name;not null"`
	Identity              string `gorm:"not null"`
	Description           string
	CommunicationStyle    string
	PrimaryLanguage       string
	SecondaryLanguage     string
	LanguageRules         string // JSON
	KnowledgeBase         string // JSON
	Tags                  string // JSON
	InitialInteraction    string // JSON
	InteractionGuidelines string // JSON
	ExampleResponses      string // JSON
	EdgeCases             string // JSON
	ToolConfig            string // JSON
	PrivacyGuidelines     string
	ToolServers           string    `gorm:"column:tool_servers"` // JSON
	IsEnabled             bool      `gorm:"not null;default:true"`
	PromptTokens          int64     `gorm:"not null;default:0"`
	CompletionTokens      int64     `gorm:"not null;default:0"`
	TotalTokens           int64     `gorm:"not null;default:0"`
	CreatedAt             time.Time `gorm:"autoCreateTime"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime"`
}

func (profileModel) TableName() string {
	return "bot_profiles"
}

type ProfileGormRepository struct {
	db *gorm.DB
}

func NewProfileGormRepository(db *gorm.DB) *ProfileGormRepository {
	return &ProfileGormRepository{db: db}
}

func (r *ProfileGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&profileModel{})
}

func (r *ProfileGormRepository) FindByID(ctx context.Context, id string) (*profile.BotProfile, error) {
	var model profileModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("bot profile not found")
		}
		return nil, err
	}
	p := fromProfileModel(model)
	return &p, nil
}

func (r *ProfileGormRepository) FindByName(ctx context.Context, ownerUserID, name string) (*profile.BotProfile, error) {
	var model profileModel
	err := r.db.WithContext(ctx).First(&model, "owner_user_id = ? AND name = ?", ownerUserID, name).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("bot profile not found")
		}
		return nil, err
	}
	p := fromProfileModel(model)
	return &p, nil
}

func (r *ProfileGormRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]profile.BotProfile, error) {
	var models []profileModel
	err := r.db.WithContext(ctx).Where("owner_user_id = ?", ownerUserID).Order("name ASC").Find(&models).Error
	if err != nil {
		return nil, err
	}

	result := make([]profile.BotProfile, len(models))
	for i, m := range models {
		result[i] = fromProfileModel(m)
	}
	return result, nil
}

func (r *ProfileGormRepository) Create(ctx context.Context, p *profile.BotProfile) (*profile.BotProfile, error) {
	model := toProfileModel(*p)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, apperror.ConflictError("a profile with that name already exists")
		}
		return nil, err
	}
	created := fromProfileModel(model)
	return &created, nil
}

// UpdateByID rejects attempts to change id, name or owner.
func (r *ProfileGormRepository) UpdateByID(ctx context.Context, id string, p *profile.BotProfile) (*profile.BotProfile, error) {
	var existing profileModel
	err := r.db.WithContext(ctx).First(&existing, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("bot profile not found")
		}
		return nil, err
	}

	if p.ID != "" && p.ID != existing.ID {
		return nil, apperror.ValidationError("profile id is immutable")
	}
	if p.Name != "" && p.Name != existing.Name {
		return nil, apperror.ValidationError("profile name is immutable")
	}
	if p.OwnerUserID != "" && p.OwnerUserID != existing.OwnerUserID {
		return nil, apperror.ValidationError("profile owner is immutable")
	}

	model := toProfileModel(*p)
	model.ID = existing.ID
	model.Name = existing.Name
	model.OwnerUserID = existing.OwnerUserID
	model.PromptTokens = existing.PromptTokens
	model.CompletionTokens = existing.CompletionTokens
	model.TotalTokens = existing.TotalTokens
	model.CreatedAt = existing.CreatedAt

	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return nil, err
	}
	updated := fromProfileModel(model)
	return &updated, nil
}

func (r *ProfileGormRepository) DeleteByID(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&profileModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.NotFoundError("bot profile not found")
	}
	return nil
}

func (r *ProfileGormRepository) IncrementTokens(ctx context.Context, profileID string, prompt, completion int64) error {
	res := r.db.WithContext(ctx).Model(&profileModel{}).
		Where("id = ?", profileID).
		Updates(map[string]interface{}{
			"prompt_tokens":     gorm.Expr("prompt_tokens + ?", prompt),
			"completion_tokens": gorm.Expr("completion_tokens + ?", completion),
			"total_tokens":      gorm.Expr("total_tokens + ?", prompt+completion),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.NotFoundError("bot profile not found")
	}
	return nil
}

func toProfileModel(p profile.BotProfile) profileModel {
	return profileModel{
		ID:                    p.ID,
		OwnerUserID:           p.OwnerUserID,
		Name:                  p.Name,
		Identity:              p.Identity,
		Description:           p.Description,
		CommunicationStyle:    string(p.CommunicationStyle),
		PrimaryLanguage:       p.PrimaryLanguage,
		SecondaryLanguage:     p.SecondaryLanguage,
		LanguageRules:         marshalJSON(p.LanguageRules),
		KnowledgeBase:         marshalJSON(p.KnowledgeBase),
		Tags:                  marshalJSON(p.Tags),
		InitialInteraction:    marshalJSON(p.InitialInteraction),
		InteractionGuidelines: marshalJSON(p.InteractionGuidelines),
		ExampleResponses:      marshalJSON(p.ExampleResponses),
		EdgeCases:             marshalJSON(p.EdgeCases),
		ToolConfig:            marshalJSON(p.ToolConfig),
		PrivacyGuidelines:     p.PrivacyGuidelines,
		ToolServers:           marshalJSON(p.ToolServers),
		IsEnabled:             p.IsEnabled,
		PromptTokens:          p.Usage.PromptTokens,
		CompletionTokens:      p.Usage.CompletionTokens,
		TotalTokens:           p.Usage.TotalTokens,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

func fromProfileModel(m profileModel) profile.BotProfile {
	p := profile.BotProfile{
		ID:                 m.ID,
		OwnerUserID:        m.OwnerUserID,
		Name:               m.Name,
		Identity:           m.Identity,
		Description:        m.Description,
		CommunicationStyle: profile.CommunicationStyle(m.CommunicationStyle),
		PrimaryLanguage:    m.PrimaryLanguage,
		SecondaryLanguage:  m.SecondaryLanguage,
		PrivacyGuidelines:  m.PrivacyGuidelines,
		IsEnabled:          m.IsEnabled,
		Usage: user.TokenUsage{
			PromptTokens:     m.PromptTokens,
			CompletionTokens: m.CompletionTokens,
			TotalTokens:      m.TotalTokens,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	unmarshalJSON(m.LanguageRules, &p.LanguageRules)
	unmarshalJSON(m.KnowledgeBase, &p.KnowledgeBase)
	unmarshalJSON(m.Tags, &p.Tags)
	unmarshalJSON(m.InitialInteraction, &p.InitialInteraction)
	unmarshalJSON(m.InteractionGuidelines, &p.InteractionGuidelines)
	unmarshalJSON(m.ExampleResponses, &p.ExampleResponses)
	unmarshalJSON(m.EdgeCases, &p.EdgeCases)
	unmarshalJSON(m.ToolConfig, &p.ToolConfig)
	unmarshalJSON(m.ToolServers, &p.ToolServers)
	return p
}

func marshalJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	s := string(data)
	if s == "null" {
		return ""
	}
	return s
}

func unmarshalJSON(data string, out interface{}) {
	if data == "" {
		return
	}
	_ = json.Unmarshal([]byte(data), out)
}
