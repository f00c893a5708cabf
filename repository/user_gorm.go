package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// userModel is the persistence model. The domain struct stays free of
// gorm tags.
type userModel struct {
	ID                       string `gorm:"primaryKey"`
	Email                    string `gorm:"uniqueIndex;not null"`
	Name                     string
	HashedPassword           string `gorm:"column:hashed_password"`
	Privilege                string `gorm:"not null;default:user"`
	LifetimePromptTokens     int64  `gorm:"not null;default:0"`
	LifetimeCompletionTokens int64  `gorm:"not null;default:0"`
	LifetimeTotalTokens      int64  `gorm:"not null;default:0"`
	MonthlyQuota             *int64
	LastUsageAt              *time.Time
	CreatedAt                time.Time `gorm:"autoCreateTime"`
	UpdatedAt                time.Time `gorm:"autoUpdateTime"`
}

func (userModel) TableName() string {
	return "users"
}

// userMonthUsageModel is one monthly counter bucket. Keeping buckets as
// rows lets increments stay single atomic statements.
type userMonthUsageModel struct {
	UserID           string `gorm:"primaryKey"`
	Month            string `gorm:"primaryKey;size:7"` // "YYYY-MM"
	PromptTokens     int64  `gorm:"not null;default:0"`
	CompletionTokens int64  `gorm:"not null;default:0"`
	TotalTokens      int64  `gorm:"not null;default:0"`
}

func (userMonthUsageModel) TableName() string {
	return "user_month_usage"
}

type UserGormRepository struct {
	db *gorm.DB
}

func NewUserGormRepository(db *gorm.DB) *UserGormRepository {
	return &UserGormRepository{db: db}
}

func (r *UserGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&userModel{}, &userMonthUsageModel{})
}

func (r *UserGormRepository) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	var model userModel
	err := r.db.WithContext(ctx).First(&model, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("user not found")
		}
		return nil, err
	}
	return r.hydrate(ctx, model)
}

func (r *UserGormRepository) FindByID(ctx context.Context, id string) (*user.User, error) {
	var model userModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("user not found")
		}
		return nil, err
	}
	return r.hydrate(ctx, model)
}

func (r *UserGormRepository) Register(ctx context.Context, email, hashedPassword, name string) (*user.User, error) {
	model := userModel{
		ID:             uuid.NewString(),
		Email:          strings.ToLower(strings.TrimSpace(email)),
		Name:           name,
		HashedPassword: hashedPassword,
		Privilege:      string(user.PrivilegeUser),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, apperror.ConflictError("email already registered")
		}
		return nil, err
	}
	u := fromUserModel(model, nil)
	return &u, nil
}

func (r *UserGormRepository) List(ctx context.Context) ([]user.User, error) {
	var models []userModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]user.User, len(models))
	for i, m := range models {
		result[i] = fromUserModel(m, nil)
	}
	return result, nil
}

func (r *UserGormRepository) SetPrivilege(ctx context.Context, id string, privilege user.Privilege) error {
	res := r.db.WithContext(ctx).Model(&userModel{}).
		Where("id = ?", id).
		Update("privilege", string(privilege))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.NotFoundError("user not found")
	}
	return nil
}

// IncrementTokens applies the deltas to the lifetime counters and the
// current month bucket in one transaction. Both statements are atomic
// field increments, safe under concurrent calls for the same user.
func (r *UserGormRepository) IncrementTokens(ctx context.Context, userID string, prompt, completion int64) error {
	total := prompt + completion
	now := time.Now().UTC()
	month := user.MonthKey(now)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&userModel{}).
			Where("id = ?", userID).
			Updates(map[string]interface{}{
				"lifetime_prompt_tokens":     gorm.Expr("lifetime_prompt_tokens + ?", prompt),
				"lifetime_completion_tokens": gorm.Expr("lifetime_completion_tokens + ?", completion),
				"lifetime_total_tokens":      gorm.Expr("lifetime_total_tokens + ?", total),
				"last_usage_at":              now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperror.NotFoundError("user not found")
		}

		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "month"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"prompt_tokens":     gorm.Expr("user_month_usage.prompt_tokens + ?", prompt),
				"completion_tokens": gorm.Expr("user_month_usage.completion_tokens + ?", completion),
				"total_tokens":      gorm.Expr("user_month_usage.total_tokens + ?", total),
			}),
		}).Create(&userMonthUsageModel{
			UserID:           userID,
			Month:            month,
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      total,
		}).Error
	})
}

func (r *UserGormRepository) hydrate(ctx context.Context, model userModel) (*user.User, error) {
	var months []userMonthUsageModel
	if err := r.db.WithContext(ctx).Find(&months, "user_id = ?", model.ID).Error; err != nil {
		return nil, err
	}
	u := fromUserModel(model, months)
	return &u, nil
}

func fromUserModel(m userModel, months []userMonthUsageModel) user.User {
	monthly := make(map[string]user.TokenUsage, len(months))
	for _, b := range months {
		monthly[b.Month] = user.TokenUsage{
			PromptTokens:     b.PromptTokens,
			CompletionTokens: b.CompletionTokens,
			TotalTokens:      b.TotalTokens,
		}
	}

	return user.User{
		ID:             m.ID,
		Email:          m.Email,
		Name:           m.Name,
		HashedPassword: m.HashedPassword,
		Privilege:      user.Privilege(m.Privilege),
		Lifetime: user.TokenUsage{
			PromptTokens:     m.LifetimePromptTokens,
			CompletionTokens: m.LifetimeCompletionTokens,
			TotalTokens:      m.LifetimeTotalTokens,
		},
		Monthly:      monthly,
		MonthlyQuota: m.MonthlyQuota,
		LastUsageAt:  m.LastUsageAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func isDuplicateKey(err error) bool {
	if err == gorm.ErrDuplicatedKey {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
