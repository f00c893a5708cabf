package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ypreiser/botgate/domains/connection"
	"github.com/ypreiser/botgate/pkg/apperror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type connectionModel struct {
	ID                     string `gorm:"primaryKey"`
	ConnectionName         string `gorm:"uniqueIndex;not null"`
	ProfileID              string `gorm:"column:system_prompt_id"`
	ProfileName            string `gorm:"column:system_prompt_name"`
	UserID                 string `gorm:"index;not null"`
	AutoReconnect          bool   `gorm:"not null;default:true"`
	LastKnownStatus        string
	LastConnectedAt        *time.Time
	LastAttemptedReconnect *time.Time
	PhoneNumber            *string
	CreatedAt              time.Time `gorm:"autoCreateTime"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime"`
}

func (connectionModel) TableName() string {
	return "whatsapp_connections"
}

type ConnectionGormRepository struct {
	db *gorm.DB
}

func NewConnectionGormRepository(db *gorm.DB) *ConnectionGormRepository {
	return &ConnectionGormRepository{db: db}
}

func (r *ConnectionGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&connectionModel{})
}

// Upsert inserts or refreshes the row keyed by connectionName. Rows are
// never deleted; a manual close only flips autoReconnect and status.
func (r *ConnectionGormRepository) Upsert(ctx context.Context, conn *connection.WhatsAppConnection) (*connection.WhatsAppConnection, error) {
	model := toConnectionModel(*conn)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "connection_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"system_prompt_id", "system_prompt_name", "user_id",
			"auto_reconnect", "last_known_status", "updated_at",
		}),
	}).Create(&model).Error
	if err != nil {
		return nil, err
	}

	return r.FindByName(ctx, conn.ConnectionName)
}

func (r *ConnectionGormRepository) FindByName(ctx context.Context, connectionName string) (*connection.WhatsAppConnection, error) {
	var model connectionModel
	err := r.db.WithContext(ctx).First(&model, "connection_name = ?", connectionName).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("whatsapp connection not found")
		}
		return nil, err
	}
	c := fromConnectionModel(model)
	return &c, nil
}

func (r *ConnectionGormRepository) UpdateStatus(ctx context.Context, connectionName string, status connection.Status, patch connection.StatusPatch) error {
	updates := map[string]interface{}{
		"last_known_status": string(status),
	}
	if patch.AutoReconnect != nil {
		updates["auto_reconnect"] = *patch.AutoReconnect
	}
	if patch.LastConnectedAt != nil {
		updates["last_connected_at"] = *patch.LastConnectedAt
	}
	if patch.LastAttemptedReconnect != nil {
		updates["last_attempted_reconnect"] = *patch.LastAttemptedReconnect
	}
	if patch.PhoneNumber != nil {
		updates["phone_number"] = *patch.PhoneNumber
	}

	res := r.db.WithContext(ctx).Model(&connectionModel{}).
		Where("connection_name = ?", connectionName).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.NotFoundError("whatsapp connection not found")
	}
	return nil
}

func (r *ConnectionGormRepository) List(ctx context.Context, filter connection.Filter) ([]connection.WhatsAppConnection, error) {
	query := r.db.WithContext(ctx).Model(&connectionModel{})
	if filter.AutoReconnect != nil {
		query = query.Where("auto_reconnect = ?", *filter.AutoReconnect)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}

	var models []connectionModel
	if err := query.Order("connection_name ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]connection.WhatsAppConnection, len(models))
	for i, m := range models {
		result[i] = fromConnectionModel(m)
	}
	return result, nil
}

func toConnectionModel(c connection.WhatsAppConnection) connectionModel {
	return connectionModel{
		ID:                     c.ID,
		ConnectionName:         c.ConnectionName,
		ProfileID:              c.ProfileID,
		ProfileName:            c.ProfileName,
		UserID:                 c.UserID,
		AutoReconnect:          c.AutoReconnect,
		LastKnownStatus:        string(c.LastKnownStatus),
		LastConnectedAt:        c.LastConnectedAt,
		LastAttemptedReconnect: c.LastAttemptedReconnect,
		PhoneNumber:            c.PhoneNumber,
		CreatedAt:              c.CreatedAt,
		UpdatedAt:              c.UpdatedAt,
	}
}

func fromConnectionModel(m connectionModel) connection.WhatsAppConnection {
	return connection.WhatsAppConnection{
		ID:                     m.ID,
		ConnectionName:         m.ConnectionName,
		ProfileID:              m.ProfileID,
		ProfileName:            m.ProfileName,
		UserID:                 m.UserID,
		AutoReconnect:          m.AutoReconnect,
		LastKnownStatus:        connection.Status(m.LastKnownStatus),
		LastConnectedAt:        m.LastConnectedAt,
		LastAttemptedReconnect: m.LastAttemptedReconnect,
		PhoneNumber:            m.PhoneNumber,
		CreatedAt:              m.CreatedAt,
		UpdatedAt:              m.UpdatedAt,
	}
}
