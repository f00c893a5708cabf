package connection

import (
	"context"
	"time"
)

// Status is the persisted lifecycle state of a WhatsApp connection.
type Status string

const (
	StatusInitializing          Status = "initializing"
	StatusInitializingStartup   Status = "initializing_startup"
	StatusQRPendingScan         Status = "qr_pending_scan"
	StatusAuthenticated         Status = "authenticated"
	StatusConnected             Status = "connected"
	StatusAuthFailed            Status = "auth_failed"
	StatusReconnecting          Status = "reconnecting"
	StatusDisconnectedPermanent Status = "disconnected_permanent"
	StatusClosedManually        Status = "closed_manually"
)

// WhatsAppConnection is the persisted intent to run a WhatsApp session.
// Rows are never deleted; a manual close sets autoReconnect=false and
// lastKnownStatus=closed_manually.
type WhatsAppConnection struct {
	ID                     string     `json:"id"`
	ConnectionName         string     `json:"connectionName"`
	ProfileID              string     `json:"systemPromptId"`
	ProfileName            string     `json:"systemPromptName"`
	UserID                 string     `json:"userId"`
	AutoReconnect          bool       `json:"autoReconnect"`
	LastKnownStatus        Status     `json:"lastKnownStatus"`
	LastConnectedAt        *time.Time `json:"lastConnectedAt,omitempty"`
	LastAttemptedReconnect *time.Time `json:"lastAttemptedReconnectAt,omitempty"`
	PhoneNumber            *string    `json:"phoneNumber,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

// StatusPatch carries the optional fields updated alongside a status change.
type StatusPatch struct {
	AutoReconnect          *bool
	LastConnectedAt        *time.Time
	LastAttemptedReconnect *time.Time
	PhoneNumber            *string
}

type Filter struct {
	AutoReconnect *bool
	UserID        string
}

type IConnectionRepository interface {
	// Upsert inserts or refreshes the row keyed by connectionName.
	Upsert(ctx context.Context, conn *WhatsAppConnection) (*WhatsAppConnection, error)
	FindByName(ctx context.Context, connectionName string) (*WhatsAppConnection, error)
	UpdateStatus(ctx context.Context, connectionName string, status Status, patch StatusPatch) error
	List(ctx context.Context, filter Filter) ([]WhatsAppConnection, error)
}
