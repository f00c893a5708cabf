package gateway

import (
	"context"

	"github.com/ypreiser/botgate/domains/chat"
	"github.com/ypreiser/botgate/domains/connection"
	"github.com/ypreiser/botgate/domains/user"
)

// PublicSession is what starting a web-chat session returns.
type PublicSession struct {
	SessionID   string `json:"sessionId"`
	ProfileName string `json:"botProfileName"`
}

// Reply is the assistant side of one turn.
type Reply struct {
	Text      string          `json:"text"`
	ToolCalls []chat.ToolCall `json:"toolCalls,omitempty"`
}

// IGatewayUsecase is the narrow interface the HTTP layer calls for session
// traffic. Ownership is enforced here: operations naming an existing
// resource require the invoking user to own it, except admin reads.
type IGatewayUsecase interface {
	StartWhatsAppSession(ctx context.Context, caller user.User, connectionName, profileName string) (connection.Status, error)
	GetQR(ctx context.Context, caller user.User, connectionName string) (string, error)
	GetStatus(ctx context.Context, caller user.User, connectionName string) (string, error)
	SendWhatsApp(ctx context.Context, caller user.User, connectionName, to, text string) (string, error)
	CloseWhatsApp(ctx context.Context, caller user.User, connectionName string) error
	ListConnections(ctx context.Context, caller user.User) ([]connection.WhatsAppConnection, error)

	StartPublicChat(ctx context.Context, profileID string) (*PublicSession, error)
	SendPublicMessage(ctx context.Context, profileID, sessionID, text string, attachments []chat.Attachment) (*Reply, error)
	EndPublicChat(ctx context.Context, profileID, sessionID string) error
	GetPublicHistory(ctx context.Context, profileID, sessionID string) ([]chat.Message, error)
}
