package usecase

import (
	"context"
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/ypreiser/botgate/domains/chat"
	"github.com/ypreiser/botgate/domains/connection"
	"github.com/ypreiser/botgate/domains/gateway"
	"github.com/ypreiser/botgate/domains/profile"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
)

// WhatsAppSessions is the manager surface the gateway drives.
// Implemented by infrastructure/whatsapp.Manager.
type WhatsAppSessions interface {
	Start(ctx context.Context, connectionName string, prof *profile.BotProfile, userID string) (connection.Status, error)
	QR(connectionName string) (string, error)
	Status(ctx context.Context, connectionName string) (connection.Status, error)
	Send(ctx context.Context, connectionName, to, text string) (string, error)
	Close(ctx context.Context, connectionName string) error
	List(ctx context.Context, userID string) ([]connection.WhatsAppConnection, error)
}

type serviceGateway struct {
	whatsapp   WhatsAppSessions
	publicChat *PublicChatManager
	conns      connection.IConnectionRepository
	profiles   profile.IProfileRepository
}

func NewGatewayService(wa WhatsAppSessions, publicChat *PublicChatManager, conns connection.IConnectionRepository, profiles profile.IProfileRepository) gateway.IGatewayUsecase {
	return &serviceGateway{
		whatsapp:   wa,
		publicChat: publicChat,
		conns:      conns,
		profiles:   profiles,
	}
}

// ownedConnection loads the row and enforces that caller owns it.
// Admins may read any connection.
func (s *serviceGateway) ownedConnection(ctx context.Context, caller user.User, connectionName string) (*connection.WhatsAppConnection, error) {
	row, err := s.conns.FindByName(ctx, connectionName)
	if err != nil {
		return nil, err
	}
	if row.UserID != caller.ID && !caller.IsAdmin() {
		return nil, apperror.ForbiddenError("you do not own this connection")
	}
	return row, nil
}

func (s *serviceGateway) StartWhatsAppSession(ctx context.Context, caller user.User, connectionName, profileName string) (connection.Status, error) {
	connectionName = strings.TrimSpace(connectionName)
	if err := validation.Validate(connectionName,
		validation.Required.Error("connectionName is required"),
		validation.Length(3, 100),
	); err != nil {
		return "", apperror.ValidationError("connectionName: " + err.Error())
	}

	prof, err := s.profiles.FindByName(ctx, caller.ID, profileName)
	if err != nil {
		return "", err
	}

	// Connection names are global; refuse to hijack someone else's.
	existing, err := s.conns.FindByName(ctx, connectionName)
	if err != nil {
		var notFound apperror.NotFoundError
		if !errors.As(err, &notFound) {
			return "", err
		}
	} else if existing.UserID != caller.ID {
		return "", apperror.ConflictError("connection name is already taken")
	}

	return s.whatsapp.Start(ctx, connectionName, prof, caller.ID)
}

func (s *serviceGateway) GetQR(ctx context.Context, caller user.User, connectionName string) (string, error) {
	if _, err := s.ownedConnection(ctx, caller, connectionName); err != nil {
		return "", err
	}
	return s.whatsapp.QR(connectionName)
}

func (s *serviceGateway) GetStatus(ctx context.Context, caller user.User, connectionName string) (string, error) {
	if _, err := s.ownedConnection(ctx, caller, connectionName); err != nil {
		return "", err
	}
	status, err := s.whatsapp.Status(ctx, connectionName)
	if err != nil {
		return "", err
	}
	return string(status), nil
}

func (s *serviceGateway) SendWhatsApp(ctx context.Context, caller user.User, connectionName, to, text string) (string, error) {
	if to == "" || text == "" {
		return "", apperror.ValidationError("recipient and message are required")
	}
	if _, err := s.ownedConnection(ctx, caller, connectionName); err != nil {
		return "", err
	}
	return s.whatsapp.Send(ctx, connectionName, to, text)
}

func (s *serviceGateway) CloseWhatsApp(ctx context.Context, caller user.User, connectionName string) error {
	_, err := s.ownedConnection(ctx, caller, connectionName)
	if err != nil {
		var notFound apperror.NotFoundError
		if errors.As(err, &notFound) {
			// Close is idempotent even for names that never existed.
			return nil
		}
		return err
	}
	return s.whatsapp.Close(ctx, connectionName)
}

func (s *serviceGateway) ListConnections(ctx context.Context, caller user.User) ([]connection.WhatsAppConnection, error) {
	if caller.IsAdmin() {
		return s.conns.List(ctx, connection.Filter{})
	}
	return s.whatsapp.List(ctx, caller.ID)
}

func (s *serviceGateway) StartPublicChat(ctx context.Context, profileID string) (*gateway.PublicSession, error) {
	return s.publicChat.Start(ctx, profileID)
}

func (s *serviceGateway) SendPublicMessage(ctx context.Context, profileID, sessionID, text string, attachments []chat.Attachment) (*gateway.Reply, error) {
	return s.publicChat.Send(ctx, profileID, sessionID, text, attachments)
}

func (s *serviceGateway) EndPublicChat(ctx context.Context, profileID, sessionID string) error {
	s.publicChat.End(ctx, profileID, sessionID)
	return nil
}

func (s *serviceGateway) GetPublicHistory(ctx context.Context, profileID, sessionID string) ([]chat.Message, error) {
	return s.publicChat.History(ctx, profileID, sessionID)
}
