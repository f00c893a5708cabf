package usecase

import (
	"context"

	"github.com/ypreiser/botgate/domains/chat"
	"github.com/ypreiser/botgate/pkg/apperror"
)

type serviceChat struct {
	chats chat.IChatRepository
}

func NewChatService(chats chat.IChatRepository) chat.IChatUsecase {
	return &serviceChat{chats: chats}
}

func (s *serviceChat) List(ctx context.Context, callerID string, isAdmin bool) ([]chat.Chat, error) {
	if isAdmin {
		return s.chats.ListAll(ctx)
	}
	return s.chats.ListByUser(ctx, callerID)
}

func (s *serviceChat) Get(ctx context.Context, callerID string, isAdmin bool, chatID string) (*chat.Chat, error) {
	found, err := s.chats.FindByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if found.UserID != callerID && !isAdmin {
		return nil, apperror.ForbiddenError("you do not own this chat")
	}
	return found, nil
}
