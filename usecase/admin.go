package usecase

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
)

type serviceAdmin struct {
	users user.IUserRepository
}

func NewAdminService(users user.IUserRepository) user.IAdminUsecase {
	return &serviceAdmin{users: users}
}

func (s *serviceAdmin) ListUsers(ctx context.Context) ([]user.User, error) {
	return s.users.List(ctx)
}

func (s *serviceAdmin) SetPrivilege(ctx context.Context, userID string, privilege user.Privilege) error {
	switch privilege {
	case user.PrivilegeUser, user.PrivilegeAdmin:
	default:
		return apperror.ValidationError("privilege must be 'user' or 'admin'")
	}

	if err := s.users.SetPrivilege(ctx, userID, privilege); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"userId":    userID,
		"privilege": privilege,
	}).Info("[ADMIN] changed user privilege")
	return nil
}
