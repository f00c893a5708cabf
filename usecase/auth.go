package usecase

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/sirupsen/logrus"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
	"github.com/ypreiser/botgate/pkg/security"
)

// invalidCredentials is deliberately identical for unknown emails and
// wrong passwords so login failures do not leak which accounts exist.
const invalidCredentials = "invalid email or password"

type serviceAuth struct {
	users  user.IUserRepository
	issuer *security.TokenIssuer
}

func NewAuthService(users user.IUserRepository, issuer *security.TokenIssuer) user.IAuthUsecase {
	return &serviceAuth{users: users, issuer: issuer}
}

type registerRequest struct {
	Email    string
	Password string
	Name     string
}

func (r registerRequest) validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128)),
		// Name is optional; only its length is constrained when given.
		validation.Field(&r.Name, validation.Length(1, 100)),
	)
	if err != nil {
		return apperror.ValidationError(err.Error())
	}
	return nil
}

func (s *serviceAuth) Register(ctx context.Context, email, password, name string) (*user.User, error) {
	req := registerRequest{
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Password: password,
		Name:     strings.TrimSpace(name),
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	hashed, err := security.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	created, err := s.users.Register(ctx, req.Email, hashed, req.Name)
	if err != nil {
		return nil, err
	}

	logrus.WithField("email", created.Email).Info("[AUTH] registered new user")
	return created, nil
}

func (s *serviceAuth) Login(ctx context.Context, email, password string) (*user.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, "", apperror.AuthenticationError(invalidCredentials)
	}

	found, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, "", apperror.AuthenticationError(invalidCredentials)
	}
	if !security.CheckPasswordHash(password, found.HashedPassword) {
		return nil, "", apperror.AuthenticationError(invalidCredentials)
	}

	token, err := s.issuer.GenerateToken(found.ID, found.Email, string(found.Privilege))
	if err != nil {
		return nil, "", err
	}
	return found, token, nil
}

func (s *serviceAuth) Me(ctx context.Context, userID string) (*user.User, error) {
	return s.users.FindByID(ctx, userID)
}
