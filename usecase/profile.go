package usecase

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
	"github.com/ypreiser/botgate/domains/profile"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
)

// SessionCloser tears down live sessions bound to a profile. The
// WhatsApp and public chat managers both implement it.
type SessionCloser interface {
	CloseSessionsForProfile(ctx context.Context, profileID string)
}

type serviceProfile struct {
	profiles profile.IProfileRepository
	closers  []SessionCloser
}

func NewProfileService(profiles profile.IProfileRepository, closers ...SessionCloser) *serviceProfile {
	return &serviceProfile{profiles: profiles, closers: closers}
}

// AddSessionCloser registers a closer after construction. The managers
// depend on the profile service, so they attach themselves once built.
func (s *serviceProfile) AddSessionCloser(closer SessionCloser) {
	s.closers = append(s.closers, closer)
}

func validateProfile(p *profile.BotProfile) error {
	err := validation.ValidateStruct(p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.Identity, validation.Required, validation.Length(1, 5000)),
		validation.Field(&p.Description, validation.Length(0, 5000)),
		validation.Field(&p.PrivacyGuidelines, validation.Length(0, 5000)),
	)
	if err != nil {
		return apperror.ValidationError(err.Error())
	}

	for i, item := range p.KnowledgeBase {
		if item.Topic == "" || len(item.Topic) > 200 {
			return apperror.ValidationError(fmt.Sprintf("knowledge item %d: topic must be 1-200 characters", i))
		}
		if item.Content == "" || len(item.Content) > 2000 {
			return apperror.ValidationError(fmt.Sprintf("knowledge item %d: content must be 1-2000 characters", i))
		}
	}

	for i, server := range p.ToolServers {
		if server.Name == "" || server.Command == "" {
			return apperror.ValidationError(fmt.Sprintf("tool server %d: name and command are required", i))
		}
	}
	return nil
}

func (s *serviceProfile) Create(ctx context.Context, owner user.User, p *profile.BotProfile) (*profile.BotProfile, error) {
	p.OwnerUserID = owner.ID
	if err := validateProfile(p); err != nil {
		return nil, err
	}
	return s.profiles.Create(ctx, p)
}

func (s *serviceProfile) Get(ctx context.Context, owner user.User, id string) (*profile.BotProfile, error) {
	found, err := s.profiles.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if found.OwnerUserID != owner.ID && !owner.IsAdmin() {
		return nil, apperror.ForbiddenError("you do not own this profile")
	}
	return found, nil
}

func (s *serviceProfile) GetByName(ctx context.Context, owner user.User, name string) (*profile.BotProfile, error) {
	return s.profiles.FindByName(ctx, owner.ID, name)
}

func (s *serviceProfile) List(ctx context.Context, owner user.User) ([]profile.BotProfile, error) {
	return s.profiles.ListByOwner(ctx, owner.ID)
}

func (s *serviceProfile) Update(ctx context.Context, owner user.User, id string, p *profile.BotProfile) (*profile.BotProfile, error) {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return nil, err
	}
	if err := validateProfile(withDefaults(p)); err != nil {
		return nil, err
	}
	return s.profiles.UpdateByID(ctx, id, p)
}

func (s *serviceProfile) Delete(ctx context.Context, owner user.User, id string) error {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return err
	}

	for _, closer := range s.closers {
		closer.CloseSessionsForProfile(ctx, id)
	}

	if err := s.profiles.DeleteByID(ctx, id); err != nil {
		return err
	}
	logrus.WithField("profileId", id).Info("[PROFILE] deleted bot profile")
	return nil
}

// withDefaults fills the identity fields skipped by partial updates so
// validation only inspects what the caller actually sent.
func withDefaults(p *profile.BotProfile) *profile.BotProfile {
	copied := *p
	if copied.Name == "" {
		copied.Name = "placeholder"
	}
	if copied.Identity == "" {
		copied.Identity = "placeholder"
	}
	return &copied
}
