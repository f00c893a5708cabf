package usecase

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/ypreiser/botgate/domains/profile"
	"github.com/ypreiser/botgate/domains/usage"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
)

type serviceLedger struct {
	records  usage.IUsageRepository
	users    user.IUserRepository
	profiles profile.IProfileRepository
}

func NewLedgerService(records usage.IUsageRepository, users user.IUserRepository, profiles profile.IProfileRepository) usage.ILedgerUsecase {
	return &serviceLedger{records: records, users: users, profiles: profiles}
}

// Record persists the audit row first, then bumps the user and profile
// counters. A crash between steps leaves the counters behind the
// records, never ahead of them.
func (s *serviceLedger) Record(ctx context.Context, entry usage.Entry) error {
	if entry.UserID == "" {
		return apperror.ValidationError("usage entry requires a user id")
	}
	if entry.PromptTokens < 0 || entry.CompletionTokens < 0 {
		return apperror.ValidationError("token counts must be non-negative")
	}

	record := usage.TokenUsageRecord{
		UserID:           entry.UserID,
		ProfileID:        entry.ProfileID,
		ProfileName:      entry.ProfileName,
		ChatID:           entry.ChatID,
		SessionID:        entry.SessionID,
		Source:           entry.Source,
		ModelName:        entry.ModelName,
		PromptTokens:     entry.PromptTokens,
		CompletionTokens: entry.CompletionTokens,
		TotalTokens:      entry.PromptTokens + entry.CompletionTokens,
	}
	if _, err := s.records.Insert(ctx, &record); err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	if err := s.users.IncrementTokens(ctx, entry.UserID, entry.PromptTokens, entry.CompletionTokens); err != nil {
		return fmt.Errorf("increment user counters: %w", err)
	}

	if entry.ProfileID != "" {
		if err := s.profiles.IncrementTokens(ctx, entry.ProfileID, entry.PromptTokens, entry.CompletionTokens); err != nil {
			// The profile may have been deleted mid-conversation; the
			// record and user counters already hold the truth.
			logrus.WithError(err).WithField("profileId", entry.ProfileID).
				Warn("[LEDGER] failed to increment profile counters")
		}
	}
	return nil
}
