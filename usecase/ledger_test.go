package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ypreiser/botgate/domains/chat"
	"github.com/ypreiser/botgate/domains/usage"
	"github.com/ypreiser/botgate/pkg/apperror"
)

type fakeUsageRepo struct {
	inserted []usage.TokenUsageRecord
	err      error
}

func (f *fakeUsageRepo) Insert(_ context.Context, r *usage.TokenUsageRecord) (*usage.TokenUsageRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inserted = append(f.inserted, *r)
	return r, nil
}

func (f *fakeUsageRepo) ListByUser(context.Context, string) ([]usage.TokenUsageRecord, error) {
	return f.inserted, nil
}

type fakeUserCounter struct {
	fakeUserRepo
	calls []struct{ prompt, completion int64 }
	err   error
}

func (f *fakeUserCounter) IncrementTokens(_ context.Context, _ string, prompt, completion int64) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, struct{ prompt, completion int64 }{prompt, completion})
	return nil
}

type fakeProfileCounter struct {
	fakeProfileRepo
	calls int
	err   error
}

func (f *fakeProfileCounter) IncrementTokens(context.Context, string, int64, int64) error {
	if f.err != nil {
		return f.err
	}
	f.calls++
	return nil
}

func TestLedger_RecordHappyPath(t *testing.T) {
	records := &fakeUsageRepo{}
	users := &fakeUserCounter{}
	profiles := &fakeProfileCounter{}
	ledger := NewLedgerService(records, users, profiles)

	err := ledger.Record(context.Background(), usage.Entry{
		UserID:           "u1",
		ProfileID:        "p1",
		Source:           chat.SourceWebapp,
		ModelName:        "m",
		PromptTokens:     10,
		CompletionTokens: 5,
	})
	require.NoError(t, err)

	require.Len(t, records.inserted, 1)
	assert.Equal(t, int64(15), records.inserted[0].TotalTokens)
	require.Len(t, users.calls, 1)
	assert.Equal(t, 1, profiles.calls)
}

func TestLedger_RejectsNegativeCounts(t *testing.T) {
	ledger := NewLedgerService(&fakeUsageRepo{}, &fakeUserCounter{}, &fakeProfileCounter{})

	err := ledger.Record(context.Background(), usage.Entry{UserID: "u1", PromptTokens: -1})
	require.Error(t, err)
	var validation apperror.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestLedger_RecordBeforeCounters(t *testing.T) {
	records := &fakeUsageRepo{}
	users := &fakeUserCounter{err: errors.New("user gone")}
	ledger := NewLedgerService(records, users, &fakeProfileCounter{})

	err := ledger.Record(context.Background(), usage.Entry{UserID: "u1", PromptTokens: 1, CompletionTokens: 1})
	require.Error(t, err)
	// The audit record must land even when the counter update fails.
	assert.Len(t, records.inserted, 1)
}

func TestLedger_ProfileCounterFailureIsNonFatal(t *testing.T) {
	records := &fakeUsageRepo{}
	users := &fakeUserCounter{}
	profiles := &fakeProfileCounter{err: errors.New("profile deleted")}
	ledger := NewLedgerService(records, users, profiles)

	err := ledger.Record(context.Background(), usage.Entry{
		UserID: "u1", ProfileID: "p1", PromptTokens: 1, CompletionTokens: 1,
	})
	require.NoError(t, err)
	assert.Len(t, users.calls, 1)
}
