package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ypreiser/botgate/domains/chat"
	"github.com/ypreiser/botgate/domains/connection"
	"github.com/ypreiser/botgate/domains/profile"
	"github.com/ypreiser/botgate/domains/usage"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", filepath.Join(t.TempDir(), "test.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	return db
}

func newRepos(t *testing.T) (*UserGormRepository, *ProfileGormRepository, *ChatGormRepository, *ConnectionGormRepository, *UsageGormRepository) {
	t.Helper()
	db := openTestDB(t)
	ctx := context.Background()

	users := NewUserGormRepository(db)
	profiles := NewProfileGormRepository(db)
	chats := NewChatGormRepository(db)
	conns := NewConnectionGormRepository(db)
	usages := NewUsageGormRepository(db)

	require.NoError(t, users.Init(ctx))
	require.NoError(t, profiles.Init(ctx))
	require.NoError(t, chats.Init(ctx))
	require.NoError(t, conns.Init(ctx))
	require.NoError(t, usages.Init(ctx))

	return users, profiles, chats, conns, usages
}

func TestUserRepository_RegisterAndDuplicateEmail(t *testing.T) {
	users, _, _, _, _ := newRepos(t)
	ctx := context.Background()

	u, err := users.Register(ctx, "A@B.C", "hash", "A")
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", u.Email, "email is stored lower-cased")
	assert.Equal(t, user.PrivilegeUser, u.Privilege)

	_, err = users.Register(ctx, "a@b.c", "hash2", "B")
	require.Error(t, err)
	var conflict apperror.ConflictError
	assert.ErrorAs(t, err, &conflict)

	found, err := users.FindByEmail(ctx, "A@B.C ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)
}

func TestUserRepository_IncrementTokens(t *testing.T) {
	users, _, _, _, _ := newRepos(t)
	ctx := context.Background()

	u, err := users.Register(ctx, "x@y.z", "hash", "X")
	require.NoError(t, err)

	require.NoError(t, users.IncrementTokens(ctx, u.ID, 5, 3))
	require.NoError(t, users.IncrementTokens(ctx, u.ID, 10, 2))

	got, err := users.FindByID(ctx, u.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(15), got.Lifetime.PromptTokens)
	assert.Equal(t, int64(5), got.Lifetime.CompletionTokens)
	assert.Equal(t, int64(20), got.Lifetime.TotalTokens)
	require.NotNil(t, got.LastUsageAt)

	month := user.MonthKey(time.Now())
	bucket, ok := got.Monthly[month]
	require.True(t, ok, "current month bucket must exist")
	assert.Equal(t, int64(15), bucket.PromptTokens)
	assert.Equal(t, int64(20), bucket.TotalTokens)
}

func TestUserRepository_IncrementTokensConcurrent(t *testing.T) {
	users, _, _, _, _ := newRepos(t)
	ctx := context.Background()

	u, err := users.Register(ctx, "c@c.c", "hash", "C")
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = users.IncrementTokens(ctx, u.ID, 1, 1)
		}()
	}
	wg.Wait()

	got, err := users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.Lifetime.PromptTokens)
	assert.Equal(t, int64(2*n), got.Lifetime.TotalTokens)
}

func TestUserRepository_IncrementTokensMissingUser(t *testing.T) {
	users, _, _, _, _ := newRepos(t)

	err := users.IncrementTokens(context.Background(), "no-such-user", 1, 1)
	require.Error(t, err)
	var notFound apperror.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestProfileRepository_UniquePerOwnerAndImmutability(t *testing.T) {
	users, profiles, _, _, _ := newRepos(t)
	ctx := context.Background()

	owner, err := users.Register(ctx, "o@o.o", "hash", "O")
	require.NoError(t, err)
	other, err := users.Register(ctx, "p@p.p", "hash", "P")
	require.NoError(t, err)

	p1, err := profiles.Create(ctx, &profile.BotProfile{
		OwnerUserID: owner.ID, Name: "P1", Identity: "id", IsEnabled: true,
	})
	require.NoError(t, err)

	// Same name, same owner: conflict.
	_, err = profiles.Create(ctx, &profile.BotProfile{
		OwnerUserID: owner.ID, Name: "P1", Identity: "id",
	})
	var conflict apperror.ConflictError
	assert.ErrorAs(t, err, &conflict)

	// Same name, different owner: fine.
	_, err = profiles.Create(ctx, &profile.BotProfile{
		OwnerUserID: other.ID, Name: "P1", Identity: "id",
	})
	require.NoError(t, err)

	// Name is immutable.
	_, err = profiles.UpdateByID(ctx, p1.ID, &profile.BotProfile{Name: "renamed", Identity: "id2"})
	var validation apperror.ValidationError
	assert.ErrorAs(t, err, &validation)

	// Mutable fields update fine; name/owner survive.
	updated, err := profiles.UpdateByID(ctx, p1.ID, &profile.BotProfile{
		Identity: "id2",
		ToolServers: []profile.ToolServerConfig{
			{Name: "calc", Command: "calc-server", Args: []string{"--stdio"}, Enabled: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "P1", updated.Name)
	assert.Equal(t, owner.ID, updated.OwnerUserID)
	assert.Equal(t, "id2", updated.Identity)
	require.Len(t, updated.ToolServers, 1)
	assert.Equal(t, "calc", updated.ToolServers[0].Name)
}

func TestProfileRepository_IncrementTokens(t *testing.T) {
	users, profiles, _, _, _ := newRepos(t)
	ctx := context.Background()

	owner, err := users.Register(ctx, "q@q.q", "hash", "Q")
	require.NoError(t, err)
	p, err := profiles.Create(ctx, &profile.BotProfile{OwnerUserID: owner.ID, Name: "P", Identity: "i"})
	require.NoError(t, err)

	require.NoError(t, profiles.IncrementTokens(ctx, p.ID, 7, 3))

	got, err := profiles.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Usage.PromptTokens)
	assert.Equal(t, int64(10), got.Usage.TotalTokens)
}

func TestChatRepository_UpsertIsIdempotent(t *testing.T) {
	_, _, chats, _, _ := newRepos(t)
	ctx := context.Background()

	key := chat.Key{SessionID: "s1", Source: chat.SourceWebapp, UserID: "u1"}
	defaults := chat.Chat{ProfileID: "p1", ProfileName: "P1"}

	first, err := chats.Upsert(ctx, key, defaults)
	require.NoError(t, err)

	second, err := chats.Upsert(ctx, key, chat.Chat{ProfileID: "other"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "no duplicate for the same (sessionId, source)")
	assert.Equal(t, "p1", second.ProfileID, "insert defaults apply only on insert")
}

func TestChatRepository_MessagesAppendOnlyAndOrdered(t *testing.T) {
	_, _, chats, _, _ := newRepos(t)
	ctx := context.Background()

	c, err := chats.Upsert(ctx, chat.Key{SessionID: "s2", Source: chat.SourceWhatsApp, UserID: "u1", ConnectionName: "c1"}, chat.Chat{})
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 25; i++ {
		err := chats.AppendMessages(ctx, c.ID, []chat.Message{{
			Role:      chat.RoleUser,
			Content:   fmt.Sprintf("msg-%d", i),
			Status:    chat.StatusDelivered,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}})
		require.NoError(t, err)
	}

	last, err := chats.LastMessages(ctx, c.ID, 20)
	require.NoError(t, err)
	require.Len(t, last, 20)
	assert.Equal(t, "msg-5", last[0].Content)
	assert.Equal(t, "msg-24", last[19].Content)

	for i := 1; i < len(last); i++ {
		assert.False(t, last[i].Timestamp.Before(last[i-1].Timestamp), "timestamps are non-decreasing")
	}

	full, err := chats.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, full.Messages, 25)
}

func TestChatRepository_SetMetadata(t *testing.T) {
	_, _, chats, _, _ := newRepos(t)
	ctx := context.Background()

	c, err := chats.Upsert(ctx, chat.Key{SessionID: "s3", Source: chat.SourceWebapp, UserID: "u1"}, chat.Chat{})
	require.NoError(t, err)

	name := "Alice"
	lastActive := time.Now().UTC().Add(time.Minute)
	require.NoError(t, chats.SetMetadata(ctx, c.ID, chat.MetadataPatch{
		UserName:   &name,
		LastActive: &lastActive,
	}))

	got, err := chats.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Metadata.UserName)
	assert.WithinDuration(t, lastActive, got.Metadata.LastActive, time.Second)
}

func TestConnectionRepository_UpsertAndStatus(t *testing.T) {
	_, _, _, conns, _ := newRepos(t)
	ctx := context.Background()

	c, err := conns.Upsert(ctx, &connection.WhatsAppConnection{
		ConnectionName:  "C1",
		ProfileID:       "p1",
		ProfileName:     "P1",
		UserID:          "u1",
		AutoReconnect:   true,
		LastKnownStatus: connection.StatusInitializing,
	})
	require.NoError(t, err)
	assert.True(t, c.AutoReconnect)

	// Upsert again with a different profile refreshes the row.
	c2, err := conns.Upsert(ctx, &connection.WhatsAppConnection{
		ConnectionName:  "C1",
		ProfileID:       "p2",
		ProfileName:     "P2",
		UserID:          "u1",
		AutoReconnect:   true,
		LastKnownStatus: connection.StatusInitializing,
	})
	require.NoError(t, err)
	assert.Equal(t, c.ID, c2.ID)
	assert.Equal(t, "p2", c2.ProfileID)

	off := false
	require.NoError(t, conns.UpdateStatus(ctx, "C1", connection.StatusQRPendingScan, connection.StatusPatch{
		AutoReconnect: &off,
	}))

	got, err := conns.FindByName(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, connection.StatusQRPendingScan, got.LastKnownStatus)
	assert.False(t, got.AutoReconnect)

	on := true
	list, err := conns.List(ctx, connection.Filter{AutoReconnect: &on})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUsageRepository_RecordsSumMatchesUserCounters(t *testing.T) {
	users, _, _, _, usages := newRepos(t)
	ctx := context.Background()

	u, err := users.Register(ctx, "s@s.s", "hash", "S")
	require.NoError(t, err)

	turns := []struct{ prompt, completion int64 }{{5, 3}, {10, 2}, {1, 1}}
	for _, turn := range turns {
		_, err := usages.Insert(ctx, &usage.TokenUsageRecord{
			UserID:           u.ID,
			ProfileID:        "p1",
			Source:           chat.SourceWebapp,
			ModelName:        "test-model",
			PromptTokens:     turn.prompt,
			CompletionTokens: turn.completion,
			TotalTokens:      turn.prompt + turn.completion,
		})
		require.NoError(t, err)
		require.NoError(t, users.IncrementTokens(ctx, u.ID, turn.prompt, turn.completion))
	}

	records, err := usages.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)

	var sumPrompt, sumTotal int64
	for _, r := range records {
		assert.Equal(t, r.PromptTokens+r.CompletionTokens, r.TotalTokens)
		sumPrompt += r.PromptTokens
		sumTotal += r.TotalTokens
	}

	got, err := users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, sumPrompt, got.Lifetime.PromptTokens)
	assert.Equal(t, sumTotal, got.Lifetime.TotalTokens)
}
