package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ypreiser/botgate/domains/chat"
	"github.com/ypreiser/botgate/domains/profile"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
)

// In-memory repository fakes shared by the usecase tests.

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*user.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*user.User{}}
}

func (f *fakeUserRepo) ensure() {
	if f.users == nil {
		f.users = map[string]*user.User{}
	}
}

func (f *fakeUserRepo) FindByEmail(_ context.Context, email string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range f.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFoundError("user not found")
}

func (f *fakeUserRepo) FindByID(_ context.Context, id string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure()
	if u, ok := f.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, apperror.NotFoundError("user not found")
}

func (f *fakeUserRepo) Register(_ context.Context, email, hashedPassword, name string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range f.users {
		if u.Email == email {
			return nil, apperror.ConflictError("email already registered")
		}
	}
	u := &user.User{
		ID:             uuid.NewString(),
		Email:          email,
		Name:           name,
		HashedPassword: hashedPassword,
		Privilege:      user.PrivilegeUser,
		CreatedAt:      time.Now().UTC(),
	}
	f.users[u.ID] = u
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) List(context.Context) ([]user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]user.User, 0, len(f.users))
	for _, u := range f.users {
		result = append(result, *u)
	}
	return result, nil
}

func (f *fakeUserRepo) SetPrivilege(_ context.Context, id string, privilege user.Privilege) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFoundError("user not found")
	}
	u.Privilege = privilege
	return nil
}

func (f *fakeUserRepo) IncrementTokens(context.Context, string, int64, int64) error {
	return nil
}

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*profile.BotProfile
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: map[string]*profile.BotProfile{}}
}

func (f *fakeProfileRepo) ensure() {
	if f.profiles == nil {
		f.profiles = map[string]*profile.BotProfile{}
	}
}

func (f *fakeProfileRepo) FindByID(_ context.Context, id string) (*profile.BotProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure()
	if p, ok := f.profiles[id]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, apperror.NotFoundError("bot profile not found")
}

func (f *fakeProfileRepo) FindByName(_ context.Context, ownerUserID, name string) (*profile.BotProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure()
	for _, p := range f.profiles {
		if p.OwnerUserID == ownerUserID && p.Name == name {
			copied := *p
			return &copied, nil
		}
	}
	return nil, apperror.NotFoundError("bot profile not found")
}

func (f *fakeProfileRepo) ListByOwner(_ context.Context, ownerUserID string) ([]profile.BotProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := []profile.BotProfile{}
	for _, p := range f.profiles {
		if p.OwnerUserID == ownerUserID {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (f *fakeProfileRepo) Create(_ context.Context, p *profile.BotProfile) (*profile.BotProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure()
	for _, existing := range f.profiles {
		if existing.OwnerUserID == p.OwnerUserID && existing.Name == p.Name {
			return nil, apperror.ConflictError("a profile with that name already exists")
		}
	}
	copied := *p
	if copied.ID == "" {
		copied.ID = uuid.NewString()
	}
	copied.CreatedAt = time.Now().UTC()
	f.profiles[copied.ID] = &copied
	out := copied
	return &out, nil
}

func (f *fakeProfileRepo) UpdateByID(_ context.Context, id string, p *profile.BotProfile) (*profile.BotProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure()
	existing, ok := f.profiles[id]
	if !ok {
		return nil, apperror.NotFoundError("bot profile not found")
	}
	if p.Name != "" && p.Name != existing.Name {
		return nil, apperror.ValidationError("profile name is immutable")
	}
	updated := *p
	updated.ID = existing.ID
	updated.Name = existing.Name
	updated.OwnerUserID = existing.OwnerUserID
	updated.CreatedAt = existing.CreatedAt
	f.profiles[id] = &updated
	out := updated
	return &out, nil
}

func (f *fakeProfileRepo) DeleteByID(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure()
	if _, ok := f.profiles[id]; !ok {
		return apperror.NotFoundError("bot profile not found")
	}
	delete(f.profiles, id)
	return nil
}

func (f *fakeProfileRepo) IncrementTokens(context.Context, string, int64, int64) error {
	return nil
}

type memPublicChatRepo struct {
	mu    sync.Mutex
	chats map[string]*chat.Chat
}

func newMemChatRepoForPublic() *memPublicChatRepo {
	return &memPublicChatRepo{chats: map[string]*chat.Chat{}}
}

func (r *memPublicChatRepo) key(sessionID string, source chat.Source) string {
	return sessionID + "|" + string(source)
}

func (r *memPublicChatRepo) Upsert(_ context.Context, key chat.Key, defaults chat.Chat) (*chat.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(key.SessionID, key.Source)
	if existing, ok := r.chats[k]; ok {
		copied := *existing
		return &copied, nil
	}
	c := defaults
	c.ID = uuid.NewString()
	c.SessionID = key.SessionID
	c.Source = key.Source
	c.UserID = key.UserID
	r.chats[k] = &c
	copied := c
	return &copied, nil
}

func (r *memPublicChatRepo) FindByID(_ context.Context, id string) (*chat.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chats {
		if c.ID == id {
			copied := *c
			return &copied, nil
		}
	}
	return nil, apperror.NotFoundError("chat not found")
}

func (r *memPublicChatRepo) FindByKey(_ context.Context, sessionID string, source chat.Source) (*chat.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chats[r.key(sessionID, source)]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, apperror.NotFoundError("chat not found")
}

func (r *memPublicChatRepo) ListByUser(context.Context, string) ([]chat.Chat, error) { return nil, nil }
func (r *memPublicChatRepo) ListAll(context.Context) ([]chat.Chat, error)            { return nil, nil }

func (r *memPublicChatRepo) AppendMessages(_ context.Context, chatID string, messages []chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chats {
		if c.ID == chatID {
			c.Messages = append(c.Messages, messages...)
			return nil
		}
	}
	return apperror.NotFoundError("chat not found")
}

func (r *memPublicChatRepo) LastMessages(_ context.Context, chatID string, n int) ([]chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chats {
		if c.ID == chatID {
			if len(c.Messages) <= n {
				return append([]chat.Message{}, c.Messages...), nil
			}
			return append([]chat.Message{}, c.Messages[len(c.Messages)-n:]...), nil
		}
	}
	return nil, apperror.NotFoundError("chat not found")
}

func (r *memPublicChatRepo) SetMetadata(context.Context, string, chat.MetadataPatch) error {
	return nil
}
