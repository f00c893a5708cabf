package user

import (
	"context"
	"time"
)

type Privilege string

const (
	PrivilegeUser  Privilege = "user"
	PrivilegeAdmin Privilege = "admin"
)

// TokenUsage is a counter triple. TotalTokens is always prompt + completion.
type TokenUsage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
	TotalTokens      int64 `json:"totalTokens"`
}

// User is the billing identity. Counters are mutated only through the
// atomic increment operation; never written directly.
type User struct {
	ID             string                `json:"id"`
	Email          string                `json:"email"`
	Name           string                `json:"name"`
	HashedPassword string                `json:"-"`
	Privilege      Privilege             `json:"privilege"`
	Lifetime       TokenUsage            `json:"lifetimeTokenUsage"`
	Monthly        map[string]TokenUsage `json:"monthlyTokenUsage"`
	MonthlyQuota   *int64                `json:"monthlyQuota,omitempty"`
	LastUsageAt    *time.Time            `json:"lastTokenUsageUpdate,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

func (u User) IsAdmin() bool {
	return u.Privilege == PrivilegeAdmin
}

// MonthKey formats t as the monthly bucket key.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

type IUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	// Register rejects a duplicate email with a conflict.
	Register(ctx context.Context, email, hashedPassword, name string) (*User, error)
	List(ctx context.Context) ([]User, error)
	SetPrivilege(ctx context.Context, id string, privilege Privilege) error
	// IncrementTokens atomically applies the deltas to the lifetime counters
	// and the current month bucket, and stamps LastUsageAt. Fails when the
	// user does not exist.
	IncrementTokens(ctx context.Context, userID string, prompt, completion int64) error
}

type IAuthUsecase interface {
	Register(ctx context.Context, email, password, name string) (*User, error)
	Login(ctx context.Context, email, password string) (*User, string, error)
	Me(ctx context.Context, userID string) (*User, error)
}

type IAdminUsecase interface {
	ListUsers(ctx context.Context) ([]User, error)
	SetPrivilege(ctx context.Context, userID string, privilege Privilege) error
}
