package identity

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	Invites(ctx context.Context) InviteStore
	DeviceTokens(ctx context.Context) DeviceTokenStore
	Sessions(ctx context.Context) SessionStore
	Practices(ctx context.Context) PracticeStore

	// CreateUserFromInvite persists the new user and marks the source invite
	// as converted within a single transactional boundary. Returns
	// ErrConflict when the invite was already consumed or exhausted.
	CreateUserFromInvite(ctx context.Context, u *PermanentUser, inviteID string, at time.Time) error
}

// UserStore manages permanent users.
type UserStore interface {
	Create(ctx context.Context, u *PermanentUser) error
	Find(ctx context.Context, id string) (*PermanentUser, error)
	// FindByEmail matches only active accounts with email login enabled.
	FindByEmail(ctx context.Context, email string) (*PermanentUser, error)
	ListByPractice(ctx context.Context, practiceID string) ([]*PermanentUser, error)
	// RecordLogin bumps login_count and last_login_at.
	RecordLogin(ctx context.Context, userID string, at time.Time) error
}

// InviteStore manages magic invites.
type InviteStore interface {
	// FindActiveByCode matches an invite that is active, under its use cap,
	// and either never expires or expires after now.
	FindActiveByCode(ctx context.Context, code string, now time.Time) (*MagicInvite, error)
	Find(ctx context.Context, id string) (*MagicInvite, error)
}

// DeviceTokenStore manages device trust tokens.
type DeviceTokenStore interface {
	Create(ctx context.Context, tok *DeviceToken) error
	// FindActiveByFingerprint matches a token that is active and unexpired.
	FindActiveByFingerprint(ctx context.Context, fingerprint string, now time.Time) (*DeviceToken, error)
	// RecordUse bumps login_count and last_used_at.
	RecordUse(ctx context.Context, tokenID string, at time.Time) error
}

// SessionStore persists login sessions. Sessions are insert-only.
type SessionStore interface {
	Create(ctx context.Context, sess *UserSession) error
}

// PracticeStore exposes the practice lookups the provisioner needs.
type PracticeStore interface {
	Name(ctx context.Context, practiceID string) (string, error)
}
