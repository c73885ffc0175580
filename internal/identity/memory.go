package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemory implements Store with in-process maps. It backs service-level
// tests and local development without a database.
type InMemory struct {
	mu        sync.RWMutex
	users     map[string]*PermanentUser
	invites   map[string]*MagicInvite
	tokens    map[string]*DeviceToken
	sessions  map[string]*UserSession
	practices map[string]string // id -> name

	// SessionErr, when set, makes session inserts fail. Used to exercise the
	// best-effort session contract.
	SessionErr error
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:     make(map[string]*PermanentUser),
		invites:   make(map[string]*MagicInvite),
		tokens:    make(map[string]*DeviceToken),
		sessions:  make(map[string]*UserSession),
		practices: make(map[string]string),
	}
}

func (m *InMemory) Users(ctx context.Context) UserStore               { return (*memUsers)(m) }
func (m *InMemory) Invites(ctx context.Context) InviteStore           { return (*memInvites)(m) }
func (m *InMemory) DeviceTokens(ctx context.Context) DeviceTokenStore { return (*memTokens)(m) }
func (m *InMemory) Sessions(ctx context.Context) SessionStore         { return (*memSessions)(m) }
func (m *InMemory) Practices(ctx context.Context) PracticeStore       { return (*memPractices)(m) }

// AddPractice registers a practice name for lookups.
func (m *InMemory) AddPractice(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.practices[id] = name
}

// AddInvite seeds an invite.
func (m *InMemory) AddInvite(inv *MagicInvite) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.invites[inv.ID] = &cp
}

// AddUser seeds a user.
func (m *InMemory) AddUser(u *PermanentUser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

// Invite returns a copy of a stored invite.
func (m *InMemory) Invite(id string) (MagicInvite, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invites[id]
	if !ok {
		return MagicInvite{}, false
	}
	return *inv, true
}

// SessionsForUser returns copies of the stored sessions for a user.
func (m *InMemory) SessionsForUser(userID string) []UserSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []UserSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out
}

// TokensForUser returns copies of the stored device tokens for a user.
func (m *InMemory) TokensForUser(userID string) []DeviceToken {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DeviceToken
	for _, t := range m.tokens {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out
}

func (m *InMemory) CreateUserFromInvite(ctx context.Context, u *PermanentUser, inviteID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invites[inviteID]
	if !ok {
		return ErrNotFound
	}
	if !inv.IsActive || inv.ConvertedToUserID != "" || inv.CurrentUses >= inv.MaxUses {
		return ErrConflict
	}
	if inv.ExpiresAt != nil && !inv.ExpiresAt.After(at) {
		return ErrConflict
	}

	cp := *u
	m.users[u.ID] = &cp

	inv.CurrentUses++
	inv.ConvertedToUserID = u.ID
	converted := at
	inv.ConversionCompletedAt = &converted
	inv.UpdatedAt = at
	return nil
}

// User sub-store ------------------------------------------------------------

type memUsers InMemory

func (m *memUsers) Create(ctx context.Context, u *PermanentUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(ctx context.Context, id string) (*PermanentUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*PermanentUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) && u.EmailLoginEnabled && u.IsActive {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) ListByPractice(ctx context.Context, practiceID string) ([]*PermanentUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*PermanentUser
	for _, u := range m.users {
		if u.PracticeID == practiceID && u.IsActive {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memUsers) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.LoginCount++
	last := at
	u.LastLoginAt = &last
	u.UpdatedAt = at
	return nil
}

// Invite sub-store ----------------------------------------------------------

type memInvites InMemory

func (m *memInvites) FindActiveByCode(ctx context.Context, code string, now time.Time) (*MagicInvite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inv := range m.invites {
		if inv.MagicCode != code || !inv.IsActive {
			continue
		}
		if inv.CurrentUses >= inv.MaxUses {
			continue
		}
		if inv.ExpiresAt != nil && !inv.ExpiresAt.After(now) {
			continue
		}
		cp := *inv
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *memInvites) Find(ctx context.Context, id string) (*MagicInvite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invites[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

// Device token sub-store ----------------------------------------------------

type memTokens InMemory

func (m *memTokens) Create(ctx context.Context, tok *DeviceToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tok
	m.tokens[tok.ID] = &cp
	return nil
}

func (m *memTokens) FindActiveByFingerprint(ctx context.Context, fingerprint string, now time.Time) (*DeviceToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, tok := range m.tokens {
		if tok.DeviceFingerprint != fingerprint || !tok.IsActive {
			continue
		}
		if !tok.ExpiresAt.After(now) {
			continue
		}
		cp := *tok
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *memTokens) RecordUse(ctx context.Context, tokenID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[tokenID]
	if !ok {
		return ErrNotFound
	}
	tok.LoginCount++
	last := at
	tok.LastUsedAt = &last
	return nil
}

// Session sub-store ---------------------------------------------------------

type memSessions InMemory

func (m *memSessions) Create(ctx context.Context, sess *UserSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SessionErr != nil {
		return m.SessionErr
	}
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

// Practice sub-store --------------------------------------------------------

type memPractices InMemory

func (m *memPractices) Name(ctx context.Context, practiceID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.practices[practiceID]
	if !ok {
		return "", ErrNotFound
	}
	return name, nil
}
