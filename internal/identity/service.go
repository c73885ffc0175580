package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/martynvhouten/MedStock-Pro/internal/authz"
	"github.com/martynvhouten/MedStock-Pro/internal/ids"
	"github.com/martynvhouten/MedStock-Pro/internal/obs"
)

const (
	// SessionTTL is the fixed absolute lifetime of a login session. There is
	// no renewal or sliding expiry.
	SessionTTL = 24 * time.Hour

	// DeviceTokenTTL is the fixed absolute lifetime of a trusted device.
	DeviceTokenTTL = 90 * 24 * time.Hour
)

// Authority is the remote side of credential validation and code generation.
// ValidatePersonalMagicCode returns ok=false when the code matches no live
// personal code; a non-nil error means the backend was unreachable.
type Authority interface {
	ValidatePersonalMagicCode(ctx context.Context, code string) (userID string, ok bool, err error)
	GeneratePersonalMagicCode(ctx context.Context, userName, practiceName string) (string, error)
}

// Service orchestrates onboarding and authentication flows.
type Service struct {
	store     Store
	authority Authority
	ipLookup  IPLookup
	now       func() time.Time

	defaultTimezone string
	defaultLanguage string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithIPLookup installs the best-effort public IP resolver.
func WithIPLookup(lookup IPLookup) ServiceOption {
	return func(s *Service) { s.ipLookup = lookup }
}

// WithAccountDefaults overrides the timezone and language applied to every
// new account.
func WithAccountDefaults(timezone, language string) ServiceOption {
	return func(s *Service) {
		if timezone != "" {
			s.defaultTimezone = timezone
		}
		if language != "" {
			s.defaultLanguage = language
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, authority Authority, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if authority == nil {
		return nil, fmt.Errorf("%w: authority is required", ErrInvalidInput)
	}
	svc := &Service{
		store:           store,
		authority:       authority,
		now:             time.Now,
		defaultTimezone: "Europe/Amsterdam",
		defaultLanguage: "nl",
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// ClassifyCode decides whether a submitted code is a personal magic code, an
// invite code, or neither. Personal codes are checked first: if a value were
// ever to match both, personal wins. Classification has no side effects.
func (s *Service) ClassifyCode(ctx context.Context, code string) CodeClassification {
	code = strings.TrimSpace(code)
	if code == "" {
		return CodeClassification{Type: CodeInvalid}
	}

	if userID, ok, err := s.authority.ValidatePersonalMagicCode(ctx, code); err == nil && ok {
		user, err := s.store.Users(ctx).Find(ctx, userID)
		if err == nil && user.IsActive {
			return CodeClassification{Type: CodePersonal, User: user}
		}
	}

	invite, err := s.store.Invites(ctx).FindActiveByCode(ctx, code, s.now())
	if err == nil {
		return CodeClassification{Type: CodeInvite, Invite: invite}
	}

	return CodeClassification{Type: CodeInvalid}
}

// LoginWithPersonalCode authenticates a recurring personal magic code and
// issues a session. All failure modes collapse into ErrInvalidCredentials.
func (s *Service) LoginWithPersonalCode(ctx context.Context, code string, client ClientContext) (*LoginResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInvalidCredentials
	}
	userID, ok, err := s.authority.ValidatePersonalMagicCode(ctx, code)
	if err != nil || !ok {
		obs.ObserveLogin(string(LoginPersonalCode), "denied")
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil || !user.IsActive {
		obs.ObserveLogin(string(LoginPersonalCode), "denied")
		return nil, ErrInvalidCredentials
	}

	s.recordLogin(ctx, user.ID)
	token := s.issueSession(ctx, user, LoginPersonalCode, client)
	obs.ObserveLogin(string(LoginPersonalCode), "success")
	return &LoginResult{User: user, SessionToken: token, Method: LoginPersonalCode}, nil
}

// LoginWithEmail authenticates an email/password pair and issues a session.
func (s *Service) LoginWithEmail(ctx context.Context, email, password string, client ClientContext) (*LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		obs.ObserveLogin(string(LoginEmailPassword), "denied")
		return nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		obs.ObserveLogin(string(LoginEmailPassword), "denied")
		return nil, ErrInvalidCredentials
	}

	s.recordLogin(ctx, user.ID)
	token := s.issueSession(ctx, user, LoginEmailPassword, client)
	obs.ObserveLogin(string(LoginEmailPassword), "success")
	return &LoginResult{User: user, SessionToken: token, Method: LoginEmailPassword}, nil
}

// CreatePermanentUser converts a validated invite into a persisted account,
// issuing the credential artifact matching the chosen login method. The user
// insert and the invite conversion execute inside one transactional boundary
// at the store.
func (s *Service) CreatePermanentUser(ctx context.Context, req ProvisionRequest, client ClientContext) (*ProvisionResult, error) {
	req.FullName = strings.TrimSpace(req.FullName)
	if req.PracticeID == "" || req.InviteID == "" || req.FullName == "" {
		return nil, fmt.Errorf("%w: practice_id, invite_id and full_name are required", ErrInvalidInput)
	}
	role, ok := authz.ParseRole(req.Role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, req.Role)
	}

	now := s.now()
	user := &PermanentUser{
		ID:                   ids.New(),
		PracticeID:           req.PracticeID,
		FullName:             req.FullName,
		Role:                 string(role),
		Department:           req.Department,
		PreferredLoginMethod: req.Method,
		CreatedFromInviteID:  req.InviteID,
		Timezone:             s.defaultTimezone,
		Language:             s.defaultLanguage,
		IsActive:             true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	var personalCode string
	switch req.Method {
	case LoginMagicCode:
		practiceName, err := s.store.Practices(ctx).Name(ctx, req.PracticeID)
		if err != nil || practiceName == "" {
			practiceName = "PRACTICE"
		}
		personalCode = s.GeneratePersonalCode(ctx, req.FullName, practiceName)
		user.PersonalMagicCode = personalCode
		user.MagicCodeEnabled = true
	case LoginEmailPassword:
		req.Email = strings.TrimSpace(strings.ToLower(req.Email))
		if req.Email == "" || req.Password == "" {
			return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
		}
		hash, err := HashPassword(req.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.Email = req.Email
		user.PasswordHash = hash
		user.EmailLoginEnabled = true
	case LoginDeviceRemember:
		if req.DeviceFingerprint == "" {
			return nil, fmt.Errorf("%w: device_fingerprint is required", ErrInvalidInput)
		}
		user.DeviceRememberEnabled = true
	default:
		return nil, fmt.Errorf("%w: unsupported login method %q", ErrInvalidInput, req.Method)
	}

	if err := s.store.CreateUserFromInvite(ctx, user, req.InviteID, now); err != nil {
		return nil, fmt.Errorf("create permanent user: %w", err)
	}

	if req.Method == LoginDeviceRemember {
		if _, err := s.IssueDeviceToken(ctx, user.ID, req.DeviceFingerprint, client); err != nil {
			return nil, fmt.Errorf("create permanent user: %w", err)
		}
	}

	return &ProvisionResult{User: user, PersonalCode: personalCode}, nil
}

// GeneratePersonalCode asks the authoritative generator for a personal magic
// code and falls back to the local deterministic algorithm when the call
// fails.
func (s *Service) GeneratePersonalCode(ctx context.Context, fullName, practiceName string) string {
	if code, err := s.authority.GeneratePersonalMagicCode(ctx, fullName, practiceName); err == nil && code != "" {
		return code
	}
	return FallbackPersonalCode(fullName, s.now().Year())
}

// IssueDeviceToken mints a trusted-device credential bound to a fingerprint,
// valid for 90 days.
func (s *Service) IssueDeviceToken(ctx context.Context, userID, fingerprint string, client ClientContext) (*DeviceToken, error) {
	if userID == "" || fingerprint == "" {
		return nil, fmt.Errorf("%w: user_id and fingerprint are required", ErrInvalidInput)
	}
	now := s.now()
	tok := &DeviceToken{
		ID:                ids.New(),
		UserID:            userID,
		DeviceFingerprint: fingerprint,
		DeviceName:        client.DeviceName(),
		UserAgent:         client.UserAgent,
		IPAddress:         s.clientIP(ctx, client),
		TokenHash:         newDeviceTokenHash(),
		ExpiresAt:         now.Add(DeviceTokenTTL),
		IsActive:          true,
		CreatedAt:         now,
	}
	if err := s.store.DeviceTokens(ctx).Create(ctx, tok); err != nil {
		return nil, fmt.Errorf("create device token: %w", err)
	}
	return tok, nil
}

// ValidateDeviceToken performs a passwordless login for a remembered device.
// Missing, inactive and expired tokens all yield the same denial so callers
// cannot distinguish them.
func (s *Service) ValidateDeviceToken(ctx context.Context, fingerprint string, client ClientContext) (*LoginResult, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return nil, ErrInvalidCredentials
	}
	tok, err := s.store.DeviceTokens(ctx).FindActiveByFingerprint(ctx, fingerprint, s.now())
	if err != nil {
		obs.ObserveLogin(string(LoginDeviceToken), "denied")
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.Users(ctx).Find(ctx, tok.UserID)
	if err != nil || !user.IsActive {
		obs.ObserveLogin(string(LoginDeviceToken), "denied")
		return nil, ErrInvalidCredentials
	}

	// Usage bookkeeping is best-effort and never blocks the login decision.
	if err := s.store.DeviceTokens(ctx).RecordUse(ctx, tok.ID, s.now()); err != nil {
		obs.Warn("device token usage update failed", map[string]any{
			"token_id": tok.ID,
			"error":    err.Error(),
		})
	}
	s.recordLogin(ctx, user.ID)

	token := s.issueSession(ctx, user, LoginDeviceToken, client)
	obs.ObserveLogin(string(LoginDeviceToken), "success")
	return &LoginResult{User: user, SessionToken: token, Method: LoginDeviceToken}, nil
}

// PracticeTeam lists the active members of a practice.
func (s *Service) PracticeTeam(ctx context.Context, practiceID string) ([]*PermanentUser, error) {
	if practiceID == "" {
		return nil, fmt.Errorf("%w: practice_id is required", ErrInvalidInput)
	}
	return s.store.Users(ctx).ListByPractice(ctx, practiceID)
}

// issueSession creates the 24-hour session row tied to the user and returns
// the opaque token. Persistence failures are logged, never propagated: the
// login itself has already succeeded.
func (s *Service) issueSession(ctx context.Context, user *PermanentUser, method LoginMethod, client ClientContext) string {
	token, err := NewSessionToken()
	if err != nil {
		obs.Error("session token generation failed", map[string]any{"error": err.Error()})
		return ""
	}
	now := s.now()
	sess := &UserSession{
		ID:                ids.New(),
		UserID:            user.ID,
		PracticeID:        user.PracticeID,
		SessionToken:      token,
		LoginMethod:       method,
		DeviceFingerprint: client.Fingerprint(),
		IPAddress:         s.clientIP(ctx, client),
		UserAgent:         client.UserAgent,
		ExpiresAt:         now.Add(SessionTTL),
		IsActive:          true,
		CreatedAt:         now,
	}
	if err := s.store.Sessions(ctx).Create(ctx, sess); err != nil {
		obs.Warn("session create failed", map[string]any{
			"user_id": user.ID,
			"method":  string(method),
			"error":   err.Error(),
		})
	}
	return token
}

// recordLogin bumps the user's activity counters, best-effort.
func (s *Service) recordLogin(ctx context.Context, userID string) {
	if err := s.store.Users(ctx).RecordLogin(ctx, userID, s.now()); err != nil {
		obs.Warn("login stats update failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}

func (s *Service) clientIP(ctx context.Context, client ClientContext) string {
	if client.IPAddress != "" {
		return client.IPAddress
	}
	if s.ipLookup != nil {
		return s.ipLookup.PublicIP(ctx)
	}
	return fallbackIPAddress
}
