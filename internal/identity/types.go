package identity

import "time"

// LoginMethod names how a user authenticates.
type LoginMethod string

const (
	LoginMagicCode      LoginMethod = "magic_code"
	LoginEmailPassword  LoginMethod = "email_password"
	LoginDeviceRemember LoginMethod = "device_remember"

	// Methods recorded on sessions for repeat logins.
	LoginPersonalCode LoginMethod = "personal_magic_code"
	LoginDeviceToken  LoginMethod = "device_token"
)

// PermanentUser is the identity record of a practice member. Accounts are
// soft-deleted via IsActive, never removed.
type PermanentUser struct {
	ID         string
	PracticeID string
	FullName   string
	Email      string

	PersonalMagicCode     string
	MagicCodeEnabled      bool
	EmailLoginEnabled     bool
	PasswordHash          string
	DeviceRememberEnabled bool

	Role       string
	Department string

	PreferredLoginMethod LoginMethod
	CreatedFromInviteID  string

	Timezone string
	Language string

	IsActive    bool
	LoginCount  int
	LastLoginAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MagicInvite is a capped-use invitation that provisions a permanent account.
// An invite converts to at most one user.
type MagicInvite struct {
	ID           string
	PracticeID   string
	PracticeName string
	MagicCode    string

	CurrentUses int
	MaxUses     int
	ExpiresAt   *time.Time
	IsActive    bool

	ConvertedToUserID     string
	ConversionCompletedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeviceToken binds a device fingerprint to a user for passwordless repeat
// login. A token authenticates at most one user.
type DeviceToken struct {
	ID                string
	UserID            string
	DeviceFingerprint string
	DeviceName        string
	UserAgent         string
	IPAddress         string
	TokenHash         string

	ExpiresAt  time.Time
	IsActive   bool
	LoginCount int
	LastUsedAt *time.Time

	CreatedAt time.Time
}

// UserSession is an ephemeral login capability with a fixed absolute expiry.
// Sessions are never updated or renewed.
type UserSession struct {
	ID           string
	UserID       string
	PracticeID   string
	SessionToken string
	LoginMethod  LoginMethod

	DeviceFingerprint string
	IPAddress         string
	UserAgent         string

	ExpiresAt time.Time
	IsActive  bool
	CreatedAt time.Time
}

// CodeType classifies a submitted login code.
type CodeType string

const (
	CodePersonal CodeType = "personal"
	CodeInvite   CodeType = "invite"
	CodeInvalid  CodeType = "invalid"
)

// CodeClassification is the outcome of ClassifyCode. Exactly one of User or
// Invite is set for the personal and invite types respectively.
type CodeClassification struct {
	Type   CodeType
	User   *PermanentUser
	Invite *MagicInvite
}

// ProvisionRequest describes the guest-to-permanent upgrade.
type ProvisionRequest struct {
	PracticeID string
	InviteID   string
	FullName   string
	Role       string
	Department string

	Method LoginMethod

	Email             string
	Password          string
	DeviceFingerprint string
}

// ProvisionResult is the successful outcome of CreatePermanentUser.
type ProvisionResult struct {
	User *PermanentUser
	// PersonalCode is set when the chosen method is magic_code.
	PersonalCode string
}

// LoginResult is returned by every successful authentication path.
type LoginResult struct {
	User         *PermanentUser
	SessionToken string
	Method       LoginMethod
}
