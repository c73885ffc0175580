package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

type fakeAuthority struct {
	codes  map[string]string // personal code -> user id
	valErr error

	genCode string
	genErr  error
}

func (f *fakeAuthority) ValidatePersonalMagicCode(ctx context.Context, code string) (string, bool, error) {
	if f.valErr != nil {
		return "", false, f.valErr
	}
	id, ok := f.codes[code]
	return id, ok, nil
}

func (f *fakeAuthority) GeneratePersonalMagicCode(ctx context.Context, userName, practiceName string) (string, error) {
	if f.genErr != nil {
		return "", f.genErr
	}
	return f.genCode, nil
}

func newTestService(t *testing.T, store *InMemory, authority *fakeAuthority) *Service {
	t.Helper()
	if authority == nil {
		authority = &fakeAuthority{}
	}
	svc, err := NewService(store, authority, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func seedInvite(store *InMemory, id, code string) *MagicInvite {
	inv := &MagicInvite{
		ID:         id,
		PracticeID: "prak-1",
		MagicCode:  code,
		MaxUses:    1,
		IsActive:   true,
		CreatedAt:  testNow.Add(-time.Hour),
		UpdatedAt:  testNow.Add(-time.Hour),
	}
	store.AddInvite(inv)
	return inv
}

func TestClassifyCodePersonalWinsOverInvite(t *testing.T) {
	store := NewInMemory()
	store.AddPractice("prak-1", "Tandarts Centrum")
	store.AddUser(&PermanentUser{ID: "user-1", PracticeID: "prak-1", FullName: "Anna", IsActive: true})
	seedInvite(store, "inv-1", "🏥ANNA2025")

	authority := &fakeAuthority{codes: map[string]string{"🏥ANNA2025": "user-1"}}
	svc := newTestService(t, store, authority)

	cls := svc.ClassifyCode(context.Background(), "🏥ANNA2025")
	if cls.Type != CodePersonal {
		t.Fatalf("classification = %q, want %q", cls.Type, CodePersonal)
	}
	if cls.User == nil || cls.User.ID != "user-1" {
		t.Fatalf("classification user = %+v", cls.User)
	}
}

func TestClassifyCodeInvite(t *testing.T) {
	store := NewInMemory()
	store.AddPractice("prak-1", "Tandarts Centrum")
	seedInvite(store, "inv-1", "WELKOM24")
	svc := newTestService(t, store, nil)

	cls := svc.ClassifyCode(context.Background(), "WELKOM24")
	if cls.Type != CodeInvite {
		t.Fatalf("classification = %q, want %q", cls.Type, CodeInvite)
	}
	if cls.Invite == nil || cls.Invite.ID != "inv-1" {
		t.Fatalf("classification invite = %+v", cls.Invite)
	}
}

func TestClassifyCodeInvitePredicates(t *testing.T) {
	past := testNow.Add(-time.Minute)
	cases := []struct {
		name   string
		mutate func(*MagicInvite)
	}{
		{"inactive", func(inv *MagicInvite) { inv.IsActive = false }},
		{"exhausted", func(inv *MagicInvite) { inv.CurrentUses = inv.MaxUses }},
		{"expired", func(inv *MagicInvite) { inv.ExpiresAt = &past }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewInMemory()
			inv := &MagicInvite{
				ID: "inv-1", PracticeID: "prak-1", MagicCode: "WELKOM24",
				MaxUses: 1, IsActive: true,
			}
			tc.mutate(inv)
			store.AddInvite(inv)
			svc := newTestService(t, store, nil)

			cls := svc.ClassifyCode(context.Background(), "WELKOM24")
			if cls.Type != CodeInvalid {
				t.Fatalf("classification = %q, want %q", cls.Type, CodeInvalid)
			}
		})
	}
}

func TestClassifyCodeBlank(t *testing.T) {
	svc := newTestService(t, NewInMemory(), nil)
	cls := svc.ClassifyCode(context.Background(), "   ")
	if cls.Type != CodeInvalid {
		t.Fatalf("classification = %q, want %q", cls.Type, CodeInvalid)
	}
}

func TestLoginWithPersonalCode(t *testing.T) {
	store := NewInMemory()
	store.AddUser(&PermanentUser{ID: "user-1", PracticeID: "prak-1", FullName: "Anna", IsActive: true})
	authority := &fakeAuthority{codes: map[string]string{"🏥ANNA2025": "user-1"}}
	svc := newTestService(t, store, authority)

	res, err := svc.LoginWithPersonalCode(context.Background(), "🏥ANNA2025", ClientContext{UserAgent: "UA"})
	if err != nil {
		t.Fatalf("LoginWithPersonalCode: %v", err)
	}
	if res.User.ID != "user-1" || res.SessionToken == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Method != LoginPersonalCode {
		t.Fatalf("method = %q, want %q", res.Method, LoginPersonalCode)
	}

	sessions := store.SessionsForUser("user-1")
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if got := sessions[0].ExpiresAt; !got.Equal(testNow.Add(24 * time.Hour)) {
		t.Fatalf("session expiry = %v, want %v", got, testNow.Add(24*time.Hour))
	}

	user, _ := store.Users(context.Background()).Find(context.Background(), "user-1")
	if user.LoginCount != 1 || user.LastLoginAt == nil {
		t.Fatalf("login stats not recorded: count=%d last=%v", user.LoginCount, user.LastLoginAt)
	}
}

func TestLoginWithPersonalCodeUniformDenial(t *testing.T) {
	store := NewInMemory()
	store.AddUser(&PermanentUser{ID: "user-1", PracticeID: "prak-1", IsActive: false})

	cases := []struct {
		name      string
		authority *fakeAuthority
		code      string
	}{
		{"unknown code", &fakeAuthority{codes: map[string]string{}}, "🏥NOPE2025"},
		{"inactive user", &fakeAuthority{codes: map[string]string{"🏥ANNA2025": "user-1"}}, "🏥ANNA2025"},
		{"authority down", &fakeAuthority{valErr: errors.New("boom")}, "🏥ANNA2025"},
		{"blank", &fakeAuthority{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(t, store, tc.authority)
			_, err := svc.LoginWithPersonalCode(context.Background(), tc.code, ClientContext{})
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestLoginWithEmail(t *testing.T) {
	hash, err := HashPassword("geheim123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	store := NewInMemory()
	store.AddUser(&PermanentUser{
		ID: "user-1", PracticeID: "prak-1", Email: "anna@praktijk.nl",
		PasswordHash: hash, EmailLoginEnabled: true, IsActive: true,
	})
	svc := newTestService(t, store, nil)

	res, err := svc.LoginWithEmail(context.Background(), "  Anna@Praktijk.NL ", "geheim123", ClientContext{})
	if err != nil {
		t.Fatalf("LoginWithEmail: %v", err)
	}
	if res.User.ID != "user-1" || res.SessionToken == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := svc.LoginWithEmail(context.Background(), "anna@praktijk.nl", "fout", ClientContext{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.LoginWithEmail(context.Background(), "onbekend@praktijk.nl", "geheim123", ClientContext{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email err = %v, want ErrInvalidCredentials", err)
	}
}

func TestSessionCreateFailureDoesNotBlockLogin(t *testing.T) {
	store := NewInMemory()
	store.SessionErr = errors.New("sessions table offline")
	store.AddUser(&PermanentUser{ID: "user-1", PracticeID: "prak-1", IsActive: true})
	authority := &fakeAuthority{codes: map[string]string{"🏥ANNA2025": "user-1"}}
	svc := newTestService(t, store, authority)

	res, err := svc.LoginWithPersonalCode(context.Background(), "🏥ANNA2025", ClientContext{})
	if err != nil {
		t.Fatalf("LoginWithPersonalCode: %v", err)
	}
	if res.SessionToken == "" {
		t.Fatal("session token missing despite successful login")
	}
	if sessions := store.SessionsForUser("user-1"); len(sessions) != 0 {
		t.Fatalf("sessions = %d, want 0", len(sessions))
	}
}

func TestCreatePermanentUserEmailMethod(t *testing.T) {
	store := NewInMemory()
	store.AddPractice("prak-1", "Tandarts Centrum")
	seedInvite(store, "inv-1", "WELKOM24")
	svc := newTestService(t, store, nil)

	res, err := svc.CreatePermanentUser(context.Background(), ProvisionRequest{
		PracticeID: "prak-1",
		InviteID:   "inv-1",
		FullName:   "Anna Bakker",
		Role:       "assistant",
		Method:     LoginEmailPassword,
		Email:      "Anna@Praktijk.NL",
		Password:   "geheim123",
	}, ClientContext{})
	if err != nil {
		t.Fatalf("CreatePermanentUser: %v", err)
	}

	u := res.User
	if !u.EmailLoginEnabled || u.Email != "anna@praktijk.nl" {
		t.Fatalf("email login not set up: %+v", u)
	}
	if u.PasswordHash == "" || strings.Contains(u.PasswordHash, "geheim123") {
		t.Fatalf("password stored badly: %q", u.PasswordHash)
	}
	if u.Timezone != "Europe/Amsterdam" || u.Language != "nl" {
		t.Fatalf("account defaults missing: tz=%q lang=%q", u.Timezone, u.Language)
	}

	inv, ok := store.Invite("inv-1")
	if !ok {
		t.Fatal("invite vanished")
	}
	if inv.CurrentUses != 1 || inv.ConvertedToUserID != u.ID || inv.ConversionCompletedAt == nil {
		t.Fatalf("invite not consumed: %+v", inv)
	}

	// A second conversion attempt against the same invite must fail.
	_, err = svc.CreatePermanentUser(context.Background(), ProvisionRequest{
		PracticeID: "prak-1", InviteID: "inv-1", FullName: "Piet Jansen",
		Role: "member", Method: LoginEmailPassword,
		Email: "piet@praktijk.nl", Password: "geheim456",
	}, ClientContext{})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second conversion err = %v, want ErrConflict", err)
	}
}

func TestCreatePermanentUserMagicCodeFallback(t *testing.T) {
	store := NewInMemory()
	store.AddPractice("prak-1", "Tandarts Centrum")
	seedInvite(store, "inv-1", "WELKOM24")
	authority := &fakeAuthority{genErr: errors.New("backend down")}
	svc := newTestService(t, store, authority)

	res, err := svc.CreatePermanentUser(context.Background(), ProvisionRequest{
		PracticeID: "prak-1", InviteID: "inv-1", FullName: "Anna Bakker",
		Role: "member", Method: LoginMagicCode,
	}, ClientContext{})
	if err != nil {
		t.Fatalf("CreatePermanentUser: %v", err)
	}
	if res.PersonalCode != "🏥ANNA2025" {
		t.Fatalf("fallback code = %q, want 🏥ANNA2025", res.PersonalCode)
	}
	if !res.User.MagicCodeEnabled || res.User.PersonalMagicCode != res.PersonalCode {
		t.Fatalf("magic code not persisted: %+v", res.User)
	}
}

func TestCreatePermanentUserDeviceRemember(t *testing.T) {
	store := NewInMemory()
	store.AddPractice("prak-1", "Tandarts Centrum")
	seedInvite(store, "inv-1", "WELKOM24")
	svc := newTestService(t, store, nil)

	client := ClientContext{UserAgent: "Mozilla/5.0 (iPad)", IPAddress: "10.0.0.5"}
	res, err := svc.CreatePermanentUser(context.Background(), ProvisionRequest{
		PracticeID: "prak-1", InviteID: "inv-1", FullName: "Anna Bakker",
		Role: "logistics", Method: LoginDeviceRemember, DeviceFingerprint: "FP1",
	}, client)
	if err != nil {
		t.Fatalf("CreatePermanentUser: %v", err)
	}
	if !res.User.DeviceRememberEnabled {
		t.Fatalf("device remember not enabled: %+v", res.User)
	}

	tokens := store.TokensForUser(res.User.ID)
	if len(tokens) != 1 {
		t.Fatalf("device tokens = %d, want 1", len(tokens))
	}
	tok := tokens[0]
	if !tok.ExpiresAt.Equal(testNow.Add(90 * 24 * time.Hour)) {
		t.Fatalf("token expiry = %v, want %v", tok.ExpiresAt, testNow.Add(90*24*time.Hour))
	}
	if tok.DeviceName != "iPad" {
		t.Fatalf("device name = %q, want iPad", tok.DeviceName)
	}

	// Repeat login with the remembered fingerprint.
	login, err := svc.ValidateDeviceToken(context.Background(), "FP1", client)
	if err != nil {
		t.Fatalf("ValidateDeviceToken: %v", err)
	}
	if login.User.ID != res.User.ID || login.Method != LoginDeviceToken {
		t.Fatalf("unexpected login result: %+v", login)
	}

	// A different fingerprint yields the same denial as a missing token.
	if _, err := svc.ValidateDeviceToken(context.Background(), "FP2", client); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown fingerprint err = %v, want ErrInvalidCredentials", err)
	}
}

func TestCreatePermanentUserValidation(t *testing.T) {
	store := NewInMemory()
	store.AddPractice("prak-1", "Tandarts Centrum")
	seedInvite(store, "inv-1", "WELKOM24")
	svc := newTestService(t, store, nil)

	cases := []struct {
		name string
		req  ProvisionRequest
	}{
		{"missing name", ProvisionRequest{PracticeID: "prak-1", InviteID: "inv-1", Role: "member", Method: LoginEmailPassword, Email: "a@b.nl", Password: "x"}},
		{"unknown role", ProvisionRequest{PracticeID: "prak-1", InviteID: "inv-1", FullName: "A", Role: "superuser", Method: LoginEmailPassword, Email: "a@b.nl", Password: "x"}},
		{"email without password", ProvisionRequest{PracticeID: "prak-1", InviteID: "inv-1", FullName: "A", Role: "member", Method: LoginEmailPassword, Email: "a@b.nl"}},
		{"device without fingerprint", ProvisionRequest{PracticeID: "prak-1", InviteID: "inv-1", FullName: "A", Role: "member", Method: LoginDeviceRemember}},
		{"unsupported method", ProvisionRequest{PracticeID: "prak-1", InviteID: "inv-1", FullName: "A", Role: "member", Method: LoginMethod("sms")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreatePermanentUser(context.Background(), tc.req, ClientContext{}); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestValidateDeviceTokenExpired(t *testing.T) {
	store := NewInMemory()
	store.AddUser(&PermanentUser{ID: "user-1", PracticeID: "prak-1", IsActive: true})
	_ = store.DeviceTokens(context.Background()).Create(context.Background(), &DeviceToken{
		ID: "tok-1", UserID: "user-1", DeviceFingerprint: "FP1",
		TokenHash: "h", ExpiresAt: testNow.Add(-time.Minute), IsActive: true,
	})
	svc := newTestService(t, store, nil)

	if _, err := svc.ValidateDeviceToken(context.Background(), "FP1", ClientContext{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expired token err = %v, want ErrInvalidCredentials", err)
	}
}

func TestPracticeTeam(t *testing.T) {
	store := NewInMemory()
	store.AddUser(&PermanentUser{ID: "user-1", PracticeID: "prak-1", IsActive: true})
	store.AddUser(&PermanentUser{ID: "user-2", PracticeID: "prak-1", IsActive: false})
	store.AddUser(&PermanentUser{ID: "user-3", PracticeID: "prak-2", IsActive: true})
	svc := newTestService(t, store, nil)

	team, err := svc.PracticeTeam(context.Background(), "prak-1")
	if err != nil {
		t.Fatalf("PracticeTeam: %v", err)
	}
	if len(team) != 1 || team[0].ID != "user-1" {
		t.Fatalf("team = %+v, want only user-1", team)
	}

	if _, err := svc.PracticeTeam(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty practice err = %v, want ErrInvalidInput", err)
	}
}

func TestGeneratePersonalCodePrefersAuthority(t *testing.T) {
	svc := newTestService(t, NewInMemory(), &fakeAuthority{genCode: "🏥ANNA2025X"})
	got := svc.GeneratePersonalCode(context.Background(), "Anna Bakker", "Tandarts Centrum")
	if got != "🏥ANNA2025X" {
		t.Fatalf("code = %q, want authority code", got)
	}
}
