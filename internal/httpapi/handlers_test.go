package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/martynvhouten/MedStock-Pro/internal/authz"
	"github.com/martynvhouten/MedStock-Pro/internal/identity"
	"github.com/martynvhouten/MedStock-Pro/internal/inventory"
)

type stubCodeAuthority struct {
	codes map[string]string
}

func (s *stubCodeAuthority) ValidatePersonalMagicCode(ctx context.Context, code string) (string, bool, error) {
	id, ok := s.codes[code]
	return id, ok, nil
}

func (s *stubCodeAuthority) GeneratePersonalMagicCode(ctx context.Context, userName, practiceName string) (string, error) {
	return "🏥TEST2025", nil
}

type stubPermAuthority struct {
	allowed bool
	role    string
}

func (s *stubPermAuthority) CheckPermission(ctx context.Context, userID, practiceID, permType, resourceType, resourceID string) (bool, error) {
	return s.allowed, nil
}

func (s *stubPermAuthority) MemberRole(ctx context.Context, userID, practiceID string) (string, error) {
	return s.role, nil
}

type testEnv struct {
	api   *API
	store *identity.InMemory
	mock  sqlmock.Sqlmock
	perm  *stubPermAuthority
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := identity.NewInMemory()
	store.AddPractice("prak-1", "Tandarts Centrum")
	hash, err := identity.HashPassword("geheim123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	store.AddUser(&identity.PermanentUser{
		ID: "user-1", PracticeID: "prak-1", FullName: "Anna Bakker",
		Email: "anna@praktijk.nl", PasswordHash: hash,
		EmailLoginEnabled: true, Role: "assistant", IsActive: true,
	})

	idsvc, err := identity.NewService(store, &stubCodeAuthority{codes: map[string]string{}})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	perm := &stubPermAuthority{allowed: true, role: "assistant"}
	resolver, err := authz.NewResolver(perm)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	api := New(ReadyProbe{}, "test", idsvc, resolver, inventory.NewStore(db), NewTokenIssuer("test-secret"))
	return &testEnv{api: api, store: store, mock: mock, perm: perm}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.api.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/login/email", "", map[string]any{
		"email":    "anna@praktijk.nl",
		"password": "geheim123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body)
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("bearer token missing from login response")
	}
	return resp.Token
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestClassifyInviteCode(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddInvite(&identity.MagicInvite{
		ID: "inv-1", PracticeID: "prak-1", MagicCode: "WELKOM24",
		MaxUses: 1, IsActive: true,
	})

	rec := env.do(t, http.MethodPost, "/api/auth/classify", "", map[string]any{"code": "WELKOM24"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp classifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Type != "invite" || resp.InviteID != "inv-1" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestClassifyUnknownCode(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/auth/classify", "", map[string]any{"code": "GEEN"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp classifyResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Type != "invalid" {
		t.Fatalf("type = %q, want invalid", resp.Type)
	}
}

func TestLoginEmailWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/auth/login/email", "", map[string]any{
		"email":    "anna@praktijk.nl",
		"password": "fout",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/roles", "/api/me/role", "/api/batches", "/api/team"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s without token = %d, want 401", path, rec.Code)
		}
	}
}

func TestRolesListing(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/roles", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Roles []authz.RoleDefinition `json:"roles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Roles) != 6 {
		t.Fatalf("roles = %d, want 6", len(resp.Roles))
	}
}

func TestMyRole(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/me/role", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp myRoleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Role != "assistant" || resp.DisplayName != "Assistent" {
		t.Fatalf("response = %+v", resp)
	}
	if !resp.CanCreateProducts || resp.CanManageUsers {
		t.Fatalf("capability flags wrong: %+v", resp)
	}
}

func TestPermissionCheck(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodGet, "/api/permissions/check?type=write&resource=inventory", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Allowed bool `json:"allowed"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Allowed {
		t.Fatal("expected allow from stub authority")
	}

	rec = env.do(t, http.MethodGet, "/api/permissions/check?type=write", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing resource status = %d, want 400", rec.Code)
	}
}

func TestListBatches(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rows := sqlmock.NewRows([]string{
		"id", "practice_id", "product_id", "location_id", "batch_number",
		"supplier_id", "supplier_batch_number", "purchase_order_number", "invoice_number",
		"expiry_date", "received_date",
		"initial_quantity", "current_quantity", "reserved_quantity",
		"unit_cost", "currency", "status", "quality_check_passed", "quality_notes",
		"created_at", "updated_at",
		"product_name", "product_sku", "location_name", "location_code", "supplier_name",
	}).AddRow(
		"b1", "prak-1", "prod-1", "loc-1", "LOT-1",
		"", "", "", "",
		time.Now().AddDate(0, 0, 10), time.Now().AddDate(0, -1, 0),
		100, 60, 0,
		250, "EUR", "active", true, "",
		time.Now(), time.Now(),
		"Handschoenen", "SKU-1", "Magazijn", "MAG", "",
	)
	env.mock.ExpectQuery("from product_batches").WillReturnRows(rows)

	rec := env.do(t, http.MethodGet, "/api/batches", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Batches []batchPayload `json:"batches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Batches) != 1 || resp.Batches[0].UrgencyLevel != "high" {
		t.Fatalf("batches = %+v", resp.Batches)
	}
}

func TestMovementsRejectEmpty(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(t, http.MethodPost, "/api/batches/movements", token, map[string]any{
		"movements": []any{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodDelete, "/api/auth/classify", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Fatalf("Allow = %q, want POST", allow)
	}
}
