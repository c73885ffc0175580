package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/martynvhouten/MedStock-Pro/internal/audit"
	"github.com/martynvhouten/MedStock-Pro/internal/authz"
	"github.com/martynvhouten/MedStock-Pro/internal/backend"
	"github.com/martynvhouten/MedStock-Pro/internal/identity"
	"github.com/martynvhouten/MedStock-Pro/internal/obs"
)

type clientContextRequest struct {
	UserAgent      string `json:"user_agent"`
	Locale         string `json:"locale"`
	ScreenWidth    int    `json:"screen_width"`
	ScreenHeight   int    `json:"screen_height"`
	TimezoneOffset int    `json:"timezone_offset"`
	CanvasHash     string `json:"canvas_hash"`
}

// clientContext merges the reported browser characteristics with what the
// request itself shows.
func clientContext(r *http.Request, req clientContextRequest) identity.ClientContext {
	cc := identity.ClientContext{
		UserAgent:      req.UserAgent,
		Locale:         req.Locale,
		ScreenWidth:    req.ScreenWidth,
		ScreenHeight:   req.ScreenHeight,
		TimezoneOffset: req.TimezoneOffset,
		CanvasHash:     req.CanvasHash,
		IPAddress:      clientIP(r),
	}
	if cc.UserAgent == "" {
		cc.UserAgent = r.UserAgent()
	}
	return cc
}

type userPayload struct {
	ID         string `json:"id"`
	PracticeID string `json:"practice_id"`
	FullName   string `json:"full_name"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
}

func toUserPayload(u *identity.PermanentUser) userPayload {
	return userPayload{
		ID:         u.ID,
		PracticeID: u.PracticeID,
		FullName:   u.FullName,
		Email:      u.Email,
		Role:       u.Role,
		Department: u.Department,
	}
}

type loginResponse struct {
	User         userPayload `json:"user"`
	SessionToken string      `json:"session_token"`
	Method       string      `json:"method"`
	Token        string      `json:"token,omitempty"`
	ExpiresAt    time.Time   `json:"expires_at"`
}

func (a *API) loginResponse(w http.ResponseWriter, r *http.Request, res *identity.LoginResult) {
	expiresAt := time.Now().UTC().Add(identity.SessionTTL)
	resp := loginResponse{
		User:         toUserPayload(res.User),
		SessionToken: res.SessionToken,
		Method:       string(res.Method),
		ExpiresAt:    expiresAt,
	}
	if a.tokens != nil {
		signed, err := a.tokens.Issue(res.User.ID, res.User.PracticeID, res.User.Role, expiresAt)
		if err != nil {
			obs.Error("bearer token issue failed", map[string]any{
				"user_id": res.User.ID,
				"error":   err.Error(),
			})
		} else {
			resp.Token = signed
		}
	}
	_ = audit.LogEvent(r.Context(), "auth.login.success", map[string]any{
		"user_id": res.User.ID,
		"method":  string(res.Method),
	})
	writeJSON(w, http.StatusOK, resp)
}

// --- handlers ---

type classifyRequest struct {
	Code string `json:"code"`
}

type classifyResponse struct {
	Type         string `json:"type"`
	UserName     string `json:"user_name,omitempty"`
	PracticeID   string `json:"practice_id,omitempty"`
	PracticeName string `json:"practice_name,omitempty"`
	InviteID     string `json:"invite_id,omitempty"`
}

func (a *API) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req classifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	cls := a.identity.ClassifyCode(r.Context(), req.Code)
	resp := classifyResponse{Type: string(cls.Type)}
	switch cls.Type {
	case identity.CodePersonal:
		resp.UserName = cls.User.FullName
		resp.PracticeID = cls.User.PracticeID
	case identity.CodeInvite:
		resp.PracticeID = cls.Invite.PracticeID
		resp.PracticeName = cls.Invite.PracticeName
		resp.InviteID = cls.Invite.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

type codeLoginRequest struct {
	Code   string               `json:"code"`
	Client clientContextRequest `json:"client"`
}

func (a *API) handleLoginCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req codeLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.identity.LoginWithPersonalCode(r.Context(), req.Code, clientContext(r, req.Client))
	if err != nil {
		a.handleAuthError(w, r, "personal_magic_code", err)
		return
	}
	a.loginResponse(w, r, res)
}

type emailLoginRequest struct {
	Email    string               `json:"email"`
	Password string               `json:"password"`
	Client   clientContextRequest `json:"client"`
}

func (a *API) handleLoginEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req emailLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.identity.LoginWithEmail(r.Context(), req.Email, req.Password, clientContext(r, req.Client))
	if err != nil {
		a.handleAuthError(w, r, "email_password", err)
		return
	}
	a.loginResponse(w, r, res)
}

type deviceLoginRequest struct {
	Fingerprint string               `json:"fingerprint"`
	Client      clientContextRequest `json:"client"`
}

func (a *API) handleLoginDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req deviceLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	client := clientContext(r, req.Client)
	fingerprint := req.Fingerprint
	if fingerprint == "" {
		fingerprint = client.Fingerprint()
	}
	res, err := a.identity.ValidateDeviceToken(r.Context(), fingerprint, client)
	if err != nil {
		a.handleAuthError(w, r, "device_token", err)
		return
	}
	a.loginResponse(w, r, res)
}

type provisionRequest struct {
	PracticeID string `json:"practice_id"`
	InviteID   string `json:"invite_id"`
	FullName   string `json:"full_name"`
	Role       string `json:"role"`
	Department string `json:"department"`

	Method string `json:"method"`

	Email             string `json:"email"`
	Password          string `json:"password"`
	DeviceFingerprint string `json:"device_fingerprint"`

	Client clientContextRequest `json:"client"`
}

type provisionResponse struct {
	User         userPayload `json:"user"`
	PersonalCode string      `json:"personal_code,omitempty"`
}

func (a *API) handleProvision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req provisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	client := clientContext(r, req.Client)
	fingerprint := req.DeviceFingerprint
	if fingerprint == "" && identity.LoginMethod(req.Method) == identity.LoginDeviceRemember {
		fingerprint = client.Fingerprint()
	}
	res, err := a.identity.CreatePermanentUser(r.Context(), identity.ProvisionRequest{
		PracticeID:        req.PracticeID,
		InviteID:          req.InviteID,
		FullName:          req.FullName,
		Role:              req.Role,
		Department:        req.Department,
		Method:            identity.LoginMethod(req.Method),
		Email:             req.Email,
		Password:          req.Password,
		DeviceFingerprint: fingerprint,
	}, client)
	if err != nil {
		a.handleIdentityError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.user.provisioned", map[string]any{
		"user_id":     res.User.ID,
		"practice_id": res.User.PracticeID,
		"invite_id":   req.InviteID,
		"method":      req.Method,
	})
	writeJSON(w, http.StatusCreated, provisionResponse{
		User:         toUserPayload(res.User),
		PersonalCode: res.PersonalCode,
	})
}

type issueDeviceRequest struct {
	Fingerprint string               `json:"fingerprint"`
	Client      clientContextRequest `json:"client"`
}

func (a *API) handleIssueDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ident, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}
	var req issueDeviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	client := clientContext(r, req.Client)
	fingerprint := req.Fingerprint
	if fingerprint == "" {
		fingerprint = client.Fingerprint()
	}
	tok, err := a.identity.IssueDeviceToken(r.Context(), ident.UserID, fingerprint, client)
	if err != nil {
		a.handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.device.trusted", map[string]any{
		"user_id":     ident.UserID,
		"device_name": tok.DeviceName,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"device_name": tok.DeviceName,
		"expires_at":  tok.ExpiresAt,
	})
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": authz.Definitions()})
}

type myRoleResponse struct {
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`

	CanCreateProducts  bool `json:"can_create_products"`
	CanEditProducts    bool `json:"can_edit_products"`
	CanDeleteProducts  bool `json:"can_delete_products"`
	CanManageInventory bool `json:"can_manage_inventory"`
	CanViewAnalytics   bool `json:"can_view_analytics"`
	CanManageUsers     bool `json:"can_manage_users"`
	CanSubmitOrders    bool `json:"can_submit_orders"`
}

func (a *API) handleMyRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ident, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}
	role, ok := a.resolver.UserRole(r.Context(), ident)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	def, _ := authz.Definition(role)
	writeJSON(w, http.StatusOK, myRoleResponse{
		Role:               string(role),
		DisplayName:        def.DisplayName,
		CanCreateProducts:  authz.CanCreateProducts(role),
		CanEditProducts:    authz.CanEditProducts(role),
		CanDeleteProducts:  authz.CanDeleteProducts(role),
		CanManageInventory: authz.CanManageInventory(role),
		CanViewAnalytics:   authz.CanViewAnalytics(role),
		CanManageUsers:     authz.CanManageUsers(role),
		CanSubmitOrders:    authz.CanSubmitOrders(role),
	})
}

func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ident, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	permType := strings.TrimSpace(q.Get("type"))
	resource := strings.TrimSpace(q.Get("resource"))
	if permType == "" || resource == "" {
		writeError(w, r, http.StatusBadRequest, "type and resource are required")
		return
	}
	allowed := a.resolver.HasPermission(r.Context(), ident,
		authz.PermissionType(permType), authz.ResourceType(resource), q.Get("resource_id"))
	if !allowed {
		_ = audit.LogEvent(r.Context(), "authz.permission.denied", map[string]any{
			"user_id":  ident.UserID,
			"type":     permType,
			"resource": resource,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

func (a *API) handleTeam(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ident, ok := a.requirePermission(w, r, authz.PermissionRead, authz.ResourceUsers)
	if !ok {
		return
	}
	if ident.PracticeID == "" {
		writeError(w, r, http.StatusBadRequest, "no practice selected")
		return
	}
	members, err := a.identity.PracticeTeam(r.Context(), ident.PracticeID)
	if err != nil {
		a.handleIdentityError(w, r, err)
		return
	}
	out := make([]userPayload, 0, len(members))
	for _, m := range members {
		out = append(out, toUserPayload(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": out})
}

// --- error mapping ---

func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, method string, err error) {
	if errors.Is(err, identity.ErrInvalidCredentials) {
		_ = audit.LogEvent(r.Context(), "auth.login.denied", map[string]any{"method": method})
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	a.handleIdentityError(w, r, err)
}

func (a *API) handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrConflict):
		writeError(w, r, http.StatusConflict, "invite no longer available")
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, backend.ErrUnavailable), errors.Is(err, identity.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "backend unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
