package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/martynvhouten/MedStock-Pro/internal/authz"
	"github.com/martynvhouten/MedStock-Pro/internal/identity"
	"github.com/martynvhouten/MedStock-Pro/internal/inventory"
	"github.com/martynvhouten/MedStock-Pro/internal/obs"
)

// ReadyProbe checks the backing database before the service reports ready.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	identity *identity.Service
	resolver *authz.Resolver
	batches  *inventory.Store
	tokens   *TokenIssuer
}

// New wires the handlers over the domain services.
func New(rp ReadyProbe, version string, idsvc *identity.Service, resolver *authz.Resolver, batches *inventory.Store, tokens *TokenIssuer) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		identity:   idsvc,
		resolver:   resolver,
		batches:    batches,
		tokens:     tokens,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// onboarding and login
	a.mux.HandleFunc("/api/auth/classify", a.handleClassify)
	a.mux.HandleFunc("/api/auth/login/code", a.handleLoginCode)
	a.mux.HandleFunc("/api/auth/login/email", a.handleLoginEmail)
	a.mux.HandleFunc("/api/auth/login/device", a.handleLoginDevice)
	a.mux.HandleFunc("/api/auth/provision", a.handleProvision)
	a.mux.HandleFunc("/api/auth/devices", a.handleIssueDevice)

	// roles and permissions
	a.mux.HandleFunc("/api/roles", a.handleRoles)
	a.mux.HandleFunc("/api/me/role", a.handleMyRole)
	a.mux.HandleFunc("/api/permissions/check", a.handlePermissionCheck)

	// practice team
	a.mux.HandleFunc("/api/team", a.handleTeam)

	// batch tracking
	a.mux.HandleFunc("/api/batches", a.handleBatches)
	a.mux.HandleFunc("/api/batches/", a.handleBatchByID)
	a.mux.HandleFunc("/api/batches/expiring", a.handleExpiringBatches)
	a.mux.HandleFunc("/api/batches/fifo", a.handleFIFOBatches)
	a.mux.HandleFunc("/api/batches/movements", a.handleMovements)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- status handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "medstock-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "medstock-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// requireIdentity resolves the caller or writes a 401.
func (a *API) requireIdentity(w http.ResponseWriter, r *http.Request) (authz.Identity, bool) {
	ident, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return authz.Identity{}, false
	}
	return ident, true
}

// requirePermission resolves the caller and checks the action, writing 401 or
// 403 as appropriate.
func (a *API) requirePermission(w http.ResponseWriter, r *http.Request, perm authz.PermissionType, resource authz.ResourceType) (authz.Identity, bool) {
	ident, ok := a.requireIdentity(w, r)
	if !ok {
		return authz.Identity{}, false
	}
	if err := a.resolver.Require(r.Context(), ident, perm, resource, ""); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return authz.Identity{}, false
	}
	return ident, true
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
