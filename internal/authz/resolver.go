package authz

import (
	"context"
	"errors"
	"strings"

	"github.com/martynvhouten/MedStock-Pro/internal/obs"
)

// ErrDenied reports that the resolver rejected an action.
var ErrDenied = errors.New("authz: permission denied")

// Identity is the caller-held authentication state a request acts under.
// A zero UserID means unauthenticated; a zero PracticeID means the user has
// no resolved practice binding yet (partially onboarded).
type Identity struct {
	UserID     string
	PracticeID string
}

// Authority is the remote authoritative permission source.
type Authority interface {
	// CheckPermission asks the backend whether the user may perform the
	// action in the given practice.
	CheckPermission(ctx context.Context, userID, practiceID, permType, resourceType, resourceID string) (bool, error)
	// MemberRole returns the stored role for a (user, practice) pair.
	MemberRole(ctx context.Context, userID, practiceID string) (string, error)
}

// Resolver combines the static role registry with the remote authority,
// applying the degraded fallback policy when the authority is unreachable.
type Resolver struct {
	authority  Authority
	demo       map[string]struct{}
	failClosed bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDemoUsers installs the auditable allow-list of demonstration accounts
// that bypass permission checks. The list is configuration, never a constant
// buried in the decision branch.
func WithDemoUsers(ids []string) Option {
	return func(r *Resolver) {
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id != "" {
				r.demo[id] = struct{}{}
			}
		}
	}
}

// WithFailClosed makes authority failures deny instead of degrading to the
// read-only fallback. The default is fail-open: availability over strictness.
func WithFailClosed(closed bool) Option {
	return func(r *Resolver) { r.failClosed = closed }
}

// NewResolver constructs a Resolver.
func NewResolver(authority Authority, opts ...Option) (*Resolver, error) {
	if authority == nil {
		return nil, errors.New("authz: authority is required")
	}
	r := &Resolver{
		authority: authority,
		demo:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// IsDemo reports whether the user is on the demonstration allow-list.
func (r *Resolver) IsDemo(userID string) bool {
	_, ok := r.demo[userID]
	return ok
}

// HasPermission resolves an allow/deny decision for the identity:
//
//  1. no authenticated user: deny
//  2. demo identity: allow
//  3. no practice binding: degraded fallback only
//  4. otherwise delegate to the authority; on failure apply the same
//     fallback (or deny outright in fail-closed mode)
func (r *Resolver) HasPermission(ctx context.Context, ident Identity, perm PermissionType, resource ResourceType, resourceID string) bool {
	if ident.UserID == "" {
		obs.ObservePermission("no_user", false)
		return false
	}
	if r.IsDemo(ident.UserID) {
		obs.ObservePermission("demo", true)
		return true
	}
	if ident.PracticeID == "" {
		allowed := fallbackAllows(perm, resource)
		obs.ObservePermission("fallback", allowed)
		return allowed
	}

	allowed, err := r.authority.CheckPermission(ctx, ident.UserID, ident.PracticeID, string(perm), string(resource), resourceID)
	if err != nil {
		if r.failClosed {
			obs.ObservePermission("remote_fallback", false)
			return false
		}
		allowed = fallbackAllows(perm, resource)
		obs.ObservePermission("remote_fallback", allowed)
		obs.Warn("permission check degraded to fallback", map[string]any{
			"user_id":  ident.UserID,
			"resource": string(resource),
			"error":    err.Error(),
		})
		return allowed
	}
	obs.ObservePermission("remote", allowed)
	return allowed
}

// Require returns ErrDenied unless HasPermission allows the action.
func (r *Resolver) Require(ctx context.Context, ident Identity, perm PermissionType, resource ResourceType, resourceID string) error {
	if !r.HasPermission(ctx, ident, perm, resource, resourceID) {
		return ErrDenied
	}
	return nil
}

// UserRole resolves the identity's role. Precedence mirrors HasPermission:
// demo identities are owners, users without a practice binding are guests,
// lookup failures degrade to guest, and an unauthenticated identity has no
// role at all.
func (r *Resolver) UserRole(ctx context.Context, ident Identity) (Role, bool) {
	if ident.UserID == "" {
		return "", false
	}
	if r.IsDemo(ident.UserID) {
		return RoleOwner, true
	}
	if ident.PracticeID == "" {
		return RoleGuest, true
	}

	raw, err := r.authority.MemberRole(ctx, ident.UserID, ident.PracticeID)
	if err != nil {
		return RoleGuest, true
	}
	role, ok := ParseRole(raw)
	if !ok {
		return RoleGuest, true
	}
	return role, true
}

// fallbackAllows is the degraded policy applied when no practice context is
// available or the authority cannot be reached: read-only access to the safe
// resource subset, everything else denied.
func fallbackAllows(perm PermissionType, resource ResourceType) bool {
	if perm != PermissionRead {
		return false
	}
	return resource == ResourceProducts || resource == ResourceInventory
}
