// Package backend invokes the named remote procedures the application
// delegates its authoritative decisions to. Each procedure is a sealed
// contract implemented server-side; the client only binds parameters,
// bounds the call with a timeout, and maps failures.
package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/martynvhouten/MedStock-Pro/internal/obs"
)

// ErrUnavailable wraps every transport or execution failure, including
// timeouts. Callers route it into their degraded fallback paths.
var ErrUnavailable = errors.New("backend: unavailable")

const defaultCallTimeout = 5 * time.Second

// Client calls the remote procedures over the relational connection.
type Client struct {
	db      *sql.DB
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithCallTimeout bounds each remote call. Values <= 0 keep the default.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New constructs a Client.
func New(db *sql.DB, opts ...Option) *Client {
	c := &Client{db: db, timeout: defaultCallTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// ValidatePersonalMagicCode asks the authority whether the code matches a
// live personal magic code. ok=false means no match; a non-nil error means
// the authority could not be reached.
func (c *Client) ValidatePersonalMagicCode(ctx context.Context, code string) (string, bool, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	start := time.Now()

	var (
		success bool
		userID  sql.NullString
	)
	err := c.db.QueryRowContext(ctx,
		`select success, user_id from validate_personal_magic_code($1)`, code,
	).Scan(&success, &userID)
	obs.ObserveBackendCall("validate_personal_magic_code", start, err)
	if err != nil {
		return "", false, errUnavailable(err)
	}
	if !success || !userID.Valid {
		return "", false, nil
	}
	return userID.String, true, nil
}

// GeneratePersonalMagicCode invokes the authoritative code generator.
func (c *Client) GeneratePersonalMagicCode(ctx context.Context, userName, practiceName string) (string, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	start := time.Now()

	var code string
	err := c.db.QueryRowContext(ctx,
		`select generate_personal_magic_code($1, $2)`, userName, practiceName,
	).Scan(&code)
	obs.ObserveBackendCall("generate_personal_magic_code", start, err)
	if err != nil {
		return "", errUnavailable(err)
	}
	return code, nil
}

// CheckPermission asks the authority for an allow/deny decision.
func (c *Client) CheckPermission(ctx context.Context, userID, practiceID, permType, resourceType, resourceID string) (bool, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	start := time.Now()

	var allowed bool
	err := c.db.QueryRowContext(ctx,
		`select check_user_permission($1, $2, $3, $4, nullif($5,''))`,
		userID, practiceID, permType, resourceType, resourceID,
	).Scan(&allowed)
	obs.ObserveBackendCall("check_user_permission", start, err)
	if err != nil {
		return false, errUnavailable(err)
	}
	return allowed, nil
}

// UserPermissions returns the user's effective permission tuples as reported
// by the authority.
func (c *Client) UserPermissions(ctx context.Context, userID, practiceID string) (json.RawMessage, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	start := time.Now()

	var raw []byte
	err := c.db.QueryRowContext(ctx,
		`select get_user_permissions($1, $2)`, userID, practiceID,
	).Scan(&raw)
	obs.ObserveBackendCall("get_user_permissions", start, err)
	if err != nil {
		return nil, errUnavailable(err)
	}
	if len(raw) == 0 {
		raw = []byte(`[]`)
	}
	return json.RawMessage(raw), nil
}

// MemberRole returns the stored role for a (user, practice) pair.
func (c *Client) MemberRole(ctx context.Context, userID, practiceID string) (string, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	start := time.Now()

	var role string
	err := c.db.QueryRowContext(ctx,
		`select role from practice_members where user_id = $1 and practice_id = $2`,
		userID, practiceID,
	).Scan(&role)
	obs.ObserveBackendCall("member_role", start, err)
	if err != nil {
		return "", errUnavailable(err)
	}
	return role, nil
}

func errUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
