package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(ctx context.Context) UserStore               { return &pgUsers{db: s.db} }
func (s *PGStore) Invites(ctx context.Context) InviteStore           { return &pgInvites{db: s.db} }
func (s *PGStore) DeviceTokens(ctx context.Context) DeviceTokenStore { return &pgTokens{db: s.db} }
func (s *PGStore) Sessions(ctx context.Context) SessionStore         { return &pgSessions{db: s.db} }
func (s *PGStore) Practices(ctx context.Context) PracticeStore       { return &pgPractices{db: s.db} }

// CreateUserFromInvite inserts the user and consumes the invite in a single
// transaction. The conditional update guards the at-most-once conversion
// invariant: a consumed, exhausted, disabled or expired invite matches no row
// and the whole transaction rolls back with ErrConflict.
func (s *PGStore) CreateUserFromInvite(ctx context.Context, u *PermanentUser, inviteID string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into permanent_users(
			id, practice_id, full_name, email, personal_magic_code,
			magic_code_enabled, email_login_enabled, password_hash,
			device_remember_enabled, role, department,
			preferred_login_method, created_from_invite_id,
			timezone, language, is_active, login_count, created_at, updated_at)
		values ($1,$2,$3,nullif($4,''),nullif($5,''),$6,$7,nullif($8,''),$9,$10,nullif($11,''),$12,$13,$14,$15,$16,0,$17,$17)
	`, u.ID, u.PracticeID, u.FullName, u.Email, u.PersonalMagicCode,
		u.MagicCodeEnabled, u.EmailLoginEnabled, u.PasswordHash,
		u.DeviceRememberEnabled, u.Role, u.Department,
		string(u.PreferredLoginMethod), u.CreatedFromInviteID,
		u.Timezone, u.Language, u.IsActive, at); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return ErrConflict
			case pgErrForeignKeyViolation:
				return ErrNotFound
			}
		}
		return err
	}

	res, err := tx.ExecContext(ctx, `
		update magic_invites
		set current_uses = current_uses + 1,
		    converted_to_user_id = $1,
		    conversion_completed_at = $2,
		    updated_at = $2
		where id = $3
		  and is_active = true
		  and converted_to_user_id is null
		  and current_uses < max_uses
		  and (expires_at is null or expires_at > $2)
	`, u.ID, at, inviteID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return ErrConflict
	}

	return tx.Commit()
}

// User sub-store ------------------------------------------------------------

type pgUsers struct{ db *sql.DB }

const userColumns = `
	id, practice_id, full_name, coalesce(email,''), coalesce(personal_magic_code,''),
	magic_code_enabled, email_login_enabled, coalesce(password_hash,''),
	device_remember_enabled, role, coalesce(department,''),
	preferred_login_method, coalesce(created_from_invite_id,''),
	timezone, language, is_active, login_count, last_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*PermanentUser, error) {
	var (
		u      PermanentUser
		method string
		last   sql.NullTime
	)
	if err := row.Scan(
		&u.ID, &u.PracticeID, &u.FullName, &u.Email, &u.PersonalMagicCode,
		&u.MagicCodeEnabled, &u.EmailLoginEnabled, &u.PasswordHash,
		&u.DeviceRememberEnabled, &u.Role, &u.Department,
		&method, &u.CreatedFromInviteID,
		&u.Timezone, &u.Language, &u.IsActive, &u.LoginCount, &last,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.PreferredLoginMethod = LoginMethod(method)
	if last.Valid {
		t := last.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

func (s *pgUsers) Create(ctx context.Context, u *PermanentUser) error {
	_, err := s.db.ExecContext(ctx, `
		insert into permanent_users(
			id, practice_id, full_name, email, personal_magic_code,
			magic_code_enabled, email_login_enabled, password_hash,
			device_remember_enabled, role, department,
			preferred_login_method, created_from_invite_id,
			timezone, language, is_active, login_count, created_at, updated_at)
		values ($1,$2,$3,nullif($4,''),nullif($5,''),$6,$7,nullif($8,''),$9,$10,nullif($11,''),$12,$13,$14,$15,$16,0,$17,$17)
	`, u.ID, u.PracticeID, u.FullName, u.Email, u.PersonalMagicCode,
		u.MagicCodeEnabled, u.EmailLoginEnabled, u.PasswordHash,
		u.DeviceRememberEnabled, u.Role, u.Department,
		string(u.PreferredLoginMethod), u.CreatedFromInviteID,
		u.Timezone, u.Language, u.IsActive, u.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *pgUsers) Find(ctx context.Context, id string) (*PermanentUser, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from permanent_users where id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (s *pgUsers) FindByEmail(ctx context.Context, email string) (*PermanentUser, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from permanent_users
		 where email = $1 and email_login_enabled = true and is_active = true`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (s *pgUsers) ListByPractice(ctx context.Context, practiceID string) ([]*PermanentUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from permanent_users
		 where practice_id = $1 and is_active = true
		 order by created_at desc`, practiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*PermanentUser
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *pgUsers) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update permanent_users
		set login_count = login_count + 1, last_login_at = $1, updated_at = $1
		where id = $2
	`, at, userID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return ErrNotFound
	}
	return nil
}

// Invite sub-store ----------------------------------------------------------

type pgInvites struct{ db *sql.DB }

const inviteColumns = `
	mi.id, mi.practice_id, coalesce(p.name,''), mi.magic_code,
	mi.current_uses, mi.max_uses, mi.expires_at, mi.is_active,
	coalesce(mi.converted_to_user_id,''), mi.conversion_completed_at,
	mi.created_at, mi.updated_at`

func scanInvite(row interface{ Scan(...any) error }) (*MagicInvite, error) {
	var (
		inv       MagicInvite
		expires   sql.NullTime
		converted sql.NullTime
	)
	if err := row.Scan(
		&inv.ID, &inv.PracticeID, &inv.PracticeName, &inv.MagicCode,
		&inv.CurrentUses, &inv.MaxUses, &expires, &inv.IsActive,
		&inv.ConvertedToUserID, &converted,
		&inv.CreatedAt, &inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		inv.ExpiresAt = &t
	}
	if converted.Valid {
		t := converted.Time
		inv.ConversionCompletedAt = &t
	}
	return &inv, nil
}

func (s *pgInvites) FindActiveByCode(ctx context.Context, code string, now time.Time) (*MagicInvite, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+inviteColumns+`
		from magic_invites mi
		join practices p on p.id = mi.practice_id
		where mi.magic_code = $1
		  and mi.is_active = true
		  and mi.current_uses < mi.max_uses
		  and (mi.expires_at is null or mi.expires_at > $2)
	`, code, now)
	inv, err := scanInvite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inv, err
}

func (s *pgInvites) Find(ctx context.Context, id string) (*MagicInvite, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+inviteColumns+`
		from magic_invites mi
		join practices p on p.id = mi.practice_id
		where mi.id = $1
	`, id)
	inv, err := scanInvite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inv, err
}

// Device token sub-store ----------------------------------------------------

type pgTokens struct{ db *sql.DB }

func (s *pgTokens) Create(ctx context.Context, tok *DeviceToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into device_tokens(
			id, user_id, device_fingerprint, device_name, user_agent,
			ip_address, token_hash, expires_at, is_active, login_count, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$10)
	`, tok.ID, tok.UserID, tok.DeviceFingerprint, tok.DeviceName, tok.UserAgent,
		tok.IPAddress, tok.TokenHash, tok.ExpiresAt, tok.IsActive, tok.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *pgTokens) FindActiveByFingerprint(ctx context.Context, fingerprint string, now time.Time) (*DeviceToken, error) {
	var (
		tok  DeviceToken
		last sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, device_fingerprint, device_name, user_agent,
		       ip_address, token_hash, expires_at, is_active, login_count,
		       last_used_at, created_at
		from device_tokens
		where device_fingerprint = $1 and is_active = true and expires_at > $2
	`, fingerprint, now).Scan(
		&tok.ID, &tok.UserID, &tok.DeviceFingerprint, &tok.DeviceName, &tok.UserAgent,
		&tok.IPAddress, &tok.TokenHash, &tok.ExpiresAt, &tok.IsActive, &tok.LoginCount,
		&last, &tok.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if last.Valid {
		t := last.Time
		tok.LastUsedAt = &t
	}
	return &tok, nil
}

func (s *pgTokens) RecordUse(ctx context.Context, tokenID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update device_tokens
		set login_count = login_count + 1, last_used_at = $1
		where id = $2
	`, at, tokenID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return ErrNotFound
	}
	return nil
}

// Session sub-store ---------------------------------------------------------

type pgSessions struct{ db *sql.DB }

func (s *pgSessions) Create(ctx context.Context, sess *UserSession) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_sessions(
			id, user_id, practice_id, session_token, login_method,
			device_fingerprint, ip_address, user_agent,
			expires_at, is_active, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, sess.ID, sess.UserID, sess.PracticeID, sess.SessionToken, string(sess.LoginMethod),
		sess.DeviceFingerprint, sess.IPAddress, sess.UserAgent,
		sess.ExpiresAt, sess.IsActive, sess.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ErrConflict
		}
		return err
	}
	return nil
}

// Practice sub-store --------------------------------------------------------

type pgPractices struct{ db *sql.DB }

func (s *pgPractices) Name(ctx context.Context, practiceID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`select name from practices where id = $1`, practiceID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("practice lookup: %w", err)
	}
	return name, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
