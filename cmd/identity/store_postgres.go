package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements account persistence over PostgreSQL.
//
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via
//   identifiers.
// - Uniqueness and linkage races are resolved in SQL (unique index, guarded
//   UPDATE), never in Go, so concurrent logins across processes stay safe.
// - Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the account store (default
// "bidhub"). The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "bidhub",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const accountColumns = `id, email, email_norm, password_hash, external_id,
	display_name, avatar_url, verified, active, created_at, last_login_at`

// CreateAccount inserts a new account row. The unique index on email_norm
// is the single source of truth for email uniqueness; a violation surfaces
// as ConflictError{Field: "email"} so callers can treat the lost race as
// retryable.
func (s *PostgresStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.CreateAccount"

	if s == nil || s.pool == nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if err := in.validate(op); err != nil {
		return Account{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	email := strings.TrimSpace(in.Email)
	norm := NormalizeEmail(email)

	id, err := newAccountID(now)
	if err != nil {
		return Account{}, err
	}

	accounts := pgIdent(s.schema, "accounts")

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+accounts+` (
		     id, email, email_norm, password_hash, external_id,
		     display_name, avatar_url, verified, active, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9)`,
		id,
		email,
		norm,
		in.PasswordHash,
		pgTrimPtr(in.ExternalID),
		pgTrimPtr(in.DisplayName),
		pgTrimPtr(in.AvatarURL),
		in.Verified,
		now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, err
	}

	return Account{
		ID:           id,
		Email:        email,
		EmailNorm:    norm,
		PasswordHash: in.PasswordHash,
		ExternalID:   pgTrimPtr(in.ExternalID),
		DisplayName:  pgTrimPtr(in.DisplayName),
		AvatarURL:    pgTrimPtr(in.AvatarURL),
		Verified:     in.Verified,
		Active:       true,
		CreatedAt:    now,
	}, nil
}

// GetAccountByEmail looks up by normalized email.
func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	const op = "identity.GetAccountByEmail"

	if s == nil || s.pool == nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	norm := NormalizeEmail(email)
	if norm == "" {
		return Account{}, pgInvalid(op, "missing email")
	}

	accounts := pgIdent(s.schema, "accounts")
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+`
		   FROM `+accounts+`
		  WHERE email_norm = $1`,
		norm,
	)
	return scanAccount(op, row)
}

// GetAccountByID looks up by id.
func (s *PostgresStore) GetAccountByID(ctx context.Context, id string) (Account, error) {
	const op = "identity.GetAccountByID"

	if s == nil || s.pool == nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Account{}, pgInvalid(op, "missing account id")
	}

	accounts := pgIdent(s.schema, "accounts")
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+`
		   FROM `+accounts+`
		  WHERE id = $1`,
		id,
	)
	return scanAccount(op, row)
}

// LinkExternalIdentity attaches an external identity to an account that has
// none yet. The UPDATE is guarded on external_id still being NULL; losing
// that race returns ConflictError{Field: "external_id"} so the caller
// re-reads the row instead of overwriting a concurrent link.
func (s *PostgresStore) LinkExternalIdentity(ctx context.Context, accountID, externalID string, avatarURL *string, now time.Time) (Account, error) {
	const op = "identity.LinkExternalIdentity"

	if s == nil || s.pool == nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(accountID) == "" {
		return Account{}, pgInvalid(op, "missing account id")
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Account{}, pgInvalid(op, "missing external id")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	accounts := pgIdent(s.schema, "accounts")

	row := s.pool.QueryRow(ctx,
		`UPDATE `+accounts+`
		    SET external_id = $1,
		        verified = TRUE,
		        avatar_url = COALESCE($2, avatar_url)
		  WHERE id = $3
		    AND external_id IS NULL
		  RETURNING `+accountColumns,
		externalID,
		pgTrimPtr(avatarURL),
		accountID,
	)
	acct, err := scanAccount(op, row)
	if err != nil {
		if IsNotFound(err) {
			// Either the account is gone or it was linked concurrently.
			// Distinguish the two so the caller can retry on the conflict.
			if _, lookupErr := s.GetAccountByID(ctx, accountID); lookupErr == nil {
				return Account{}, ConflictError{Op: op, Field: "external_id"}
			}
			return Account{}, NotFoundError{Op: op, Resource: "account"}
		}
		return Account{}, err
	}
	return acct, nil
}

// UpdateAvatar refreshes the informational avatar URL.
func (s *PostgresStore) UpdateAvatar(ctx context.Context, accountID string, avatarURL *string) error {
	const op = "identity.UpdateAvatar"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(accountID) == "" {
		return pgInvalid(op, "missing account id")
	}

	accounts := pgIdent(s.schema, "accounts")
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+accounts+` SET avatar_url = $1 WHERE id = $2`,
		pgTrimPtr(avatarURL), accountID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

// TouchLastLogin records a successful authentication.
func (s *PostgresStore) TouchLastLogin(ctx context.Context, accountID string, now time.Time) error {
	const op = "identity.TouchLastLogin"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(accountID) == "" {
		return pgInvalid(op, "missing account id")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	accounts := pgIdent(s.schema, "accounts")
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+accounts+` SET last_login_at = $1 WHERE id = $2`,
		now, accountID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

// SetActive flips the active flag (idempotent).
func (s *PostgresStore) SetActive(ctx context.Context, accountID string, active bool) error {
	const op = "identity.SetActive"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(accountID) == "" {
		return pgInvalid(op, "missing account id")
	}

	accounts := pgIdent(s.schema, "accounts")
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+accounts+` SET active = $1 WHERE id = $2`,
		active, accountID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

// ---- helpers ----

func scanAccount(op string, row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.EmailNorm,
		&a.PasswordHash,
		&a.ExternalID,
		&a.DisplayName,
		&a.AvatarURL,
		&a.Verified,
		&a.Active,
		&a.CreatedAt,
		&a.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: op, Resource: "account"}
		}
		return Account{}, err
	}
	return a, nil
}

// pgTrimPtr trims a string pointer, returning nil if result is empty.
func pgTrimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

// pgInvalid standardizes invalid input errors.
func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names; fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch c {
	case "uq_accounts_email_norm":
		return "email", true
	case "uq_accounts_external_id":
		return "external_id", true
	default:
		switch {
		case strings.Contains(c, "email"):
			return "email", true
		case strings.Contains(c, "external"):
			return "external_id", true
		default:
			return "unique", true
		}
	}
}
