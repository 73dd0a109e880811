// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/latticehq/privybridge/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store on a PostgreSQL database via sqlx.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to databaseURL, verifies connectivity, and
// applies embedded migrations.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	logger.Infow("connected to postgres storage")
	return &PostgresStore{db: db}, nil
}

// Clients returns the client repository.
func (s *PostgresStore) Clients() ClientStore { return &pgClients{s.db} }

// AuthorizationCodes returns the authorization-code repository.
func (s *PostgresStore) AuthorizationCodes() AuthorizationCodeStore { return &pgCodes{s.db} }

// RefreshTokens returns the refresh-token repository.
func (s *PostgresStore) RefreshTokens() RefreshTokenStore { return &pgRefreshTokens{s.db} }

// Sessions returns the access-token session repository.
func (s *PostgresStore) Sessions() SessionStore { return &pgSessions{s.db} }

// Health pings the database.
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// jsonbMap stores a map[string]any as a JSONB column.
type jsonbMap map[string]any

// Value implements driver.Valuer.
func (m jsonbMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *jsonbMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unexpected jsonb source type %T", src)
	}
	return json.Unmarshal(b, m)
}

// -----------------------
// ClientStore
// -----------------------

type pgClients struct{ db *sqlx.DB }

type clientRow struct {
	ID           string         `db:"id"`
	DisplayName  string         `db:"display_name"`
	RedirectURIs pq.StringArray `db:"redirect_uris"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r *clientRow) toClient() *Client {
	return &Client{
		ID:           r.ID,
		DisplayName:  r.DisplayName,
		RedirectURIs: []string(r.RedirectURIs),
		CreatedAt:    r.CreatedAt,
	}
}

func (p *pgClients) Upsert(ctx context.Context, client *Client) error {
	const q = `INSERT INTO oauth_clients (id, display_name, redirect_uris, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name, redirect_uris = EXCLUDED.redirect_uris`
	_, err := p.db.ExecContext(ctx, q,
		client.ID, client.DisplayName, pq.StringArray(client.RedirectURIs), client.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert client: %w", err)
	}
	return nil
}

func (p *pgClients) FindByID(ctx context.Context, id string) (*Client, error) {
	var row clientRow
	const q = `SELECT id, display_name, redirect_uris, created_at FROM oauth_clients WHERE id = $1`
	if err := p.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query client: %w", err)
	}
	return row.toClient(), nil
}

func (p *pgClients) FindByIDAndRedirectURI(ctx context.Context, id, redirectURI string) (*Client, error) {
	client, err := p.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !client.HasRedirectURI(redirectURI) {
		return nil, ErrNotFound
	}
	return client, nil
}

// -----------------------
// AuthorizationCodeStore
// -----------------------

type pgCodes struct{ db *sqlx.DB }

type codeRow struct {
	Code                string         `db:"code"`
	ClientID            string         `db:"client_id"`
	RedirectURI         string         `db:"redirect_uri"`
	UpstreamUserID      string         `db:"upstream_user_id"`
	UpstreamToken       string         `db:"upstream_token"`
	UpstreamClaims      jsonbMap       `db:"upstream_claims"`
	Scopes              pq.StringArray `db:"scopes"`
	CodeChallenge       string         `db:"code_challenge"`
	CodeChallengeMethod string         `db:"code_challenge_method"`
	ExpiresAt           time.Time      `db:"expires_at"`
	Used                bool           `db:"used"`
	CreatedAt           time.Time      `db:"created_at"`
}

func (r *codeRow) toCode() *AuthorizationCode {
	return &AuthorizationCode{
		Code:                r.Code,
		ClientID:            r.ClientID,
		RedirectURI:         r.RedirectURI,
		UpstreamUserID:      r.UpstreamUserID,
		UpstreamToken:       r.UpstreamToken,
		UpstreamClaims:      map[string]any(r.UpstreamClaims),
		Scopes:              []string(r.Scopes),
		CodeChallenge:       r.CodeChallenge,
		CodeChallengeMethod: r.CodeChallengeMethod,
		ExpiresAt:           r.ExpiresAt,
		Used:                r.Used,
		CreatedAt:           r.CreatedAt,
	}
}

func (p *pgCodes) Create(ctx context.Context, code *AuthorizationCode) error {
	const q = `INSERT INTO authorization_codes
		(code, client_id, redirect_uri, upstream_user_id, upstream_token,
		 upstream_claims, scopes, code_challenge, code_challenge_method,
		 expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := p.db.ExecContext(ctx, q,
		code.Code, code.ClientID, code.RedirectURI, code.UpstreamUserID,
		code.UpstreamToken, jsonbMap(code.UpstreamClaims), pq.StringArray(code.Scopes),
		code.CodeChallenge, code.CodeChallengeMethod, code.ExpiresAt, code.Used, code.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert authorization code: %w", err)
	}
	return nil
}

func (p *pgCodes) FindByCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	var row codeRow
	const q = `SELECT code, client_id, redirect_uri, upstream_user_id, upstream_token,
		upstream_claims, scopes, code_challenge, code_challenge_method,
		expires_at, used, created_at
		FROM authorization_codes WHERE code = $1`
	if err := p.db.GetContext(ctx, &row, q, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query authorization code: %w", err)
	}
	return row.toCode(), nil
}

func (p *pgCodes) MarkUsed(ctx context.Context, code string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE authorization_codes SET used = TRUE WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("failed to mark authorization code used: %w", err)
	}
	return requireRows(res)
}

func (p *pgCodes) Delete(ctx context.Context, code string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM authorization_codes WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return requireRows(res)
}

func (p *pgCodes) PurgeExpiredOrUsed(ctx context.Context, now time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM authorization_codes WHERE used OR expires_at < $1`, now)
	if err != nil {
		return fmt.Errorf("failed to purge authorization codes: %w", err)
	}
	return nil
}

// -----------------------
// RefreshTokenStore
// -----------------------

type pgRefreshTokens struct{ db *sqlx.DB }

type refreshTokenRow struct {
	ID             string         `db:"id"`
	Token          string         `db:"token"`
	ClientID       string         `db:"client_id"`
	UpstreamUserID string         `db:"upstream_user_id"`
	UpstreamToken  string         `db:"upstream_token"`
	Scopes         pq.StringArray `db:"scopes"`
	ExpiresAt      time.Time      `db:"expires_at"`
	RevokedAt      *time.Time     `db:"revoked_at"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r *refreshTokenRow) toRefreshToken() *RefreshToken {
	return &RefreshToken{
		ID:             r.ID,
		Token:          r.Token,
		ClientID:       r.ClientID,
		UpstreamUserID: r.UpstreamUserID,
		UpstreamToken:  r.UpstreamToken,
		Scopes:         []string(r.Scopes),
		ExpiresAt:      r.ExpiresAt,
		RevokedAt:      r.RevokedAt,
		CreatedAt:      r.CreatedAt,
	}
}

func (p *pgRefreshTokens) Create(ctx context.Context, token *RefreshToken) error {
	const q = `INSERT INTO refresh_tokens
		(id, token, client_id, upstream_user_id, upstream_token, scopes,
		 expires_at, revoked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := p.db.ExecContext(ctx, q,
		token.ID, token.Token, token.ClientID, token.UpstreamUserID,
		token.UpstreamToken, pq.StringArray(token.Scopes),
		token.ExpiresAt, token.RevokedAt, token.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}
	return nil
}

func (p *pgRefreshTokens) FindByToken(ctx context.Context, raw string) (*RefreshToken, error) {
	var row refreshTokenRow
	const q = `SELECT id, token, client_id, upstream_user_id, upstream_token,
		scopes, expires_at, revoked_at, created_at
		FROM refresh_tokens WHERE token = $1`
	if err := p.db.GetContext(ctx, &row, q, raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query refresh token: %w", err)
	}
	return row.toRefreshToken(), nil
}

func (p *pgRefreshTokens) RevokeByToken(ctx context.Context, raw string, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2 WHERE token = $1`, raw, at)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return requireRows(res)
}

func (p *pgRefreshTokens) DeleteByToken(ctx context.Context, raw string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, raw)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return requireRows(res)
}

func (p *pgRefreshTokens) RevokeAllForUser(ctx context.Context, clientID, upstreamUserID string, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $3
		 WHERE client_id = $1 AND upstream_user_id = $2 AND revoked_at IS NULL`,
		clientID, upstreamUserID, at)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh tokens for user: %w", err)
	}
	return nil
}

func (p *pgRefreshTokens) PurgeExpiredOrRevoked(ctx context.Context, now time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE revoked_at IS NOT NULL OR expires_at < $1`, now)
	if err != nil {
		return fmt.Errorf("failed to purge refresh tokens: %w", err)
	}
	return nil
}

// -----------------------
// SessionStore
// -----------------------

type pgSessions struct{ db *sqlx.DB }

type sessionRow struct {
	ID                string         `db:"id"`
	JTI               string         `db:"jti"`
	ClientID          string         `db:"client_id"`
	UpstreamUserID    string         `db:"upstream_user_id"`
	UpstreamToken     string         `db:"upstream_token"`
	Scopes            pq.StringArray `db:"scopes"`
	ExpiresAt         time.Time      `db:"expires_at"`
	CreatedAt         time.Time      `db:"created_at"`
	UpstreamInvalidAt *time.Time     `db:"upstream_invalid_at"`
}

func (r *sessionRow) toSession() *AccessTokenSession {
	return &AccessTokenSession{
		ID:                r.ID,
		JTI:               r.JTI,
		ClientID:          r.ClientID,
		UpstreamUserID:    r.UpstreamUserID,
		UpstreamToken:     r.UpstreamToken,
		Scopes:            []string(r.Scopes),
		ExpiresAt:         r.ExpiresAt,
		CreatedAt:         r.CreatedAt,
		UpstreamInvalidAt: r.UpstreamInvalidAt,
	}
}

func (p *pgSessions) Create(ctx context.Context, session *AccessTokenSession) error {
	const q = `INSERT INTO access_token_sessions
		(id, jti, client_id, upstream_user_id, upstream_token, scopes,
		 expires_at, created_at, upstream_invalid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := p.db.ExecContext(ctx, q,
		session.ID, session.JTI, session.ClientID, session.UpstreamUserID,
		session.UpstreamToken, pq.StringArray(session.Scopes),
		session.ExpiresAt, session.CreatedAt, session.UpstreamInvalidAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (p *pgSessions) FindByJTI(ctx context.Context, jti string) (*AccessTokenSession, error) {
	var row sessionRow
	const q = `SELECT id, jti, client_id, upstream_user_id, upstream_token,
		scopes, expires_at, created_at, upstream_invalid_at
		FROM access_token_sessions WHERE jti = $1`
	if err := p.db.GetContext(ctx, &row, q, jti); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return row.toSession(), nil
}

func (p *pgSessions) DeleteByJTI(ctx context.Context, jti string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM access_token_sessions WHERE jti = $1`, jti)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return requireRows(res)
}

func (p *pgSessions) MarkUpstreamInvalid(ctx context.Context, jti string, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE access_token_sessions SET upstream_invalid_at = $2 WHERE jti = $1`, jti, at)
	if err != nil {
		return fmt.Errorf("failed to mark session upstream-invalid: %w", err)
	}
	return requireRows(res)
}

func (p *pgSessions) PurgeExpired(ctx context.Context, now time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM access_token_sessions WHERE expires_at < $1`, now)
	if err != nil {
		return fmt.Errorf("failed to purge sessions: %w", err)
	}
	return nil
}

// requireRows maps a zero-row update or delete to ErrNotFound.
func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Compile-time interface compliance checks.
var (
	_ Store                  = (*PostgresStore)(nil)
	_ ClientStore            = (*pgClients)(nil)
	_ AuthorizationCodeStore = (*pgCodes)(nil)
	_ RefreshTokenStore      = (*pgRefreshTokens)(nil)
	_ SessionStore           = (*pgSessions)(nil)
)
