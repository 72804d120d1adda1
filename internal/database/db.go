package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrSellerNotFound is returned when no seller row matches a slug.
var ErrSellerNotFound = errors.New("seller not found")

// DB wraps the SQLite database
type DB struct {
	*sql.DB
	key []byte
}

// Seller is a marketplace account the copier can act on behalf of.
type Seller struct {
	ID             int64      `json:"id"`
	Slug           string     `json:"slug"`
	Name           string     `json:"name"`
	UserID         string     `json:"userId"`
	AppID          string     `json:"appId,omitempty"`
	SecretKey      string     `json:"-"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Open opens or creates the database. key may be nil to store secrets in plain text.
func Open(dbPath string, key []byte) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; serialise through one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &DB{DB: db, key: key}, nil
}

// UpsertSeller creates a seller or updates the existing row with the same slug.
func (db *DB) UpsertSeller(ctx context.Context, s *Seller) error {
	secret, err := db.sealSecret(s.SecretKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret key: %w", err)
	}
	access, err := db.sealSecret(s.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := db.sealSecret(s.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	now := time.Now().UTC()
	_, err = db.ExecContext(ctx, `
		INSERT INTO sellers (slug, name, user_id, app_id, secret_key, access_token, refresh_token,
		                     token_expires_at, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			name = excluded.name,
			user_id = excluded.user_id,
			app_id = excluded.app_id,
			secret_key = excluded.secret_key,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, s.Slug, s.Name, s.UserID, s.AppID, secret, access, refresh, s.TokenExpiresAt, s.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert seller %s: %w", s.Slug, err)
	}
	return nil
}

// GetSeller loads a seller by slug, decrypting its credentials.
func (db *DB) GetSeller(ctx context.Context, slug string) (*Seller, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, slug, name, user_id, app_id, secret_key, access_token, refresh_token,
		       token_expires_at, active, created_at, updated_at
		FROM sellers
		WHERE slug = ?
	`, slug)

	s, err := db.scanSeller(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSellerNotFound, slug)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListSellers returns every seller ordered by slug. Credentials are not loaded.
func (db *DB) ListSellers(ctx context.Context) ([]Seller, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, slug, name, user_id, app_id, token_expires_at, active, created_at, updated_at
		FROM sellers
		ORDER BY slug
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sellers []Seller
	for rows.Next() {
		var s Seller
		var expires sql.NullTime
		if err := rows.Scan(&s.ID, &s.Slug, &s.Name, &s.UserID, &s.AppID, &expires,
			&s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time
			s.TokenExpiresAt = &t
		}
		sellers = append(sellers, s)
	}
	return sellers, rows.Err()
}

// UpdateSellerToken stores a rotated OAuth token pair.
func (db *DB) UpdateSellerToken(ctx context.Context, slug, accessToken, refreshToken string, expiresAt time.Time) error {
	access, err := db.sealSecret(accessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := db.sealSecret(refreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	res, err := db.ExecContext(ctx, `
		UPDATE sellers
		SET access_token = ?, refresh_token = ?, token_expires_at = ?, updated_at = ?
		WHERE slug = ?
	`, access, refresh, expiresAt.UTC(), time.Now().UTC(), slug)
	if err != nil {
		return fmt.Errorf("failed to update token for %s: %w", slug, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSellerNotFound, slug)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanSeller(row rowScanner) (*Seller, error) {
	var s Seller
	var secret, access, refresh []byte
	var expires sql.NullTime
	if err := row.Scan(&s.ID, &s.Slug, &s.Name, &s.UserID, &s.AppID, &secret, &access, &refresh,
		&expires, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		s.TokenExpiresAt = &t
	}

	var err error
	if s.SecretKey, err = db.openSecret(secret); err != nil {
		return nil, fmt.Errorf("failed to decrypt secret key for %s: %w", s.Slug, err)
	}
	if s.AccessToken, err = db.openSecret(access); err != nil {
		return nil, fmt.Errorf("failed to decrypt access token for %s: %w", s.Slug, err)
	}
	if s.RefreshToken, err = db.openSecret(refresh); err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token for %s: %w", s.Slug, err)
	}
	return &s, nil
}
