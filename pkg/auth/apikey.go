package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// KeyPrefix identifies grc-api keys
	KeyPrefix = "grc_"
	// KeyLength is the number of random bytes (32 bytes = 256 bits)
	KeyLength = 32
)

var encodedKeyLength = base64.RawURLEncoding.EncodedLen(KeyLength)

// KeyGenerator generates, hashes and format-checks API keys.
type KeyGenerator struct{}

// NewKeyGenerator creates a new key generator
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{}
}

// GenerateKey creates a new API key.
// Format: grc_<base64url(32 random bytes)>
func (kg *KeyGenerator) GenerateKey() (key string, keyHash string, keyPrefix string, err error) {
	randomBytes := make([]byte, KeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	key = KeyPrefix + encoded

	return key, kg.HashKey(key), KeyPrefix + encoded[:8], nil
}

// HashKey computes the SHA256 hash of a key for lookup
func (kg *KeyGenerator) HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// ValidateKeyFormat checks prefix, length and encoding without a lookup.
func (kg *KeyGenerator) ValidateKeyFormat(key string) error {
	if !strings.HasPrefix(key, KeyPrefix) {
		return fmt.Errorf("%w: key must start with %q", ErrInvalidCredentialFormat, KeyPrefix)
	}

	encoded := strings.TrimPrefix(key, KeyPrefix)
	if len(encoded) != encodedKeyLength {
		return fmt.Errorf("%w: key has wrong length", ErrInvalidCredentialFormat)
	}
	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("%w: invalid key encoding", ErrInvalidCredentialFormat)
	}
	return nil
}

// APIKeyStore finds API keys by hash. A missing key returns (nil, nil).
type APIKeyStore interface {
	FindByHash(ctx context.Context, keyHash string) (*APIKey, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// PostgresAPIKeyStore stores API keys in the api_keys table.
type PostgresAPIKeyStore struct {
	db        *sql.DB
	generator *KeyGenerator
}

// NewPostgresAPIKeyStore creates a key store on db.
func NewPostgresAPIKeyStore(db *sql.DB) *PostgresAPIKeyStore {
	return &PostgresAPIKeyStore{db: db, generator: NewKeyGenerator()}
}

// Create mints a key for an organization and returns the record with the
// plaintext key. The plaintext is not recoverable afterwards.
func (s *PostgresAPIKeyStore) Create(ctx context.Context, orgID, name string, expiresAt *time.Time) (*APIKey, string, error) {
	if orgID == "" || name == "" {
		return nil, "", errors.New("organization id and name are required")
	}

	key, keyHash, keyPrefix, err := s.generator.GenerateKey()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate key: %w", err)
	}

	record := &APIKey{
		ID:             "apk_" + uuid.NewString(),
		OrganizationID: orgID,
		Name:           name,
		KeyPrefix:      keyPrefix,
		KeyHash:        keyHash,
		IsActive:       true,
		ExpiresAt:      expiresAt,
	}

	query := `
		INSERT INTO api_keys (id, organization_id, name, key_prefix, key_hash, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6)
		RETURNING created_at
	`
	if err := s.db.QueryRowContext(ctx, query,
		record.ID, record.OrganizationID, record.Name, record.KeyPrefix, record.KeyHash, record.ExpiresAt,
	).Scan(&record.CreatedAt); err != nil {
		return nil, "", fmt.Errorf("failed to create api key: %w", err)
	}

	return record, key, nil
}

// FindByHash looks up a key by its SHA256 hash.
func (s *PostgresAPIKeyStore) FindByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	query := `
		SELECT id, organization_id, name, key_prefix, key_hash, is_active,
		       expires_at, last_used_at, revoked_at, created_at
		FROM api_keys
		WHERE key_hash = $1
	`
	key := &APIKey{}
	var expiresAt, lastUsedAt, revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, keyHash).Scan(
		&key.ID, &key.OrganizationID, &key.Name, &key.KeyPrefix, &key.KeyHash, &key.IsActive,
		&expiresAt, &lastUsedAt, &revokedAt, &key.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find api key: %w", err)
	}

	key.ExpiresAt = nullTimePtr(expiresAt)
	key.LastUsedAt = nullTimePtr(lastUsedAt)
	key.RevokedAt = nullTimePtr(revokedAt)
	return key, nil
}

// TouchLastUsed records when a key was last accepted.
func (s *PostgresAPIKeyStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at, id); err != nil {
		return fmt.Errorf("failed to update api key usage: %w", err)
	}
	return nil
}

// Revoke deactivates a key within its organization.
func (s *PostgresAPIKeyStore) Revoke(ctx context.Context, orgID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET is_active = FALSE, revoked_at = NOW()
		WHERE id = $1 AND organization_id = $2 AND revoked_at IS NULL
	`, id, orgID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("api key not found")
	}
	return nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
