// pkg/tool/storage/nonce.go
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-lti/pkg/tool/lti"
)

// NonceStore is the SQL lti.NonceStore. A nonce is live until its expiry;
// expired rows are reclaimed by Use itself or by Purge.
type NonceStore struct {
	db  *DB
	Now func() time.Time
}

var _ lti.NonceStore = (*NonceStore)(nil)

func NewNonceStore(db *DB) *NonceStore { return &NonceStore{db: db} }

func (s *NonceStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Use inserts (scope, value) or takes over an expired row in one statement;
// exactly one concurrent caller sees an affected row.
func (s *NonceStore) Use(ctx context.Context, scope, value string, ttl time.Duration) (bool, error) {
	if err := checkNonce(scope, value); err != nil {
		return false, err
	}
	now := s.now()
	res, err := s.db.SQL.ExecContext(ctx, `
		INSERT INTO lti_nonce (scope, value, expires) VALUES ($1, $2, $3)
		ON CONFLICT (scope, value) DO UPDATE SET expires = EXCLUDED.expires
		WHERE lti_nonce.expires <= $4`,
		scope, value, now.Add(ttl).Unix(), now.Unix())
	if err != nil {
		return false, fmt.Errorf("storage: use nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: use nonce: %w", err)
	}
	return n == 1, nil
}

// Consume deletes a live (scope, value); the caller that removes the row wins.
func (s *NonceStore) Consume(ctx context.Context, scope, value string) (bool, error) {
	if err := checkNonce(scope, value); err != nil {
		return false, err
	}
	res, err := s.db.SQL.ExecContext(ctx,
		`DELETE FROM lti_nonce WHERE scope = $1 AND value = $2 AND expires > $3`,
		scope, value, s.now().Unix())
	if err != nil {
		return false, fmt.Errorf("storage: consume nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: consume nonce: %w", err)
	}
	return n == 1, nil
}

// Purge deletes expired nonces and returns how many were removed.
func (s *NonceStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.SQL.ExecContext(ctx, `DELETE FROM lti_nonce WHERE expires <= $1`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("storage: purge nonces: %w", err)
	}
	return res.RowsAffected()
}

func checkNonce(scope, value string) error {
	if strings.TrimSpace(scope) == "" || strings.TrimSpace(value) == "" {
		return fmt.Errorf("nonce: scope and value are required")
	}
	return nil
}
