package idempotency

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/entity_gateway/internal/errors"
)

// PostgresStore persists idempotency records in a single table:
//
//	CREATE TABLE gateway_idempotency_keys (
//	    key          TEXT PRIMARY KEY,
//	    request_hash TEXT NOT NULL,
//	    status       INT NOT NULL DEFAULT 0,
//	    response     BYTEA,
//	    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
// INSERT ... ON CONFLICT DO NOTHING gives first-writer-wins on the key.
// Status zero marks a recorded hash whose execution never completed.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an existing database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Find(ctx context.Context, key string) (*Record, error) {
	var row struct {
		RequestHash string `db:"request_hash"`
		Status      int    `db:"status"`
		Response    []byte `db:"response"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT request_hash, status, response FROM gateway_idempotency_keys WHERE key = $1
	`, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Record{RequestHash: row.RequestHash, Status: row.Status, Response: row.Response}, nil
}

func (s *PostgresStore) GetRequestHash(ctx context.Context, key string) (string, error) {
	var hash string
	err := s.db.GetContext(ctx, &hash, `
		SELECT request_hash FROM gateway_idempotency_keys WHERE key = $1
	`, key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (s *PostgresStore) Save(ctx context.Context, key, hash string, status int, response []byte) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_idempotency_keys (key, request_hash, status, response)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING
	`, key, hash, status, response)
	if err != nil {
		return err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted > 0 {
		return nil
	}

	// Lost the race or retried after a crash: the stored hash decides.
	stored, err := s.GetRequestHash(ctx, key)
	if err != nil {
		return err
	}
	if stored != hash {
		return errors.IdempotencyConflict(key)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE gateway_idempotency_keys SET status = $2, response = $3
		WHERE key = $1 AND status = 0
	`, key, status, response)
	return err
}
