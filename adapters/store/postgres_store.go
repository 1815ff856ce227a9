package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/layer-3/sigkey/core"
)

// PostgresChallengeRepository persists challenges in key_derivation_challenges
type PostgresChallengeRepository struct {
	db *sql.DB
}

// NewPostgresChallengeRepository creates a repository on db
func NewPostgresChallengeRepository(db *sql.DB) *PostgresChallengeRepository {
	return &PostgresChallengeRepository{db: db}
}

// Get returns the challenge stored for address
func (r *PostgresChallengeRepository) Get(ctx context.Context, address string) (*core.Challenge, error) {
	query := `SELECT wallet_address, challenge, created_at
			  FROM key_derivation_challenges WHERE wallet_address = $1`

	var c core.Challenge
	err := r.db.QueryRowContext(ctx, query, address).Scan(&c.WalletAddress, &c.Value, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return &c, nil
}

// CreateIfAbsent inserts the challenge, leaving an existing row untouched
func (r *PostgresChallengeRepository) CreateIfAbsent(ctx context.Context, challenge *core.Challenge) (*core.Challenge, bool, error) {
	query := `INSERT INTO key_derivation_challenges (wallet_address, challenge, created_at)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (wallet_address) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, challenge.WalletAddress, challenge.Value, challenge.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create challenge: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create challenge: %w", err)
	}
	if affected == 1 {
		stored := *challenge
		return &stored, true, nil
	}

	existing, err := r.Get(ctx, challenge.WalletAddress)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}
