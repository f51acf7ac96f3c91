package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CheckpointRepository implements the Checkpoint operations of C5.
type CheckpointRepository struct {
	db *sql.DB
}

// NewCheckpointRepository builds a repository over client's connection
// pool.
func NewCheckpointRepository(client *Client) *CheckpointRepository {
	return &CheckpointRepository{db: client.DB()}
}

// Upsert records blockNumber as the highest durably-processed block for
// chainID. Checkpoints are monotonically non-decreasing by contract of
// the caller (C1/C2 never call Upsert with a lower value); this method
// does not itself enforce monotonicity since both scanners already
// serialize their own writes behind the ownership handoff (§4.2, §5).
func (r *CheckpointRepository) Upsert(ctx context.Context, chainID uint64, blockNumber uint64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkpoints (chain_id, block_number)
		VALUES ($1, $2)
		ON CONFLICT (chain_id) DO UPDATE SET block_number = EXCLUDED.block_number
	`, chainID, blockNumber)
	if err != nil {
		return fmt.Errorf("could not upsert checkpoint for chain %d: %w", chainID, err)
	}
	return nil
}

// Get returns the persisted checkpoint for chainID, or
// ErrCheckpointNotFound if the chain has never been checkpointed.
func (r *CheckpointRepository) Get(ctx context.Context, chainID uint64) (uint64, error) {
	var blockNumber uint64
	err := r.db.QueryRowContext(ctx, `
		SELECT block_number FROM checkpoints WHERE chain_id = $1
	`, chainID).Scan(&blockNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrCheckpointNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("could not get checkpoint for chain %d: %w", chainID, err)
	}
	return blockNumber, nil
}
