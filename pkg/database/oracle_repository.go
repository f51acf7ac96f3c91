package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"

	"github.com/carrot-kpi/defillama-answerer/pkg/specification"
)

// ActiveOracle is an outstanding resolution obligation (§3). Once Delete
// has been called for a row, the caller must not reuse the value it was
// read from — the State Store, not the in-memory copy, is authoritative.
type ActiveOracle struct {
	Address              common.Address
	ChainID              uint64
	MeasurementTimestamp time.Time
	Specification        specification.Specification
	Expiration           *time.Time
	Answer               *big.Int
	AnswerTxHash         *common.Hash
}

// OracleRepository implements the ActiveOracle operations of C5.
type OracleRepository struct {
	db *sql.DB
}

// NewOracleRepository builds a repository over client's connection pool.
func NewOracleRepository(client *Client) *OracleRepository {
	return &OracleRepository{db: client.DB()}
}

// Create inserts a new active oracle. Idempotent under replay: if a row
// with the same (address, chain_id) already exists, the insert is a
// silent no-op and the existing row's fields (which may already carry an
// answer) are left untouched, per §4.3/§9.
func (r *OracleRepository) Create(ctx context.Context, o ActiveOracle) error {
	specJSON, err := json.Marshal(o.Specification)
	if err != nil {
		return fmt.Errorf("could not marshal specification: %w", err)
	}

	var expiration interface{}
	if o.Expiration != nil {
		expiration = *o.Expiration
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO active_oracles (address, chain_id, measurement_timestamp, specification, expiration)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address, chain_id) DO NOTHING
	`, EncodeAddress(o.Address), o.ChainID, o.MeasurementTimestamp, specJSON, expiration)
	if err != nil {
		return fmt.Errorf("could not insert active oracle at address %s: %w", o.Address.Hex(), err)
	}

	return nil
}

// GetAnswerableByChain returns every row for chainID whose
// measurement_timestamp has already passed.
func (r *OracleRepository) GetAnswerableByChain(ctx context.Context, chainID uint64) ([]ActiveOracle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, chain_id, measurement_timestamp, specification, expiration, answer, answer_tx_hash
		FROM active_oracles
		WHERE chain_id = $1 AND measurement_timestamp <= now()
	`, chainID)
	if err != nil {
		return nil, fmt.Errorf("could not query answerable oracles for chain %d: %w", chainID, err)
	}
	defer rows.Close()

	var oracles []ActiveOracle
	for rows.Next() {
		oracle, err := scanActiveOracle(rows)
		if err != nil {
			return nil, err
		}
		oracles = append(oracles, oracle)
	}

	return oracles, rows.Err()
}

func scanActiveOracle(row interface {
	Scan(dest ...interface{}) error
}) (ActiveOracle, error) {
	var (
		addressBytes []byte
		chainID      uint64
		measurement  time.Time
		specBytes    []byte
		expiration   sql.NullTime
		answerBytes  []byte
		txHashBytes  []byte
	)

	if err := row.Scan(&addressBytes, &chainID, &measurement, &specBytes, &expiration, &answerBytes, &txHashBytes); err != nil {
		return ActiveOracle{}, fmt.Errorf("could not scan active oracle row: %w", err)
	}

	address, err := DecodeAddress(addressBytes)
	if err != nil {
		return ActiveOracle{}, err
	}

	var spec specification.Specification
	if err := json.Unmarshal(specBytes, &spec); err != nil {
		return ActiveOracle{}, fmt.Errorf("could not unmarshal specification for oracle %s: %w", address.Hex(), err)
	}

	oracle := ActiveOracle{
		Address:              address,
		ChainID:              chainID,
		MeasurementTimestamp: measurement,
		Specification:        spec,
	}

	if expiration.Valid {
		exp := expiration.Time
		oracle.Expiration = &exp
	}
	if answerBytes != nil {
		answer, err := DecodeU256(answerBytes)
		if err != nil {
			return ActiveOracle{}, err
		}
		oracle.Answer = answer
	}
	if txHashBytes != nil {
		hash, err := DecodeHash(txHashBytes)
		if err != nil {
			return ActiveOracle{}, err
		}
		oracle.AnswerTxHash = &hash
	}

	return oracle, nil
}

// UpdateAnswer persists the memoized computed answer for a row, per
// §4.4 step c — must be written before the finalization call is
// constructed.
func (r *OracleRepository) UpdateAnswer(ctx context.Context, address common.Address, chainID uint64, answer *big.Int) error {
	answerBytes, err := EncodeU256(answer)
	if err != nil {
		return fmt.Errorf("could not encode answer: %w", err)
	}

	return r.update(ctx, address, chainID, "answer", answerBytes)
}

// UpdateAnswerTxHash persists the in-flight submission hash BEFORE the
// caller awaits confirmation — the crash-safety linchpin of §4.4 step e.
func (r *OracleRepository) UpdateAnswerTxHash(ctx context.Context, address common.Address, chainID uint64, txHash common.Hash) error {
	return r.update(ctx, address, chainID, "answer_tx_hash", EncodeHash(txHash))
}

// UpdateExpiration persists an expiration lazily fetched from chain.
func (r *OracleRepository) UpdateExpiration(ctx context.Context, address common.Address, chainID uint64, expiration time.Time) error {
	return r.update(ctx, address, chainID, "expiration", expiration)
}

// ClearAnswerTxHash nulls out answer_tx_hash so the next tick can retry
// submission. Must succeed or the caller must treat the obligation as
// stuck (§4.4 step f, §7 class 4).
func (r *OracleRepository) ClearAnswerTxHash(ctx context.Context, address common.Address, chainID uint64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE active_oracles SET answer_tx_hash = NULL
		WHERE address = $1 AND chain_id = $2
	`, EncodeAddress(address), chainID)
	if err != nil {
		return fmt.Errorf("could not clear answer tx hash for oracle %s: %w", address.Hex(), err)
	}
	return checkRowAffected(result, address)
}

func (r *OracleRepository) update(ctx context.Context, address common.Address, chainID uint64, column string, value interface{}) error {
	query := fmt.Sprintf(`UPDATE active_oracles SET %s = $1 WHERE address = $2 AND chain_id = $3`, pq.QuoteIdentifier(column))
	result, err := r.db.ExecContext(ctx, query, value, EncodeAddress(address), chainID)
	if err != nil {
		return fmt.Errorf("could not update %s for oracle %s: %w", column, address.Hex(), err)
	}
	return checkRowAffected(result, address)
}

// Delete removes a row, either on successful finalization or on
// detecting its expiration has passed (§4.4 step b/g). The caller must
// not reuse the ActiveOracle value it read after calling Delete.
func (r *OracleRepository) Delete(ctx context.Context, address common.Address, chainID uint64) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM active_oracles WHERE address = $1 AND chain_id = $2
	`, EncodeAddress(address), chainID)
	if err != nil {
		return fmt.Errorf("could not delete oracle %s: %w", address.Hex(), err)
	}
	return checkRowAffected(result, address)
}

func checkRowAffected(result sql.Result, address common.Address) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not determine rows affected for oracle %s: %w", address.Hex(), err)
	}
	if n == 0 {
		return fmt.Errorf("%w: oracle %s", ErrOracleNotFound, address.Hex())
	}
	return nil
}
