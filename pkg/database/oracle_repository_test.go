package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"

	"github.com/carrot-kpi/defillama-answerer/pkg/specification"
)

func newMockRepository(t *testing.T) (*OracleRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("could not create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &OracleRepository{db: db}, mock
}

func TestOracleRepositoryCreateIdempotent(t *testing.T) {
	repo, mock := newMockRepository(t)
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO active_oracles")).
		WithArgs(EncodeAddress(addr), uint64(1), sqlmock.AnyArg(), sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 0)) // ON CONFLICT DO NOTHING: zero rows affected

	err := repo.Create(context.Background(), ActiveOracle{
		Address:              addr,
		ChainID:              1,
		MeasurementTimestamp: time.Now(),
		Specification:        specification.Specification{Metric: "tvl", Payload: &specification.TVLPayload{Protocol: "aave"}},
	})
	if err != nil {
		t.Fatalf("unexpected error on duplicate insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOracleRepositoryClearAnswerTxHashNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)
	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")

	mock.ExpectExec(regexp.QuoteMeta("UPDATE active_oracles SET answer_tx_hash = NULL")).
		WithArgs(EncodeAddress(addr), uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ClearAnswerTxHash(context.Background(), addr, 7)
	if err == nil {
		t.Fatal("expected ErrOracleNotFound when no row matched")
	}
}

func TestOracleRepositoryGetAnswerableByChainScansRow(t *testing.T) {
	repo, mock := newMockRepository(t)
	addr := common.HexToAddress("0x3333333333333333333333333333333333333333")
	now := time.Now().Truncate(time.Second)

	specJSON := []byte(`{"metric":"tvl","payload":{"protocol":"aave"}}`)

	rows := sqlmock.NewRows([]string{"address", "chain_id", "measurement_timestamp", "specification", "expiration", "answer", "answer_tx_hash"}).
		AddRow(EncodeAddress(addr), uint64(1), now, specJSON, nil, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT address, chain_id, measurement_timestamp, specification, expiration, answer, answer_tx_hash")).
		WithArgs(uint64(1)).
		WillReturnRows(rows)

	oracles, err := repo.GetAnswerableByChain(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(oracles) != 1 {
		t.Fatalf("got %d oracles, want 1", len(oracles))
	}
	if oracles[0].Address != addr {
		t.Fatalf("got address %s, want %s", oracles[0].Address.Hex(), addr.Hex())
	}
	if oracles[0].AnswerTxHash != nil {
		t.Fatal("expected nil answer tx hash")
	}
	payload, ok := oracles[0].Specification.Payload.(*specification.TVLPayload)
	if !ok || payload.Protocol != "aave" {
		t.Fatalf("unexpected payload: %+v", oracles[0].Specification.Payload)
	}
}
