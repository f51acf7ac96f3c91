// Package engine implements the two coupled state machines that make up
// an obligation chain's runtime: a log scanner pair (Past Scanner, Live
// Scanner) feeding an Acknowledger that turns factory creation events
// into persisted obligations, and an Answerer that resolves and submits
// answers for them (§4).
package engine

import (
	"context"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/carrot-kpi/defillama-answerer/pkg/database"
	"github.com/carrot-kpi/defillama-answerer/pkg/ethereumclient"
	"github.com/carrot-kpi/defillama-answerer/pkg/specification"
)

// ChainClient is the subset of ethereumclient.Client the engine depends
// on, narrowed to an interface so tests can substitute a fake (per the
// ambient test-tooling conventions).
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogsRange(ctx context.Context, address common.Address, topic common.Hash, from, to uint64) ([]types.Log, error)
	FilterLogsAtBlock(ctx context.Context, address common.Address, topic common.Hash, blockHash common.Hash) ([]types.Log, error)
	SubscribeNewHead(ctx context.Context, headers chan<- *types.Header) (ethereum.Subscription, error)

	KPITokenOraclesAndExpiration(ctx context.Context, kpiToken common.Address) ([]common.Address, *big.Int, error)
	OracleFinalizedAndTemplate(ctx context.Context, oracle common.Address) (finalized bool, templateID uint64, ok bool, err error)
	OracleSpecificationCID(ctx context.Context, oracle common.Address) (string, error)
	OracleMeasurementTimestamp(ctx context.Context, oracle common.Address) (uint64, error)
	FetchOracleExpiration(ctx context.Context, oracle common.Address) (time.Time, error)

	SubmitFinalize(ctx context.Context, signer *ethereumclient.Signer, oracleAddress common.Address, answer *big.Int, maxAttempts int) (common.Hash, error)
	WaitForConfirmation(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// OracleStore is the subset of database.OracleRepository the engine
// depends on.
type OracleStore interface {
	Create(ctx context.Context, o database.ActiveOracle) error
	GetAnswerableByChain(ctx context.Context, chainID uint64) ([]database.ActiveOracle, error)
	UpdateAnswer(ctx context.Context, address common.Address, chainID uint64, answer *big.Int) error
	UpdateAnswerTxHash(ctx context.Context, address common.Address, chainID uint64, txHash common.Hash) error
	UpdateExpiration(ctx context.Context, address common.Address, chainID uint64, expiration time.Time) error
	ClearAnswerTxHash(ctx context.Context, address common.Address, chainID uint64) error
	Delete(ctx context.Context, address common.Address, chainID uint64) error
}

// CheckpointStore is the subset of database.CheckpointRepository the
// engine depends on.
type CheckpointStore interface {
	Upsert(ctx context.Context, chainID, blockNumber uint64) error
	Get(ctx context.Context, chainID uint64) (uint64, error)
}

// IPFSClient fetches a specification document by content id.
type IPFSClient interface {
	FetchSpecification(ctx context.Context, cid string) (specification.Specification, error)
}

// Web3StorageClient pins a specification document so it survives
// regardless of the original uploader's IPFS node (§5, supplemented
// feature).
type Web3StorageClient interface {
	Pin(ctx context.Context, cid string) error
}
