package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/carrot-kpi/defillama-answerer/pkg/database"
	"github.com/carrot-kpi/defillama-answerer/pkg/ethereumclient"
	"github.com/carrot-kpi/defillama-answerer/pkg/specification"
)

// fakeChainClient implements ChainClient with per-method function fields,
// so each test only wires up the calls it actually expects.
type fakeChainClient struct {
	blockNumberFunc                  func(ctx context.Context) (uint64, error)
	filterLogsRangeFunc              func(ctx context.Context, address common.Address, topic common.Hash, from, to uint64) ([]types.Log, error)
	filterLogsAtBlockFunc            func(ctx context.Context, address common.Address, topic common.Hash, blockHash common.Hash) ([]types.Log, error)
	subscribeNewHeadFunc             func(ctx context.Context, headers chan<- *types.Header) (ethereum.Subscription, error)
	kpiTokenOraclesAndExpirationFunc func(ctx context.Context, kpiToken common.Address) ([]common.Address, *big.Int, error)
	oracleFinalizedAndTemplateFunc   func(ctx context.Context, oracle common.Address) (bool, uint64, bool, error)
	oracleSpecificationCIDFunc       func(ctx context.Context, oracle common.Address) (string, error)
	oracleMeasurementTimestampFunc   func(ctx context.Context, oracle common.Address) (uint64, error)
	fetchOracleExpirationFunc        func(ctx context.Context, oracle common.Address) (time.Time, error)
	submitFinalizeFunc               func(ctx context.Context, signer *ethereumclient.Signer, oracleAddress common.Address, answer *big.Int, maxAttempts int) (common.Hash, error)
	waitForConfirmationFunc          func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

func (f *fakeChainClient) BlockNumber(ctx context.Context) (uint64, error) {
	return f.blockNumberFunc(ctx)
}

func (f *fakeChainClient) FilterLogsRange(ctx context.Context, address common.Address, topic common.Hash, from, to uint64) ([]types.Log, error) {
	return f.filterLogsRangeFunc(ctx, address, topic, from, to)
}

func (f *fakeChainClient) FilterLogsAtBlock(ctx context.Context, address common.Address, topic common.Hash, blockHash common.Hash) ([]types.Log, error) {
	return f.filterLogsAtBlockFunc(ctx, address, topic, blockHash)
}

func (f *fakeChainClient) SubscribeNewHead(ctx context.Context, headers chan<- *types.Header) (ethereum.Subscription, error) {
	return f.subscribeNewHeadFunc(ctx, headers)
}

func (f *fakeChainClient) KPITokenOraclesAndExpiration(ctx context.Context, kpiToken common.Address) ([]common.Address, *big.Int, error) {
	return f.kpiTokenOraclesAndExpirationFunc(ctx, kpiToken)
}

func (f *fakeChainClient) OracleFinalizedAndTemplate(ctx context.Context, oracle common.Address) (bool, uint64, bool, error) {
	return f.oracleFinalizedAndTemplateFunc(ctx, oracle)
}

func (f *fakeChainClient) OracleSpecificationCID(ctx context.Context, oracle common.Address) (string, error) {
	return f.oracleSpecificationCIDFunc(ctx, oracle)
}

func (f *fakeChainClient) OracleMeasurementTimestamp(ctx context.Context, oracle common.Address) (uint64, error) {
	return f.oracleMeasurementTimestampFunc(ctx, oracle)
}

func (f *fakeChainClient) FetchOracleExpiration(ctx context.Context, oracle common.Address) (time.Time, error) {
	return f.fetchOracleExpirationFunc(ctx, oracle)
}

func (f *fakeChainClient) SubmitFinalize(ctx context.Context, signer *ethereumclient.Signer, oracleAddress common.Address, answer *big.Int, maxAttempts int) (common.Hash, error) {
	return f.submitFinalizeFunc(ctx, signer, oracleAddress, answer, maxAttempts)
}

func (f *fakeChainClient) WaitForConfirmation(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return f.waitForConfirmationFunc(ctx, txHash)
}

// fakeOracleStore is an in-memory OracleStore keyed by address.
type fakeOracleStore struct {
	mu      sync.Mutex
	rows    map[common.Address]database.ActiveOracle
	deleted []common.Address
}

func newFakeOracleStore() *fakeOracleStore {
	return &fakeOracleStore{rows: map[common.Address]database.ActiveOracle{}}
}

func (s *fakeOracleStore) Create(ctx context.Context, o database.ActiveOracle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[o.Address]; exists {
		return nil
	}
	s.rows[o.Address] = o
	return nil
}

func (s *fakeOracleStore) GetAnswerableByChain(ctx context.Context, chainID uint64) ([]database.ActiveOracle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.ActiveOracle
	for _, o := range s.rows {
		if o.ChainID == chainID && !o.MeasurementTimestamp.After(time.Now()) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeOracleStore) UpdateAnswer(ctx context.Context, address common.Address, chainID uint64, answer *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[address]
	if !ok {
		return database.ErrOracleNotFound
	}
	o.Answer = answer
	s.rows[address] = o
	return nil
}

func (s *fakeOracleStore) UpdateAnswerTxHash(ctx context.Context, address common.Address, chainID uint64, txHash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[address]
	if !ok {
		return database.ErrOracleNotFound
	}
	o.AnswerTxHash = &txHash
	s.rows[address] = o
	return nil
}

func (s *fakeOracleStore) UpdateExpiration(ctx context.Context, address common.Address, chainID uint64, expiration time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[address]
	if !ok {
		return database.ErrOracleNotFound
	}
	o.Expiration = &expiration
	s.rows[address] = o
	return nil
}

func (s *fakeOracleStore) ClearAnswerTxHash(ctx context.Context, address common.Address, chainID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[address]
	if !ok {
		return database.ErrOracleNotFound
	}
	o.AnswerTxHash = nil
	s.rows[address] = o
	return nil
}

func (s *fakeOracleStore) Delete(ctx context.Context, address common.Address, chainID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[address]; !ok {
		return database.ErrOracleNotFound
	}
	delete(s.rows, address)
	s.deleted = append(s.deleted, address)
	return nil
}

func (s *fakeOracleStore) get(address common.Address) (database.ActiveOracle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[address]
	return o, ok
}

// fakeCheckpointStore is an in-memory CheckpointStore.
type fakeCheckpointStore struct {
	mu     sync.Mutex
	blocks map[uint64]uint64
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{blocks: map[uint64]uint64{}}
}

func (s *fakeCheckpointStore) Upsert(ctx context.Context, chainID, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[chainID] = blockNumber
	return nil
}

func (s *fakeCheckpointStore) Get(ctx context.Context, chainID uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[chainID]
	if !ok {
		return 0, database.ErrCheckpointNotFound
	}
	return b, nil
}

// fakeIPFSClient serves a fixed specification for every CID.
type fakeIPFSClient struct {
	specs map[string]specification.Specification
	err   error
}

func (f *fakeIPFSClient) FetchSpecification(ctx context.Context, cid string) (specification.Specification, error) {
	if f.err != nil {
		return specification.Specification{}, f.err
	}
	spec, ok := f.specs[cid]
	if !ok {
		return specification.Specification{}, fmt.Errorf("no specification fixture for cid %q", cid)
	}
	return spec, nil
}

// fakeDataProvider returns a fixed TVL reading or error.
type fakeDataProvider struct {
	value string
	err   error
}

func (f *fakeDataProvider) GetTVL(ctx context.Context, protocol string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.value, nil
}
