package engine

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/carrot-kpi/defillama-answerer/pkg/ethereumclient"
	"github.com/carrot-kpi/defillama-answerer/pkg/specification"
)

func tvlSpec(protocol string) specification.Specification {
	return specification.Specification{Metric: "tvl", Payload: &specification.TVLPayload{Protocol: protocol}}
}

func createTokenLog(token common.Address) types.Log {
	return types.Log{Topics: []common.Hash{ethereumclient.CreateTokenTopic(), common.BytesToHash(token.Bytes())}}
}

func TestAcknowledgerCreatesObligationForValidSpecification(t *testing.T) {
	kpiToken := common.HexToAddress("0x1111111111111111111111111111111111111111")
	oracle := common.HexToAddress("0x2222222222222222222222222222222222222222")
	expiration := big.NewInt(time.Now().Add(24 * time.Hour).Unix())

	chain := &fakeChainClient{
		kpiTokenOraclesAndExpirationFunc: func(ctx context.Context, k common.Address) ([]common.Address, *big.Int, error) {
			return []common.Address{oracle}, expiration, nil
		},
		oracleFinalizedAndTemplateFunc: func(ctx context.Context, o common.Address) (bool, uint64, bool, error) {
			return false, 7, true, nil
		},
		oracleSpecificationCIDFunc: func(ctx context.Context, o common.Address) (string, error) {
			return "cid-1", nil
		},
		oracleMeasurementTimestampFunc: func(ctx context.Context, o common.Address) (uint64, error) {
			return uint64(time.Now().Add(time.Hour).Unix()), nil
		},
	}

	oracles := newFakeOracleStore()
	ipfsClient := &fakeIPFSClient{specs: map[string]specification.Specification{"cid-1": tvlSpec("aave")}}
	dataProvider := &fakeDataProvider{value: "1000.5"}

	ack := NewAcknowledger(1, 7, chain, oracles, ipfsClient, nil, dataProvider, zap.NewNop())
	ack.AcknowledgeLogs(context.Background(), []types.Log{createTokenLog(kpiToken)})

	row, ok := oracles.get(oracle)
	if !ok {
		t.Fatal("expected an active oracle row to have been created")
	}
	if row.Expiration == nil || row.Expiration.Unix() != expiration.Int64() {
		t.Fatalf("expiration not persisted correctly: %v", row.Expiration)
	}
}

func TestAcknowledgerSkipsAlreadyFinalizedOracle(t *testing.T) {
	kpiToken := common.HexToAddress("0x1111111111111111111111111111111111111111")
	oracle := common.HexToAddress("0x2222222222222222222222222222222222222222")

	chain := &fakeChainClient{
		kpiTokenOraclesAndExpirationFunc: func(ctx context.Context, k common.Address) ([]common.Address, *big.Int, error) {
			return []common.Address{oracle}, big.NewInt(time.Now().Unix()), nil
		},
		oracleFinalizedAndTemplateFunc: func(ctx context.Context, o common.Address) (bool, uint64, bool, error) {
			return true, 7, true, nil
		},
	}

	oracles := newFakeOracleStore()
	ack := NewAcknowledger(1, 7, chain, oracles, &fakeIPFSClient{}, nil, &fakeDataProvider{}, zap.NewNop())
	ack.AcknowledgeLogs(context.Background(), []types.Log{createTokenLog(kpiToken)})

	if _, ok := oracles.get(oracle); ok {
		t.Fatal("finalized oracle should not have produced an active oracle row")
	}
}

func TestAcknowledgerSkipsMismatchedTemplate(t *testing.T) {
	kpiToken := common.HexToAddress("0x1111111111111111111111111111111111111111")
	oracle := common.HexToAddress("0x2222222222222222222222222222222222222222")

	chain := &fakeChainClient{
		kpiTokenOraclesAndExpirationFunc: func(ctx context.Context, k common.Address) ([]common.Address, *big.Int, error) {
			return []common.Address{oracle}, big.NewInt(time.Now().Unix()), nil
		},
		oracleFinalizedAndTemplateFunc: func(ctx context.Context, o common.Address) (bool, uint64, bool, error) {
			return false, 99, true, nil
		},
	}

	oracles := newFakeOracleStore()
	ack := NewAcknowledger(1, 7, chain, oracles, &fakeIPFSClient{}, nil, &fakeDataProvider{}, zap.NewNop())
	ack.AcknowledgeLogs(context.Background(), []types.Log{createTokenLog(kpiToken)})

	if _, ok := oracles.get(oracle); ok {
		t.Fatal("oracle from a different template should be skipped")
	}
}

func TestAcknowledgerSkipsFailedValidation(t *testing.T) {
	kpiToken := common.HexToAddress("0x1111111111111111111111111111111111111111")
	oracle := common.HexToAddress("0x2222222222222222222222222222222222222222")

	chain := &fakeChainClient{
		kpiTokenOraclesAndExpirationFunc: func(ctx context.Context, k common.Address) ([]common.Address, *big.Int, error) {
			return []common.Address{oracle}, big.NewInt(time.Now().Unix()), nil
		},
		oracleFinalizedAndTemplateFunc: func(ctx context.Context, o common.Address) (bool, uint64, bool, error) {
			return false, 7, true, nil
		},
		oracleSpecificationCIDFunc: func(ctx context.Context, o common.Address) (string, error) {
			return "cid-bad", nil
		},
		oracleMeasurementTimestampFunc: func(ctx context.Context, o common.Address) (uint64, error) {
			return uint64(time.Now().Unix()), nil
		},
	}

	oracles := newFakeOracleStore()
	ipfsClient := &fakeIPFSClient{specs: map[string]specification.Specification{"cid-bad": tvlSpec("aave")}}
	// A data provider error makes tvl's Validate return (false, nil) - not ready/invalid.
	dataProvider := &fakeDataProvider{err: context.DeadlineExceeded}

	ack := NewAcknowledger(1, 7, chain, oracles, ipfsClient, nil, dataProvider, zap.NewNop())
	ack.AcknowledgeLogs(context.Background(), []types.Log{createTokenLog(kpiToken)})

	if _, ok := oracles.get(oracle); ok {
		t.Fatal("a specification that fails validation must not produce an active oracle row")
	}
}

func TestAcknowledgerIgnoresMalformedLog(t *testing.T) {
	chain := &fakeChainClient{}
	oracles := newFakeOracleStore()

	ack := NewAcknowledger(1, 7, chain, oracles, &fakeIPFSClient{}, nil, &fakeDataProvider{}, zap.NewNop())
	malformed := types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}

	// Must not panic or call into the chain client.
	ack.AcknowledgeLogs(context.Background(), []types.Log{malformed})
}
