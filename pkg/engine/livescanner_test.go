package engine

import (
	"context"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// fakeSubscription is a minimal ethereum.Subscription for LiveScanner
// tests; it never errors unless errCh is fed.
type fakeSubscription struct {
	errCh chan error
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{errCh: make(chan error, 1)}
}

func (s *fakeSubscription) Unsubscribe()      {}
func (s *fakeSubscription) Err() <-chan error { return s.errCh }

func TestLiveScannerProcessesHeaderAndAdvancesCheckpointAfterHandoff(t *testing.T) {
	factory := common.HexToAddress("0x8888888888888888888888888888888888888888")
	sub := newFakeSubscription()

	var headersCh chan<- *types.Header
	chain := &fakeChainClient{
		subscribeNewHeadFunc: func(ctx context.Context, headers chan<- *types.Header) (ethereum.Subscription, error) {
			headersCh = headers
			return sub, nil
		},
		filterLogsAtBlockFunc: func(ctx context.Context, address common.Address, topic common.Hash, blockHash common.Hash) ([]types.Log, error) {
			return nil, nil
		},
	}

	checkpoints := newFakeCheckpointStore()
	oracles := newFakeOracleStore()
	ack := NewAcknowledger(1, 7, chain, oracles, &fakeIPFSClient{}, nil, &fakeDataProvider{}, zap.NewNop())
	handoff := newCheckpointHandoff()
	handoff.signalPastDone()

	scanner := NewLiveScanner(1, factory, chain, checkpoints, ack, handoff, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scanner.Run(ctx)
		close(done)
	}()

	for headersCh == nil {
		time.Sleep(time.Millisecond)
	}
	headersCh <- &types.Header{Number: new(big.Int).SetUint64(100)}

	deadline := time.After(time.Second)
	for {
		if n, err := checkpoints.Get(context.Background(), 1); err == nil && n == 100 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("checkpoint was never advanced to the processed header")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	<-done
}
