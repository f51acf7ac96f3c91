package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/carrot-kpi/defillama-answerer/pkg/ethereumclient"
)

// reconnectFloor is the minimum wait before reconnecting a dropped head
// subscription (§4.2).
const reconnectFloor = 1 * time.Second

// LiveScanner is C2: it subscribes to new block headers and
// acknowledges CreateToken logs as each block arrives. It runs for the
// lifetime of the process, reconnecting its subscription on drop. It
// only advances the shared checkpoint once the Past Scanner has signaled
// completion — before that, new-block logs are still acknowledged (so
// nothing is missed), but the checkpoint is left for the Past Scanner to
// own (§4.2, §9).
type LiveScanner struct {
	chainID        uint64
	factoryAddress common.Address
	chain          ChainClient
	checkpoints    CheckpointStore
	acknowledger   *Acknowledger
	handoff        *checkpointHandoff
	logger         *zap.Logger
}

// NewLiveScanner builds a Live Scanner for one chain.
func NewLiveScanner(
	chainID uint64,
	factoryAddress common.Address,
	chain ChainClient,
	checkpoints CheckpointStore,
	acknowledger *Acknowledger,
	handoff *checkpointHandoff,
	logger *zap.Logger,
) *LiveScanner {
	return &LiveScanner{
		chainID:        chainID,
		factoryAddress: factoryAddress,
		chain:          chain,
		checkpoints:    checkpoints,
		acknowledger:   acknowledger,
		handoff:        handoff,
		logger:         logger,
	}
}

// Run subscribes and processes new heads until ctx is cancelled,
// reconnecting on any subscription error.
func (s *LiveScanner) Run(ctx context.Context) error {
	for {
		err := s.subscribeAndProcess(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.Warn("live head subscription dropped, reconnecting", zap.Error(err))
		}

		select {
		case <-time.After(reconnectFloor):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *LiveScanner) subscribeAndProcess(ctx context.Context) error {
	headers := make(chan *types.Header)
	sub, err := s.chain.SubscribeNewHead(ctx, headers)
	if err != nil {
		return fmt.Errorf("could not subscribe to new heads: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case err := <-sub.Err():
			return fmt.Errorf("subscription error: %w", err)
		case header := <-headers:
			s.processHeader(ctx, header)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *LiveScanner) processHeader(ctx context.Context, header *types.Header) {
	logs, err := s.chain.FilterLogsAtBlock(ctx, s.factoryAddress, ethereumclient.CreateTokenTopic(), header.Hash())
	if err != nil {
		s.logger.Error("could not fetch logs for new block", zap.Uint64("block_number", header.Number.Uint64()), zap.Error(err))
		return
	}

	s.acknowledger.AcknowledgeLogs(ctx, logs)

	if !s.handoff.pastDoneNow() {
		return
	}

	if err := s.checkpoints.Upsert(ctx, s.chainID, header.Number.Uint64()); err != nil {
		s.logger.Error("could not advance checkpoint", zap.Uint64("block_number", header.Number.Uint64()), zap.Error(err))
	}
}
