package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/carrot-kpi/defillama-answerer/pkg/ethereumclient"
	"github.com/carrot-kpi/defillama-answerer/pkg/httpclient"
)

// pastLogFetchBudget bounds retries of a single chunk's eth_getLogs
// call (§5: past-scan log fetches budget ~8s).
const pastLogFetchBudget = 8 * time.Second

// PastScanner is C1: it walks the factory's history from the last
// checkpoint (or the factory's deployment block) up to the chain head it
// observed at startup, chunk by chunk, acknowledging every CreateToken
// log it finds before advancing the checkpoint past that chunk. Once it
// reaches head it hands checkpoint ownership to the Live Scanner and
// exits — it never runs again for the lifetime of the process (§4.1).
type PastScanner struct {
	chainID        uint64
	factoryAddress common.Address
	chunkSize      uint64
	limiter        *rate.Limiter
	chain          ChainClient
	checkpoints    CheckpointStore
	acknowledger   *Acknowledger
	handoff        *checkpointHandoff
	logger         *zap.Logger
}

// NewPastScanner builds a Past Scanner for one chain.
func NewPastScanner(
	chainID uint64,
	factoryAddress common.Address,
	chunkSize uint64,
	limiter *rate.Limiter,
	chain ChainClient,
	checkpoints CheckpointStore,
	acknowledger *Acknowledger,
	handoff *checkpointHandoff,
	logger *zap.Logger,
) *PastScanner {
	return &PastScanner{
		chainID:        chainID,
		factoryAddress: factoryAddress,
		chunkSize:      chunkSize,
		limiter:        limiter,
		chain:          chain,
		checkpoints:    checkpoints,
		acknowledger:   acknowledger,
		handoff:        handoff,
		logger:         logger,
	}
}

// Run scans [startBlock, head] in chunkSize-block windows and then
// signals completion. head is captured once at the start of the run: a
// block produced while the scan is in progress is the Live Scanner's
// responsibility, not this one's.
func (s *PastScanner) Run(ctx context.Context, startBlock uint64) error {
	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("could not fetch head block number: %w", err)
	}

	if startBlock > head {
		s.logger.Info("checkpoint already at or past chain head, nothing to scan")
		s.handoff.signalPastDone()
		return nil
	}

	for from := startBlock; from <= head; {
		to := from + s.chunkSize - 1
		if to > head {
			to = head
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}

		logs, err := s.fetchLogsWithRetry(ctx, from, to)
		if err != nil {
			return fmt.Errorf("could not fetch logs in range [%d, %d]: %w", from, to, err)
		}

		s.acknowledger.AcknowledgeLogs(ctx, logs)

		if err := s.checkpoints.Upsert(ctx, s.chainID, to); err != nil {
			return fmt.Errorf("could not persist checkpoint at block %d: %w", to, err)
		}

		s.logger.Info("scanned past chunk", zap.Uint64("from", from), zap.Uint64("to", to), zap.Int("logs", len(logs)))

		from = to + 1
	}

	s.handoff.signalPastDone()
	s.logger.Info("past scan reached chain head, checkpoint ownership transferred to live scanner")
	return nil
}

func (s *PastScanner) fetchLogsWithRetry(ctx context.Context, from, to uint64) ([]types.Log, error) {
	var logs []types.Log
	err := httpclient.RetryWithBudget(ctx, pastLogFetchBudget, func() error {
		l, err := s.chain.FilterLogsRange(ctx, s.factoryAddress, ethereumclient.CreateTokenTopic(), from, to)
		if err != nil {
			return err
		}
		logs = l
		return nil
	})
	return logs, err
}
