package engine

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/carrot-kpi/defillama-answerer/pkg/database"
	"github.com/carrot-kpi/defillama-answerer/pkg/ethereumclient"
	"github.com/carrot-kpi/defillama-answerer/pkg/metrics"
	"github.com/carrot-kpi/defillama-answerer/pkg/specification"
)

// maxSendAttempts bounds gas-price escalation retries for a single
// finalize submission (§4.4 step d).
const maxSendAttempts = 5

// Answerer is C4: on every tick it walks every answerable oracle on its
// chain and drives it through the answer procedure of §4.4. Oracles are
// processed sequentially within a tick — never concurrently — because
// they share one signer's nonce sequence; submitting two finalize
// transactions for the same signer at once would race on nonce
// assignment.
type Answerer struct {
	chainID      uint64
	chainIDLabel string
	interval     time.Duration
	chain        ChainClient
	signer       *ethereumclient.Signer
	oracles      OracleStore
	dataProvider specification.DataProvider
	logger       *zap.Logger
}

// NewAnswerer builds an Answerer for one chain.
func NewAnswerer(
	chainID uint64,
	interval time.Duration,
	chain ChainClient,
	signer *ethereumclient.Signer,
	oracles OracleStore,
	dataProvider specification.DataProvider,
	logger *zap.Logger,
) *Answerer {
	return &Answerer{
		chainID:      chainID,
		chainIDLabel: strconv.FormatUint(chainID, 10),
		interval:     interval,
		chain:        chain,
		signer:       signer,
		oracles:      oracles,
		dataProvider: dataProvider,
		logger:       logger,
	}
}

// Run ticks forever until ctx is cancelled. A tick error aborts the
// whole chain (fail-fast, §6/§7) rather than being swallowed — a
// per-oracle failure, on the other hand, is logged and left for the
// next tick to retry.
func (a *Answerer) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.tick(ctx); err != nil {
				return fmt.Errorf("answerer tick failed: %w", err)
			}
		}
	}
}

func (a *Answerer) tick(ctx context.Context) error {
	oracles, err := a.oracles.GetAnswerableByChain(ctx, a.chainID)
	if err != nil {
		return fmt.Errorf("could not load answerable oracles: %w", err)
	}

	for _, oracle := range oracles {
		a.answer(ctx, oracle)
	}

	return nil
}

func (a *Answerer) answer(ctx context.Context, oracle database.ActiveOracle) {
	logger := a.logger.With(zap.String("oracle", oracle.Address.Hex()), zap.Uint64("chain_id", a.chainID))

	// A non-nil answer_tx_hash means a submission is already in flight
	// (or crashed mid-confirmation) for this oracle — never submit a
	// second one (§4.4 step a, §7 class 3/4).
	if oracle.AnswerTxHash != nil {
		logger.Debug("answer submission already in flight, skipping", zap.String("tx_hash", oracle.AnswerTxHash.Hex()))
		return
	}

	expiration := oracle.Expiration
	if expiration == nil {
		fetched, err := a.chain.FetchOracleExpiration(ctx, oracle.Address)
		if err != nil {
			logger.Error("could not fetch expiration from chain", zap.Error(err))
			return
		}
		if err := a.oracles.UpdateExpiration(ctx, oracle.Address, a.chainID, fetched); err != nil {
			logger.Error("could not persist fetched expiration", zap.Error(err))
			return
		}
		expiration = &fetched
	}

	if !expiration.After(time.Now()) {
		if err := a.oracles.Delete(ctx, oracle.Address, a.chainID); err != nil {
			logger.Error("could not delete expired oracle", zap.Error(err))
			return
		}
		logger.Info("oracle expired before an answer was finalized, obligation abandoned")
		return
	}

	answer := oracle.Answer
	if answer == nil {
		computed, err := oracle.Specification.Payload.Answer(ctx, specification.Dependencies{DataProvider: a.dataProvider})
		if err != nil {
			logger.Warn("could not compute answer, will retry next tick", zap.Error(err))
			metrics.AnswerRetries.WithLabelValues(a.chainIDLabel).Inc()
			return
		}
		if computed == nil {
			logger.Debug("answer not yet ready")
			return
		}
		if err := a.oracles.UpdateAnswer(ctx, oracle.Address, a.chainID, computed); err != nil {
			logger.Error("could not persist computed answer", zap.Error(err))
			return
		}
		answer = computed
	}

	txHash, err := a.chain.SubmitFinalize(ctx, a.signer, oracle.Address, answer, maxSendAttempts)
	if err != nil {
		logger.Warn("could not submit finalize transaction, will retry next tick", zap.Error(err))
		metrics.AnswerRetries.WithLabelValues(a.chainIDLabel).Inc()
		return
	}

	// This write must land before WaitForConfirmation is awaited: if the
	// process dies in between, the next tick must see the in-flight hash
	// and refuse to submit a second transaction (§4.4 step e, §9).
	if err := a.oracles.UpdateAnswerTxHash(ctx, oracle.Address, a.chainID, txHash); err != nil {
		logger.Error("could not persist submitted tx hash, a duplicate submission may follow", zap.String("tx_hash", txHash.Hex()), zap.Error(err))
		return
	}

	receipt, err := a.chain.WaitForConfirmation(ctx, txHash)
	if err != nil {
		logger.Error("transaction confirmation failed or timed out", zap.String("tx_hash", txHash.Hex()), zap.Error(err))
		if clearErr := a.oracles.ClearAnswerTxHash(ctx, oracle.Address, a.chainID); clearErr != nil {
			logger.Error("could not clear in-flight tx hash after confirmation failure; this oracle is stuck until the row is fixed manually", zap.Error(clearErr))
		}
		return
	}

	logger.Info("finalization confirmed",
		zap.String("tx_hash", txHash.Hex()),
		zap.Uint64("gas_used", receipt.GasUsed),
		zap.String("gas_cost", weiToDecimalString(gasCost(receipt))),
	)

	if err := a.oracles.Delete(ctx, oracle.Address, a.chainID); err != nil {
		logger.Error("could not delete finalized oracle row", zap.Error(err))
	}
}

func gasCost(receipt *types.Receipt) *big.Int {
	return new(big.Int).Mul(receipt.EffectiveGasPrice, new(big.Int).SetUint64(receipt.GasUsed))
}

// weiToDecimalString formats a wei amount as an 18-decimal value for
// logging, matching the answer scale of §4.4.
func weiToDecimalString(wei *big.Int) string {
	return decimal.NewFromBigInt(wei, -18).String()
}
