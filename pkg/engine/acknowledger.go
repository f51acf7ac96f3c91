package engine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/carrot-kpi/defillama-answerer/pkg/database"
	"github.com/carrot-kpi/defillama-answerer/pkg/ethereumclient"
	"github.com/carrot-kpi/defillama-answerer/pkg/metrics"
	"github.com/carrot-kpi/defillama-answerer/pkg/specification"
)

// Acknowledger is C3: it turns factory CreateToken logs into persisted
// ActiveOracle rows, fanning out across KPI tokens and their oracles
// concurrently (§4.3) — unlike the Answerer, nothing here shares mutable
// chain-nonce state, so there's no ordering constraint to preserve.
type Acknowledger struct {
	chainID      uint64
	chainIDLabel string
	templateID   uint64
	chain        ChainClient
	oracles      OracleStore
	ipfs         IPFSClient
	web3Storage  Web3StorageClient // nil if pinning is not configured
	dataProvider specification.DataProvider
	logger       *zap.Logger
}

// NewAcknowledger builds an Acknowledger for one chain. web3Storage may
// be nil.
func NewAcknowledger(
	chainID uint64,
	templateID uint64,
	chain ChainClient,
	oracles OracleStore,
	ipfs IPFSClient,
	web3Storage Web3StorageClient,
	dataProvider specification.DataProvider,
	logger *zap.Logger,
) *Acknowledger {
	return &Acknowledger{
		chainID:      chainID,
		chainIDLabel: strconv.FormatUint(chainID, 10),
		templateID:   templateID,
		chain:        chain,
		oracles:      oracles,
		ipfs:         ipfs,
		web3Storage:  web3Storage,
		dataProvider: dataProvider,
		logger:       logger,
	}
}

// AcknowledgeLogs processes every CreateToken log concurrently and waits
// for all of them to finish before returning, so callers can checkpoint
// once this returns.
func (a *Acknowledger) AcknowledgeLogs(ctx context.Context, logs []types.Log) {
	var wg sync.WaitGroup
	for _, l := range logs {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.acknowledgeLog(ctx, l); err != nil {
				a.logger.Error("could not process kpi token creation log", zap.Error(err))
				metrics.AcknowledgementFailures.WithLabelValues(a.chainIDLabel).Inc()
			}
		}()
	}
	wg.Wait()
}

func (a *Acknowledger) acknowledgeLog(ctx context.Context, l types.Log) error {
	kpiToken, err := ethereumclient.DecodeCreateTokenLog(l)
	if err != nil {
		a.logger.Warn("log is not a well-formed CreateToken event, skipping", zap.Error(err))
		return nil
	}

	oracleAddresses, expirationSeconds, err := a.chain.KPITokenOraclesAndExpiration(ctx, kpiToken)
	if err != nil {
		return err
	}
	expiration := time.Unix(expirationSeconds.Int64(), 0)

	var wg sync.WaitGroup
	for _, oracleAddress := range oracleAddresses {
		oracleAddress := oracleAddress
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.acknowledgeOracle(ctx, oracleAddress, expiration)
		}()
	}
	wg.Wait()

	return nil
}

func (a *Acknowledger) acknowledgeOracle(ctx context.Context, oracleAddress common.Address, expiration time.Time) {
	logger := a.logger.With(zap.String("oracle", oracleAddress.Hex()), zap.Uint64("chain_id", a.chainID))

	finalized, templateID, ok, err := a.chain.OracleFinalizedAndTemplate(ctx, oracleAddress)
	if err != nil {
		logger.Error("could not read oracle state", zap.Error(err))
		metrics.AcknowledgementFailures.WithLabelValues(a.chainIDLabel).Inc()
		return
	}
	if !ok {
		logger.Warn("oracle reads reverted, skipping")
		return
	}
	if finalized {
		logger.Debug("oracle already finalized, skipping")
		return
	}
	// The template is re-checked here rather than trusted from the
	// creation event, since the factory emits CreateToken for every KPI
	// token regardless of which template its oracles were built from.
	if templateID != a.templateID {
		logger.Debug("oracle belongs to a different template, skipping")
		return
	}

	cid, err := a.chain.OracleSpecificationCID(ctx, oracleAddress)
	if err != nil {
		logger.Error("could not read specification cid", zap.Error(err))
		metrics.AcknowledgementFailures.WithLabelValues(a.chainIDLabel).Inc()
		return
	}

	measurementSeconds, err := a.chain.OracleMeasurementTimestamp(ctx, oracleAddress)
	if err != nil {
		logger.Error("could not read measurement timestamp", zap.Error(err))
		metrics.AcknowledgementFailures.WithLabelValues(a.chainIDLabel).Inc()
		return
	}
	measurementTimestamp := time.Unix(int64(measurementSeconds), 0)

	spec, err := a.ipfs.FetchSpecification(ctx, cid)
	if err != nil {
		logger.Warn("could not fetch specification from ipfs", zap.String("cid", cid), zap.Error(err))
		metrics.AcknowledgementFailures.WithLabelValues(a.chainIDLabel).Inc()
		return
	}

	valid, err := spec.Payload.Validate(ctx, specification.Dependencies{DataProvider: a.dataProvider})
	if err != nil {
		logger.Error("specification validation errored", zap.Error(err))
		metrics.AcknowledgementFailures.WithLabelValues(a.chainIDLabel).Inc()
		return
	}
	if !valid {
		logger.Warn("specification failed validation, obligation not created")
		return
	}

	err = a.oracles.Create(ctx, database.ActiveOracle{
		Address:              oracleAddress,
		ChainID:              a.chainID,
		MeasurementTimestamp: measurementTimestamp,
		Specification:        spec,
		Expiration:           &expiration,
	})
	if err != nil {
		logger.Error("could not persist active oracle", zap.Error(err))
		metrics.AcknowledgementFailures.WithLabelValues(a.chainIDLabel).Inc()
		return
	}

	if a.web3Storage != nil {
		if err := a.web3Storage.Pin(ctx, cid); err != nil {
			logger.Warn("could not pin specification on web3.storage", zap.String("cid", cid), zap.Error(err))
		}
	}

	logger.Info("oracle acknowledged")
}
