package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/carrot-kpi/defillama-answerer/pkg/config"
	"github.com/carrot-kpi/defillama-answerer/pkg/database"
	"github.com/carrot-kpi/defillama-answerer/pkg/ethereumclient"
	"github.com/carrot-kpi/defillama-answerer/pkg/specification"
)

// pastScanRequestsPerSecond bounds eth_getLogs calls issued by the Past
// Scanner, per §5.
const pastScanRequestsPerSecond = 2

// Chain wires and supervises one configured chain's obligation engine:
// the Past Scanner, the Live Scanner and the Answerer, sharing one
// checkpoint handoff and one Acknowledger (§4).
type Chain struct {
	chainID     uint64
	cfg         config.ChainConfig
	devMode     bool
	client      *ethereumclient.Client
	signer      *ethereumclient.Signer
	oracles     *database.OracleRepository
	checkpoints *database.CheckpointRepository
	logger      *zap.Logger

	past     *PastScanner
	live     *LiveScanner
	answerer *Answerer
}

// NewChain connects to chainID's RPC endpoint, binds the configured
// signer, and assembles the three supervised components. The returned
// Chain does not start anything until Run is called.
func NewChain(
	ctx context.Context,
	chainID uint64,
	cfg config.ChainConfig,
	devMode bool,
	oracles *database.OracleRepository,
	checkpoints *database.CheckpointRepository,
	dataProvider specification.DataProvider,
	ipfsClient IPFSClient,
	web3Storage Web3StorageClient,
	logger *zap.Logger,
) (*Chain, error) {
	client, err := ethereumclient.Dial(ctx, cfg.RPCEndpoint, chainID)
	if err != nil {
		return nil, fmt.Errorf("could not connect to chain %d: %w", chainID, err)
	}

	signer, err := ethereumclient.NewSigner(client, cfg.AnswererPrivateKey)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("could not build signer for chain %d: %w", chainID, err)
	}

	factoryAddress := common.HexToAddress(cfg.Factory.Address)

	acknowledger := NewAcknowledger(chainID, cfg.TemplateID, client, oracles, ipfsClient, web3Storage, dataProvider, logger)
	handoff := newCheckpointHandoff()

	limiter := rate.NewLimiter(rate.Limit(pastScanRequestsPerSecond), 1)
	past := NewPastScanner(chainID, factoryAddress, cfg.LogsBlocksRange, limiter, client, checkpoints, acknowledger, handoff, logger)
	live := NewLiveScanner(chainID, factoryAddress, client, checkpoints, acknowledger, handoff, logger)
	answerer := NewAnswerer(chainID, time.Duration(cfg.AnsweringTaskIntervalSeconds)*time.Second, client, signer, oracles, dataProvider, logger)

	return &Chain{
		chainID:     chainID,
		cfg:         cfg,
		devMode:     devMode,
		client:      client,
		signer:      signer,
		oracles:     oracles,
		checkpoints: checkpoints,
		logger:      logger,
		past:        past,
		live:        live,
		answerer:    answerer,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Chain) Close() {
	c.client.Close()
}

// Run starts the Past Scanner (unless devMode skips it), the Live
// Scanner and the Answerer, and blocks until ctx is cancelled or any one
// of them returns an error — a single top-level task failure brings the
// whole chain down rather than limping along with a silently dead
// component (§6/§7 fail-fast).
func (c *Chain) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	startBlock, err := c.startBlock(ctx)
	if err != nil {
		return err
	}

	// handoff starts signaled in dev mode: there is no past to scan, so
	// the Live Scanner owns the checkpoint from block one.
	if c.devMode {
		c.logger.Info("dev mode enabled, skipping past scan", zap.Uint64("chain_id", c.chainID))
		c.past.handoff.signalPastDone()
	}

	errs := make(chan error, 3)

	if !c.devMode {
		go func() { errs <- c.past.Run(runCtx, startBlock) }()
	}
	go func() { errs <- c.live.Run(runCtx) }()
	go func() { errs <- c.answerer.Run(runCtx) }()

	for {
		select {
		case err := <-errs:
			if err == nil {
				// The Past Scanner returns nil once it reaches head; the
				// Live Scanner and the Answerer keep running.
				continue
			}
			cancel()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("chain %d: %w", c.chainID, err)
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Chain) startBlock(ctx context.Context) (uint64, error) {
	checkpoint, err := c.checkpoints.Get(ctx, c.chainID)
	if err != nil {
		if errors.Is(err, database.ErrCheckpointNotFound) {
			return c.cfg.Factory.DeploymentBlock, nil
		}
		return 0, fmt.Errorf("could not load checkpoint for chain %d: %w", c.chainID, err)
	}
	return checkpoint + 1, nil
}
