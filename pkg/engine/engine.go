package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/carrot-kpi/defillama-answerer/pkg/config"
	"github.com/carrot-kpi/defillama-answerer/pkg/database"
	"github.com/carrot-kpi/defillama-answerer/pkg/dataprovider"
	"github.com/carrot-kpi/defillama-answerer/pkg/ipfs"
)

// Engine supervises every configured chain's obligation engine. A single
// chain's unrecoverable failure is fatal to the whole process (§6/§7):
// there is no partial-degradation mode where one chain limps along
// without its Answerer or scanners running.
type Engine struct {
	chains []*Chain
	logger *zap.Logger
}

// New builds an Engine from cfg: one Chain per entry in cfg.Chains,
// sharing a single data-provider client, IPFS client and (if configured)
// web3.storage pinning client across chains.
func New(ctx context.Context, cfg *config.Config, dbClient *database.Client, logger *zap.Logger) (*Engine, error) {
	oracles := database.NewOracleRepository(dbClient)
	checkpoints := database.NewCheckpointRepository(dbClient)

	dataProviderClient := dataprovider.New(defillamaAPIBaseURL)
	ipfsClient := ipfs.New(cfg.IPFSAPIEndpoint)

	var web3Storage Web3StorageClient
	if cfg.Web3StorageAPIKey != "" {
		web3Storage = ipfs.NewWeb3StorageClient(cfg.Web3StorageAPIKey)
	}

	chains := make([]*Chain, 0, len(cfg.Chains))
	for chainID, chainCfg := range cfg.Chains {
		chain, err := NewChain(ctx, chainID, chainCfg, cfg.DevMode, oracles, checkpoints, dataProviderClient, ipfsClient, web3Storage, logger.With(zap.Uint64("chain_id", chainID)))
		if err != nil {
			for _, c := range chains {
				c.Close()
			}
			return nil, fmt.Errorf("could not set up chain %d: %w", chainID, err)
		}
		chains = append(chains, chain)
	}

	return &Engine{chains: chains, logger: logger}, nil
}

// defillamaAPIBaseURL is the external data provider's endpoint (§2/§5).
const defillamaAPIBaseURL = "https://api.llama.fi"

// Run starts every chain and blocks until ctx is cancelled or one chain
// returns a fatal error, in which case all other chains are stopped too.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(e.chains))
	for _, chain := range e.chains {
		chain := chain
		go func() { errs <- chain.Run(runCtx) }()
	}

	var firstErr error
	for range e.chains {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	for _, chain := range e.chains {
		chain.Close()
	}

	return firstErr
}
