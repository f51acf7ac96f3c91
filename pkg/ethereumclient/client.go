// Package ethereumclient wraps go-ethereum's ethclient with the
// domain-specific reads and writes the obligation engine needs: block
// and log access for the two scanners, multicall-batched contract reads
// for the Acknowledger, and signed finalization submission with
// gas-price escalation for the Answerer.
package ethereumclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client wraps a single chain's JSON-RPC endpoint.
type Client struct {
	rpc     *ethclient.Client
	chainID *big.Int
	url     string
}

// Dial connects to url and verifies the reported chain id matches
// expectedChainID, mirroring original_source/signer.rs's startup check.
func Dial(ctx context.Context, url string, expectedChainID uint64) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	gotChainID, err := rpc.ChainID(ctx)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("could not read chain id from %s: %w", url, err)
	}
	if gotChainID.Uint64() != expectedChainID {
		rpc.Close()
		return nil, fmt.Errorf("rpc endpoint %s reports chain id %d, expected %d", url, gotChainID.Uint64(), expectedChainID)
	}

	return &Client{rpc: rpc, chainID: gotChainID, url: url}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// ChainID returns the connected chain's id.
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

// BlockNumber returns the current head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not fetch block number from %s: %w", c.url, err)
	}
	return n, nil
}

// FilterLogsRange fetches logs for the factory address and topic in the
// inclusive block range [from, to].
func (c *Client) FilterLogsRange(ctx context.Context, address common.Address, topic common.Hash, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{topic}},
	}
	logs, err := c.rpc.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not fetch logs in range [%d, %d]: %w", from, to, err)
	}
	return logs, nil
}

// FilterLogsAtBlock fetches logs for the factory address and topic at a
// specific block hash, the Live Scanner's preferred filter shape (§4.2).
func (c *Client) FilterLogsAtBlock(ctx context.Context, address common.Address, topic common.Hash, blockHash common.Hash) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		BlockHash: &blockHash,
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{topic}},
	}
	logs, err := c.rpc.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not fetch logs at block %s: %w", blockHash.Hex(), err)
	}
	return logs, nil
}

// SubscribeNewHead subscribes to new block headers. Callers are expected
// to reconnect (with a floor, per §4.2) on subscription error.
func (c *Client) SubscribeNewHead(ctx context.Context, headers chan<- *types.Header) (ethereum.Subscription, error) {
	sub, err := c.rpc.SubscribeNewHead(ctx, headers)
	if err != nil {
		return nil, fmt.Errorf("could not subscribe to new heads on %s: %w", c.url, err)
	}
	return sub, nil
}

// Signer holds the chain-specific wallet used to sign finalization
// transactions.
type Signer struct {
	client     *Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner parses privateKeyHex and binds it to client's chain id.
func NewSigner(client *Client, privateKeyHex string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("could not parse answerer private key: %w", err)
	}
	return &Signer{
		client:     client,
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address is the wallet's public address.
func (s *Signer) Address() common.Address {
	return s.address
}

// TransactOpts builds bind.TransactOpts for one-off contract bindings.
func (s *Signer) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.privateKey, s.client.chainID)
	if err != nil {
		return nil, fmt.Errorf("could not build transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

const minGasPriceGwei = 5

// minGasPrice returns the fallback floor the teacher enforces in
// SendContractTransactionWithRetry, carried over so undersupplied RPC
// gas oracles don't produce stuck transactions.
func minGasPrice() *big.Int {
	return new(big.Int).Mul(big.NewInt(minGasPriceGwei), big.NewInt(1_000_000_000))
}

// gasPriceForAttempt returns the base gas price raised by 30% of the base
// per retry attempt (attempt 0 = first try): 1.0x, 1.3x, 1.6x, 1.9x, ...
// The escalation is linear, not compounded per attempt.
func gasPriceForAttempt(base *big.Int, attempt int) *big.Int {
	if attempt == 0 {
		return base
	}
	price := new(big.Int).Set(base)
	multiplier := big.NewInt(100 + 30*int64(attempt))
	price.Mul(price, multiplier)
	price.Div(price, big.NewInt(100))
	return price
}

// SubmitFinalize signs and sends oracle.finalize(answer), escalating gas
// price on retryable send errors up to maxAttempts, and returns the
// submitted transaction hash without waiting for confirmation — step d
// of §4.4's answer procedure.
func (c *Client) SubmitFinalize(ctx context.Context, signer *Signer, oracleAddress common.Address, answer *big.Int, maxAttempts int) (common.Hash, error) {
	callData, err := oracleABI.Pack("finalize", answer)
	if err != nil {
		return common.Hash{}, fmt.Errorf("could not encode finalize call: %w", err)
	}

	nonce, err := c.rpc.PendingNonceAt(ctx, signer.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("could not fetch nonce for %s: %w", signer.address.Hex(), err)
	}

	baseGasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("could not fetch gas price: %w", err)
	}
	if baseGasPrice.Cmp(minGasPrice()) < 0 {
		baseGasPrice = minGasPrice()
	}

	gasLimit, err := c.rpc.EstimateGas(ctx, ethereum.CallMsg{
		From: signer.address,
		To:   &oracleAddress,
		Data: callData,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("could not estimate gas for finalize on %s: %w", oracleAddress.Hex(), err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		gasPrice := gasPriceForAttempt(baseGasPrice, attempt)

		tx := types.NewTransaction(nonce, oracleAddress, big.NewInt(0), gasLimit, gasPrice, callData)
		signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), signer.privateKey)
		if err != nil {
			return common.Hash{}, fmt.Errorf("could not sign finalize transaction: %w", err)
		}

		err = c.rpc.SendTransaction(ctx, signedTx)
		if err == nil {
			return signedTx.Hash(), nil
		}

		lastErr = err
		if !isRetryableSendError(err) {
			return common.Hash{}, fmt.Errorf("could not send finalize transaction: %w", err)
		}

		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}

	return common.Hash{}, fmt.Errorf("could not send finalize transaction after %d attempts: %w", maxAttempts, lastErr)
}

func isRetryableSendError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "replacement transaction underpriced") ||
		strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "already known")
}

// WaitForConfirmation blocks until txHash is mined or ctx is cancelled —
// step f of §4.4's answer procedure.
func (c *Client) WaitForConfirmation(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	for {
		receipt, err := c.rpc.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if err != ethereum.NotFound {
			return nil, fmt.Errorf("could not fetch receipt for %s: %w", txHash.Hex(), err)
		}

		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for confirmation of %s: %w", txHash.Hex(), ctx.Err())
		}
	}
}
