package ethereumclient

import (
	"context"
	"fmt"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// multicall3Address is the canonical, identically-deployed Multicall3
// address present on essentially every EVM chain (CREATE2'd from the
// same factory/salt). Batching reads through it is the Go equivalent of
// original_source/scanner/commons.rs's ethers::contract::Multicall use.
var multicall3Address = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

const multicall3ABIJSON = `[
	{
		"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bool","name":"allowFailure","type":"bool"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall3.Call3[]","name":"calls","type":"tuple[]"}],
		"name":"aggregate3",
		"outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],
		"stateMutability":"payable",
		"type":"function"
	}
]`

var multicall3ABI abi.ABI

func init() {
	var err error
	if multicall3ABI, err = abi.JSON(strings.NewReader(multicall3ABIJSON)); err != nil {
		panic(fmt.Sprintf("invalid multicall3 ABI: %v", err))
	}
}

// multicall3Call mirrors Multicall3.Call3: a single batched read.
type multicall3Call struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// multicall3Result mirrors Multicall3.Result.
type multicall3Result struct {
	Success    bool
	ReturnData []byte
}

// multicall batches calls into a single aggregate3 eth_call.
func (c *Client) multicall(ctx context.Context, calls []multicall3Call) ([]multicall3Result, error) {
	data, err := multicall3ABI.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("could not encode aggregate3 call: %w", err)
	}

	output, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &multicall3Address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("multicall aggregate3 failed: %w", err)
	}

	var results []multicall3Result
	if err := multicall3ABI.UnpackIntoInterface(&results, "aggregate3", output); err != nil {
		return nil, fmt.Errorf("could not decode aggregate3 result: %w", err)
	}
	if len(results) != len(calls) {
		return nil, fmt.Errorf("aggregate3 returned %d results for %d calls", len(results), len(calls))
	}

	return results, nil
}
