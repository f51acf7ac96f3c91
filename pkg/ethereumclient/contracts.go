package ethereumclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Contract interfaces per §6. The oracle's template() is simplified to
// the fields the engine actually consumes (id) plus an existence flag;
// everything else a real KPI-token template carries is opaque to this
// engine.
const (
	factoryABIJSON = `[
		{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"token","type":"address"}],"name":"CreateToken","type":"event"}
	]`

	kpiTokenABIJSON = `[
		{"inputs":[],"name":"oracles","outputs":[{"internalType":"address[]","name":"","type":"address[]"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"expiration","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
	]`

	oracleABIJSON = `[
		{"inputs":[],"name":"finalized","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"template","outputs":[{"internalType":"uint256","name":"id","type":"uint256"},{"internalType":"bool","name":"exists","type":"bool"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"specification","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"measurementTimestamp","outputs":[{"internalType":"uint64","name":"","type":"uint64"}],"stateMutability":"view","type":"function"},
		{"inputs":[],"name":"kpiToken","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
		{"inputs":[{"internalType":"uint256","name":"answer","type":"uint256"}],"name":"finalize","outputs":[],"stateMutability":"nonpayable","type":"function"}
	]`
)

var (
	factoryABI  abi.ABI
	kpiTokenABI abi.ABI
	oracleABI   abi.ABI

	createTokenTopic common.Hash
)

func init() {
	var err error
	if factoryABI, err = abi.JSON(strings.NewReader(factoryABIJSON)); err != nil {
		panic(fmt.Sprintf("invalid factory ABI: %v", err))
	}
	if kpiTokenABI, err = abi.JSON(strings.NewReader(kpiTokenABIJSON)); err != nil {
		panic(fmt.Sprintf("invalid kpi token ABI: %v", err))
	}
	if oracleABI, err = abi.JSON(strings.NewReader(oracleABIJSON)); err != nil {
		panic(fmt.Sprintf("invalid oracle ABI: %v", err))
	}
	createTokenTopic = factoryABI.Events["CreateToken"].ID
}

// CreateTokenTopic returns the event signature the two scanners filter
// factory logs by.
func CreateTokenTopic() common.Hash {
	return createTokenTopic
}

// DecodeCreateTokenLog extracts the created KPI-token address from a
// factory log. token is an indexed event parameter, so it is carried in
// the log's topics rather than its data.
func DecodeCreateTokenLog(log types.Log) (common.Address, error) {
	if len(log.Topics) < 2 || log.Topics[0] != createTokenTopic {
		return common.Address{}, fmt.Errorf("log is not a CreateToken event")
	}
	return common.BytesToAddress(log.Topics[1].Bytes()), nil
}

func (c *Client) callContract(ctx context.Context, contractAddr common.Address, contractABI abi.ABI, method string, result interface{}, args ...interface{}) error {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("could not encode call to %s.%s: %w", contractAddr.Hex(), method, err)
	}

	output, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &contractAddr, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("call to %s.%s failed: %w", contractAddr.Hex(), method, err)
	}

	if result == nil {
		return nil
	}
	if err := contractABI.UnpackIntoInterface(result, method, output); err != nil {
		return fmt.Errorf("could not decode result of %s.%s: %w", contractAddr.Hex(), method, err)
	}
	return nil
}

// KPITokenOraclesAndExpiration reads a KPI token's oracle list and
// shared expiration in a single batched multicall (§4.3).
func (c *Client) KPITokenOraclesAndExpiration(ctx context.Context, kpiToken common.Address) ([]common.Address, *big.Int, error) {
	oraclesData, err := kpiTokenABI.Pack("oracles")
	if err != nil {
		return nil, nil, fmt.Errorf("could not encode oracles() call: %w", err)
	}
	expirationData, err := kpiTokenABI.Pack("expiration")
	if err != nil {
		return nil, nil, fmt.Errorf("could not encode expiration() call: %w", err)
	}

	results, err := c.multicall(ctx, []multicall3Call{
		{Target: kpiToken, AllowFailure: false, CallData: oraclesData},
		{Target: kpiToken, AllowFailure: false, CallData: expirationData},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not read oracles/expiration for kpi token %s: %w", kpiToken.Hex(), err)
	}

	var oracles []common.Address
	if err := kpiTokenABI.UnpackIntoInterface(&oracles, "oracles", results[0].ReturnData); err != nil {
		return nil, nil, fmt.Errorf("could not decode oracles() result: %w", err)
	}

	var expiration *big.Int
	if err := kpiTokenABI.UnpackIntoInterface(&expiration, "expiration", results[1].ReturnData); err != nil {
		return nil, nil, fmt.Errorf("could not decode expiration() result: %w", err)
	}

	return oracles, expiration, nil
}

// OracleFinalizedAndTemplate reads an oracle's finalized flag and
// template id in a single batched multicall (§4.3). ok is false if
// either call reverted (the oracle should be skipped, not treated as a
// hard error, matching original_source/scanner/commons.rs).
func (c *Client) OracleFinalizedAndTemplate(ctx context.Context, oracle common.Address) (finalized bool, templateID uint64, ok bool, err error) {
	finalizedData, err := oracleABI.Pack("finalized")
	if err != nil {
		return false, 0, false, fmt.Errorf("could not encode finalized() call: %w", err)
	}
	templateData, err := oracleABI.Pack("template")
	if err != nil {
		return false, 0, false, fmt.Errorf("could not encode template() call: %w", err)
	}

	results, err := c.multicall(ctx, []multicall3Call{
		{Target: oracle, AllowFailure: true, CallData: finalizedData},
		{Target: oracle, AllowFailure: true, CallData: templateData},
	})
	if err != nil {
		return false, 0, false, fmt.Errorf("could not read finalized/template for oracle %s: %w", oracle.Hex(), err)
	}

	if !results[0].Success || !results[1].Success {
		return false, 0, false, nil
	}

	if err := oracleABI.UnpackIntoInterface(&finalized, "finalized", results[0].ReturnData); err != nil {
		return false, 0, false, fmt.Errorf("could not decode finalized() result: %w", err)
	}

	var template struct {
		ID     *big.Int
		Exists bool
	}
	if err := oracleABI.UnpackIntoInterface(&template, "template", results[1].ReturnData); err != nil {
		return false, 0, false, fmt.Errorf("could not decode template() result: %w", err)
	}

	return finalized, template.ID.Uint64(), true, nil
}

// OracleSpecificationCID reads the IPFS content identifier of an
// oracle's specification.
func (c *Client) OracleSpecificationCID(ctx context.Context, oracle common.Address) (string, error) {
	var cid string
	if err := c.callContract(ctx, oracle, oracleABI, "specification", &cid); err != nil {
		return "", err
	}
	return cid, nil
}

// OracleMeasurementTimestamp reads the unix timestamp at which an
// oracle's answer becomes eligible.
func (c *Client) OracleMeasurementTimestamp(ctx context.Context, oracle common.Address) (uint64, error) {
	var ts uint64
	if err := c.callContract(ctx, oracle, oracleABI, "measurementTimestamp", &ts); err != nil {
		return 0, err
	}
	return ts, nil
}

// oracleKPIToken reads the KPI token an oracle belongs to.
func (c *Client) oracleKPIToken(ctx context.Context, oracle common.Address) (common.Address, error) {
	var kpiToken common.Address
	if err := c.callContract(ctx, oracle, oracleABI, "kpiToken", &kpiToken); err != nil {
		return common.Address{}, err
	}
	return kpiToken, nil
}

// FetchOracleExpiration reads an oracle's expiration the long way round
// (oracle -> kpiToken -> expiration), for the Answerer's lazy-population
// fallback when a row's expiration column was never set (§4.4 step b).
func (c *Client) FetchOracleExpiration(ctx context.Context, oracle common.Address) (time.Time, error) {
	kpiToken, err := c.oracleKPIToken(ctx, oracle)
	if err != nil {
		return time.Time{}, fmt.Errorf("could not read kpi token for oracle %s: %w", oracle.Hex(), err)
	}

	var expiration *big.Int
	if err := c.callContract(ctx, kpiToken, kpiTokenABI, "expiration", &expiration); err != nil {
		return time.Time{}, fmt.Errorf("could not read expiration for kpi token %s: %w", kpiToken.Hex(), err)
	}

	return time.Unix(expiration.Int64(), 0), nil
}
