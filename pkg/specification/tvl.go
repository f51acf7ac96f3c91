package specification

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

func init() {
	Register("tvl", func() Payload { return &TVLPayload{} })
}

// answerScale is the fixed-point convention the consumer contract
// assumes: every answer is an 18-decimal fixed-point unsigned integer.
// Not validated on-chain; see the corresponding Open Question in
// DESIGN.md.
var answerScale = decimal.New(1, 18)

// TVLPayload resolves to the Total-Value-Locked of a named DeFi
// protocol, as reported by the configured data provider.
type TVLPayload struct {
	Protocol string `json:"protocol"`
}

// Validate succeeds iff a probe fetch of the protocol's current TVL
// returns a numeric value. It never returns a hard error: a failed probe
// is a validation failure, not a transient error the caller should retry.
func (p *TVLPayload) Validate(ctx context.Context, deps Dependencies) (bool, error) {
	raw, err := deps.DataProvider.GetTVL(ctx, p.Protocol)
	if err != nil {
		return false, nil
	}
	if _, err := decimal.NewFromString(raw); err != nil {
		return false, nil
	}
	return true, nil
}

// Answer fetches the current TVL, scales it by 10^18, and truncates to
// an unsigned 128-bit integer widened to 256 bits. It fails the tick (a
// non-nil error) if the provider is unreachable or the scaled value
// cannot be represented in 128 bits; it never returns "not yet ready" —
// a TVL reading is always available once the provider responds.
func (p *TVLPayload) Answer(ctx context.Context, deps Dependencies) (*big.Int, error) {
	raw, err := deps.DataProvider.GetTVL(ctx, p.Protocol)
	if err != nil {
		return nil, fmt.Errorf("could not fetch tvl for protocol %q: %w", p.Protocol, err)
	}

	tvl, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("data provider returned a non-numeric tvl %q: %w", raw, err)
	}

	scaled := tvl.Mul(answerScale).Truncate(0)
	value := scaled.BigInt()

	if value.Sign() < 0 {
		return nil, fmt.Errorf("scaled tvl value %s is negative", value.String())
	}
	if value.BitLen() > 128 {
		return nil, fmt.Errorf("scaled tvl value %s does not fit in a uint128", value.String())
	}

	return value, nil
}
