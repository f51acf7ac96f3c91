package ethereumclient

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestGasPriceForAttemptEscalates(t *testing.T) {
	base := big.NewInt(1_000_000_000)

	cases := []struct {
		attempt int
		want    *big.Int
	}{
		{0, big.NewInt(1_000_000_000)},
		{1, big.NewInt(1_300_000_000)},
		{2, big.NewInt(1_600_000_000)},
	}

	for _, tc := range cases {
		got := gasPriceForAttempt(base, tc.attempt)
		if got.Cmp(tc.want) != 0 {
			t.Errorf("attempt %d: got %s, want %s", tc.attempt, got.String(), tc.want.String())
		}
	}
}

func TestMinGasPriceFloor(t *testing.T) {
	want := big.NewInt(5_000_000_000)
	if minGasPrice().Cmp(want) != 0 {
		t.Fatalf("got %s, want %s", minGasPrice().String(), want.String())
	}
}

func TestIsRetryableSendError(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"replacement transaction underpriced", true},
		{"nonce too low", true},
		{"already known", true},
		{"insufficient funds for gas * price + value", false},
	}

	for _, tc := range cases {
		got := isRetryableSendError(errors.New(tc.msg))
		if got != tc.want {
			t.Errorf("%q: got %v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestDecodeCreateTokenLog(t *testing.T) {
	token := common.HexToAddress("0x1234567890123456789012345678901234567890")

	log := types.Log{
		Topics: []common.Hash{
			createTokenTopic,
			common.BytesToHash(token.Bytes()),
		},
	}

	got, err := DecodeCreateTokenLog(log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != token {
		t.Fatalf("got %s, want %s", got.Hex(), token.Hex())
	}
}

func TestDecodeCreateTokenLogRejectsWrongTopic(t *testing.T) {
	log := types.Log{
		Topics: []common.Hash{
			common.HexToHash("0xdead"),
			common.HexToHash("0xbeef"),
		},
	}

	if _, err := DecodeCreateTokenLog(log); err == nil {
		t.Fatal("expected error for mismatched event topic")
	}
}
