package keeper

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shares-tracker/internal/protocol"
)

// tradeCall is a decoded buyShares/sellShares invocation.
type tradeCall struct {
	Subject string
	Amount  int64
	IsBuy   bool
}

// Both trade methods share the (address subject, uint256 amount)
// signature; only the selector differs.
var tradeArgs = abi.Arguments{
	{Name: "sharesSubject", Type: mustType("address")},
	{Name: "amount", Type: mustType("uint256")},
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// isTradeInput reports whether calldata starts with one of the trade
// selectors.
func isTradeInput(input string) bool {
	lowered := strings.ToLower(input)
	return strings.HasPrefix(lowered, protocol.BuySelector) ||
		strings.HasPrefix(lowered, protocol.SellSelector)
}

// decodeTradeCall decodes trade calldata. A transaction that matched
// the selector but fails to decode is malformed beyond repair, so the
// error propagates instead of being skipped.
func decodeTradeCall(input string) (*tradeCall, error) {
	lowered := strings.ToLower(input)

	var isBuy bool
	switch {
	case strings.HasPrefix(lowered, protocol.BuySelector):
		isBuy = true
	case strings.HasPrefix(lowered, protocol.SellSelector):
		isBuy = false
	default:
		return nil, fmt.Errorf("input does not match a trade selector")
	}

	data, err := hexutil.Decode(lowered)
	if err != nil {
		return nil, fmt.Errorf("invalid calldata hex: %w", err)
	}

	values, err := tradeArgs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode trade calldata: %w", err)
	}

	subject, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected subject argument type %T", values[0])
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected amount argument type %T", values[1])
	}
	if !amount.IsInt64() {
		return nil, fmt.Errorf("trade amount %s exceeds int64 range", amount)
	}

	return &tradeCall{
		Subject: strings.ToLower(subject.Hex()),
		Amount:  amount.Int64(),
		IsBuy:   isBuy,
	}, nil
}
