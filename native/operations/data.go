package operations

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
)

// Params is the decoded form of a step's data: the asset, pool or vault the
// step targets and an optional slippage override in basis points. Zero
// selects the controller default for the kind.
type Params struct {
	Target      common.Address
	SlippageBps uint64
}

var paramsArgs abi.Arguments

func init() {
	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uintType, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	paramsArgs = abi.Arguments{{Name: "target", Type: addressType}, {Name: "slippageBps", Type: uintType}}
}

// EncodeParams ABI-encodes (address target, uint256 slippageBps).
func EncodeParams(p Params) ([]byte, error) {
	return paramsArgs.Pack(p.Target, new(big.Int).SetUint64(p.SlippageBps))
}

// MustEncodeParams is EncodeParams for static plans.
func MustEncodeParams(target common.Address, slippageBps uint64) []byte {
	data, err := EncodeParams(Params{Target: target, SlippageBps: slippageBps})
	if err != nil {
		panic(err)
	}
	return data
}

// DecodeParams reverses EncodeParams.
func DecodeParams(data []byte) (Params, error) {
	values, err := paramsArgs.Unpack(data)
	if err != nil {
		return Params{}, fmt.Errorf("%w: decode data: %v", strategyerrors.ErrInvalidOperation, err)
	}
	if len(values) != 2 {
		return Params{}, fmt.Errorf("%w: unexpected data arity %d", strategyerrors.ErrInvalidOperation, len(values))
	}
	target, ok := values[0].(common.Address)
	if !ok {
		return Params{}, fmt.Errorf("%w: target is not an address", strategyerrors.ErrInvalidOperation)
	}
	slippage, ok := values[1].(*big.Int)
	if !ok || !slippage.IsUint64() || slippage.Uint64() > 10_000 {
		return Params{}, fmt.Errorf("%w: slippage out of range", strategyerrors.ErrInvalidOperation)
	}
	if target == (common.Address{}) {
		return Params{}, fmt.Errorf("%w: target required", strategyerrors.ErrInvalidOperation)
	}
	return Params{Target: target, SlippageBps: slippage.Uint64()}, nil
}
