package chain

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// PairState is what LP valuation needs from a UniswapV2-style pair
type PairState struct {
	Token0      common.Address
	Token1      common.Address
	Reserve0    *big.Int
	Reserve1    *big.Int
	TotalSupply *big.Int
}

// Dex reads router, pair and ERC20 state. One ABI covers all three since the
// method names don't overlap.
type Dex struct {
	abi      abi.ABI
	provider Provider
}

// NewDex builds a reader over an existing provider
func NewDex(parsed abi.ABI, provider Provider) *Dex {
	return &Dex{abi: parsed, provider: provider}
}

// ABI returns the parsed router/pair/ERC20 ABI
func (d *Dex) ABI() abi.ABI {
	return d.abi
}

func (d *Dex) call(ctx context.Context, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := d.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := d.provider.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	values, err := d.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// TotalSupply reads an ERC20 totalSupply()
func (d *Dex) TotalSupply(ctx context.Context, token common.Address) (*big.Int, error) {
	values, err := d.call(ctx, token, "totalSupply")
	if err != nil {
		return nil, err
	}
	return asBig("totalSupply", values[0])
}

// Reserves reads token0, token1, reserves and total supply of a pair
func (d *Dex) Reserves(ctx context.Context, pair common.Address) (*PairState, error) {
	state := &PairState{}

	values, err := d.call(ctx, pair, "getReserves")
	if err != nil {
		return nil, err
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("getReserves: expected 3 outputs, got %d", len(values))
	}
	if state.Reserve0, err = asBig("reserve0", values[0]); err != nil {
		return nil, err
	}
	if state.Reserve1, err = asBig("reserve1", values[1]); err != nil {
		return nil, err
	}

	for method, dst := range map[string]*common.Address{"token0": &state.Token0, "token1": &state.Token1} {
		values, err := d.call(ctx, pair, method)
		if err != nil {
			return nil, err
		}
		if *dst, err = asAddress(method, values[0]); err != nil {
			return nil, err
		}
	}

	if state.TotalSupply, err = d.TotalSupply(ctx, pair); err != nil {
		return nil, err
	}
	return state, nil
}

// AmountsOut quotes getAmountsOut(amountIn, path) on the router
func (d *Dex) AmountsOut(ctx context.Context, router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	values, err := d.call(ctx, router, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("getAmountsOut: unexpected type %T", values[0])
	}
	if len(amounts) != len(path) {
		return nil, fmt.Errorf("getAmountsOut: expected %d amounts, got %d", len(path), len(amounts))
	}
	return amounts, nil
}
