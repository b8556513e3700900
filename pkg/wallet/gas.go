package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
)

// GasPolicy bounds what the client will pay. Prices come exclusively from
// the trusted endpoint; wallet fee data never participates in the final
// decision because injected wallets return stale or missing fee fields.
type GasPolicy struct {
	// Floor is the minimum gas price in wei; network prices below it are
	// raised to the floor so transactions do not sit unmined
	Floor *big.Int

	// Ceiling is the maximum gas price in wei; a network price above it
	// fails with GAS_PRICE_EXCEEDED instead of under-paying, because an
	// under-paid transaction gets silently stuck
	Ceiling *big.Int

	// LimitMultiplier is the safety buffer applied to gas estimates,
	// e.g. 1.2 adds 20%
	LimitMultiplier float64
}

// DefaultGasPolicy returns conservative mainnet-ish bounds: a 1 gwei
// floor, a 300 gwei ceiling and a 20% estimate buffer.
func DefaultGasPolicy() GasPolicy {
	return GasPolicy{
		Floor:           big.NewInt(1_000_000_000),
		Ceiling:         big.NewInt(300_000_000_000),
		LimitMultiplier: 1.2,
	}
}

// ResolvePrice fetches the current gas price from the trusted reader and
// applies the floor/ceiling policy.
func (g GasPolicy) ResolvePrice(ctx context.Context, reader ChainReader) (*big.Int, error) {
	price, err := reader.SuggestGasPrice(ctx)
	if err != nil {
		return nil, NewWalletError(ErrCodeRPCError, "failed to get gas price", err, "")
	}

	if g.Ceiling != nil && price.Cmp(g.Ceiling) > 0 {
		return nil, NewWalletError(ErrCodeGasPriceExceeded, "network gas price above configured ceiling", nil, "")
	}
	if g.Floor != nil && price.Cmp(g.Floor) < 0 {
		return new(big.Int).Set(g.Floor), nil
	}
	return price, nil
}

// ResolveLimit returns the caller hint when given, otherwise a trusted
// estimate widened by the configured multiplier.
func (g GasPolicy) ResolveLimit(ctx context.Context, reader ChainReader, msg ethereum.CallMsg, hint uint64) (uint64, error) {
	if hint > 0 {
		return hint, nil
	}

	estimated, err := reader.EstimateGas(ctx, msg)
	if err != nil {
		return 0, NewWalletError(ErrCodeRPCError, "failed to estimate gas", err, "")
	}

	multiplier := g.LimitMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	return uint64(float64(estimated) * multiplier), nil
}
