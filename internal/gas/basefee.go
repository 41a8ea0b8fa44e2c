// Package gas prices recovery bundles: gas estimation, the per-epoch estimate
// cache, base fee forecasting and the funding amount.
package gas

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/raulk/clock"
)

var ErrNoBaseFee = errors.New("no baseFee (pre-1559?)")

// HeaderReader is the chain capability the forecaster needs.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// ProjectBaseFee bounds the base fee blocks ahead: each block may grow it by at most 12.5%.
func ProjectBaseFee(base *big.Int, blocks int) *big.Int {
	out := new(big.Int).Set(base)
	for i := 0; i < blocks; i++ {
		out.Mul(out, big.NewInt(1125))
		out.Div(out, big.NewInt(1000))
		out.Add(out, big.NewInt(1))
	}
	return out
}

// Forecaster caches the projected max base fee for one block interval.
type Forecaster struct {
	headers   HeaderReader
	lookahead int
	epoch     time.Duration
	clock     clock.Clock

	mu    sync.Mutex
	value *big.Int
	at    time.Time
}

func NewForecaster(headers HeaderReader, lookahead int, epoch time.Duration, clk clock.Clock) *Forecaster {
	if clk == nil {
		clk = clock.New()
	}
	return &Forecaster{headers: headers, lookahead: lookahead, epoch: epoch, clock: clk}
}

// Forecast returns the cached forecast or recomputes it from the latest header.
func (f *Forecaster) Forecast(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.value != nil && f.clock.Since(f.at) < f.epoch {
		return new(big.Int).Set(f.value), nil
	}
	h, err := f.headers.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	if h.BaseFee == nil {
		return nil, ErrNoBaseFee
	}
	f.value = ProjectBaseFee(h.BaseFee, f.lookahead)
	f.at = f.clock.Now()
	return new(big.Int).Set(f.value), nil
}
