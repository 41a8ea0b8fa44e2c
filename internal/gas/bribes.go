package gas

import (
	"bytes"
	"context"
	"math"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
)

// BlockReader is satisfied by *ethclient.Client.
type BlockReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
}

// BribeSummary aggregates coinbase payments seen in recent blocks.
type BribeSummary struct {
	Count int
	Sum   *big.Int
	Max   *big.Int
	P50   *big.Int
	P95   *big.Int
	P99   *big.Int
}

// coinbaseSelfdestruct is COINBASE SELFDESTRUCT in init code.
var coinbaseSelfdestruct = []byte{0x41, 0xff}

// ScanCoinbaseBribes collects direct payments to the block builder over the
// last blocks: value transfers to the coinbase and value-carrying contract
// creations that selfdestruct into it. Unreadable blocks are skipped.
func ScanCoinbaseBribes(ctx context.Context, r BlockReader, blocks int) ([]*big.Int, error) {
	if blocks <= 0 {
		blocks = 100
	}
	head, err := r.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	var out []*big.Int
	for i := 0; i < blocks; i++ {
		n := new(big.Int).Sub(head.Number, big.NewInt(int64(i)))
		if n.Sign() <= 0 {
			break
		}
		b, err := r.BlockByNumber(ctx, n)
		if err != nil || b == nil {
			continue
		}
		cb := b.Coinbase()
		for _, tx := range b.Transactions() {
			if tx.Value() == nil || tx.Value().Sign() <= 0 {
				continue
			}
			switch {
			case tx.To() == nil && bytes.Contains(tx.Data(), coinbaseSelfdestruct):
				out = append(out, new(big.Int).Set(tx.Value()))
			case tx.To() != nil && *tx.To() == cb:
				out = append(out, new(big.Int).Set(tx.Value()))
			}
		}
	}
	return out, nil
}

func quantile(sorted []*big.Int, q float64) *big.Int {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return new(big.Int).Set(sorted[idx])
}

func SummarizeBribes(vals []*big.Int) BribeSummary {
	s := BribeSummary{Count: len(vals), Sum: new(big.Int), Max: new(big.Int), P50: new(big.Int), P95: new(big.Int), P99: new(big.Int)}
	if len(vals) == 0 {
		return s
	}
	sorted := make([]*big.Int, len(vals))
	for i, v := range vals {
		sorted[i] = new(big.Int).Set(v)
		s.Sum.Add(s.Sum, v)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	s.Max.Set(sorted[len(sorted)-1])
	s.P50 = quantile(sorted, 0.50)
	s.P95 = quantile(sorted, 0.95)
	s.P99 = quantile(sorted, 0.99)
	return s
}
