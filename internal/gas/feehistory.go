package gas

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
)

// FeeHistoryReader is satisfied by *ethclient.Client.
type FeeHistoryReader interface {
	FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*ethereum.FeeHistory, error)
}

// RewardStats aggregates min/avg/max priority fee for one percentile.
type RewardStats struct {
	Min *big.Int
	Avg *big.Int
	Max *big.Int
}

// FeeHistoryStats returns min/avg/max over the last blocks for given percentiles.
func FeeHistoryStats(ctx context.Context, r FeeHistoryReader, blocks int, percentiles []int) (map[int]RewardStats, error) {
	if blocks <= 0 {
		blocks = 100
	}
	if len(percentiles) == 0 {
		percentiles = []int{50, 95, 99}
	}
	pcts := make([]float64, len(percentiles))
	for i, p := range percentiles {
		pcts[i] = float64(p)
	}
	fh, err := r.FeeHistory(ctx, uint64(blocks), nil, pcts)
	if err != nil {
		return nil, err
	}
	if len(fh.Reward) == 0 {
		return nil, errors.New("feeHistory: empty reward")
	}

	res := make(map[int]RewardStats, len(percentiles))
	for _, p := range percentiles {
		res[p] = RewardStats{Avg: new(big.Int), Max: new(big.Int)}
	}
	for _, row := range fh.Reward {
		for j := 0; j < len(percentiles) && j < len(row); j++ {
			v := row[j]
			if v == nil {
				continue
			}
			st := res[percentiles[j]]
			if st.Min == nil || v.Cmp(st.Min) < 0 {
				st.Min = new(big.Int).Set(v)
			}
			if v.Cmp(st.Max) > 0 {
				st.Max = new(big.Int).Set(v)
			}
			st.Avg.Add(st.Avg, v)
			res[percentiles[j]] = st
		}
	}
	n := big.NewInt(int64(len(fh.Reward)))
	for p, st := range res {
		st.Avg.Div(st.Avg, n)
		if st.Min == nil {
			st.Min = new(big.Int)
		}
		res[p] = st
	}
	return res, nil
}
