package gas

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/raulk/clock"

	"github.com/ligun0805/wallet-recovery/internal/intent"
)

// Entry is a cached estimation result. GasLimits[i] == 0 marks an evicted intent.
type Entry struct {
	GasLimits []uint64
	BaseFee   *big.Int
	CreatedAt time.Time
}

// EstimateCache memoizes gas limits per intent-set fingerprint for one block interval.
type EstimateCache struct {
	entries *lru.Cache[common.Hash, Entry]
	ttl     time.Duration
	clock   clock.Clock
}

func NewEstimateCache(size int, ttl time.Duration, clk clock.Clock) (*EstimateCache, error) {
	if clk == nil {
		clk = clock.New()
	}
	entries, err := lru.New[common.Hash, Entry](size)
	if err != nil {
		return nil, err
	}
	return &EstimateCache{entries: entries, ttl: ttl, clock: clk}, nil
}

// Fingerprint hashes the concatenated call data of calls, in order.
func Fingerprint(calls []intent.EstimateCall) common.Hash {
	var buf []byte
	for _, c := range calls {
		buf = append(buf, c.Data...)
	}
	return crypto.Keccak256Hash(buf)
}

// Get returns a live entry whose size matches n.
func (c *EstimateCache) Get(fp common.Hash, n int) (Entry, bool) {
	e, ok := c.entries.Get(fp)
	if !ok {
		return Entry{}, false
	}
	if c.clock.Since(e.CreatedAt) >= c.ttl || len(e.GasLimits) != n {
		c.entries.Remove(fp)
		return Entry{}, false
	}
	return e, true
}

func (c *EstimateCache) Put(fp common.Hash, gasLimits []uint64, baseFee *big.Int) Entry {
	e := Entry{
		GasLimits: append([]uint64(nil), gasLimits...),
		BaseFee:   new(big.Int).Set(baseFee),
		CreatedAt: c.clock.Now(),
	}
	c.entries.Add(fp, e)
	return e
}

func (c *EstimateCache) Purge() { c.entries.Purge() }
