package gas

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ligun0805/wallet-recovery/internal/intent"
	"github.com/ligun0805/wallet-recovery/internal/logger"
)

// AtomicMaxTxs is the largest bundle estimated through one simulation call.
const AtomicMaxTxs = 3

// Estimator estimates a single call against the latest state.
type Estimator interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// SimulatedCall is the outcome of one transaction of a simulated bundle.
type SimulatedCall struct {
	GasUsed uint64
	Error   string
}

// BundleSimulator executes calls in order on top of each other.
type BundleSimulator interface {
	SimulateBundle(ctx context.Context, calls []intent.EstimateCall) ([]SimulatedCall, error)
}

// EvictFunc is told about every intent dropped from the bundle.
type EvictFunc func(index int, it intent.Intent, reason error)

// Estimate is the result of one estimation pass. GasLimits is aligned with the
// input intents; evicted intents have a zero entry and are listed in Evicted.
type Estimate struct {
	GasLimits []uint64
	BaseFee   *big.Int
	Evicted   []int
	Cached    bool
}

// Service combines the estimate cache, the forecaster and both estimation strategies.
type Service struct {
	est        Estimator
	sim        BundleSimulator // nil when the network has no atomic simulation
	cache      *EstimateCache
	forecaster *Forecaster
	log        *zap.Logger

	RetryAttempts int
	RetryMin      time.Duration
}

func NewService(est Estimator, sim BundleSimulator, cache *EstimateCache, forecaster *Forecaster, log *zap.Logger) *Service {
	return &Service{
		est:           est,
		sim:           sim,
		cache:         cache,
		forecaster:    forecaster,
		log:           logger.OrNop(log),
		RetryAttempts: 3,
		RetryMin:      200 * time.Millisecond,
	}
}

// Estimate returns gas limits for intents, reusing a live cache entry when the
// fingerprint and size match.
func (s *Service) Estimate(ctx context.Context, intents []intent.Intent, onEvict EvictFunc) (Estimate, error) {
	calls, err := intent.Calls(intents)
	if err != nil {
		return Estimate{}, err
	}
	fp := Fingerprint(calls)
	if e, ok := s.cache.Get(fp, len(intents)); ok {
		s.log.Debug("estimate cache hit", zap.String("fingerprint", fp.Hex()), zap.Int("txs", len(intents)))
		return Estimate{GasLimits: append([]uint64(nil), e.GasLimits...), BaseFee: new(big.Int).Set(e.BaseFee), Evicted: zeros(e.GasLimits), Cached: true}, nil
	}

	baseFee, err := s.forecaster.Forecast(ctx)
	if err != nil {
		return Estimate{}, fmt.Errorf("base fee forecast: %w", err)
	}

	var (
		limits []uint64
		fails  []error
	)
	if s.sim != nil && len(calls) <= AtomicMaxTxs {
		limits, fails, err = s.atomic(ctx, calls)
		if err != nil {
			s.log.Warn("bundle simulation failed, estimating one by one", zap.Error(err))
			limits, fails = s.independent(ctx, calls)
		}
	} else {
		limits, fails = s.independent(ctx, calls)
	}
	// a cancelled pass evicts nothing and is not cached
	if err := ctx.Err(); err != nil {
		return Estimate{}, err
	}

	var evicted []int
	for i, ferr := range fails {
		if ferr == nil {
			continue
		}
		limits[i] = 0
		evicted = append(evicted, i)
		s.log.Info("dropping transaction from bundle", zap.Int("index", i), zap.String("label", intents[i].Label()), zap.Error(ferr))
		if onEvict != nil {
			onEvict(i, intents[i], ferr)
		}
	}

	e := s.cache.Put(fp, limits, baseFee)
	return Estimate{GasLimits: e.GasLimits, BaseFee: new(big.Int).Set(e.BaseFee), Evicted: evicted}, nil
}

// Forecast exposes the cached base fee forecast.
func (s *Service) Forecast(ctx context.Context) (*big.Int, error) { return s.forecaster.Forecast(ctx) }

// atomic simulates the whole bundle so that effects of earlier transactions are seen by later ones.
func (s *Service) atomic(ctx context.Context, calls []intent.EstimateCall) ([]uint64, []error, error) {
	res, err := s.sim.SimulateBundle(ctx, calls)
	if err != nil {
		return nil, nil, err
	}
	limits := make([]uint64, len(calls))
	fails := make([]error, len(calls))
	for i := range calls {
		switch {
		case i >= len(res):
			fails[i] = errors.New("missing simulation result")
		case res[i].Error != "":
			fails[i] = fmt.Errorf("simulation reverted: %s", res[i].Error)
		default:
			limits[i] = res[i].GasUsed
		}
	}
	return limits, fails, nil
}

// independent estimates every call concurrently. A failing call never cancels the others.
func (s *Service) independent(ctx context.Context, calls []intent.EstimateCall) ([]uint64, []error) {
	limits := make([]uint64, len(calls))
	fails := make([]error, len(calls))
	var g errgroup.Group
	for i, c := range calls {
		i, c := i, c
		g.Go(func() error {
			msg := ethereum.CallMsg{From: c.From, To: &c.To, Data: c.Data, Value: c.Value}
			limits[i], fails[i] = s.estimateWithRetry(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()
	return limits, fails
}

func (s *Service) estimateWithRetry(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	b := &backoff.Backoff{Min: s.RetryMin, Max: 2 * time.Second, Factor: 2}
	attempts := max(s.RetryAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		g, err := s.est.EstimateGas(ctx, msg)
		if err == nil {
			return g, nil
		}
		lastErr = err
		if !isRateLimitError(err) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return 0, lastErr
}

func isRateLimitError(err error) bool {
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005") || strings.Contains(s, "429")
}

func zeros(limits []uint64) []int {
	var out []int
	for i, g := range limits {
		if g == 0 {
			out = append(out, i)
		}
	}
	return out
}
