package intent

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/ligun0805/wallet-recovery/internal/logger"
)

// Discoverer returns recovery candidates held by the compromised account.
type Discoverer interface {
	Discover(ctx context.Context, hacked common.Address) ([]Intent, error)
}

// TokenDiscoverer reads balances of a fixed ERC-20 list.
type TokenDiscoverer struct {
	Caller ethereum.ContractCaller
	Tokens []common.Address
	Log    *zap.Logger
}

func (d *TokenDiscoverer) Discover(ctx context.Context, hacked common.Address) ([]Intent, error) {
	var out []Intent
	for _, token := range d.Tokens {
		t, err := d.Token(ctx, token, hacked)
		if err != nil {
			return nil, err
		}
		if t.Amount.Sign() == 0 {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Token reads the full balance of owner in token as a transfer intent.
func (d *TokenDiscoverer) Token(ctx context.Context, token, owner common.Address) (ERC20, error) {
	log := logger.OrNop(d.Log)
	bal, err := d.balanceOf(ctx, token, owner)
	if err != nil {
		return ERC20{}, fmt.Errorf("balanceOf %s: %w", token.Hex(), err)
	}
	dec, err := d.decimals(ctx, token)
	if err != nil {
		log.Warn("decimals() failed, assuming 18", zap.String("token", token.Hex()), zap.Error(err))
		dec = 18
	}
	sym, err := d.symbol(ctx, token)
	if err != nil {
		log.Debug("symbol() failed", zap.String("token", token.Hex()), zap.Error(err))
	}
	return ERC20{Token: token, From: owner, Symbol: sym, Amount: bal, Decimals: dec}, nil
}

func (d *TokenDiscoverer) call(ctx context.Context, token common.Address, method string, args ...any) ([]any, error) {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	ret, err := d.Caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return tokenABI.Unpack(method, ret)
}

func (d *TokenDiscoverer) balanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := d.call(ctx, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result %T", out[0])
	}
	return v, nil
}

func (d *TokenDiscoverer) decimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := d.call(ctx, token, "decimals")
	if err != nil {
		return 0, err
	}
	v, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals result %T", out[0])
	}
	return v, nil
}

func (d *TokenDiscoverer) symbol(ctx context.Context, token common.Address) (string, error) {
	out, err := d.call(ctx, token, "symbol")
	if err != nil {
		return "", err
	}
	v, _ := out[0].(string)
	return v, nil
}

// CachedDiscoverer memoizes discovery results per address.
type CachedDiscoverer struct {
	next  Discoverer
	cache *gocache.Cache
}

func NewCachedDiscoverer(next Discoverer, ttl time.Duration) *CachedDiscoverer {
	return &CachedDiscoverer{next: next, cache: gocache.New(ttl, 2*ttl)}
}

func (c *CachedDiscoverer) Discover(ctx context.Context, hacked common.Address) ([]Intent, error) {
	key := hacked.Hex()
	if v, ok := c.cache.Get(key); ok {
		return v.([]Intent), nil
	}
	out, err := c.next.Discover(ctx, hacked)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, out)
	return out, nil
}

// Invalidate drops the cached result for hacked.
func (c *CachedDiscoverer) Invalidate(hacked common.Address) { c.cache.Delete(hacked.Hex()) }
