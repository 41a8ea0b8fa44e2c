package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/redis/go-redis/v9"

	"github.com/ligun0805/wallet-recovery/internal/gas"
	"github.com/ligun0805/wallet-recovery/internal/logger"
	"github.com/ligun0805/wallet-recovery/internal/recovery"
	"github.com/ligun0805/wallet-recovery/internal/relay"
	"github.com/ligun0805/wallet-recovery/internal/session"
	"github.com/ligun0805/wallet-recovery/internal/wallet"
)

// app is everything a command needs, wired from settings.
type app struct {
	rpc    *rpc.Client
	ec     *ethclient.Client
	pricer *gas.Pricer
	store  session.Store
	wallet *wallet.KeyWallet
}

// dialEth dials RPC with keep-alives and sane timeouts.
func dialEth(ctx context.Context, url string) (*rpc.Client, *ethclient.Client, error) {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:    100,
			IdleConnTimeout: 90 * time.Second,
		},
	}
	c, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return c, ethclient.NewClient(c), nil
}

func newApp(ctx context.Context) (*app, error) {
	rc, ec, err := dialEth(ctx, settings.RPCURL)
	if err != nil {
		return nil, err
	}
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if chainID.Int64() != settings.Network.ChainID {
		rc.Close()
		return nil, fmt.Errorf("RPC_URL serves chain %s, network %s is %d", chainID, settings.Network.Name, settings.Network.ChainID)
	}

	cache, err := gas.NewEstimateCache(64, settings.BlockInterval, nil)
	if err != nil {
		rc.Close()
		return nil, err
	}
	var sim gas.BundleSimulator
	if settings.Network.AtomicSimulation {
		sim = &gas.AlchemySimulator{RPC: rc}
	}
	forecaster := gas.NewForecaster(ec, settings.Network.BaseFeeLookahead, settings.BlockInterval, nil)
	svc := gas.NewService(ec, sim, cache, forecaster, logger.Named("gas"))
	pricer := gas.NewPricer(svc, gas.GweiToWei(settings.PriorityFeeGwei), settings.GasBufferPct, settings.FundingMarginPct, settings.FundingFeePct)

	store, err := openStore(ctx)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return &app{
		rpc:    rc,
		ec:     ec,
		pricer: pricer,
		store:  store,
		wallet: wallet.NewKeyWallet(chainID, ec, nil),
	}, nil
}

func openStore(ctx context.Context) (session.Store, error) {
	switch settings.SessionBackend {
	case "memory":
		return session.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: settings.RedisAddr, Password: settings.RedisPassword, DB: settings.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: %w", settings.RedisAddr, err)
		}
		return session.NewRedisStore(client, 7*24*time.Hour), nil
	case "", "file":
		return session.NewFileStore(settings.SessionFile), nil
	}
	return nil, fmt.Errorf("unknown session backend %q", settings.SessionBackend)
}

func (a *app) Close() { a.rpc.Close() }

func (a *app) deps() recovery.Deps {
	d := recovery.Deps{
		Network:         settings.Network,
		Wallet:          a.wallet,
		Pricer:          a.pricer,
		Cache:           relay.NewBundleCache(settings.Network.BundleCacheURL),
		Relay:           relay.NewEndpoint(settings.RelayEndpoint, fmt.Sprint(settings.Network.ChainID)),
		Chain:           a.ec,
		Code:            a.ec,
		Store:           a.store,
		Log:             logger.Named("recovery"),
		MaxPollAttempts: settings.MaxPollAttempts,
		PublicRPC:       settings.RPCURL,
	}
	if common.IsHexAddress(settings.DonationAddress) {
		d.DonationAddress = common.HexToAddress(settings.DonationAddress)
	}
	return d
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func balance(ctx context.Context, ec *ethclient.Client, a common.Address) *big.Int {
	b, err := ec.BalanceAt(ctx, a, nil)
	if err != nil {
		return new(big.Int)
	}
	return b
}

var errAborted = errors.New("aborted")
