// Command relayd serves POST /relay: it submits recovery bundles to the
// Flashbots relay and reports whether they were included.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ligun0805/wallet-recovery/internal/config"
	"github.com/ligun0805/wallet-recovery/internal/flashbots"
	"github.com/ligun0805/wallet-recovery/internal/logger"
	"github.com/ligun0805/wallet-recovery/internal/relay"
	"github.com/ligun0805/wallet-recovery/internal/server"
)

var (
	configPath string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:          "relayd",
	Short:        "Relay submission endpoint for recovery bundles",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var paths []string
		if configPath != "" {
			paths = append(paths, configPath)
		}
		s, err := config.Load(paths...)
		if err != nil {
			return err
		}
		if err := logger.Init(s.Env); err != nil {
			return err
		}
		defer logger.Sync()
		if s.Env == "production" {
			gin.SetMode(gin.ReleaseMode)
		}
		if listenAddr != "" {
			s.ListenAddr = listenAddr
		}
		return run(cmd.Context(), s)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "config file (yaml)")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides LISTEN_ADDR)")
}

func run(ctx context.Context, s config.Settings) error {
	ec, err := ethclient.DialContext(ctx, s.RPCURL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.RPCURL, err)
	}
	defer ec.Close()
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	if chainID.Int64() != s.Network.ChainID {
		return fmt.Errorf("RPC_URL serves chain %s, network %s is %d", chainID, s.Network.Name, s.Network.ChainID)
	}

	fb, err := flashbots.NewClient(s.Network.RelayURL, s.FlashbotsAuthPK)
	if err != nil {
		return err
	}
	defer fb.Close()
	if s.FlashbotsAuthPK == "" {
		logger.Warn("FLASHBOTS_AUTH_PK empty, signing bundles with a throwaway key")
	}

	sub := relay.NewSubmitter(fb, ec, logger.Named("submitter"))
	srv := server.New(map[int64]server.BundleSubmitter{s.Network.ChainID: sub}, s.Network.ChainID, logger.Named("server"))
	logger.Info("relay endpoint", zap.String("network", s.Network.Name), zap.String("relay", s.Network.RelayURL))
	return srv.Run(ctx, s.ListenAddr)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
