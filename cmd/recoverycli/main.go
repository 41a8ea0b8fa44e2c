// Command recoverycli moves assets out of a compromised account through a
// private relay bundle funded by a safe account.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ligun0805/wallet-recovery/internal/config"
	"github.com/ligun0805/wallet-recovery/internal/logger"
)

var (
	configPath  string
	networkFlag string
	settings    config.Settings
)

var rootCmd = &cobra.Command{
	Use:           "recoverycli",
	Short:         "Recover assets from a compromised wallet with a relay bundle",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var paths []string
		if configPath != "" {
			paths = append(paths, configPath)
		}
		s, err := config.Load(paths...)
		if err != nil {
			return err
		}
		if networkFlag != "" {
			n, err := config.LookupNetwork(networkFlag)
			if err != nil {
				return err
			}
			s.Network = n
		}
		settings = s
		return logger.Init(s.Env)
	},
	PersistentPostRun: func(*cobra.Command, []string) { logger.Sync() },
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().StringVar(&networkFlag, "network", "", "mainnet | sepolia (overrides NETWORK)")
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
