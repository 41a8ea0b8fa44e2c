package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/ligun0805/wallet-recovery/internal/intent"
	"github.com/ligun0805/wallet-recovery/internal/preflight"
	"github.com/ligun0805/wallet-recovery/internal/recovery"
	"github.com/ligun0805/wallet-recovery/internal/session"
)

var (
	quoteAssets assetFlags
	quoteSafe   string
	quoteHacked string
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Price the recovery bundle without signing anything",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		safe, err := parseAddress(quoteSafe)
		if err != nil {
			return err
		}
		hacked, err := parseAddress(quoteHacked)
		if err != nil {
			return err
		}
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		intents, err := quoteAssets.build(ctx, a, hacked)
		if err != nil {
			return err
		}
		printRestrictions(ctx, a, intents, hacked, safe)

		// quoting never touches a stored attempt
		deps := a.deps()
		deps.Store = session.NewMemoryStore()
		m, err := recovery.Open(ctx, deps, safe, hacked)
		if err != nil {
			return err
		}
		if err := m.SetIntents(ctx, intents); err != nil {
			return err
		}
		q, err := m.Quote(ctx)
		if err != nil {
			return err
		}
		printQuote(q)
		return nil
	},
}

func init() {
	quoteAssets.register(quoteCmd)
	quoteCmd.Flags().StringVar(&quoteSafe, "safe", "", "safe account address")
	quoteCmd.Flags().StringVar(&quoteHacked, "hacked", "", "compromised account address")
	_ = quoteCmd.MarkFlagRequired("safe")
	_ = quoteCmd.MarkFlagRequired("hacked")
	rootCmd.AddCommand(quoteCmd)
}

func printRestrictions(ctx context.Context, a *app, intents []intent.Intent, from, to common.Address) {
	checker := &preflight.Checker{Caller: a.ec}
	for _, it := range intents {
		t, ok := it.(intent.ERC20)
		if !ok {
			continue
		}
		r := checker.Restrictions(ctx, t.Token, from, to)
		fmt.Printf("[preflight] %s: %s\n", it.Label(), r.Summary())
		if r.Blocked() {
			fmt.Printf("[preflight] %s is blocked by the token contract and will be dropped in simulation\n", it.Label())
		}
	}
}

func printQuote(q recovery.Quote) {
	cached := ""
	if q.Cached {
		cached = " (cached)"
	}
	fmt.Printf("[quote] base fee forecast: %s gwei%s\n", formatGwei(q.BaseFee), cached)
	for i, tx := range q.Txs {
		fmt.Printf("  %d. %-40s gas=%-7d maxFee=%s gwei cost<=%s ETH\n", i+1, tx.Label, tx.GasLimit, formatGwei(tx.MaxFeePerGas), formatEther(tx.Cost()))
	}
	for _, e := range q.Evicted {
		fmt.Printf("  [dropped] %s: %s\n", e.Label, e.Reason)
	}
	fmt.Printf("[quote] funding needed: %s ETH\n", formatEther(q.Funding))
}
