package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ligun0805/wallet-recovery/internal/recovery"
	"github.com/ligun0805/wallet-recovery/internal/session"
)

var (
	sessionSafe   string
	sessionHacked string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored recovery attempt of a compromised account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		hacked, err := parseAddress(sessionHacked)
		if err != nil {
			return err
		}
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		s, err := store.Load(ctx, session.Key(hacked))
		if err != nil {
			return err
		}
		st, err := recovery.ParseStatus(s.Status)
		if err != nil {
			return err
		}
		fmt.Println("Status          :", st)
		fmt.Println("Next            :", st.Hint())
		fmt.Println("Safe            :", s.SafeAddress.Hex())
		fmt.Println("Compromised     :", s.HackedAddress.Hex())
		fmt.Println("Assets          :", len(s.Intents))
		for i, it := range s.Intents {
			fmt.Printf("  %d. %s\n", i+1, it.Label())
		}
		if s.BundleID != "" {
			fmt.Println("Bundle          :", s.BundleID)
		}
		fmt.Println("Gas covered     :", s.GasCovered)
		if s.SentBlock > 0 {
			fmt.Println("Sent at block   :", s.SentBlock, "first tx", s.SentTxHash.Hex())
			fmt.Println("Attempted block :", s.AttemptedBlock)
		}
		if s.LastError != "" {
			fmt.Println("Last error      :", s.LastError)
		}
		fmt.Println("Updated         :", s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Abandon the stored attempt and start over from asset selection",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		safe, err := parseAddress(sessionSafe)
		if err != nil {
			return err
		}
		hacked, err := parseAddress(sessionHacked)
		if err != nil {
			return err
		}
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		m, err := recovery.Open(ctx, recovery.Deps{Network: settings.Network, Store: store}, safe, hacked)
		if err != nil {
			return err
		}
		if err := m.Restart(ctx); err != nil {
			return err
		}
		fmt.Println("[session] reset to", m.Status())
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&sessionHacked, "hacked", "", "compromised account address")
	_ = statusCmd.MarkFlagRequired("hacked")
	restartCmd.Flags().StringVar(&sessionSafe, "safe", "", "safe account address")
	restartCmd.Flags().StringVar(&sessionHacked, "hacked", "", "compromised account address")
	_ = restartCmd.MarkFlagRequired("safe")
	_ = restartCmd.MarkFlagRequired("hacked")
	rootCmd.AddCommand(statusCmd, restartCmd)
}
