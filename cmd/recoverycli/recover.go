package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ligun0805/wallet-recovery/internal/recovery"
)

var (
	recoverAssets assetFlags
	recoverDonate string
	recoverYes    bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Fund, sign and submit the recovery bundle",
	Long: `Moves the selected assets from the compromised account to the safe account.
Keys are read from SAFE_PRIVATE_KEY and HACKED_PRIVATE_KEY or prompted for.
An interrupted attempt is picked up from the session store on the next run.`,
	RunE: runRecover,
}

func init() {
	recoverAssets.register(recoverCmd)
	recoverCmd.Flags().StringVar(&recoverDonate, "donate", "", "tip in ETH sent after success")
	recoverCmd.Flags().BoolVarP(&recoverYes, "yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(recoverCmd)
}

func secret(env, prompt string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v, nil
	}
	return readPassword(prompt)
}

func runRecover(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	safeKey, err := secret("SAFE_PRIVATE_KEY", "Safe account private key: ")
	if err != nil {
		return err
	}
	hackedKey, err := secret("HACKED_PRIVATE_KEY", "Compromised account private key: ")
	if err != nil {
		return err
	}
	safe, err := a.wallet.Import(safeKey)
	if err != nil {
		return fmt.Errorf("safe key: %w", err)
	}
	hacked, err := a.wallet.Import(hackedKey)
	if err != nil {
		return fmt.Errorf("compromised key: %w", err)
	}

	fmt.Println("=== CONFIG ===")
	fmt.Println("Network           :", settings.Network.Name)
	fmt.Println("RPC_URL           :", settings.RPCURL)
	fmt.Println("Relay endpoint    :", settings.RelayEndpoint)
	fmt.Println("Safe account      :", safe.Hex(), "|", formatEther(balance(ctx, a.ec, safe)), "ETH", "| key", maskHex(safeKey))
	fmt.Println("Compromised       :", hacked.Hex(), "|", formatEther(balance(ctx, a.ec, hacked)), "ETH", "| key", maskHex(hackedKey))
	fmt.Println("==============")

	m, err := recovery.Open(ctx, a.deps(), safe, hacked)
	if err != nil {
		return err
	}

	switch st := m.Status(); st {
	case recovery.StatusSendBundle, recovery.StatusListenBundle:
		if recoverYes || confirm(fmt.Sprintf("Found an attempt in %s. Resume it?", st)) {
			if err := m.Resume(ctx); err != nil {
				return err
			}
			return await(ctx, a, m)
		}
		if err := m.Restart(ctx); err != nil {
			return err
		}
	case recovery.StatusInitial, recovery.StatusNoConnectedAccount:
	default:
		fmt.Printf("[session] previous attempt stopped in %s: %s\n", st, st.Hint())
		if err := m.Restart(ctx); err != nil {
			return err
		}
	}

	intents, err := recoverAssets.build(ctx, a, hacked)
	if err != nil {
		return err
	}
	if len(intents) == 0 {
		return recovery.ErrNoIntents
	}
	printRestrictions(ctx, a, intents, hacked, safe)
	if err := m.SetIntents(ctx, intents); err != nil {
		return err
	}
	q, err := m.Quote(ctx)
	if err != nil {
		return err
	}
	printQuote(q)
	if balance(ctx, a.ec, safe).Cmp(q.Funding) < 0 {
		return fmt.Errorf("safe account holds less than the %s ETH needed", formatEther(q.Funding))
	}
	if !recoverYes && !confirm("Send the bundle?") {
		return errAborted
	}

	if err := a.wallet.Connect(safe); err != nil {
		return err
	}
	if err := m.Start(ctx); err != nil {
		if !errors.Is(err, recovery.ErrManualNetwork) {
			return report(m, err)
		}
		if err := manualNetwork(ctx, a, m); err != nil {
			return report(m, err)
		}
	}
	fmt.Println("[rpc] wallet switched to", a.wallet.RPCURL())

	if err := m.PayGas(ctx); err != nil {
		return report(m, err)
	}
	fmt.Println("[fund] funding transaction cached in the bundle")

	if err := a.wallet.Connect(hacked); err != nil {
		return err
	}
	if err := m.SignRecovery(ctx); err != nil {
		return report(m, err)
	}
	fmt.Printf("[sign] %d recovery transactions signed\n", len(q.Txs))

	if err := m.SendBundle(ctx); err != nil {
		return report(m, err)
	}
	if err := await(ctx, a, m); err != nil {
		return err
	}

	if recoverDonate != "" {
		amount, err := parseETH(recoverDonate)
		if err != nil {
			return err
		}
		if err := a.wallet.Connect(safe); err != nil {
			return err
		}
		h, err := m.Donate(ctx, amount)
		if err != nil {
			fmt.Println("[donate] failed:", err)
			return nil
		}
		fmt.Println("[donate] thank you:", h.Hex())
	}
	return nil
}

// manualNetwork shows the RPC parameters the wallet refused and retries once
// the operator confirms.
func manualNetwork(ctx context.Context, a *app, m *recovery.Machine) error {
	st := m.Snapshot()
	if st.RPCParams == nil {
		return errors.New("no RPC parameters to add")
	}
	b, _ := json.MarshalIndent(st.RPCParams, "", "  ")
	fmt.Printf("[rpc] add this network to the wallet by hand:\n%s\n", b)
	if !confirm("Added?") {
		return errAborted
	}
	if err := a.wallet.AddChain(ctx, *st.RPCParams); err != nil {
		return err
	}
	return m.ConfirmNetwork(ctx)
}

// await prints poll progress until the machine settles.
func await(ctx context.Context, a *app, m *recovery.Machine) error {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(settings.BlockInterval / 2)
		defer t.Stop()
		var last uint64
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if b := m.Snapshot().Session.AttemptedBlock; b != last {
					last = b
					fmt.Println("[bundle] targeting block", b)
				}
			}
		}
	}()
	st, err := m.Wait(ctx)
	close(done)

	switch {
	case st == recovery.StatusSuccess:
		s := m.Snapshot().Session
		fmt.Printf("[bundle] included: %s/tx/%s\n", settings.Network.ExplorerURL, s.SentTxHash.Hex())
		return nil
	case errors.Is(err, recovery.ErrPollTimeout):
		fmt.Println("[bundle] not included yet. Run recover again to keep polling.")
		return err
	case errors.Is(err, context.Canceled):
		fmt.Println("[bundle] stopped. Run recover again to keep polling.")
		return err
	}
	return report(m, err)
}

func report(m *recovery.Machine, err error) error {
	st := m.Status()
	fmt.Printf("[%s] %s\n", strings.ToLower(st.String()), st.Hint())
	return err
}
