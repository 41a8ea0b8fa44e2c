// Package preflight inspects tokens and accounts before a recovery is attempted.
package preflight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/jpillora/backoff"
)

// pause flags in the wild; the *Enabled variants are inverted.
var pausedSigs = []string{
	"paused()", "isPaused()", "transfersPaused()", "tradingPaused()", "isTradingPaused()",
	"globalPaused()", "transferEnabled()", "isTransferEnabled()", "tradingEnabled()", "isTradingEnabled()",
}

var (
	blacklistSigs        = []string{"isBlacklisted(address)", "isBlackListed(address)", "blacklisted(address)", "isInBlacklist(address)"}
	whitelistSigs        = []string{"isWhitelisted(address)", "whitelisted(address)"}
	onlyWhitelistSigs    = []string{"onlyWhitelisted()", "whitelistEnabled()"}
	transferDisabledSigs = []string{"transferDisabled()", "isTransferDisabled()"}
)

func sel(sig string) []byte { return gethcrypto.Keccak256([]byte(sig))[:4] }

// Restrictions summarizes what a token contract reports about a transfer.
type Restrictions struct {
	Paused           bool
	TransferDisabled bool
	OnlyWhitelisted  bool
	FromWhitelisted  *bool
	ToWhitelisted    *bool
	BlacklistedFrom  bool
	BlacklistedTo    bool
}

// Blocked reports whether the transfer would certainly fail.
func (r Restrictions) Blocked() bool {
	if r.Paused || r.TransferDisabled || r.BlacklistedFrom || r.BlacklistedTo {
		return true
	}
	if r.OnlyWhitelisted {
		if r.FromWhitelisted != nil && !*r.FromWhitelisted {
			return true
		}
		if r.ToWhitelisted != nil && !*r.ToWhitelisted {
			return true
		}
	}
	return false
}

func (r Restrictions) Summary() string {
	var parts []string
	if r.Paused {
		parts = append(parts, "paused")
	}
	if r.TransferDisabled {
		parts = append(parts, "transferDisabled")
	}
	if r.BlacklistedFrom {
		parts = append(parts, "from:blacklisted")
	}
	if r.BlacklistedTo {
		parts = append(parts, "to:blacklisted")
	}
	if r.OnlyWhitelisted {
		parts = append(parts, fmt.Sprintf("whitelist:on (from=%s,to=%s)", tri(r.FromWhitelisted), tri(r.ToWhitelisted)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func tri(b *bool) string {
	switch {
	case b == nil:
		return "unknown"
	case *b:
		return "yes"
	}
	return "no"
}

// Checker runs view calls against token contracts.
type Checker struct {
	Caller   ethereum.ContractCaller
	Attempts int
}

func (c *Checker) call(ctx context.Context, token common.Address, data []byte) ([]byte, bool) {
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 2 * time.Second}
	for i := 1; i <= attempts; i++ {
		ret, err := c.Caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err == nil {
			return ret, len(ret) > 0
		}
		// reverts mean the selector is absent; only rate limits are retried
		if !strings.Contains(err.Error(), "Too Many Requests") && !strings.Contains(err.Error(), "-32005") {
			return nil, false
		}
		if i < attempts {
			select {
			case <-ctx.Done():
				return nil, false
			case <-time.After(b.Duration()):
			}
		}
	}
	return nil, false
}

func lastBool(b []byte) bool { return len(b) > 0 && b[len(b)-1] == 1 }

// Paused probes the known pause flags. known is false when none answered.
func (c *Checker) Paused(ctx context.Context, token common.Address) (known, paused bool) {
	for _, sig := range pausedSigs {
		ret, ok := c.call(ctx, token, sel(sig))
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(sig), "enabled") {
			return true, !lastBool(ret)
		}
		return true, lastBool(ret)
	}
	return false, false
}

// Restrictions collects pause, blacklist and whitelist state for a transfer from -> to.
func (c *Checker) Restrictions(ctx context.Context, token, from, to common.Address) Restrictions {
	var out Restrictions
	if known, paused := c.Paused(ctx, token); known && paused {
		out.Paused = true
		return out
	}
	for _, s := range transferDisabledSigs {
		if ret, ok := c.call(ctx, token, sel(s)); ok && lastBool(ret) {
			out.TransferDisabled = true
			return out
		}
	}
	for _, s := range onlyWhitelistSigs {
		if ret, ok := c.call(ctx, token, sel(s)); ok && lastBool(ret) {
			out.OnlyWhitelisted = true
			break
		}
	}
	addrArg := func(sig string, addr common.Address) []byte {
		return append(sel(sig), common.LeftPadBytes(addr.Bytes(), 32)...)
	}
	whitelisted := func(addr common.Address) *bool {
		for _, s := range whitelistSigs {
			if ret, ok := c.call(ctx, token, addrArg(s, addr)); ok {
				v := lastBool(ret)
				return &v
			}
		}
		return nil
	}
	if out.OnlyWhitelisted {
		out.FromWhitelisted = whitelisted(from)
		out.ToWhitelisted = whitelisted(to)
	}
	blacklisted := func(addr common.Address) bool {
		for _, s := range blacklistSigs {
			if ret, ok := c.call(ctx, token, addrArg(s, addr)); ok && lastBool(ret) {
				return true
			}
		}
		return false
	}
	out.BlacklistedFrom = blacklisted(from)
	out.BlacklistedTo = blacklisted(to)
	return out
}
