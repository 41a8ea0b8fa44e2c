package main

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/ligun0805/wallet-recovery/internal/intent"
	"github.com/ligun0805/wallet-recovery/internal/logger"
)

// assetFlags selects what to move out of the compromised account.
type assetFlags struct {
	erc20    []string
	erc721   []string
	erc1155  []string
	rawTxs   []string
	abiNinja []string
	discover bool
}

func (f *assetFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringArrayVar(&f.erc20, "erc20", nil, "token[=amount] (whole balance when amount is omitted)")
	fs.StringArrayVar(&f.erc721, "erc721", nil, "token=tokenId")
	fs.StringArrayVar(&f.erc1155, "erc1155", nil, "token=id:amount[,id:amount...]")
	fs.StringArrayVar(&f.rawTxs, "raw-tx", nil, "raw transaction of the compromised account to replay as a custom call")
	fs.StringArrayVar(&f.abiNinja, "abininja", nil, `"Custom abininja call to 0x<to> with data 0x<data>"`)
	fs.BoolVar(&f.discover, "discover", false, "add every configured discovery token with a balance")
}

func splitPair(s string) (string, string) {
	k, v, _ := strings.Cut(s, "=")
	return strings.TrimSpace(k), strings.TrimSpace(v)
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

// build turns the flags into intents. Recipients are left empty: the machine
// binds every intent to the safe account.
func (f *assetFlags) build(ctx context.Context, a *app, hacked common.Address) ([]intent.Intent, error) {
	tokens := &intent.TokenDiscoverer{Caller: a.ec, Log: logger.Named("discover")}
	var out []intent.Intent

	if f.discover {
		for _, t := range settings.DiscoveryTokens {
			addr, err := parseAddress(t)
			if err != nil {
				return nil, err
			}
			tokens.Tokens = append(tokens.Tokens, addr)
		}
		found, err := intent.NewCachedDiscoverer(tokens, settings.BlockInterval).Discover(ctx, hacked)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}

	for _, s := range f.erc20 {
		k, v := splitPair(s)
		token, err := parseAddress(k)
		if err != nil {
			return nil, err
		}
		t, err := tokens.Token(ctx, token, hacked)
		if err != nil {
			return nil, err
		}
		if v != "" {
			amt, err := intent.ParseUnits(v, t.Decimals)
			if err != nil {
				return nil, err
			}
			if amt.Cmp(t.Amount) > 0 {
				return nil, fmt.Errorf("%s: balance %s is below %s", token.Hex(), intent.FormatUnits(t.Amount, t.Decimals), v)
			}
			t.Amount = amt
		}
		if t.Amount.Sign() == 0 {
			return nil, fmt.Errorf("%s: nothing to move", token.Hex())
		}
		out = append(out, t)
	}

	for _, s := range f.erc721 {
		k, v := splitPair(s)
		token, err := parseAddress(k)
		if err != nil {
			return nil, err
		}
		id, err := parseBig(v)
		if err != nil {
			return nil, err
		}
		out = append(out, intent.ERC721{Token: token, From: hacked, TokenID: id})
	}

	for _, s := range f.erc1155 {
		k, v := splitPair(s)
		token, err := parseAddress(k)
		if err != nil {
			return nil, err
		}
		it := intent.ERC1155{Token: token, From: hacked}
		for _, pair := range strings.Split(v, ",") {
			idS, amtS, ok := strings.Cut(pair, ":")
			if !ok {
				return nil, fmt.Errorf("erc1155 %q: want id:amount", pair)
			}
			id, err := parseBig(idS)
			if err != nil {
				return nil, err
			}
			amt, err := parseBig(amtS)
			if err != nil {
				return nil, err
			}
			it.TokenIDs = append(it.TokenIDs, id)
			it.Amounts = append(it.Amounts, amt)
		}
		out = append(out, it)
	}

	for _, raw := range f.rawTxs {
		c, err := intent.FromRawTransaction(hacked, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	for _, s := range f.abiNinja {
		c, err := intent.ParseAbiNinjaCall(hacked, s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
