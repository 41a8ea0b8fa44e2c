package wallet

import "github.com/ligun0805/wallet-recovery/internal/config"

type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// ChainParams is the wallet_addEthereumChain payload.
type ChainParams struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls"`
}

// RecoveryChain builds the params of the bundle-scoped RPC of network.
func RecoveryChain(n config.Network, scopedRPC string) ChainParams {
	return ChainParams{
		ChainID:           n.ChainIDHex(),
		ChainName:         n.ChainName,
		NativeCurrency:    NativeCurrency{Name: "ETH", Symbol: "ETH", Decimals: 18},
		RPCURLs:           []string{scopedRPC},
		BlockExplorerURLs: []string{n.ExplorerURL},
	}
}

// PublicChain points the wallet back at a public RPC of network.
func PublicChain(n config.Network, rpcURL string) ChainParams {
	p := RecoveryChain(n, rpcURL)
	p.ChainName = n.Name
	return p
}
