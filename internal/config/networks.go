package config

import (
	"fmt"
	"strings"
)

// Network describes a chain the recovery can run against.
type Network struct {
	Name             string
	ChainID          int64
	ChainName        string
	RelayURL         string // eth_sendBundle / eth_callBundle
	BundleCacheURL   string // scoped RPC that caches the signed txs per bundle id
	ExplorerURL      string
	AtomicSimulation bool // supports alchemy_simulateExecutionBundle
	BaseFeeLookahead int  // blocks projected by the base fee forecast
}

var networks = map[string]Network{
	"mainnet": {
		Name:             "mainnet",
		ChainID:          1,
		ChainName:        "Hacked Wallet Recovery RPC",
		RelayURL:         "https://relay.flashbots.net",
		BundleCacheURL:   "https://rpc.flashbots.net",
		ExplorerURL:      "https://etherscan.io",
		AtomicSimulation: true,
		BaseFeeLookahead: 3,
	},
	"sepolia": {
		Name:             "sepolia",
		ChainID:          11155111,
		ChainName:        "Hacked Wallet Recovery RPC",
		RelayURL:         "https://relay-sepolia.flashbots.net",
		BundleCacheURL:   "https://rpc-sepolia.flashbots.net",
		ExplorerURL:      "https://sepolia.etherscan.io",
		AtomicSimulation: false,
		BaseFeeLookahead: 3,
	},
}

// LookupNetwork resolves a network by name ("mainnet", "sepolia") or decimal chain id.
func LookupNetwork(key string) (Network, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	if n, ok := networks[k]; ok {
		return n, nil
	}
	for _, n := range networks {
		if fmt.Sprint(n.ChainID) == k {
			return n, nil
		}
	}
	return Network{}, fmt.Errorf("unknown network %q", key)
}

// ChainIDHex is the 0x-prefixed chain id used by wallet_addEthereumChain.
func (n Network) ChainIDHex() string { return fmt.Sprintf("0x%x", n.ChainID) }

// NetworkLabel names a chain id for logs and metrics.
func NetworkLabel(chainID int64) string {
	for _, n := range networks {
		if n.ChainID == chainID {
			return n.Name
		}
	}
	return fmt.Sprint(chainID)
}
