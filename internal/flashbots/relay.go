// Package flashbots talks to a Flashbots-compatible relay (eth_sendBundle,
// eth_callBundle) with X-Flashbots-Signature authentication.
package flashbots

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lmittmann/flashbots"
	"github.com/lmittmann/w3"
)

type Client struct {
	RelayURL string
	c        *w3.Client
}

// TxResult is the simulated outcome of one bundle transaction.
type TxResult struct {
	TxHash  common.Hash `json:"txHash"`
	GasUsed uint64      `json:"gasUsed"`
	Error   string      `json:"error,omitempty"`
	Revert  string      `json:"revert,omitempty"`
}

// Simulation is the eth_callBundle result.
type Simulation struct {
	BundleHash   common.Hash `json:"bundleHash"`
	TotalGasUsed uint64      `json:"totalGasUsed"`
	Results      []TxResult  `json:"results"`
}

// FirstError returns the first failing transaction message, or "".
func (s *Simulation) FirstError() string {
	for _, r := range s.Results {
		if r.Error != "" {
			return r.Error
		}
		if r.Revert != "" {
			return r.Revert
		}
	}
	return ""
}

// NewClient dials relayURL signing requests with authPrivHex. An empty key
// gets a throwaway identity, the relay only uses it for reputation.
func NewClient(relayURL, authPrivHex string) (*Client, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	if strings.TrimSpace(authPrivHex) == "" {
		key, err = crypto.GenerateKey()
	} else {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(authPrivHex), "0x"))
	}
	if err != nil {
		return nil, fmt.Errorf("auth key: %w", err)
	}
	return &Client{RelayURL: relayURL, c: flashbots.MustDial(relayURL, key)}, nil
}

func (c *Client) Close() error { return c.c.Close() }

// SendRawBundle submits txs as one atomic bundle for block.
func (c *Client) SendRawBundle(ctx context.Context, txs []*types.Transaction, block uint64) (common.Hash, error) {
	var bundleHash common.Hash
	err := c.c.CallCtx(ctx,
		flashbots.SendBundle(&flashbots.SendBundleRequest{
			Transactions: txs,
			BlockNumber:  new(big.Int).SetUint64(block),
		}).Returns(&bundleHash),
	)
	if err != nil {
		return common.Hash{}, err
	}
	return bundleHash, nil
}

// Simulate runs eth_callBundle for block on top of the latest state.
func (c *Client) Simulate(ctx context.Context, txs []*types.Transaction, block uint64) (*Simulation, error) {
	var resp flashbots.CallBundleResponse
	err := c.c.CallCtx(ctx,
		flashbots.CallBundle(&flashbots.CallBundleRequest{
			Transactions: txs,
			BlockNumber:  new(big.Int).SetUint64(block),
		}).Returns(&resp),
	)
	if err != nil {
		return nil, err
	}
	sim := &Simulation{BundleHash: resp.BundleHash, TotalGasUsed: resp.TotalGasUsed}
	for _, r := range resp.Results {
		tr := TxResult{TxHash: r.TxHash, GasUsed: r.GasUsed, Revert: r.Revert}
		if r.Error != nil {
			tr.Error = r.Error.Error()
		}
		sim.Results = append(sim.Results, tr)
	}
	return sim, nil
}
