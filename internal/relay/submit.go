package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/ligun0805/wallet-recovery/internal/flashbots"
	"github.com/ligun0805/wallet-recovery/internal/logger"
)

var ErrBadBundle = errors.New(BadBundleReason)

// Relay is the bundle capability of a relay backend. *flashbots.Client implements it.
type Relay interface {
	SendRawBundle(ctx context.Context, txs []*types.Transaction, block uint64) (common.Hash, error)
	Simulate(ctx context.Context, txs []*types.Transaction, block uint64) (*flashbots.Simulation, error)
}

// Chain is the read capability needed to target and resolve a bundle. *ethclient.Client implements it.
type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Submitter runs one submit-simulate-wait round for a bundle.
type Submitter struct {
	relay Relay
	chain Chain
	log   *zap.Logger

	PollInterval time.Duration
	WaitTimeout  time.Duration
}

func NewSubmitter(relay Relay, chain Chain, log *zap.Logger) *Submitter {
	return &Submitter{relay: relay, chain: chain, log: logger.OrNop(log), PollInterval: time.Second, WaitTimeout: 45 * time.Second}
}

// DecodeBundle parses 0x-encoded signed transactions.
func DecodeBundle(raw []string) ([]*types.Transaction, error) {
	if len(raw) == 0 {
		return nil, ErrBadBundle
	}
	txs := make([]*types.Transaction, len(raw))
	for i, r := range raw {
		b, err := hexutil.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("%w: tx %d: %v", ErrBadBundle, i, err)
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(b); err != nil {
			return nil, fmt.Errorf("%w: tx %d: %v", ErrBadBundle, i, err)
		}
		txs[i] = tx
	}
	return txs, nil
}

// Submit targets the next block with txs, simulates them and waits for the
// target block to resolve the outcome. It returns an error only for transport
// failures before anything was sent.
func (s *Submitter) Submit(ctx context.Context, txs []*types.Transaction) (Response, error) {
	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("block number: %w", err)
	}
	target := head + 1
	log := s.log.With(zap.Uint64("target", target), zap.Int("txs", len(txs)))

	bundleHash, err := s.relay.SendRawBundle(ctx, txs, target)
	if err != nil {
		log.Warn("eth_sendBundle rejected", zap.Error(err))
		return reverted(err.Error()), nil
	}
	log.Info("bundle submitted", zap.String("bundleHash", bundleHash.Hex()))

	sim, err := s.relay.Simulate(ctx, txs, target)
	if err != nil {
		log.Warn("eth_callBundle failed", zap.Error(err))
		return reverted(err.Error()), nil
	}
	if msg := sim.FirstError(); msg != "" {
		log.Warn("bundle simulation reverted", zap.String("error", msg))
		return reverted(msg), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.WaitTimeout)
	defer cancel()
	outcome, err := s.wait(waitCtx, txs, target)
	if err != nil {
		log.Warn("wait for target block", zap.Error(err))
	}
	log.Info("bundle resolved", zap.Stringer("outcome", outcome))
	switch outcome {
	case OutcomeIncluded:
		return included(target, sim), nil
	case OutcomeBlockPassedWithoutInclusion:
		return Response{Response: MsgBlockPassed, Outcome: outcome}, nil
	case OutcomeAccountNonceTooHigh:
		return Response{Response: MsgNonceTooHigh, Outcome: outcome}, nil
	}
	return Response{Response: MsgUnexpectedState, Outcome: OutcomeUnexpected}, nil
}

// wait blocks until target has been produced, then resolves the bundle:
// every tx mined in target means included; a sender nonce already past its
// bundle tx means the account moved outside the bundle.
func (s *Submitter) wait(ctx context.Context, txs []*types.Transaction, target uint64) (Outcome, error) {
	t := time.NewTicker(s.PollInterval)
	defer t.Stop()
	for {
		head, err := s.chain.BlockNumber(ctx)
		if err == nil && head >= target {
			break
		}
		select {
		case <-ctx.Done():
			return OutcomeUnexpected, ctx.Err()
		case <-t.C:
		}
	}

	all := true
	for _, tx := range txs {
		rcpt, err := s.chain.TransactionReceipt(ctx, tx.Hash())
		if err != nil || rcpt == nil || rcpt.BlockNumber == nil || rcpt.BlockNumber.Uint64() != target {
			all = false
			break
		}
	}
	if all {
		return OutcomeIncluded, nil
	}

	for _, tx := range txs {
		from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		if err != nil {
			return OutcomeUnexpected, fmt.Errorf("recover sender of %s: %w", tx.Hash().Hex(), err)
		}
		nonce, err := s.chain.NonceAt(ctx, from, nil)
		if err != nil {
			return OutcomeUnexpected, fmt.Errorf("nonce of %s: %w", from.Hex(), err)
		}
		if nonce > tx.Nonce() {
			return OutcomeAccountNonceTooHigh, nil
		}
	}
	return OutcomeBlockPassedWithoutInclusion, nil
}
