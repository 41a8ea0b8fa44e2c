package gas

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ligun0805/wallet-recovery/internal/intent"
)

// RPCCaller is satisfied by *rpc.Client.
type RPCCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// AlchemySimulator runs alchemy_simulateExecutionBundle.
type AlchemySimulator struct {
	RPC RPCCaller
}

type simTx struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *hexutil.Big   `json:"value,omitempty"`
	Data  hexutil.Bytes  `json:"data"`
}

type simExecution struct {
	Calls []struct {
		GasUsed hexutil.Uint64 `json:"gasUsed"`
		Error   string         `json:"error,omitempty"`
		Revert  string         `json:"revertReason,omitempty"`
	} `json:"calls"`
}

func (a *AlchemySimulator) SimulateBundle(ctx context.Context, calls []intent.EstimateCall) ([]SimulatedCall, error) {
	txs := make([]simTx, len(calls))
	for i, c := range calls {
		txs[i] = simTx{From: c.From, To: c.To, Data: c.Data}
		if c.Value != nil && c.Value.Sign() > 0 {
			txs[i].Value = (*hexutil.Big)(c.Value)
		}
	}
	var out []simExecution
	if err := a.RPC.CallContext(ctx, &out, "alchemy_simulateExecutionBundle", txs); err != nil {
		return nil, fmt.Errorf("alchemy_simulateExecutionBundle: %w", err)
	}
	res := make([]SimulatedCall, len(out))
	for i, ex := range out {
		if len(ex.Calls) == 0 {
			res[i] = SimulatedCall{Error: "no call trace"}
			continue
		}
		top := ex.Calls[0]
		msg := top.Error
		if msg != "" && top.Revert != "" {
			msg += ": " + top.Revert
		}
		res[i] = SimulatedCall{GasUsed: uint64(top.GasUsed), Error: msg}
	}
	return res, nil
}
