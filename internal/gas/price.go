package gas

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ligun0805/wallet-recovery/internal/intent"
)

// FundingGasLimit is the gas limit of the safe -> compromised funding transfer.
const FundingGasLimit = 23_000

// SignableTransaction is a priced intent ready to be handed to a wallet.
type SignableTransaction struct {
	Label                string         `json:"label"`
	From                 common.Address `json:"from"`
	To                   common.Address `json:"to"`
	Data                 hexutil.Bytes  `json:"data,omitempty"`
	Value                *big.Int       `json:"value,omitempty"`
	GasLimit             uint64         `json:"gasLimit"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas"`
	Type                 uint8          `json:"type"`
}

// Cost is the worst-case fee of the transaction.
func (t SignableTransaction) Cost() *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(t.GasLimit), t.MaxFeePerGas)
}

// Priced is the outcome of PriceAll. Txs and Kept are aligned; evicted intents appear in neither.
type Priced struct {
	Txs     []SignableTransaction
	Kept    []intent.Intent
	Evicted []int
	BaseFee *big.Int
	Cached  bool
}

// Pricer turns intents into signable transactions.
type Pricer struct {
	svc *Service

	PriorityFee   *big.Int
	BufferPct     int64 // added on top of the raw estimate
	MarginPct     int64 // added on top of the summed cost
	FundingFeePct int64 // base fee share paid by the funding tx
}

func NewPricer(svc *Service, priorityFee *big.Int, bufferPct, marginPct, fundingFeePct int64) *Pricer {
	return &Pricer{svc: svc, PriorityFee: priorityFee, BufferPct: bufferPct, MarginPct: marginPct, FundingFeePct: fundingFeePct}
}

// GweiToWei converts whole gwei to wei.
func GweiToWei(g int64) *big.Int {
	x := new(big.Int).SetInt64(g)
	return x.Mul(x, big.NewInt(1_000_000_000))
}

// PriceAll estimates intents and builds a signable transaction for each one that survived.
func (p *Pricer) PriceAll(ctx context.Context, intents []intent.Intent, onEvict EvictFunc) (Priced, error) {
	est, err := p.svc.Estimate(ctx, intents, onEvict)
	if err != nil {
		return Priced{}, err
	}
	txs, kept, err := Price(intents, est, p.PriorityFee, p.BufferPct)
	if err != nil {
		return Priced{}, err
	}
	return Priced{Txs: txs, Kept: kept, Evicted: est.Evicted, BaseFee: est.BaseFee, Cached: est.Cached}, nil
}

// Price applies an estimate to intents. Intents with a zero gas limit are skipped.
func Price(intents []intent.Intent, est Estimate, priorityFee *big.Int, bufferPct int64) ([]SignableTransaction, []intent.Intent, error) {
	if len(est.GasLimits) != len(intents) {
		return nil, nil, fmt.Errorf("estimate has %d gas limits for %d intents", len(est.GasLimits), len(intents))
	}
	maxFee := new(big.Int).Add(est.BaseFee, priorityFee)
	var (
		txs  []SignableTransaction
		kept []intent.Intent
	)
	for i, it := range intents {
		raw := est.GasLimits[i]
		if raw == 0 {
			continue
		}
		call, err := it.Call()
		if err != nil {
			return nil, nil, fmt.Errorf("intent %d: %w", i, err)
		}
		txs = append(txs, SignableTransaction{
			Label:                it.Label(),
			From:                 call.From,
			To:                   call.To,
			Data:                 call.Data,
			Value:                call.Value,
			GasLimit:             BufferGas(raw, bufferPct),
			MaxFeePerGas:         new(big.Int).Set(maxFee),
			MaxPriorityFeePerGas: new(big.Int).Set(priorityFee),
			Type:                 types.DynamicFeeTxType,
		})
		kept = append(kept, it)
	}
	return txs, kept, nil
}

// BufferGas adds pct percent to a raw estimate.
func BufferGas(raw uint64, pct int64) uint64 {
	return raw * uint64(100+pct) / 100
}

// TotalFunding is ceil(sum(gasLimit * maxFeePerGas) * (100 + marginPct) / 100).
func TotalFunding(txs []SignableTransaction, marginPct int64) *big.Int {
	sum := new(big.Int)
	for _, t := range txs {
		sum.Add(sum, t.Cost())
	}
	num := sum.Mul(sum, big.NewInt(100+marginPct))
	q, r := new(big.Int).QuoRem(num, big.NewInt(100), new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// Funding is TotalFunding with the pricer's margin.
func (p *Pricer) Funding(txs []SignableTransaction) *big.Int { return TotalFunding(txs, p.MarginPct) }

// FundingTx prices a plain value transfer from the safe account. Its fee cap
// carries FundingFeePct of the forecast so it lands together with the bundle.
func (p *Pricer) FundingTx(from, to common.Address, amount, baseFee *big.Int) SignableTransaction {
	feeShare := new(big.Int).Mul(baseFee, big.NewInt(p.FundingFeePct))
	feeShare.Div(feeShare, big.NewInt(100))
	return SignableTransaction{
		Label:                "Fund gas of compromised account",
		From:                 from,
		To:                   to,
		Value:                new(big.Int).Set(amount),
		GasLimit:             FundingGasLimit,
		MaxFeePerGas:         feeShare.Add(feeShare, p.PriorityFee),
		MaxPriorityFeePerGas: new(big.Int).Set(p.PriorityFee),
		Type:                 types.DynamicFeeTxType,
	}
}

// Forecast exposes the base fee forecast used for pricing.
func (p *Pricer) Forecast(ctx context.Context) (*big.Int, error) { return p.svc.Forecast(ctx) }
