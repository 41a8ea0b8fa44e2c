package recovery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/wallet-recovery/internal/config"
	"github.com/ligun0805/wallet-recovery/internal/gas"
	"github.com/ligun0805/wallet-recovery/internal/intent"
	"github.com/ligun0805/wallet-recovery/internal/relay"
	"github.com/ligun0805/wallet-recovery/internal/session"
	"github.com/ligun0805/wallet-recovery/internal/wallet"
)

const waitTimeout = 5 * time.Second

var (
	safe   = common.HexToAddress("0x5afe000000000000000000000000000000000001")
	hacked = common.HexToAddress("0xbad0000000000000000000000000000000000002")
	token  = common.HexToAddress("0x7070000000000000000000000000000000000003")
)

type fakeWallet struct {
	mu          sync.Mutex
	addr        common.Address
	connected   bool
	addChainErr error
	failAt      int
	added       []wallet.ChainParams
	sent        []gas.SignableTransaction
	resets      int
}

func (w *fakeWallet) connect(a common.Address) {
	w.mu.Lock()
	w.addr, w.connected = a, true
	w.mu.Unlock()
}

func (w *fakeWallet) Address() (common.Address, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addr, w.connected
}

func (w *fakeWallet) AddChain(_ context.Context, p wallet.ChainParams) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.added = append(w.added, p)
	return w.addChainErr
}

func (w *fakeWallet) SendTransaction(_ context.Context, tx gas.SignableTransaction) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAt >= 0 && len(w.sent) == w.failAt {
		return common.Hash{}, errors.New("user rejected the request")
	}
	w.sent = append(w.sent, tx)
	return common.BigToHash(big.NewInt(int64(len(w.sent)))), nil
}

func (w *fakeWallet) ResetNonces() {
	w.mu.Lock()
	w.resets++
	w.mu.Unlock()
}

func (w *fakeWallet) sentTxs() []gas.SignableTransaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]gas.SignableTransaction(nil), w.sent...)
}

// fakePricer estimates 50000 gas per intent. Indices in evicted fail
// estimation; with cached set they come back as a cache hit without callbacks.
type fakePricer struct {
	*gas.Pricer
	err     error
	baseFee *big.Int
	evicted []int
	cached  bool
}

func (f *fakePricer) PriceAll(_ context.Context, intents []intent.Intent, onEvict gas.EvictFunc) (gas.Priced, error) {
	if f.err != nil {
		return gas.Priced{}, f.err
	}
	baseFee := big.NewInt(100)
	if f.baseFee != nil {
		baseFee = f.baseFee
	}
	est := gas.Estimate{GasLimits: make([]uint64, len(intents)), BaseFee: baseFee, Evicted: f.evicted, Cached: f.cached}
	for i := range est.GasLimits {
		est.GasLimits[i] = 50_000
	}
	for _, i := range f.evicted {
		est.GasLimits[i] = 0
		if !f.cached && onEvict != nil {
			onEvict(i, intents[i], errors.New("execution reverted"))
		}
	}
	txs, kept, err := gas.Price(intents, est, f.PriorityFee, f.BufferPct)
	return gas.Priced{Txs: txs, Kept: kept, Evicted: est.Evicted, BaseFee: est.BaseFee, Cached: est.Cached}, err
}

func (f *fakePricer) Forecast(context.Context) (*big.Int, error) { return big.NewInt(100), nil }

type fakeCache struct {
	raw []string
	err error
}

func (c *fakeCache) ScopedRPC(id string) string { return "https://rpc.test?bundle=" + id }

func (c *fakeCache) Fetch(context.Context, string) ([]string, error) { return c.raw, c.err }

type fakeRelay struct {
	mu    sync.Mutex
	resps []relay.Response
	block bool
	calls atomic.Int32
}

func (r *fakeRelay) Relay(ctx context.Context, _ []string) (relay.Response, error) {
	n := int(r.calls.Add(1))
	if r.block {
		<-ctx.Done()
		return relay.Response{}, ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.resps) {
		return r.resps[len(r.resps)-1], nil
	}
	return r.resps[n-1], nil
}

type fakeChain struct{ height atomic.Uint64 }

func (c *fakeChain) BlockNumber(context.Context) (uint64, error) { return c.height.Add(1) + 99, nil }

type fakeCode map[common.Address][]byte

func (f fakeCode) CodeAt(_ context.Context, a common.Address, _ *big.Int) ([]byte, error) {
	return f[a], nil
}

func signedRaw(t *testing.T, nonces ...uint64) []string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	chain := big.NewInt(11155111)
	out := make([]string, 0, len(nonces))
	for _, n := range nonces {
		tx, err := types.SignTx(types.NewTx(&types.DynamicFeeTx{
			ChainID: chain, Nonce: n, Gas: 21000, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(2), To: &token,
		}), types.LatestSignerForChainID(chain), key)
		require.NoError(t, err)
		b, err := tx.MarshalBinary()
		require.NoError(t, err)
		out = append(out, hexutil.Encode(b))
	}
	return out
}

type fixture struct {
	m      *Machine
	wallet *fakeWallet
	cache  *fakeCache
	relay  *fakeRelay
	store  *session.MemoryStore
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	net, err := config.LookupNetwork("sepolia")
	require.NoError(t, err)
	f := &fixture{
		wallet: &fakeWallet{failAt: -1},
		cache:  &fakeCache{raw: signedRaw(t, 0, 1)},
		relay:  &fakeRelay{resps: []relay.Response{{Success: true, Response: "Bundle successfully included in block number 102!!"}}},
		store:  session.NewMemoryStore(),
	}
	ids := 0
	deps := Deps{
		Network: net,
		Wallet:  f.wallet,
		Pricer:  &fakePricer{Pricer: gas.NewPricer(nil, gas.GweiToWei(3), 15, 1, 120)},
		Cache:   f.cache,
		Relay:   f.relay,
		Chain:   &fakeChain{},
		Store:   f.store,
		NewID: func() string {
			ids++
			return fmt.Sprintf("bundle-%d", ids)
		},
	}
	if mutate != nil {
		mutate(&deps)
	}
	m, err := Open(context.Background(), deps, safe, hacked)
	require.NoError(t, err)
	require.NoError(t, m.SetIntents(context.Background(), []intent.Intent{
		intent.ERC20{Token: token, From: hacked, Recipient: common.HexToAddress("0xa"), Symbol: "USDC", Amount: big.NewInt(1_000_000), Decimals: 6},
		intent.ERC20{Token: token, From: hacked, Recipient: common.HexToAddress("0xa"), Symbol: "USDC", Amount: big.NewInt(5), Decimals: 6},
	}))
	f.m = m
	return f
}

// toSendBundle walks the happy path up to SEND_BUNDLE.
func (f *fixture) toSendBundle(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	f.wallet.connect(safe)
	require.NoError(t, f.m.Start(ctx))
	require.NoError(t, f.m.PayGas(ctx))
	f.wallet.connect(hacked)
	require.NoError(t, f.m.SignRecovery(ctx))
	require.Equal(t, StatusSendBundle, f.m.Status())
}

func (f *fixture) stored(t *testing.T) *session.Session {
	t.Helper()
	s, err := f.store.Load(context.Background(), session.Key(hacked))
	require.NoError(t, err)
	return s
}

func waitStatus(t *testing.T, m *Machine) (Status, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	st, err := m.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return st, err
}

func TestOpenRejectsBadAddresses(t *testing.T) {
	_, err := Open(context.Background(), Deps{Store: session.NewMemoryStore()}, safe, safe)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = Open(context.Background(), Deps{Store: session.NewMemoryStore()}, common.Address{}, hacked)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestStartRequiresConnectedWallet(t *testing.T) {
	f := newFixture(t, nil)
	err := f.m.Start(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, StatusNoConnectedAccount, f.m.Status())
	assert.Empty(t, f.wallet.added)
}

func TestHappyPath(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.wallet.connect(safe)
	require.NoError(t, f.m.Start(ctx))
	assert.Equal(t, StatusPayGas, f.m.Status())
	require.Len(t, f.wallet.added, 1)
	assert.Equal(t, "0xaa36a7", f.wallet.added[0].ChainID)
	assert.Equal(t, []string{"https://rpc.test?bundle=bundle-1"}, f.wallet.added[0].RPCURLs)

	st := f.m.Snapshot()
	require.Len(t, st.Session.UnsignedTxs, 2)
	// assets go to the safe account whatever recipient was picked earlier
	for i, amount := range []int64{1_000_000, 5} {
		want, err := intent.EncodeERC20Transfer(safe, big.NewInt(amount))
		require.NoError(t, err)
		tx := st.Session.UnsignedTxs[i]
		assert.Equal(t, hexutil.Bytes(want), tx.Data)
		assert.Equal(t, hacked, tx.From)
		assert.Equal(t, token, tx.To)
		assert.Equal(t, uint64(57_500), tx.GasLimit)
	}

	require.NoError(t, f.m.PayGas(ctx))
	assert.Equal(t, StatusSwitchToHackedAccount, f.m.Status())
	sent := f.wallet.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, safe, sent[0].From)
	assert.Equal(t, hacked, sent[0].To)
	assert.Equal(t, gas.TotalFunding(st.Session.UnsignedTxs, 1), sent[0].Value)
	assert.True(t, f.stored(t).GasCovered)

	// a retry after funding must not pay again
	assert.ErrorIs(t, f.m.Start(ctx), ErrGasAlreadyPaid)
	assert.Equal(t, StatusGasPaid, f.m.Status())
	assert.ErrorIs(t, f.m.PayGas(ctx), ErrGasAlreadyPaid)
	assert.Len(t, f.wallet.sentTxs(), 1)

	// identity gate
	assert.ErrorIs(t, f.m.SignRecovery(ctx), ErrWrongAccount)
	assert.Equal(t, StatusSwitchToHackedAccount, f.m.Status())
	assert.Len(t, f.wallet.sentTxs(), 1)

	f.wallet.connect(hacked)
	require.NoError(t, f.m.SignRecovery(ctx))
	assert.Equal(t, StatusSendBundle, f.m.Status())
	sent = f.wallet.sentTxs()
	require.Len(t, sent, 3)
	assert.Equal(t, st.Session.UnsignedTxs, sent[1:])
	assert.False(t, f.stored(t).GasCovered)

	require.NoError(t, f.m.SendBundle(ctx))
	status, err := waitStatus(t, f.m)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.EqualValues(t, 1, f.relay.calls.Load())

	s := f.stored(t)
	first, err := relay.DecodeBundle(f.cache.raw[:1])
	require.NoError(t, err)
	assert.Equal(t, first[0].Hash(), s.SentTxHash)
	assert.Equal(t, uint64(100), s.SentBlock)
	assert.Equal(t, uint64(103), s.AttemptedBlock)
	assert.Equal(t, StatusSuccess.String(), s.Status)
}

func TestPayGasRequiresSafeAccount(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.wallet.connect(safe)
	require.NoError(t, f.m.Start(ctx))

	f.wallet.connect(hacked)
	assert.ErrorIs(t, f.m.PayGas(ctx), ErrWrongAccount)
	assert.Equal(t, StatusNoSafeAccount, f.m.Status())
	assert.Empty(t, f.wallet.sentTxs())

	f.wallet.connect(safe)
	require.NoError(t, f.m.PayGas(ctx))
	assert.Equal(t, StatusSwitchToHackedAccount, f.m.Status())
}

func TestSignRecoveryRequiresFunding(t *testing.T) {
	f := newFixture(t, nil)
	f.wallet.connect(hacked)
	assert.ErrorIs(t, f.m.SignRecovery(context.Background()), ErrWrongState)
	assert.Empty(t, f.wallet.sentTxs())
}

func TestManualNetwork(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.wallet.addChainErr = errors.New("user rejected")
	f.wallet.connect(safe)

	err := f.m.Start(ctx)
	assert.ErrorIs(t, err, ErrManualNetwork)
	st := f.m.Snapshot()
	assert.Equal(t, StatusChangeRPC, st.Status)
	require.NotNil(t, st.RPCParams)
	assert.Equal(t, "Hacked Wallet Recovery RPC", st.RPCParams.ChainName)
	assert.Equal(t, []string{"https://rpc.test?bundle=bundle-1"}, st.RPCParams.RPCURLs)

	assert.ErrorIs(t, f.m.PayGas(ctx), ErrWrongState)
	require.NoError(t, f.m.ConfirmNetwork(ctx))
	assert.Equal(t, StatusPayGas, f.m.Status())
}

func TestSigningFailureResets(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.wallet.connect(safe)
	require.NoError(t, f.m.Start(ctx))
	require.NoError(t, f.m.PayGas(ctx))

	f.wallet.failAt = 2 // funding + first recovery tx succeed
	f.wallet.connect(hacked)
	err := f.m.SignRecovery(ctx)
	require.Error(t, err)
	assert.Equal(t, StatusInitial, f.m.Status())
	s := f.stored(t)
	assert.False(t, s.GasCovered)
	assert.Empty(t, s.BundleID)
	assert.Contains(t, s.LastError, "user rejected")
	assert.Len(t, s.Intents, 2)
}

func TestPollOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		resps  []relay.Response
		max    int
		status Status
		err    error
		calls  int32
	}{
		{
			name:   "included after missed blocks",
			resps:  []relay.Response{{Response: relay.MsgBlockPassed}, {Response: relay.MsgBlockPassed}, {Success: true}},
			status: StatusSuccess,
			calls:  3,
		},
		{
			name:   "nonce too high in revert message",
			resps:  []relay.Response{{Response: "Bundle reverted with error: nonce too high"}},
			status: StatusClearActivityData,
			err:    ErrNonceTooHigh,
			calls:  1,
		},
		{
			name:   "nonce too high outcome",
			resps:  []relay.Response{{Response: relay.MsgNonceTooHigh, Outcome: relay.OutcomeAccountNonceTooHigh}},
			status: StatusClearActivityData,
			err:    ErrNonceTooHigh,
			calls:  1,
		},
		{
			name:   "reverted",
			resps:  []relay.Response{{Response: "Bundle reverted with error: execution reverted"}},
			status: StatusInitial,
			err:    ErrBundleReverted,
			calls:  1,
		},
		{
			name:   "unexpected",
			resps:  []relay.Response{{Response: relay.MsgUnexpectedState}},
			status: StatusInitial,
			err:    ErrUnexpected,
			calls:  1,
		},
		{
			name:   "poll limit",
			resps:  []relay.Response{{Response: relay.MsgBlockPassed}},
			max:    2,
			status: StatusListenBundle,
			err:    ErrPollTimeout,
			calls:  2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(d *Deps) { d.MaxPollAttempts = tt.max })
			f.relay.resps = tt.resps
			f.toSendBundle(t)

			require.NoError(t, f.m.SendBundle(context.Background()))
			status, err := waitStatus(t, f.m)
			assert.Equal(t, tt.status, status)
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
			assert.Equal(t, tt.calls, f.relay.calls.Load())

			s := f.stored(t)
			assert.Equal(t, tt.status.String(), s.Status)
			assert.False(t, s.GasCovered)
			if tt.status != StatusSuccess && tt.status != StatusListenBundle {
				assert.Empty(t, s.BundleID)
				assert.NotEmpty(t, s.LastError)
			}
		})
	}
}

func TestResumeAfterPollLimit(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.MaxPollAttempts = 1 })
	f.relay.resps = []relay.Response{{Response: relay.MsgBlockPassed}, {Success: true}}
	f.toSendBundle(t)
	require.NoError(t, f.m.SendBundle(context.Background()))
	_, err := waitStatus(t, f.m)
	require.ErrorIs(t, err, ErrPollTimeout)

	// a reload picks the session up from the store
	m, err := Open(context.Background(), f.m.deps, safe, hacked)
	require.NoError(t, err)
	assert.Equal(t, StatusListenBundle, m.Status())
	require.NoError(t, m.Resume(context.Background()))
	status, err := waitStatus(t, m)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
}

func TestBundleMissingIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.toSendBundle(t)
	f.cache.err = relay.ErrBundleNotFound

	err := f.m.SendBundle(context.Background())
	assert.ErrorIs(t, err, relay.ErrBundleNotFound)
	assert.Equal(t, StatusInitial, f.m.Status())
	assert.Zero(t, f.relay.calls.Load())
}

func TestRestartCancelsPoller(t *testing.T) {
	f := newFixture(t, nil)
	f.relay.block = true
	f.toSendBundle(t)
	require.NoError(t, f.m.SendBundle(context.Background()))
	require.Eventually(t, func() bool { return f.relay.calls.Load() == 1 }, waitTimeout, time.Millisecond)

	require.NoError(t, f.m.Restart(context.Background()))
	status, err := waitStatus(t, f.m)
	assert.NoError(t, err)
	assert.Equal(t, StatusInitial, status)
	s := f.stored(t)
	assert.Empty(t, s.BundleID)
	assert.Zero(t, s.AttemptedBlock)
	assert.EqualValues(t, 1, f.relay.calls.Load())
}

func TestStartReplacesInFlightBundle(t *testing.T) {
	f := newFixture(t, nil)
	f.relay.block = true
	f.toSendBundle(t)
	require.NoError(t, f.m.SendBundle(context.Background()))
	require.Eventually(t, func() bool { return f.relay.calls.Load() == 1 }, waitTimeout, time.Millisecond)

	f.wallet.connect(safe)
	require.NoError(t, f.m.Start(context.Background()))
	st := f.m.Snapshot()
	assert.Equal(t, StatusPayGas, st.Status)
	assert.Equal(t, "bundle-2", st.Session.BundleID)
}

func TestStartRefusesDelegatedAccount(t *testing.T) {
	code := append([]byte{0xef, 0x01, 0x00}, common.HexToAddress("0xd1").Bytes()...)
	f := newFixture(t, func(d *Deps) { d.Code = fakeCode{hacked: code} })
	f.wallet.connect(safe)

	assert.ErrorIs(t, f.m.Start(context.Background()), ErrDelegated)
	assert.Empty(t, f.wallet.added)
}

func TestQuoteFailureResets(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Pricer = &fakePricer{Pricer: gas.NewPricer(nil, gas.GweiToWei(3), 15, 1, 120), err: gas.ErrNoBaseFee}
	})
	f.wallet.connect(safe)
	assert.ErrorIs(t, f.m.Start(context.Background()), gas.ErrNoBaseFee)
	assert.Equal(t, StatusInitial, f.m.Status())
	assert.Empty(t, f.wallet.added)
}

func TestDonate(t *testing.T) {
	donation := common.HexToAddress("0xd0")
	f := newFixture(t, func(d *Deps) {
		d.DonationAddress = donation
		d.PublicRPC = "https://public.test"
	})
	_, err := f.m.Donate(context.Background(), big.NewInt(1))
	assert.ErrorIs(t, err, ErrWrongState)

	f.toSendBundle(t)
	require.NoError(t, f.m.SendBundle(context.Background()))
	_, err = waitStatus(t, f.m)
	require.NoError(t, err)

	f.wallet.connect(safe)
	_, err = f.m.Donate(context.Background(), big.NewInt(1e15))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, f.m.Status())
	sent := f.wallet.sentTxs()
	last := sent[len(sent)-1]
	assert.Equal(t, donation, last.To)
	assert.Equal(t, big.NewInt(1e15), last.Value)
	assert.Equal(t, []string{"https://public.test"}, f.wallet.added[len(f.wallet.added)-1].RPCURLs)
}

func TestBusy(t *testing.T) {
	f := newFixture(t, nil)
	f.m.op.Lock()
	defer f.m.op.Unlock()
	assert.ErrorIs(t, f.m.Start(context.Background()), ErrBusy)
}

func TestQuoteFrozenOnceFunded(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	q, err := f.m.Quote(ctx)
	require.NoError(t, err)
	require.Len(t, q.Txs, 2)

	f.wallet.connect(safe)
	require.NoError(t, f.m.Start(ctx))
	require.NoError(t, f.m.PayGas(ctx))
	funded := f.wallet.sentTxs()[0].Value

	f.m.deps.Pricer.(*fakePricer).baseFee = big.NewInt(1_000_000_000_000)
	_, err = f.m.Quote(ctx)
	assert.ErrorIs(t, err, ErrWrongState)

	f.wallet.connect(hacked)
	require.NoError(t, f.m.SignRecovery(ctx))
	signed := f.wallet.sentTxs()[1:]
	require.Len(t, signed, 2)
	cost := new(big.Int)
	for _, tx := range signed {
		cost.Add(cost, new(big.Int).Mul(new(big.Int).SetUint64(tx.GasLimit), tx.MaxFeePerGas))
	}
	assert.LessOrEqual(t, cost.Cmp(funded), 0, "funded %s, bundle costs up to %s", funded, cost)

	_, err = f.m.Quote(ctx)
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestEvictionsSurviveCachedRequote(t *testing.T) {
	var pricer *fakePricer
	f := newFixture(t, func(d *Deps) {
		pricer = d.Pricer.(*fakePricer)
		pricer.evicted = []int{1}
	})
	ctx := context.Background()

	q, err := f.m.Quote(ctx)
	require.NoError(t, err)
	require.Len(t, q.Evicted, 1)
	assert.Equal(t, 1, q.Evicted[0].Index)
	assert.Equal(t, "execution reverted", q.Evicted[0].Reason)

	pricer.cached = true
	f.wallet.connect(safe)
	require.NoError(t, f.m.Start(ctx))
	ev := f.m.Snapshot().Evicted
	require.Len(t, ev, 1)
	assert.Equal(t, 1, ev[0].Index)
	assert.Equal(t, q.Evicted[0].Label, ev[0].Label)
	assert.Len(t, f.m.Snapshot().Session.UnsignedTxs, 1)
}

func TestRestartResetsWalletNonces(t *testing.T) {
	f := newFixture(t, nil)
	f.toSendBundle(t)
	require.NoError(t, f.m.Restart(context.Background()))
	assert.Equal(t, StatusInitial, f.m.Status())
	f.wallet.mu.Lock()
	defer f.wallet.mu.Unlock()
	assert.Equal(t, 1, f.wallet.resets)
}
