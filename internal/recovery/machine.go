// Package recovery drives one recovery attempt from asset selection to the
// bundle landing in a block.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ligun0805/wallet-recovery/internal/config"
	"github.com/ligun0805/wallet-recovery/internal/gas"
	"github.com/ligun0805/wallet-recovery/internal/intent"
	"github.com/ligun0805/wallet-recovery/internal/logger"
	"github.com/ligun0805/wallet-recovery/internal/preflight"
	"github.com/ligun0805/wallet-recovery/internal/relay"
	"github.com/ligun0805/wallet-recovery/internal/session"
	"github.com/ligun0805/wallet-recovery/internal/wallet"
)

// Wallet is the user's wallet. *wallet.KeyWallet implements it.
type Wallet interface {
	Address() (common.Address, bool)
	AddChain(ctx context.Context, params wallet.ChainParams) error
	SendTransaction(ctx context.Context, tx gas.SignableTransaction) (common.Hash, error)
}

// nonceResetter is implemented by wallets that track nonces locally.
type nonceResetter interface {
	ResetNonces()
}

// Pricer is implemented by *gas.Pricer.
type Pricer interface {
	PriceAll(ctx context.Context, intents []intent.Intent, onEvict gas.EvictFunc) (gas.Priced, error)
	Funding(txs []gas.SignableTransaction) *big.Int
	FundingTx(from, to common.Address, amount, baseFee *big.Int) gas.SignableTransaction
	Forecast(ctx context.Context) (*big.Int, error)
}

// BundleCache is implemented by *relay.BundleCache.
type BundleCache interface {
	ScopedRPC(bundleID string) string
	Fetch(ctx context.Context, bundleID string) ([]string, error)
}

// Relayer is implemented by *relay.Endpoint.
type Relayer interface {
	Relay(ctx context.Context, txs []string) (relay.Response, error)
}

type BlockReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

type Deps struct {
	Network config.Network
	Wallet  Wallet
	Pricer  Pricer
	Cache   BundleCache
	Relay   Relayer
	Chain   BlockReader
	Code    preflight.CodeReader // optional
	Store   session.Store
	Log     *zap.Logger

	NewID           func() string
	MaxPollAttempts int           // 0 polls until a terminal outcome
	PollInterval    time.Duration // pause after a missed block
	DonationAddress common.Address
	PublicRPC       string // wallet RPC for the donation
}

// Machine is the single writer of a recovery session.
type Machine struct {
	deps Deps
	log  *zap.Logger

	op sync.Mutex // one user operation at a time

	mu        sync.Mutex
	sess      *session.Session
	status    Status
	rpcParams *wallet.ChainParams
	evicted   []EvictedIntent

	pollCancel context.CancelFunc
	pollDone   chan struct{}
	pollErr    error
}

// EvictedIntent is an asset dropped from the bundle because its transfer would fail.
type EvictedIntent struct {
	Index  int
	Label  string
	Reason string
}

// New wraps sess. The persisted status is restored as is.
func New(deps Deps, sess *session.Session) (*Machine, error) {
	st, err := ParseStatus(sess.Status)
	if err != nil {
		return nil, err
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Machine{
		deps:   deps,
		log:    logger.OrNop(deps.Log).With(zap.String("hacked", sess.HackedAddress.Hex())),
		sess:   sess,
		status: st,
	}, nil
}

// Open loads the session of hacked or starts a fresh one.
func Open(ctx context.Context, deps Deps, safe, hacked common.Address) (*Machine, error) {
	if err := validAccounts(safe, hacked); err != nil {
		return nil, err
	}
	sess, err := deps.Store.Load(ctx, session.Key(hacked))
	switch {
	case errors.Is(err, session.ErrNotFound):
		sess = &session.Session{SafeAddress: safe, HackedAddress: hacked, Status: StatusInitial.String()}
	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)
	case sess.SafeAddress != safe:
		// a different safe account invalidates the funding plan
		sess.SafeAddress = safe
		sess.Reset()
		sess.Status = StatusInitial.String()
	}
	return New(deps, sess)
}

func validAccounts(safe, hacked common.Address) error {
	if safe == (common.Address{}) || hacked == (common.Address{}) || safe == hacked {
		return ErrInvalidAddress
	}
	return nil
}

// State is a read-only view of the machine.
type State struct {
	Status    Status
	Session   *session.Session
	RPCParams *wallet.ChainParams
	Evicted   []EvictedIntent
}

func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := State{Status: m.status, Session: m.sess.Clone(), Evicted: append([]EvictedIntent(nil), m.evicted...)}
	if m.rpcParams != nil {
		p := *m.rpcParams
		st.RPCParams = &p
	}
	return st
}

func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Machine) begin() (func(), error) {
	if !m.op.TryLock() {
		return nil, ErrBusy
	}
	return m.op.Unlock, nil
}

// moveLocked changes the status and persists the session. m.mu must be held.
func (m *Machine) moveLocked(ctx context.Context, next Status) error {
	if !m.status.CanMoveTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrWrongState, m.status, next)
	}
	if next != m.status {
		m.log.Info("status", zap.Stringer("from", m.status), zap.Stringer("to", next))
	}
	m.status = next
	return m.persistLocked(ctx)
}

func (m *Machine) persistLocked(ctx context.Context) error {
	m.sess.Status = m.status.String()
	m.sess.UpdatedAt = time.Now().UTC()
	if err := m.deps.Store.Save(context.WithoutCancel(ctx), m.sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (m *Machine) move(ctx context.Context, next Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveLocked(ctx, next)
}

// failLocked abandons the attempt: flags are cleared and the machine lands in
// sink (INITIAL or CLEAR_ACTIVITY_DATA). cause is returned.
func (m *Machine) failLocked(ctx context.Context, sink Status, cause error) error {
	m.log.Warn("recovery attempt failed", zap.Stringer("status", m.status), zap.Error(cause))
	m.sess.Reset()
	m.sess.LastError = cause.Error()
	m.rpcParams = nil
	if err := m.moveLocked(ctx, sink); err != nil {
		m.log.Error("persist failure", zap.Error(err))
	}
	return cause
}

func (m *Machine) fail(ctx context.Context, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failLocked(ctx, StatusInitial, cause)
}

// SetIntents replaces the selected assets. Only allowed before anything is paid.
func (m *Machine) SetIntents(ctx context.Context, intents []intent.Intent) error {
	done, err := m.begin()
	if err != nil {
		return err
	}
	defer done()

	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.status {
	case StatusInitial, StatusNoConnectedAccount:
	default:
		return fmt.Errorf("%w: %s", ErrWrongState, m.status)
	}
	m.sess.Intents = append(intent.List(nil), intents...)
	m.sess.UnsignedTxs = nil
	return m.persistLocked(ctx)
}

// Quote is the priced plan of an attempt.
type Quote struct {
	Txs     []gas.SignableTransaction
	Evicted []EvictedIntent
	BaseFee *big.Int
	Funding *big.Int
	Cached  bool
}

// Quote materializes the selected assets towards the safe account and prices
// them. The result is stored as the unsigned transactions of the session.
func (m *Machine) Quote(ctx context.Context) (Quote, error) {
	done, err := m.begin()
	if err != nil {
		return Quote{}, err
	}
	defer done()

	m.mu.Lock()
	covered, st := m.sess.GasCovered, m.status
	m.mu.Unlock()
	if covered {
		return Quote{}, fmt.Errorf("%w: funding already sent for the current plan", ErrWrongState)
	}
	switch st {
	case StatusInitial, StatusNoConnectedAccount, StatusNoSafeAccount, StatusChangeRPC, StatusPayGas:
	default:
		return Quote{}, fmt.Errorf("%w: %s", ErrWrongState, st)
	}
	return m.quote(ctx)
}

func (m *Machine) quote(ctx context.Context) (Quote, error) {
	m.mu.Lock()
	intents := append([]intent.Intent(nil), m.sess.Intents...)
	safe := m.sess.SafeAddress
	m.mu.Unlock()
	if len(intents) == 0 {
		return Quote{}, ErrNoIntents
	}

	bound, err := intent.Materialize(intents, safe)
	if err != nil {
		return Quote{}, err
	}
	var evicted []EvictedIntent
	priced, err := m.deps.Pricer.PriceAll(ctx, bound, func(i int, it intent.Intent, reason error) {
		m.log.Warn("asset dropped from bundle", zap.Int("index", i), zap.String("label", it.Label()), zap.Error(reason))
		evicted = append(evicted, EvictedIntent{Index: i, Label: it.Label(), Reason: reason.Error()})
	})
	if err != nil {
		return Quote{}, fmt.Errorf("price: %w", err)
	}
	if len(priced.Txs) == 0 {
		return Quote{}, fmt.Errorf("%w: every transfer fails in simulation", ErrNoIntents)
	}
	// a cache hit reports the earlier evictions without their reasons
	if priced.Cached && len(evicted) == 0 {
		for _, i := range priced.Evicted {
			evicted = append(evicted, EvictedIntent{Index: i, Label: bound[i].Label(), Reason: "estimation failed"})
		}
	}
	q := Quote{
		Txs:     priced.Txs,
		Evicted: evicted,
		BaseFee: priced.BaseFee,
		Funding: m.deps.Pricer.Funding(priced.Txs),
		Cached:  priced.Cached,
	}

	m.mu.Lock()
	m.sess.UnsignedTxs = priced.Txs
	m.sess.BaseFee = priced.BaseFee.String()
	m.evicted = evicted
	err = m.persistLocked(ctx)
	m.mu.Unlock()
	return q, err
}

// Start begins a new attempt: readiness gate, fresh bundle id, recovery RPC.
func (m *Machine) Start(ctx context.Context) error {
	done, err := m.begin()
	if err != nil {
		return err
	}
	defer done()

	m.mu.Lock()
	safe, hacked := m.sess.SafeAddress, m.sess.HackedAddress
	nIntents := len(m.sess.Intents)
	m.mu.Unlock()
	if err := validAccounts(safe, hacked); err != nil {
		return err
	}
	if nIntents == 0 {
		return ErrNoIntents
	}

	m.mu.Lock()
	if m.sess.GasCovered {
		err := m.moveLocked(ctx, StatusGasPaid)
		m.mu.Unlock()
		return errors.Join(ErrGasAlreadyPaid, err)
	}
	m.mu.Unlock()

	// a new attempt replaces any bundle still being polled
	m.stopPoller()
	m.mu.Lock()
	if m.status != StatusInitial && m.status != StatusNoConnectedAccount {
		m.sess.Reset()
		m.rpcParams = nil
		if err := m.moveLocked(ctx, StatusInitial); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	if _, ok := m.deps.Wallet.Address(); !ok {
		err := m.moveLocked(ctx, StatusNoConnectedAccount)
		m.mu.Unlock()
		return errors.Join(ErrNotConnected, err)
	}
	m.mu.Unlock()

	if m.deps.Code != nil {
		delegate, ok, err := preflight.Delegation(ctx, m.deps.Code, hacked)
		if err != nil {
			return m.fail(ctx, err)
		}
		if ok {
			return fmt.Errorf("%w to %s", ErrDelegated, delegate.Hex())
		}
	}

	if _, err := m.quote(ctx); err != nil {
		return m.fail(ctx, err)
	}

	m.mu.Lock()
	m.sess.BundleID = m.deps.NewID()
	m.sess.SentTxHash, m.sess.SentBlock, m.sess.AttemptedBlock = common.Hash{}, 0, 0
	m.sess.LastError = ""
	params := wallet.RecoveryChain(m.deps.Network, m.deps.Cache.ScopedRPC(m.sess.BundleID))
	m.rpcParams = &params
	err = m.persistLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.log.Info("new bundle", zap.String("bundle", params.RPCURLs[0]))

	if err := m.deps.Wallet.AddChain(ctx, params); err != nil {
		m.log.Warn("wallet did not add the recovery RPC", zap.Error(err))
		if mErr := m.move(ctx, StatusChangeRPC); mErr != nil {
			return mErr
		}
		return fmt.Errorf("%w: %v", ErrManualNetwork, err)
	}
	return m.move(ctx, StatusPayGas)
}

// ConfirmNetwork is the manual confirmation that the recovery RPC was added.
func (m *Machine) ConfirmNetwork(ctx context.Context) error {
	done, err := m.begin()
	if err != nil {
		return err
	}
	defer done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusChangeRPC {
		return fmt.Errorf("%w: %s", ErrWrongState, m.status)
	}
	return m.moveLocked(ctx, StatusPayGas)
}

// PayGas sends the one funding transaction from the safe account.
func (m *Machine) PayGas(ctx context.Context) error {
	done, err := m.begin()
	if err != nil {
		return err
	}
	defer done()

	m.mu.Lock()
	if m.sess.GasCovered {
		err := m.moveLocked(ctx, StatusGasPaid)
		m.mu.Unlock()
		return errors.Join(ErrGasAlreadyPaid, err)
	}
	switch {
	case m.status == StatusPayGas, m.status == StatusNoSafeAccount:
	case m.status == StatusNoConnectedAccount && m.sess.BundleID != "":
	default:
		st := m.status
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongState, st)
	}
	connected, ok := m.deps.Wallet.Address()
	if !ok {
		err := m.moveLocked(ctx, StatusNoConnectedAccount)
		m.mu.Unlock()
		return errors.Join(ErrNotConnected, err)
	}
	if connected != m.sess.SafeAddress {
		err := m.moveLocked(ctx, StatusNoSafeAccount)
		m.mu.Unlock()
		return errors.Join(fmt.Errorf("%w: want safe %s, got %s", ErrWrongAccount, m.sess.SafeAddress.Hex(), connected.Hex()), err)
	}
	baseFee, ok := new(big.Int).SetString(m.sess.BaseFee, 10)
	if !ok || len(m.sess.UnsignedTxs) == 0 {
		m.mu.Unlock()
		return m.fail(ctx, errors.New("no priced transactions, start again"))
	}
	amount := m.deps.Pricer.Funding(m.sess.UnsignedTxs)
	tx := m.deps.Pricer.FundingTx(m.sess.SafeAddress, m.sess.HackedAddress, amount, baseFee)
	m.mu.Unlock()

	hash, err := m.deps.Wallet.SendTransaction(ctx, tx)
	if err != nil {
		return m.fail(ctx, fmt.Errorf("funding transaction: %w", err))
	}
	m.log.Info("funding sent", zap.String("tx", hash.Hex()), zap.String("amount", amount.String()))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess.GasCovered = true
	return m.moveLocked(ctx, StatusSwitchToHackedAccount)
}

// SignRecovery has the compromised account sign every recovery transaction,
// one at a time and in order.
func (m *Machine) SignRecovery(ctx context.Context) error {
	done, err := m.begin()
	if err != nil {
		return err
	}
	defer done()

	m.mu.Lock()
	switch m.status {
	case StatusSignRecoveryTxs, StatusSwitchToHackedAccount, StatusGasPaid:
	default:
		st := m.status
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongState, st)
	}
	if !m.sess.GasCovered {
		m.mu.Unlock()
		return ErrGasNotCovered
	}
	connected, ok := m.deps.Wallet.Address()
	if !ok || connected != m.sess.HackedAddress {
		err := m.moveLocked(ctx, StatusSwitchToHackedAccount)
		want := m.sess.HackedAddress
		m.mu.Unlock()
		return errors.Join(fmt.Errorf("%w: want compromised %s, got %s", ErrWrongAccount, want.Hex(), connected.Hex()), err)
	}
	if err := m.moveLocked(ctx, StatusSignRecoveryTxs); err != nil {
		m.mu.Unlock()
		return err
	}
	txs := append([]gas.SignableTransaction(nil), m.sess.UnsignedTxs...)
	m.mu.Unlock()

	for i, tx := range txs {
		// the gate holds for every prompt, not only the first
		if a, ok := m.deps.Wallet.Address(); !ok || a != tx.From {
			return m.fail(ctx, fmt.Errorf("%w: account changed while signing", ErrWrongAccount))
		}
		hash, err := m.deps.Wallet.SendTransaction(ctx, tx)
		if err != nil {
			return m.fail(ctx, fmt.Errorf("sign %d/%d %q: %w", i+1, len(txs), tx.Label, err))
		}
		m.log.Info("recovery tx signed", zap.Int("index", i), zap.String("tx", hash.Hex()))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess.GasCovered = false
	return m.moveLocked(ctx, StatusSendBundle)
}

// SendBundle reads the signed bundle back from the relay cache and starts polling.
func (m *Machine) SendBundle(ctx context.Context) error {
	done, err := m.begin()
	if err != nil {
		return err
	}
	defer done()
	return m.sendBundle(ctx)
}

func (m *Machine) sendBundle(ctx context.Context) error {
	m.mu.Lock()
	if m.status != StatusSendBundle {
		st := m.status
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongState, st)
	}
	id := m.sess.BundleID
	m.mu.Unlock()

	raw, err := m.deps.Cache.Fetch(ctx, id)
	if err != nil {
		return m.fail(ctx, err)
	}
	txs, err := relay.DecodeBundle(raw)
	if err != nil {
		return m.fail(ctx, err)
	}
	block, err := m.deps.Chain.BlockNumber(ctx)
	if err != nil {
		return m.fail(ctx, fmt.Errorf("block number: %w", err))
	}

	m.mu.Lock()
	m.sess.SentTxHash = txs[0].Hash()
	m.sess.SentBlock = block
	err = m.moveLocked(ctx, StatusListenBundle)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.startPoller(id, raw)
	return nil
}

// Resume continues a reloaded session from its last clean phase.
func (m *Machine) Resume(ctx context.Context) error {
	done, err := m.begin()
	if err != nil {
		return err
	}
	defer done()

	switch m.Status() {
	case StatusSendBundle:
		return m.sendBundle(ctx)
	case StatusListenBundle:
		m.mu.Lock()
		id := m.sess.BundleID
		m.mu.Unlock()
		raw, err := m.deps.Cache.Fetch(ctx, id)
		if err != nil {
			return m.fail(ctx, err)
		}
		m.startPoller(id, raw)
	}
	return nil
}

// Wait blocks until the poller stops and returns where it left the machine.
// ErrPollTimeout leaves the session in LISTEN_BUNDLE.
func (m *Machine) Wait(ctx context.Context) (Status, error) {
	m.mu.Lock()
	ch := m.pollDone
	m.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return m.Status(), ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.pollErr
}

// Restart abandons the attempt, cancelling any poll, and goes back to INITIAL.
func (m *Machine) Restart(ctx context.Context) error {
	done, err := m.begin()
	if err != nil {
		return err
	}
	defer done()

	m.stopPoller()
	if r, ok := m.deps.Wallet.(nonceResetter); ok {
		r.ResetNonces()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess.Reset()
	m.sess.LastError = ""
	m.rpcParams = nil
	m.evicted = nil
	m.pollErr = nil
	return m.moveLocked(ctx, StatusInitial)
}

// Donate sends an optional tip after success. Failure never undoes SUCCESS.
func (m *Machine) Donate(ctx context.Context, amount *big.Int) (common.Hash, error) {
	done, err := m.begin()
	if err != nil {
		return common.Hash{}, err
	}
	defer done()

	if m.deps.DonationAddress == (common.Address{}) {
		return common.Hash{}, ErrNoDonationAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, errors.New("donation amount must be positive")
	}
	m.mu.Lock()
	if m.status != StatusSuccess && m.status != StatusDonate {
		st := m.status
		m.mu.Unlock()
		return common.Hash{}, fmt.Errorf("%w: %s", ErrWrongState, st)
	}
	err = m.moveLocked(ctx, StatusDonate)
	m.mu.Unlock()
	if err != nil {
		return common.Hash{}, err
	}

	hash, err := m.donate(ctx, amount)
	if mErr := m.move(ctx, StatusSuccess); mErr != nil {
		m.log.Error("persist after donation", zap.Error(mErr))
	}
	return hash, err
}

func (m *Machine) donate(ctx context.Context, amount *big.Int) (common.Hash, error) {
	from, ok := m.deps.Wallet.Address()
	if !ok {
		return common.Hash{}, ErrNotConnected
	}
	if m.deps.PublicRPC != "" {
		if err := m.deps.Wallet.AddChain(ctx, wallet.PublicChain(m.deps.Network, m.deps.PublicRPC)); err != nil {
			return common.Hash{}, fmt.Errorf("switch to public rpc: %w", err)
		}
	}
	baseFee, err := m.deps.Pricer.Forecast(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	tx := m.deps.Pricer.FundingTx(from, m.deps.DonationAddress, amount, baseFee)
	tx.Label = "Donation"
	return m.deps.Wallet.SendTransaction(ctx, tx)
}
