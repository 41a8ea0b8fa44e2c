// Package wallet is a private-key wallet with MetaMask-like semantics: one
// connected account at a time, a selectable custom RPC, one prompt at a time.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ligun0805/wallet-recovery/internal/gas"
)

var (
	ErrNoChain      = errors.New("custom RPC not added")
	ErrUnknownKey   = errors.New("no key for account")
	ErrNotConnected = errors.New("wallet not connected")
)

// RawSender broadcasts signed transactions. *ethclient.Client implements it.
type RawSender interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// NonceSource is satisfied by *ethclient.Client.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

type Dialer func(ctx context.Context, url string) (RawSender, error)

// DialEth dials url with ethclient.
func DialEth(ctx context.Context, url string) (RawSender, error) {
	return ethclient.DialContext(ctx, url)
}

type KeyWallet struct {
	mu        sync.Mutex
	chainID   *big.Int
	keys      map[common.Address]*ecdsa.PrivateKey
	connected common.Address
	nonces    NonceSource
	dial      Dialer
	rpc       RawSender
	rpcURL    string
	next      map[common.Address]uint64

	// RejectAddChain makes AddChain fail as if the user declined the prompt.
	RejectAddChain bool
}

func NewKeyWallet(chainID *big.Int, nonces NonceSource, dial Dialer) *KeyWallet {
	if dial == nil {
		dial = DialEth
	}
	return &KeyWallet{
		chainID: new(big.Int).Set(chainID),
		keys:    map[common.Address]*ecdsa.PrivateKey{},
		nonces:  nonces,
		dial:    dial,
		next:    map[common.Address]uint64{},
	}
}

// hexToECDSAPriv parses a hex key with or without 0x.
func hexToECDSAPriv(s string) (*ecdsa.PrivateKey, error) {
	h := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if len(h) == 0 {
		return nil, errors.New("empty private key")
	}
	return gethcrypto.HexToECDSA(h)
}

// AddressFromKey derives the account of a hex private key.
func AddressFromKey(pkHex string) (common.Address, error) {
	k, err := hexToECDSAPriv(pkHex)
	if err != nil {
		return common.Address{}, err
	}
	return gethcrypto.PubkeyToAddress(k.PublicKey), nil
}

// Import adds a key and returns its account.
func (w *KeyWallet) Import(pkHex string) (common.Address, error) {
	k, err := hexToECDSAPriv(pkHex)
	if err != nil {
		return common.Address{}, err
	}
	addr := gethcrypto.PubkeyToAddress(k.PublicKey)
	w.mu.Lock()
	w.keys[addr] = k
	w.mu.Unlock()
	return addr, nil
}

// Connect selects the active account.
func (w *KeyWallet) Connect(addr common.Address) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.keys[addr]; !ok {
		return fmt.Errorf("%w %s", ErrUnknownKey, addr.Hex())
	}
	w.connected = addr
	return nil
}

func (w *KeyWallet) Disconnect() {
	w.mu.Lock()
	w.connected = common.Address{}
	w.mu.Unlock()
}

// Address returns the connected account.
func (w *KeyWallet) Address() (common.Address, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected, w.connected != (common.Address{})
}

// AddChain switches the wallet to the first RPC of params.
func (w *KeyWallet) AddChain(ctx context.Context, params ChainParams) error {
	if w.RejectAddChain {
		return errors.New("user rejected wallet_addEthereumChain")
	}
	if len(params.RPCURLs) == 0 {
		return errors.New("no rpc url")
	}
	want, err := hexutil.DecodeBig(params.ChainID)
	if err != nil {
		return fmt.Errorf("chain id %q: %w", params.ChainID, err)
	}
	if want.Cmp(w.chainID) != 0 {
		return fmt.Errorf("chain id %s does not match wallet chain %s", want, w.chainID)
	}
	c, err := w.dial(ctx, params.RPCURLs[0])
	if err != nil {
		return fmt.Errorf("dial %s: %w", params.RPCURLs[0], err)
	}
	got, err := c.ChainID(ctx)
	if err != nil {
		c.Close()
		return fmt.Errorf("eth_chainId: %w", err)
	}
	if got.Cmp(w.chainID) != 0 {
		c.Close()
		return fmt.Errorf("rpc reports chain %s, expected %s", got, w.chainID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rpc != nil {
		w.rpc.Close()
	}
	// transactions cached by another RPC never reach the chain
	if w.rpcURL != params.RPCURLs[0] {
		clear(w.next)
	}
	w.rpc, w.rpcURL = c, params.RPCURLs[0]
	return nil
}

// ResetNonces forgets the locally tracked nonces. The next send reads the
// pending nonce from the chain again.
func (w *KeyWallet) ResetNonces() {
	w.mu.Lock()
	clear(w.next)
	w.mu.Unlock()
}

// RPCURL returns the RPC currently selected by AddChain.
func (w *KeyWallet) RPCURL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rpcURL
}

// SendTransaction signs tx with the connected account and sends it to the selected RPC.
func (w *KeyWallet) SendTransaction(ctx context.Context, tx gas.SignableTransaction) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.connected == (common.Address{}) {
		return common.Hash{}, ErrNotConnected
	}
	if tx.From != w.connected {
		return common.Hash{}, fmt.Errorf("transaction from %s but connected account is %s", tx.From.Hex(), w.connected.Hex())
	}
	if w.rpc == nil {
		return common.Hash{}, ErrNoChain
	}
	key := w.keys[w.connected]

	nonce, ok := w.next[w.connected]
	if !ok {
		n, err := w.nonces.PendingNonceAt(ctx, w.connected)
		if err != nil {
			return common.Hash{}, fmt.Errorf("nonce: %w", err)
		}
		nonce = n
	}
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	to := tx.To
	unsigned := buildDynamicTx(w.chainID, nonce, &to, value, tx.GasLimit, tx.MaxPriorityFeePerGas, tx.MaxFeePerGas, tx.Data)
	signed, err := signTx(unsigned, w.chainID, key)
	if err != nil {
		return common.Hash{}, err
	}
	if err := w.rpc.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	w.next[w.connected] = nonce + 1
	return signed.Hash(), nil
}
