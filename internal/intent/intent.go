// Package intent models what the recovery moves out of the compromised
// account and turns it into concrete call data.
package intent

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Kind tags the variant of an Intent.
type Kind string

const (
	KindERC20   Kind = "erc20"
	KindERC721  Kind = "erc721"
	KindERC1155 Kind = "erc1155"
	KindCustom  Kind = "custom"
)

var ErrUnknownKind = errors.New("unknown intent kind")

// EstimateCall is the call used to estimate gas for an intent.
type EstimateCall struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Intent is one transfer (or arbitrary call) out of the compromised account.
// The set of implementations is closed: ERC20, ERC721, ERC1155 and Custom.
type Intent interface {
	Kind() Kind
	Label() string
	Call() (EstimateCall, error)
	sealed()
}

// ERC20 moves Amount of a fungible token.
type ERC20 struct {
	Token     common.Address `json:"token"`
	From      common.Address `json:"from"`
	Recipient common.Address `json:"recipient"`
	Symbol    string         `json:"symbol"`
	Amount    *big.Int       `json:"amount"`
	Decimals  uint8          `json:"decimals"`
}

// ERC721 moves a single NFT.
type ERC721 struct {
	Token     common.Address `json:"token"`
	From      common.Address `json:"from"`
	Recipient common.Address `json:"recipient"`
	Name      string         `json:"name,omitempty"`
	TokenID   *big.Int       `json:"tokenId"`
}

// ERC1155 moves a batch of ids of one multi-token contract.
type ERC1155 struct {
	Token     common.Address `json:"token"`
	From      common.Address `json:"from"`
	Recipient common.Address `json:"recipient"`
	Name      string         `json:"name,omitempty"`
	TokenIDs  []*big.Int     `json:"tokenIds"`
	Amounts   []*big.Int     `json:"amounts"`
}

// Custom is a caller-supplied call. Its data is never rewritten.
type Custom struct {
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Value       *big.Int       `json:"value,omitempty"`
	Data        []byte         `json:"data"`
	Description string         `json:"description,omitempty"`
}

func (ERC20) Kind() Kind   { return KindERC20 }
func (ERC721) Kind() Kind  { return KindERC721 }
func (ERC1155) Kind() Kind { return KindERC1155 }
func (Custom) Kind() Kind  { return KindCustom }

func (ERC20) sealed()   {}
func (ERC721) sealed()  {}
func (ERC1155) sealed() {}
func (Custom) sealed()  {}

func (t ERC20) Label() string {
	sym := t.Symbol
	if sym == "" {
		sym = t.Token.Hex()
	}
	return fmt.Sprintf("Transfer %s %s", FormatUnits(t.Amount, t.Decimals), sym)
}

func (t ERC721) Label() string {
	return fmt.Sprintf("Transfer %s #%s", nameOr(t.Name, t.Token), t.TokenID)
}

func (t ERC1155) Label() string {
	return fmt.Sprintf("Transfer %d token id(s) of %s", len(t.TokenIDs), nameOr(t.Name, t.Token))
}

func (t Custom) Label() string {
	if t.Description != "" {
		return t.Description
	}
	return fmt.Sprintf("Custom call to %s", t.To.Hex())
}

func (t ERC20) Call() (EstimateCall, error) {
	data, err := EncodeERC20Transfer(t.Recipient, t.Amount)
	return EstimateCall{From: t.From, To: t.Token, Data: data}, err
}

func (t ERC721) Call() (EstimateCall, error) {
	data, err := EncodeERC721TransferFrom(t.From, t.Recipient, t.TokenID)
	return EstimateCall{From: t.From, To: t.Token, Data: data}, err
}

func (t ERC1155) Call() (EstimateCall, error) {
	data, err := EncodeERC1155BatchTransfer(t.From, t.Recipient, t.TokenIDs, t.Amounts)
	return EstimateCall{From: t.From, To: t.Token, Data: data}, err
}

func (t Custom) Call() (EstimateCall, error) {
	return EstimateCall{From: t.From, To: t.To, Data: common.CopyBytes(t.Data), Value: t.Value}, nil
}

// Materialize binds every intent to dest. Call data is rebuilt from scratch so
// a destination change can never leave a transfer pointing at the old address.
func Materialize(intents []Intent, dest common.Address) ([]Intent, error) {
	out := make([]Intent, 0, len(intents))
	for i, it := range intents {
		switch t := it.(type) {
		case ERC20:
			t.Recipient = dest
			out = append(out, t)
		case ERC721:
			t.Recipient = dest
			out = append(out, t)
		case ERC1155:
			if len(t.TokenIDs) != len(t.Amounts) {
				return nil, fmt.Errorf("intent %d: %d token ids but %d amounts", i, len(t.TokenIDs), len(t.Amounts))
			}
			t.Recipient = dest
			out = append(out, t)
		case Custom:
			out = append(out, t)
		default:
			return nil, fmt.Errorf("intent %d: %w (%T)", i, ErrUnknownKind, it)
		}
	}
	return out, nil
}

// Calls returns the estimate calls of intents in order.
func Calls(intents []Intent) ([]EstimateCall, error) {
	out := make([]EstimateCall, len(intents))
	for i, it := range intents {
		c, err := it.Call()
		if err != nil {
			return nil, fmt.Errorf("intent %d (%s): %w", i, it.Label(), err)
		}
		out[i] = c
	}
	return out, nil
}

// FormatUnits renders a raw token amount with the given decimals.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseUnits converts a human amount ("1.5") to raw units.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	raw := d.Shift(int32(decimals))
	if !raw.Equal(raw.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}
	return raw.BigInt(), nil
}

func nameOr(name string, addr common.Address) string {
	if name != "" {
		return name
	}
	return addr.Hex()
}
