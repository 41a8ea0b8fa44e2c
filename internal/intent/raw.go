package intent

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// FromRawTransaction decodes a raw (typed or legacy) transaction of the
// compromised account into a custom intent. Only to, value and data are kept.
func FromRawTransaction(hacked common.Address, rawHex string) (Custom, error) {
	b, err := hexutil.Decode(strings.TrimSpace(rawHex))
	if err != nil {
		return Custom{}, fmt.Errorf("raw tx hex: %w", err)
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(b); err != nil {
		return Custom{}, fmt.Errorf("decode raw tx: %w", err)
	}
	if tx.To() == nil {
		return Custom{}, errors.New("contract creation is not supported")
	}
	return Custom{
		From:        hacked,
		To:          *tx.To(),
		Value:       tx.Value(),
		Data:        tx.Data(),
		Description: fmt.Sprintf("Custom call to %s", tx.To().Hex()),
	}, nil
}

var abiNinjaRe = regexp.MustCompile(`Custom abininja call to (0x[a-fA-F0-9]+) with data (0x[a-fA-F0-9]+)`)

// ParseAbiNinjaCall parses the text produced by the abi.ninja calldata builder.
func ParseAbiNinjaCall(hacked common.Address, s string) (Custom, error) {
	m := abiNinjaRe.FindStringSubmatch(s)
	if m == nil {
		return Custom{}, errors.New("not an abininja call description")
	}
	if !common.IsHexAddress(m[1]) {
		return Custom{}, fmt.Errorf("bad target address %s", m[1])
	}
	data, err := hexutil.Decode(m[2])
	if err != nil {
		return Custom{}, fmt.Errorf("call data: %w", err)
	}
	return Custom{
		From:        hacked,
		To:          common.HexToAddress(m[1]),
		Data:        data,
		Description: m[0],
	}, nil
}
