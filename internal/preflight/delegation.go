package preflight

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// delegationPrefix marks EIP-7702 delegated code: 0xef0100 || address.
var delegationPrefix = []byte{0xef, 0x01, 0x00}

// CodeReader is satisfied by *ethclient.Client.
type CodeReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Delegation returns the delegate of account if it carries an EIP-7702 designator.
func Delegation(ctx context.Context, r CodeReader, account common.Address) (common.Address, bool, error) {
	code, err := r.CodeAt(ctx, account, nil)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("code of %s: %w", account.Hex(), err)
	}
	if len(code) != len(delegationPrefix)+common.AddressLength || !bytes.HasPrefix(code, delegationPrefix) {
		return common.Address{}, false, nil
	}
	return common.BytesToAddress(code[len(delegationPrefix):]), true, nil
}
