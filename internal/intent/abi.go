package intent

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const transferABIJSON = `[
 {"type":"function","name":"transfer","stateMutability":"nonpayable",
  "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
  "outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"transferFrom","stateMutability":"nonpayable",
  "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],
  "outputs":[]},
 {"type":"function","name":"safeBatchTransferFrom","stateMutability":"nonpayable",
  "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"ids","type":"uint256[]"},{"name":"amounts","type":"uint256[]"},{"name":"data","type":"bytes"}],
  "outputs":[]},
 {"type":"function","name":"balanceOf","stateMutability":"view",
  "inputs":[{"name":"owner","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"decimals","stateMutability":"view","inputs":[],
  "outputs":[{"name":"","type":"uint8"}]},
 {"type":"function","name":"symbol","stateMutability":"view","inputs":[],
  "outputs":[{"name":"","type":"string"}]}
]`

var tokenABI abi.ABI

func init() {
	var err error
	tokenABI, err = abi.JSON(strings.NewReader(transferABIJSON))
	if err != nil {
		panic(err)
	}
}

var errNilAmount = errors.New("nil amount")

// EncodeERC20Transfer encodes transfer(to, amount).
func EncodeERC20Transfer(to common.Address, amount *big.Int) ([]byte, error) {
	if amount == nil {
		return nil, errNilAmount
	}
	return tokenABI.Pack("transfer", to, amount)
}

// EncodeERC721TransferFrom encodes transferFrom(from, to, tokenId).
func EncodeERC721TransferFrom(from, to common.Address, tokenID *big.Int) ([]byte, error) {
	if tokenID == nil {
		return nil, errors.New("nil token id")
	}
	return tokenABI.Pack("transferFrom", from, to, tokenID)
}

// EncodeERC1155BatchTransfer encodes safeBatchTransferFrom(from, to, ids, amounts, bytes32(0)).
func EncodeERC1155BatchTransfer(from, to common.Address, ids, amounts []*big.Int) ([]byte, error) {
	if len(ids) != len(amounts) {
		return nil, errors.New("ids and amounts length mismatch")
	}
	for i := range ids {
		if ids[i] == nil || amounts[i] == nil {
			return nil, errNilAmount
		}
	}
	return tokenABI.Pack("safeBatchTransferFrom", from, to, ids, amounts, common.Hash{}.Bytes())
}
