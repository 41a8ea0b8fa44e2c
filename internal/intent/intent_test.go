package intent

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hacked = common.HexToAddress("0x1111111111111111111111111111111111111111")
	addrA  = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	addrB  = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	usdc   = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

func TestMaterializeRebindsDestination(t *testing.T) {
	in := []Intent{ERC20{Token: usdc, From: hacked, Symbol: "USDC", Amount: big.NewInt(1000000), Decimals: 6}}

	atA, err := Materialize(in, addrA)
	require.NoError(t, err)
	atB, err := Materialize(atA, addrB)
	require.NoError(t, err)

	call, err := atB[0].Call()
	require.NoError(t, err)

	want := append(common.FromHex("0xa9059cbb"), common.LeftPadBytes(addrB.Bytes(), 32)...)
	want = append(want, common.LeftPadBytes(big.NewInt(1000000).Bytes(), 32)...)
	assert.Equal(t, want, call.Data)
	assert.Equal(t, usdc, call.To)
	assert.Equal(t, hacked, call.From)
	assert.NotContains(t, string(call.Data), string(addrA.Bytes()))
	assert.Equal(t, "Transfer 1 USDC", atB[0].Label())
}

func TestMaterializeVariants(t *testing.T) {
	nft := common.HexToAddress("0x2222222222222222222222222222222222222222")
	custom := Custom{From: hacked, To: addrA, Data: []byte{0xde, 0xad}}
	in := []Intent{
		ERC721{Token: nft, From: hacked, TokenID: big.NewInt(7)},
		ERC1155{Token: nft, From: hacked, TokenIDs: []*big.Int{big.NewInt(1), big.NewInt(2)}, Amounts: []*big.Int{big.NewInt(5), big.NewInt(6)}},
		custom,
	}
	out, err := Materialize(in, addrB)
	require.NoError(t, err)
	require.Len(t, out, 3)

	c721, err := out[0].Call()
	require.NoError(t, err)
	assert.Equal(t, common.FromHex("0x23b872dd"), c721.Data[:4])
	assert.Equal(t, common.LeftPadBytes(hacked.Bytes(), 32), c721.Data[4:36])
	assert.Equal(t, common.LeftPadBytes(addrB.Bytes(), 32), c721.Data[36:68])

	c1155, err := out[1].Call()
	require.NoError(t, err)
	assert.Equal(t, common.FromHex("0x2eb2c2d6"), c1155.Data[:4])

	cc, err := out[2].Call()
	require.NoError(t, err)
	assert.Equal(t, addrA, cc.To, "custom calls keep their target")
	assert.Equal(t, []byte{0xde, 0xad}, cc.Data)
}

type bogus struct{}

func (bogus) Kind() Kind                  { return "bogus" }
func (bogus) Label() string               { return "bogus" }
func (bogus) Call() (EstimateCall, error) { return EstimateCall{}, nil }
func (bogus) sealed()                     {}

func TestMaterializeErrors(t *testing.T) {
	_, err := Materialize([]Intent{bogus{}}, addrB)
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = Materialize([]Intent{ERC1155{TokenIDs: []*big.Int{big.NewInt(1)}}}, addrB)
	assert.Error(t, err)
}

func TestUnits(t *testing.T) {
	tests := []struct {
		in       string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{in: "1", decimals: 6, want: "1000000"},
		{in: "0.5", decimals: 18, want: "500000000000000000"},
		{in: "1.0000001", decimals: 6, wantErr: true},
		{in: "-1", decimals: 6, wantErr: true},
		{in: "abc", decimals: 6, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUnits(tt.in, tt.decimals)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
			assert.Equal(t, tt.in, FormatUnits(got, tt.decimals))
		})
	}
}

func TestParseAbiNinjaCall(t *testing.T) {
	c, err := ParseAbiNinjaCall(hacked, "Custom abininja call to 0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa with data 0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, addrA, c.To)
	assert.Equal(t, hacked, c.From)
	assert.Equal(t, common.FromHex("0xdeadbeef"), c.Data)

	_, err = ParseAbiNinjaCall(hacked, "transfer everything")
	assert.Error(t, err)
}

func TestFromRawTransaction(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	chain := big.NewInt(1)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID: chain, Nonce: 3, Gas: 50000,
		GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(2),
		To: &addrA, Value: big.NewInt(9), Data: []byte{0x01, 0x02},
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chain), key)
	require.NoError(t, err)
	raw, err := signed.MarshalBinary()
	require.NoError(t, err)

	c, err := FromRawTransaction(hacked, hexutil.Encode(raw))
	require.NoError(t, err)
	assert.Equal(t, addrA, c.To)
	assert.Equal(t, big.NewInt(9), c.Value)
	assert.Equal(t, []byte{0x01, 0x02}, c.Data)

	_, err = FromRawTransaction(hacked, "0x1234")
	assert.Error(t, err)
}

func TestListJSON(t *testing.T) {
	in := List{
		ERC20{Token: usdc, From: hacked, Recipient: addrB, Symbol: "USDC", Amount: big.NewInt(5), Decimals: 6},
		Custom{From: hacked, To: addrA, Data: []byte{0x01}},
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out List
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)

	assert.ErrorIs(t, json.Unmarshal([]byte(`[{"type":"erc9999","data":{}}]`), &out), ErrUnknownKind)
}

type fakeCaller struct {
	balances map[common.Address]*big.Int
	calls    int
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	method, err := tokenABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "balanceOf":
		bal, ok := f.balances[*msg.To]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		return method.Outputs.Pack(bal)
	case "decimals":
		return method.Outputs.Pack(uint8(6))
	case "symbol":
		return method.Outputs.Pack("TKN")
	}
	return nil, errors.New("unexpected call")
}

func TestTokenDiscoverer(t *testing.T) {
	empty := common.HexToAddress("0x3333333333333333333333333333333333333333")
	caller := &fakeCaller{balances: map[common.Address]*big.Int{usdc: big.NewInt(42), empty: big.NewInt(0)}}
	d := &TokenDiscoverer{Caller: caller, Tokens: []common.Address{usdc, empty}}

	got, err := d.Discover(context.Background(), hacked)
	require.NoError(t, err)
	require.Len(t, got, 1)
	tok := got[0].(ERC20)
	assert.Equal(t, big.NewInt(42), tok.Amount)
	assert.Equal(t, uint8(6), tok.Decimals)
	assert.Equal(t, "TKN", tok.Symbol)

	cached := NewCachedDiscoverer(d, time.Minute)
	_, err = cached.Discover(context.Background(), hacked)
	require.NoError(t, err)
	before := caller.calls
	_, err = cached.Discover(context.Background(), hacked)
	require.NoError(t, err)
	assert.Equal(t, before, caller.calls)

	cached.Invalidate(hacked)
	_, err = cached.Discover(context.Background(), hacked)
	require.NoError(t, err)
	assert.Greater(t, caller.calls, before)
}
