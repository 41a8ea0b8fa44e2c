package session

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/wallet-recovery/internal/gas"
	"github.com/ligun0805/wallet-recovery/internal/intent"
)

var (
	safe   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	hacked = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func sample() *Session {
	return &Session{
		SafeAddress:    safe,
		HackedAddress:  hacked,
		Intents:        intent.List{intent.ERC20{Token: common.HexToAddress("0x01"), From: hacked, Symbol: "T", Amount: big.NewInt(10), Decimals: 0}},
		Status:         "LISTEN_BUNDLE",
		BundleID:       "b-1",
		UnsignedTxs:    []gas.SignableTransaction{{From: hacked, GasLimit: 1, MaxFeePerGas: big.NewInt(1), MaxPriorityFeePerGas: big.NewInt(1)}},
		GasCovered:     true,
		SentTxHash:     common.HexToHash("0xabc"),
		SentBlock:      10,
		AttemptedBlock: 12,
	}
}

func TestReset(t *testing.T) {
	s := sample()
	s.Reset()
	assert.Equal(t, safe, s.SafeAddress)
	assert.Equal(t, hacked, s.HackedAddress)
	assert.Len(t, s.Intents, 1)
	assert.Empty(t, s.BundleID)
	assert.Empty(t, s.UnsignedTxs)
	assert.False(t, s.GasCovered)
	assert.Equal(t, common.Hash{}, s.SentTxHash)
	assert.Zero(t, s.SentBlock)
	assert.Zero(t, s.AttemptedBlock)
}

func TestStores(t *testing.T) {
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(filepath.Join(t.TempDir(), "session.json")),
	}
	for name, st := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := st.Load(ctx, Key(hacked))
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, st.Save(ctx, sample()))
			got, err := st.Load(ctx, Key(hacked))
			require.NoError(t, err)
			assert.Equal(t, "b-1", got.BundleID)
			assert.True(t, got.GasCovered)
			assert.Equal(t, uint64(12), got.AttemptedBlock)
			require.Len(t, got.Intents, 1)
			assert.Equal(t, intent.KindERC20, got.Intents[0].Kind())
			assert.False(t, got.UpdatedAt.IsZero())

			require.NoError(t, st.Delete(ctx, Key(hacked)))
			_, err = st.Load(ctx, Key(hacked))
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
