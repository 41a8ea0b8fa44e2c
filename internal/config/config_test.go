package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	st, err := decode(v)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.PriorityFeeGwei)
	assert.Equal(t, int64(15), st.GasBufferPct)
	assert.Equal(t, int64(1), st.FundingMarginPct)
	assert.Equal(t, 12*time.Second, st.BlockInterval)
	assert.Equal(t, int64(1), st.Network.ChainID)
	assert.Equal(t, "http://127.0.0.1:8080", st.RelayEndpoint)
}

func TestDecodeOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("network", "sepolia")
	v.Set("discovery_tokens", []string{"0xa, 0xb ,"})
	v.Set("block_interval", "6s")

	st, err := decode(v)
	require.NoError(t, err)
	assert.Equal(t, int64(11155111), st.Network.ChainID)
	assert.False(t, st.Network.AtomicSimulation)
	assert.Equal(t, []string{"0xa", "0xb"}, st.DiscoveryTokens)
	assert.Equal(t, 6*time.Second, st.BlockInterval)
}

func TestDefaultRelayEndpoint(t *testing.T) {
	for _, tc := range []struct {
		listen string
		want   string
	}{
		{":8080", "http://127.0.0.1:8080"},
		{"0.0.0.0:9000", "http://127.0.0.1:9000"},
		{"[::]:7000", "http://127.0.0.1:7000"},
	} {
		t.Run(tc.listen, func(t *testing.T) {
			v := viper.New()
			setDefaults(v)
			v.Set("listen_addr", tc.listen)
			st, err := decode(v)
			require.NoError(t, err)
			assert.Equal(t, tc.want, st.RelayEndpoint)
		})
	}

	v := viper.New()
	setDefaults(v)
	v.Set("listen_addr", "8080")
	_, err := decode(v)
	assert.Error(t, err)
}

func TestLookupNetwork(t *testing.T) {
	tests := []struct {
		key     string
		chainID int64
		wantErr bool
	}{
		{key: "mainnet", chainID: 1},
		{key: " Sepolia ", chainID: 11155111},
		{key: "11155111", chainID: 11155111},
		{key: "goerli", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			n, err := LookupNetwork(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.chainID, n.ChainID)
		})
	}
	n, _ := LookupNetwork("sepolia")
	assert.Equal(t, "0xaa36a7", n.ChainIDHex())
}
