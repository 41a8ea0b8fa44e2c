package main

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "3.00", formatGwei(big.NewInt(3_000_000_000)))
	assert.Equal(t, "0", formatGwei(nil))
	assert.Equal(t, "1.500000", formatEther(big.NewInt(1_500_000_000_000_000_000)))
	assert.Equal(t, "0.000001", formatEther(big.NewInt(1_000_000_000_000)))
}

func TestParseETH(t *testing.T) {
	v, err := parseETH("0.01")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10_000_000_000_000_000), v)

	v, err = parseETH("1.0000000000000000019")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000_000_000_000_001), v)

	_, err = parseETH("-1")
	assert.Error(t, err)
	_, err = parseETH("abc")
	assert.Error(t, err)
}

func TestSplitPair(t *testing.T) {
	k, v := splitPair(" 0xabc = 1.5 ")
	assert.Equal(t, "0xabc", k)
	assert.Equal(t, "1.5", v)
	k, v = splitPair("0xabc")
	assert.Equal(t, "0xabc", k)
	assert.Empty(t, v)
	assert.Equal(t, "0x1234…5678", maskHex("0x12340000005678"))
	assert.True(t, yes(" Y "))
}
