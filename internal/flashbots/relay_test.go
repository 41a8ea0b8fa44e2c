package flashbots

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulationFirstError(t *testing.T) {
	sim := &Simulation{Results: []TxResult{{GasUsed: 21000}, {Revert: "ERC20: transfer amount exceeds balance"}, {Error: "later"}}}
	assert.Equal(t, "ERC20: transfer amount exceeds balance", sim.FirstError())
	assert.Empty(t, (&Simulation{Results: []TxResult{{GasUsed: 1}}}).FirstError())
}

func TestNewClientKeys(t *testing.T) {
	c, err := NewClient("https://relay.flashbots.net", "")
	require.NoError(t, err)
	assert.Equal(t, "https://relay.flashbots.net", c.RelayURL)

	_, err = NewClient("https://relay.flashbots.net", "0xnothex")
	assert.Error(t, err)
}
