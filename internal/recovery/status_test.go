package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusNames(t *testing.T) {
	for s := StatusInitial; s <= StatusClearActivityData; s++ {
		assert.NotEmpty(t, s.Hint(), s.String())
		p, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, p)
	}
	p, err := ParseStatus("")
	require.NoError(t, err)
	assert.Equal(t, StatusInitial, p)
	_, err = ParseStatus("WAITING")
	assert.Error(t, err)
	assert.Equal(t, "Status(99)", Status(99).String())
}

func TestTransitions(t *testing.T) {
	for s := StatusInitial; s <= StatusClearActivityData; s++ {
		assert.True(t, s.CanMoveTo(StatusInitial), "%s must be able to restart", s)
	}
	assert.True(t, StatusListenBundle.CanMoveTo(StatusSuccess))
	assert.True(t, StatusListenBundle.CanMoveTo(StatusClearActivityData))
	assert.True(t, StatusSuccess.CanMoveTo(StatusDonate))

	assert.False(t, StatusInitial.CanMoveTo(StatusSignRecoveryTxs))
	assert.False(t, StatusPayGas.CanMoveTo(StatusSendBundle))
	assert.False(t, StatusChangeRPC.CanMoveTo(StatusSignRecoveryTxs))
	assert.False(t, StatusClearActivityData.CanMoveTo(StatusPayGas))
	assert.False(t, StatusSuccess.CanMoveTo(StatusListenBundle))

	// signing is only reachable once gas was handled
	for s := StatusInitial; s <= StatusClearActivityData; s++ {
		if s.CanMoveTo(StatusSignRecoveryTxs) {
			assert.Contains(t, []Status{StatusNoSafeAccount, StatusGasPaid, StatusPayGas, StatusSwitchToHackedAccount, StatusSignRecoveryTxs}, s)
		}
	}
}

func TestStatusText(t *testing.T) {
	b, err := StatusListenBundle.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "LISTEN_BUNDLE", string(b))
	var s Status
	require.NoError(t, s.UnmarshalText([]byte("DONATE")))
	assert.Equal(t, StatusDonate, s)
	assert.True(t, StatusClearActivityData.Terminal())
	assert.False(t, StatusListenBundle.Terminal())
}
