package balance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedPolicy_AllowsUnderBalance(t *testing.T) {
	p := NewCachedPolicy(10.0, 0)
	assert.NoError(t, p.Check(1.0))
}

func TestCachedPolicy_VetoesOverBalance(t *testing.T) {
	p := NewCachedPolicy(0.5, 0)

	err := p.Check(1.0)
	require.Error(t, err)

	var insufficient *ErrInsufficient
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 0.5, insufficient.BalanceUSD)
}

func TestCachedPolicy_FloorApplies(t *testing.T) {
	p := NewCachedPolicy(2.0, 1.5)
	assert.NoError(t, p.Check(0.4))
	assert.Error(t, p.Check(0.6))
}

func TestCachedPolicy_NotifySpendDebits(t *testing.T) {
	p := NewCachedPolicy(1.0, 0)

	p.NotifySpend(0.7)
	assert.InDelta(t, 0.3, p.Snapshot(), 1e-9)

	// Negative or zero spends are ignored.
	p.NotifySpend(-5)
	p.NotifySpend(0)
	assert.InDelta(t, 0.3, p.Snapshot(), 1e-9)

	assert.Error(t, p.Check(0.5))
}

func TestCachedPolicy_Credit(t *testing.T) {
	p := NewCachedPolicy(0, 0)
	require.Error(t, p.Check(0.1))

	p.Credit(1.0)
	assert.NoError(t, p.Check(0.1))
}
