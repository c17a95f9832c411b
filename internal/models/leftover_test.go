package models

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeftoverAddRescalesToFinerScale(t *testing.T) {
	l := NewLeftoverAmount()
	l.Add(big.NewInt(5), 11)
	l.Add(big.NewInt(855), 12)
	l.Add(big.NewInt(1), 10)

	// 5 at scale 11 is 50 at scale 12, 1 at scale 10 is 100 at scale 12.
	assert.Equal(t, "1005", l.Value.String())
	assert.Equal(t, uint8(12), l.Scale)
}

func TestLeftoverExtractKeepsRemainder(t *testing.T) {
	l := NewLeftoverAmount()
	l.Add(big.NewInt(5), 11)
	l.Add(big.NewInt(855), 12)
	l.Add(big.NewInt(1), 10)

	credit := l.Extract(9)
	assert.Equal(t, "1", credit.String())
	assert.Equal(t, "5", l.Value.String())
	assert.Equal(t, uint8(12), l.Scale)
}

func TestLeftoverExtractAtFinerTargetReturnsEverything(t *testing.T) {
	l := NewLeftoverAmount()
	l.Add(big.NewInt(42), 6)

	credit := l.Extract(9)
	assert.Equal(t, "42000", credit.String())
	assert.True(t, l.IsZero())
	assert.Equal(t, uint8(0), l.Scale)
}

func TestLeftoverExtractSameScale(t *testing.T) {
	l := NewLeftoverAmount()
	l.Add(big.NewInt(1005), 12)

	credit := l.Extract(12)
	assert.Equal(t, "1005", credit.String())
	assert.True(t, l.IsZero())
}

func TestLeftoverExtractExactNoValueLost(t *testing.T) {
	// credit * 10^(storedScale-targetScale) + remainder == total before.
	l := NewLeftoverAmount()
	l.Add(big.NewInt(987654321), 12)
	before := new(big.Int).Set(l.Value)
	storedScale := l.Scale

	credit := l.Extract(9)
	scaled := new(big.Int).Mul(credit, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(storedScale-9)), nil))
	total := scaled.Add(scaled, l.Value)
	assert.Equal(t, before.String(), total.String())
}

func TestLeftoverHandlesAmountsBeyondInt64(t *testing.T) {
	huge, ok := new(big.Int).SetString("340282366920938463463374607431768211455", 10)
	require.True(t, ok)

	l := NewLeftoverAmount()
	l.Add(huge, 30)
	l.Add(big.NewInt(1), 30)

	want := new(big.Int).Add(huge, big.NewInt(1))
	assert.Equal(t, want.String(), l.Value.String())
	assert.Equal(t, uint8(30), l.Scale)
}

func TestLeftoverZeroState(t *testing.T) {
	l := NewLeftoverAmount()
	assert.True(t, l.IsZero())
	assert.Equal(t, uint8(0), l.Scale)

	credit := l.Extract(9)
	assert.Equal(t, "0", credit.String())
}
