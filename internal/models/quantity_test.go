package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentageClamp(t *testing.T) {
	assert.Equal(t, Percentage(0), Percentage(-5).Clamp())
	assert.Equal(t, Percentage(100), Percentage(130).Clamp())
	assert.Equal(t, Percentage(42), Percentage(42).Clamp())
}

func TestPercentageRound(t *testing.T) {
	assert.Equal(t, Percentage(43), Percentage(42.6).Round())
	assert.Equal(t, Percentage(42), Percentage(42.4).Round())
	assert.Equal(t, Percentage(100), Percentage(140.2).Round())
}

func TestPercentageAbsolute(t *testing.T) {
	assert.Equal(t, uint64(250), Percentage(25).Absolute(1000))
	assert.Equal(t, uint64(1000), Percentage(120).Absolute(1000))
	assert.Equal(t, uint64(0), Percentage(-1).Absolute(1000))
}

func TestPercentageOf(t *testing.T) {
	assert.Equal(t, Percentage(50), PercentageOf(50, 100))
	assert.Equal(t, Percentage(100), PercentageOf(300, 100))
	assert.Equal(t, Percentage(0), PercentageOf(10, 0))
}

func TestCostRound(t *testing.T) {
	assert.Equal(t, CostUSD(4.51), CostUSD(4.505).Round())
	assert.Equal(t, CostUSD(4.50), CostUSD(4.504).Round())
}
