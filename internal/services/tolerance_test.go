// internal/services/tolerance_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAmountMatchesWithinDefaultTolerance(t *testing.T) {
	// 0.5% default: a 0.4% shortfall matches, a 0.6% shortfall does not.
	assert.True(t, AmountMatches(0.996, 1.0, DefaultTolerance))
	assert.False(t, AmountMatches(0.994, 1.0, DefaultTolerance))
}

func TestAmountMatchesFeeShortfall(t *testing.T) {
	// 0.6% below expected matches once tolerance is configured at 1%.
	assert.True(t, AmountMatches(0.994, 1.0, 0.01))

	// 1.5% below expected never matches: 1% is the hard ceiling even if
	// a larger tolerance is requested.
	assert.False(t, AmountMatches(0.985, 1.0, 0.05))
}

func TestAmountMatchesOverpayment(t *testing.T) {
	assert.True(t, AmountMatches(1.0, 1.0, DefaultTolerance))
	assert.True(t, AmountMatches(1.5, 1.0, DefaultTolerance))
	assert.True(t, AmountMatches(250.0, 1.0, DefaultTolerance))
}

func TestAmountMatchesRejectsNonPositiveExpected(t *testing.T) {
	assert.False(t, AmountMatches(1.0, 0, DefaultTolerance))
	assert.False(t, AmountMatches(1.0, -1.0, DefaultTolerance))
}

func TestClampTolerance(t *testing.T) {
	assert.Equal(t, DefaultTolerance, clampTolerance(0))
	assert.Equal(t, DefaultTolerance, clampTolerance(-1))
	assert.Equal(t, minTolerance, clampTolerance(0.00001))
	assert.Equal(t, maxTolerance, clampTolerance(0.2))
	assert.Equal(t, 0.005, clampTolerance(0.005))
}
