// internal/models/common_test.go
package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChainCurrency(t *testing.T) {
	assert.Equal(t, "BTC", ChainBTC.Currency())
	assert.Equal(t, "ETH", ChainETH.Currency())
	assert.Equal(t, "LTC", ChainLTC.Currency())
	// The TRC-20 rail settles in plain USDT.
	assert.Equal(t, "USDT", ChainUSDTTRC20.Currency())
}

func TestChainDefaultConfirmations(t *testing.T) {
	assert.Equal(t, 1, ChainBTC.DefaultConfirmations())
	assert.Equal(t, 12, ChainETH.DefaultConfirmations())
	assert.Equal(t, 6, ChainLTC.DefaultConfirmations())
	assert.Equal(t, 19, ChainUSDTTRC20.DefaultConfirmations())
}

func TestChainValid(t *testing.T) {
	for _, chain := range AllChains {
		assert.True(t, chain.Valid(), chain)
	}
	assert.False(t, Chain("DOGE").Valid())
	assert.False(t, Chain("").Valid())
}
