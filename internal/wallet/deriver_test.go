// internal/wallet/deriver_test.go
package wallet

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coinshop/coinshop-backend/internal/models"
)

func TestDeriveAddressDeterministic(t *testing.T) {
	d := NewDeriver("test-master-seed")

	for _, chain := range models.AllChains {
		a, err := d.DeriveAddress(chain, 7)
		assert.NoError(t, err)
		b, err := d.DeriveAddress(chain, 7)
		assert.NoError(t, err)
		assert.Equal(t, a, b, "same (chain, index) must derive the same address")
	}
}

func TestDeriveAddressUniquePerIndex(t *testing.T) {
	d := NewDeriver("test-master-seed")

	seen := make(map[string]bool)
	for i := uint64(0); i < 50; i++ {
		addr, err := d.DeriveAddress(models.ChainBTC, i)
		assert.NoError(t, err)
		assert.False(t, seen[addr], "index %d collided", i)
		seen[addr] = true
	}
}

func TestDeriveAddressFormats(t *testing.T) {
	d := NewDeriver("test-master-seed")

	btc, err := d.DeriveAddress(models.ChainBTC, 1)
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(btc, "bc1q"))

	ltc, err := d.DeriveAddress(models.ChainLTC, 1)
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(ltc, "ltc1q"))

	eth, err := d.DeriveAddress(models.ChainETH, 1)
	assert.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile("^0x[a-f0-9]{40}$"), eth)
	assert.Len(t, eth, 42)
}

func TestDeriveTronAddressShape(t *testing.T) {
	d := NewDeriver("test-master-seed")
	pattern := regexp.MustCompile("^T[A-Za-z0-9]{33}$")

	for i := uint64(0); i < 20; i++ {
		addr, err := d.DeriveAddress(models.ChainUSDTTRC20, i)
		assert.NoError(t, err)
		assert.Regexp(t, pattern, addr)
		assert.Len(t, addr, 34)
	}
}

func TestDeriveAddressDiffersAcrossChains(t *testing.T) {
	d := NewDeriver("test-master-seed")

	btc, _ := d.DeriveAddress(models.ChainBTC, 3)
	ltc, _ := d.DeriveAddress(models.ChainLTC, 3)
	assert.NotEqual(t, strings.TrimPrefix(btc, "bc1q"), strings.TrimPrefix(ltc, "ltc1q"))
}
