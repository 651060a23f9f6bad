// internal/wallet/deriver.go
package wallet

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/ripemd160"

	"github.com/coinshop/coinshop-backend/internal/models"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Deriver produces one receiving address per (chain, index) pair from a
// master seed. Derivation is deterministic: the same pair always yields
// the same address, so invoices can be re-derived from their stored index.
type Deriver struct {
	seed []byte
}

func NewDeriver(masterSeed string) *Deriver {
	return &Deriver{seed: []byte(masterSeed)}
}

func (d *Deriver) DeriveAddress(chain models.Chain, index uint64) (string, error) {
	key := d.childKey(chain, index)

	switch chain {
	case models.ChainBTC:
		return "bc1q" + hex.EncodeToString(hash160(key)), nil
	case models.ChainLTC:
		return "ltc1q" + hex.EncodeToString(hash160(key)), nil
	case models.ChainETH:
		// last 20 bytes of the key, Ethereum-style
		return "0x" + hex.EncodeToString(key[12:]), nil
	case models.ChainUSDTTRC20:
		return tronEncode(hash160(key)), nil
	default:
		return "", fmt.Errorf("unsupported chain: %s", chain)
	}
}

// childKey maps (seed, chain, index) to 32 key bytes.
func (d *Deriver) childKey(chain models.Chain, index uint64) []byte {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], index)

	h := sha256.New()
	h.Write(d.seed)
	h.Write([]byte{0x00})
	h.Write([]byte(chain))
	h.Write([]byte{0x00})
	h.Write(idx[:])
	return h.Sum(nil)
}

func hash160(b []byte) []byte {
	sha := sha256.Sum256(b)
	rip := ripemd160.New()
	rip.Write(sha[:])
	return rip.Sum(nil)
}

// tronEncode renders a TRON base58-style address: 'T' followed by 33
// alphanumeric characters, 34 characters total.
func tronEncode(h160 []byte) string {
	ext := sha256.Sum256(h160)
	material := append(append([]byte{}, h160...), ext[:13]...)

	out := make([]byte, 0, 34)
	out = append(out, 'T')
	for _, b := range material {
		out = append(out, base58Alphabet[int(b)%len(base58Alphabet)])
	}
	return string(out)
}
