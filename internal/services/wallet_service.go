// internal/services/wallet_service.go
package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/coinshop/coinshop-backend/internal/database"
	"github.com/coinshop/coinshop-backend/internal/models"
)

// AddressDeriver derives a receiving address as a pure function of
// (chain, index).
type AddressDeriver interface {
	DeriveAddress(chain models.Chain, index uint64) (string, error)
}

type WalletService struct {
	db      *gorm.DB
	deriver AddressDeriver
}

func NewWalletService(db *gorm.DB, deriver AddressDeriver) *WalletService {
	return &WalletService{
		db:      db,
		deriver: deriver,
	}
}

// NextIndex allocates the next derivation index for a chain. Allocation
// goes through a server-side sequence so concurrent callers always
// receive distinct values; reading the current value and incrementing it
// application-side would race and hand the same index to two invoices.
func (s *WalletService) NextIndex(ctx context.Context, chain models.Chain) (uint64, error) {
	seq := database.IndexSequenceName(chain)
	if seq == "" {
		return 0, &AllocationError{Chain: chain, Err: fmt.Errorf("no index sequence configured")}
	}

	var index uint64
	query := fmt.Sprintf("SELECT nextval('%s')", seq)
	if err := s.db.WithContext(ctx).Raw(query).Scan(&index).Error; err != nil {
		if database.IsUndefinedObject(err) {
			return 0, &AllocationError{Chain: chain, Err: err}
		}
		return 0, fmt.Errorf("failed to allocate index for %s: %w", chain, err)
	}

	return index, nil
}

// NewAddress allocates a fresh index and derives its receiving address.
func (s *WalletService) NewAddress(ctx context.Context, chain models.Chain) (string, uint64, error) {
	index, err := s.NextIndex(ctx, chain)
	if err != nil {
		return "", 0, err
	}

	address, err := s.deriver.DeriveAddress(chain, index)
	if err != nil {
		return "", 0, fmt.Errorf("failed to derive address for %s index %d: %w", chain, index, err)
	}

	return address, index, nil
}
