// internal/services/price_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/coinshop/coinshop-backend/internal/config"
	"github.com/coinshop/coinshop-backend/internal/models"
)

// PriceService fetches USD prices from an external market-data provider
// with a short-TTL cache. The cache is best effort: it keeps invoice
// creation alive through provider hiccups (stale fallback) but never
// gates a financial decision.
type PriceService struct {
	config *config.Config
	client *http.Client

	mtx   sync.Mutex
	cache map[models.Chain]cachedPrice
}

type cachedPrice struct {
	price     float64
	fetchedAt time.Time
}

func NewPriceService(cfg *config.Config) *PriceService {
	return &PriceService{
		config: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.Crypto.RequestTimeoutSecs) * time.Second,
		},
		cache: make(map[models.Chain]cachedPrice),
	}
}

func marketID(chain models.Chain) string {
	switch chain {
	case models.ChainBTC:
		return "bitcoin"
	case models.ChainETH:
		return "ethereum"
	case models.ChainLTC:
		return "litecoin"
	case models.ChainUSDTTRC20:
		return "tether"
	default:
		return ""
	}
}

// GetUsdPrice returns the USD price per unit for a chain's currency.
// A cached value within the TTL is served directly; on fetch failure a
// stale cached value is served rather than hard-failing the lookup.
func (s *PriceService) GetUsdPrice(ctx context.Context, chain models.Chain) (float64, error) {
	ttl := time.Duration(s.config.Crypto.PriceCacheSeconds) * time.Second

	s.mtx.Lock()
	cached, ok := s.cache[chain]
	s.mtx.Unlock()

	if ok && time.Since(cached.fetchedAt) < ttl {
		return cached.price, nil
	}

	price, err := s.fetchPrice(ctx, chain)
	if err != nil {
		if ok {
			logrus.WithError(err).WithField("chain", chain).
				Warn("Price fetch failed, serving stale cached price")
			return cached.price, nil
		}
		return 0, fmt.Errorf("failed to fetch %s price: %w", chain, err)
	}

	s.mtx.Lock()
	s.cache[chain] = cachedPrice{price: price, fetchedAt: time.Now()}
	s.mtx.Unlock()

	return price, nil
}

// ConvertFiat converts a USD amount to the chain's currency at the
// current rate, rounded to 8 decimal places. Returns the crypto amount
// and the rate snapshot used.
func (s *PriceService) ConvertFiat(ctx context.Context, chain models.Chain, fiatAmount float64) (float64, float64, error) {
	rate, err := s.GetUsdPrice(ctx, chain)
	if err != nil {
		return 0, 0, err
	}
	if rate <= 0 {
		return 0, 0, fmt.Errorf("invalid %s rate: %f", chain, rate)
	}

	amount := decimal.NewFromFloat(fiatAmount).
		Div(decimal.NewFromFloat(rate)).
		Round(8)

	crypto, _ := amount.Float64()
	return crypto, rate, nil
}

func (s *PriceService) fetchPrice(ctx context.Context, chain models.Chain) (float64, error) {
	id := marketID(chain)
	if id == "" {
		return 0, fmt.Errorf("no market id for chain %s", chain)
	}

	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", s.config.Crypto.PriceAPIBaseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price provider returned status %d", resp.StatusCode)
	}

	var body map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode price response: %w", err)
	}

	price, ok := body[id]["usd"]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("price provider returned no usd price for %s", id)
	}

	return price, nil
}
