// internal/services/integration_db_test.go
//
// Database-backed tests for the guarantees that only hold with a real
// Postgres underneath: row locks, sequence allocation, and the unique
// constraints backing the idempotency keys. Set TEST_DATABASE_URL to a
// disposable database to run them.
package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/coinshop/coinshop-backend/internal/config"
	"github.com/coinshop/coinshop-backend/internal/database"
	"github.com/coinshop/coinshop-backend/internal/models"
	"github.com/coinshop/coinshop-backend/internal/wallet"
)

type ServicesDBSuite struct {
	suite.Suite
	db          *gorm.DB
	cfg         *config.Config
	priceServer *httptest.Server
	invoices    *InvoiceService
	orders      *OrderService
	subs        *SubscriptionService
	reconciler  *ReconcileService
	wallets     *WalletService
}

func TestServicesDBSuite(t *testing.T) {
	if os.Getenv("TEST_DATABASE_URL") == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database-backed tests")
	}
	suite.Run(t, new(ServicesDBSuite))
}

func (s *ServicesDBSuite) SetupSuite() {
	db, err := gorm.Open(postgres.Open(os.Getenv("TEST_DATABASE_URL")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	s.Require().NoError(err)
	s.Require().NoError(database.RunMigrations(db))
	s.db = db

	s.priceServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]map[string]float64{
			"bitcoin": {"usd": 50000}, "ethereum": {"usd": 3000},
			"litecoin": {"usd": 80}, "tether": {"usd": 1},
		})
	}))

	s.cfg = &config.Config{
		Environment: "test",
		Crypto: config.CryptoConfig{
			MasterSeed:         "test-master-seed",
			InvoiceTTLMinutes:  30,
			GraceHours:         24,
			Tolerance:          0.005,
			PriceAPIBaseURL:    s.priceServer.URL,
			PriceCacheSeconds:  300,
			RequestTimeoutSecs: 8,
			Confirmations:      map[string]int{},
		},
		Jobs: config.JobsConfig{UnpaidOrderMinutes: 20, StaleOrderDays: 7},
	}

	s.wallets = NewWalletService(db, wallet.NewDeriver(s.cfg.Crypto.MasterSeed))
	prices := NewPriceService(s.cfg)
	s.invoices = NewInvoiceService(db, s.cfg, s.wallets, prices, nil)
	s.orders = NewOrderService(db, s.cfg)
	s.subs = NewSubscriptionService(db)
	s.reconciler = NewReconcileService(db, s.cfg, s.invoices, s.orders, s.subs, nil, nil)
}

func (s *ServicesDBSuite) TearDownSuite() {
	if s.priceServer != nil {
		s.priceServer.Close()
	}
}

func (s *ServicesDBSuite) newProduct(stock int) *models.Product {
	product := &models.Product{
		ShopID:     uuid.New(),
		Title:      "widget",
		Price:      40,
		StockTotal: stock,
	}
	s.Require().NoError(s.db.Create(product).Error)
	return product
}

func (s *ServicesDBSuite) newPendingOrder(product *models.Product, quantity int) *models.Order {
	order, err := s.orders.CreateOrder(context.Background(), uuid.New(), &CreateOrderRequest{
		Items: []OrderItemRequest{{ProductID: product.ID, Quantity: quantity}},
	})
	s.Require().NoError(err)
	return order
}

func (s *ServicesDBSuite) newPendingInvoice(order *models.Order, cryptoAmount float64) *models.Invoice {
	invoice := &models.Invoice{
		OrderID:         &order.ID,
		Chain:           models.ChainBTC,
		Address:         "bc1q" + testHex(),
		DerivationIndex: 0,
		FiatAmount:      order.TotalAmount,
		CryptoAmount:    &cryptoAmount,
		UsdRate:         50000,
		Currency:        "BTC",
		Status:          models.InvoiceStatusPending,
		ExpiresAt:       time.Now().UTC().Add(30 * time.Minute),
	}
	s.Require().NoError(s.db.Create(invoice).Error)
	return invoice
}

func testHex() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Locking reads must actually render FOR UPDATE; a silently ignored
// locking option would void every concurrency guarantee below.
func (s *ServicesDBSuite) TestLockingReadsEmitForUpdate() {
	stmt := s.db.Session(&gorm.Session{DryRun: true}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tx_hash = ?", "deadbeef").
		Find(&models.Payment{}).Statement

	s.Contains(stmt.SQL.String(), "FOR UPDATE")
}

func (s *ServicesDBSuite) TestConcurrentIndexAllocationIsDistinct() {
	const workers = 10

	var mtx sync.Mutex
	indices := make(map[uint64]bool)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			index, err := s.wallets.NextIndex(context.Background(), models.ChainBTC)
			s.NoError(err)
			mtx.Lock()
			indices[index] = true
			mtx.Unlock()
		}()
	}
	wg.Wait()

	s.Len(indices, workers)
}

func (s *ServicesDBSuite) TestConcurrentOrdersOneWinsStockContention() {
	product := s.newProduct(5)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.orders.CreateOrder(context.Background(), uuid.New(), &CreateOrderRequest{
				Items: []OrderItemRequest{{ProductID: product.ID, Quantity: 3}},
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, rejections int
	for err := range results {
		if err == nil {
			wins++
		} else {
			s.ErrorIs(err, ErrInsufficientStock)
			rejections++
		}
	}
	s.Equal(1, wins)
	s.Equal(1, rejections)

	var reloaded models.Product
	s.Require().NoError(s.db.First(&reloaded, "id = ?", product.ID).Error)
	s.Equal(3, reloaded.StockReserved)
}

func (s *ServicesDBSuite) TestReplayedSightingIsIdempotent() {
	product := s.newProduct(5)
	order := s.newPendingOrder(product, 3)
	invoice := s.newPendingInvoice(order, 0.0024)

	sighting := paymentSighting{
		Source:        "webhook",
		Chain:         models.ChainBTC,
		TxHash:        testHex(),
		Amount:        0.0024,
		Confirmations: 1,
		Addresses:     []string{invoice.Address},
	}

	s.Require().NoError(s.reconciler.processSighting(context.Background(), sighting))
	s.Require().NoError(s.reconciler.processSighting(context.Background(), sighting))

	var payments int64
	s.Require().NoError(s.db.Model(&models.Payment{}).
		Where("tx_hash = ?", sighting.TxHash).Count(&payments).Error)
	s.EqualValues(1, payments)

	var reloadedInvoice models.Invoice
	s.Require().NoError(s.db.First(&reloadedInvoice, "id = ?", invoice.ID).Error)
	s.Equal(models.InvoiceStatusPaid, reloadedInvoice.Status)
	s.NotNil(reloadedInvoice.PaidAt)

	var reloadedOrder models.Order
	s.Require().NoError(s.db.First(&reloadedOrder, "id = ?", order.ID).Error)
	s.Equal(models.OrderStatusConfirmed, reloadedOrder.Status)

	// The reservation converted exactly once.
	var reloadedProduct models.Product
	s.Require().NoError(s.db.First(&reloadedProduct, "id = ?", product.ID).Error)
	s.Equal(2, reloadedProduct.StockTotal)
	s.Equal(0, reloadedProduct.StockReserved)
}

func (s *ServicesDBSuite) TestConcurrentInvoiceCreationYieldsOneActive() {
	product := s.newProduct(5)
	order := s.newPendingOrder(product, 1)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.invoices.CreateInvoice(context.Background(), models.OrderRef(order.ID), models.ChainBTC)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	for err := range results {
		s.NoError(err)
	}

	var pending int64
	s.Require().NoError(s.db.Model(&models.Invoice{}).
		Where("order_id = ? AND status = ?", order.ID, models.InvoiceStatusPending).
		Count(&pending).Error)
	s.EqualValues(1, pending)
}

func (s *ServicesDBSuite) TestExpirySweepSparesInvoiceWithPendingPayment() {
	product := s.newProduct(5)

	abandoned := s.newPendingInvoice(s.newPendingOrder(product, 1), 0.0008)
	inFlight := s.newPendingInvoice(s.newPendingOrder(product, 1), 0.0008)

	pastExpiry := time.Now().UTC().Add(-time.Hour)
	s.Require().NoError(s.db.Model(&models.Invoice{}).
		Where("id IN ?", []uuid.UUID{abandoned.ID, inFlight.ID}).
		Update("expires_at", pastExpiry).Error)

	payment := &models.Payment{
		OrderID:       inFlight.OrderID,
		TxHash:        testHex(),
		Amount:        0.0008,
		Currency:      "BTC",
		Status:        models.PaymentStatusPending,
		Confirmations: 0,
	}
	s.Require().NoError(s.db.Create(payment).Error)

	_, err := s.invoices.SweepExpired(context.Background())
	s.Require().NoError(err)

	var reloaded models.Invoice
	s.Require().NoError(s.db.First(&reloaded, "id = ?", abandoned.ID).Error)
	s.Equal(models.InvoiceStatusExpired, reloaded.Status)

	s.Require().NoError(s.db.First(&reloaded, "id = ?", inFlight.ID).Error)
	s.Equal(models.InvoiceStatusPending, reloaded.Status, "in-flight payment must hold expiry within the grace window")
}

// addressRecordingReader verifies every transaction and remembers which
// address the verdict was requested for.
type addressRecordingReader struct {
	mtx             sync.Mutex
	verifiedAddress string
}

func (r *addressRecordingReader) GetTransactionsForAddress(ctx context.Context, chain models.Chain, address string) ([]ChainTransaction, error) {
	return nil, nil
}

func (r *addressRecordingReader) VerifyTransaction(ctx context.Context, chain models.Chain, txHash, address string, expectedAmount float64) (*VerifyResult, error) {
	r.mtx.Lock()
	r.verifiedAddress = address
	r.mtx.Unlock()
	return &VerifyResult{Verified: true, Amount: expectedAmount, Confirmations: 1}, nil
}

func (s *ServicesDBSuite) TestWebhookVerifiesInvoiceAddressAmongCandidates() {
	product := s.newProduct(5)
	order := s.newPendingOrder(product, 1)
	invoice := s.newPendingInvoice(order, 0.0008)

	reader := &addressRecordingReader{}
	reconciler := NewReconcileService(s.db, s.cfg, s.invoices, s.orders, s.subs, nil, reader)

	err := reconciler.HandleWebhook(context.Background(), &WebhookNotification{
		TxHash:        testHex(),
		Chain:         string(models.ChainBTC),
		Amount:        0.0008,
		Confirmations: 1,
		// The invoice address is deliberately not the first candidate.
		Addresses: []string{"bc1q" + testHex(), invoice.Address, "bc1q" + testHex()},
	})
	s.Require().NoError(err)

	s.Equal(invoice.Address, reader.verifiedAddress)

	var reloaded models.Invoice
	s.Require().NoError(s.db.First(&reloaded, "id = ?", invoice.ID).Error)
	s.Equal(models.InvoiceStatusPaid, reloaded.Status)
}
