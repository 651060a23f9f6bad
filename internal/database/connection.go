// internal/database/connection.go
package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/coinshop/coinshop-backend/internal/config"
	"github.com/coinshop/coinshop-backend/internal/models"
)

var DB *gorm.DB

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var err error
	var gormConfig *gorm.Config

	// Configure GORM logger
	if cfg.LogLevel == "silent" {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		}
	} else {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Info),
		}
	}

	// Connect to database
	DB, err = gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connection established successfully")
	return DB, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Error getting underlying sql.DB: %v", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Printf("Error closing database connection: %v", err)
	} else {
		log.Println("Database connection closed successfully")
	}
}

func RunMigrations(db *gorm.DB) error {
	log.Println("Running database migrations...")

	// Enable UUID extension
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error; err != nil {
		return fmt.Errorf("failed to create UUID extension: %w", err)
	}

	// Run auto-migrations
	err := db.AutoMigrate(
		&models.Product{},
		&models.Order{},
		&models.OrderItem{},
		&models.Shop{},
		&models.ShopSubscription{},
		&models.Invoice{},
		&models.Payment{},
		&models.WebhookEvent{},
	)

	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Per-chain derivation index sequences. Allocation goes through
	// nextval so two concurrent invoice creations can never receive the
	// same index.
	if err := createIndexSequences(db); err != nil {
		return fmt.Errorf("failed to create index sequences: %w", err)
	}

	// Create indexes
	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}

func createIndexSequences(db *gorm.DB) error {
	for _, chain := range models.AllChains {
		stmt := fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s", IndexSequenceName(chain))
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create sequence for %s: %w", chain, err)
		}
	}
	return nil
}

// IndexSequenceName returns the Postgres sequence backing derivation
// index allocation for a chain.
func IndexSequenceName(chain models.Chain) string {
	switch chain {
	case models.ChainBTC:
		return "invoice_index_btc_seq"
	case models.ChainETH:
		return "invoice_index_eth_seq"
	case models.ChainLTC:
		return "invoice_index_ltc_seq"
	case models.ChainUSDTTRC20:
		return "invoice_index_usdt_trc20_seq"
	default:
		return ""
	}
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// Invoice indexes. The partial unique indexes are the backstop
		// for "at most one pending invoice per parent": two concurrent
		// creations can both pass the application-level lookup, but only
		// one insert commits.
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_active_order ON invoices(order_id) WHERE status = 'pending' AND order_id IS NOT NULL AND deleted_at IS NULL",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_active_subscription ON invoices(subscription_id) WHERE status = 'pending' AND subscription_id IS NOT NULL AND deleted_at IS NULL",
		"CREATE INDEX IF NOT EXISTS idx_invoices_status_expires ON invoices(status, expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_invoices_chain_status ON invoices(chain, status)",
		"CREATE INDEX IF NOT EXISTS idx_invoices_order ON invoices(order_id)",
		"CREATE INDEX IF NOT EXISTS idx_invoices_subscription ON invoices(subscription_id)",

		// Payment indexes
		"CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)",
		"CREATE INDEX IF NOT EXISTS idx_payments_order ON payments(order_id)",
		"CREATE INDEX IF NOT EXISTS idx_payments_subscription ON payments(subscription_id)",

		// Order indexes
		"CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id)",
		"CREATE INDEX IF NOT EXISTS idx_order_items_product ON order_items(product_id)",

		// Subscription indexes
		"CREATE INDEX IF NOT EXISTS idx_subscriptions_shop_status ON shop_subscriptions(shop_id, status)",

		// Webhook ledger
		"CREATE INDEX IF NOT EXISTS idx_webhook_events_created ON webhook_events(created_at DESC)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			log.Printf("Warning: Failed to create index: %s, Error: %v", index, err)
			// Continue with other indexes instead of failing completely
		}
	}

	return nil
}

// Transaction helper
func WithTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
