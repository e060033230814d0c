// Package database persists trade history and sweep results for reporting.
// The JSONL ledger, not this store, is the idempotency source of truth; a
// lost database row never causes a double-buy.
package database

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	db *gorm.DB
}

// Models

type Trade struct {
	ID         uint            `gorm:"primaryKey;autoIncrement"`
	WindowID   string          `gorm:"index"`
	Outcome    string          // "Up" or "Down"
	Side       string          // "BUY" or "SELL"
	Price      decimal.Decimal `gorm:"type:decimal(10,6)"`
	Size       decimal.Decimal `gorm:"type:decimal(20,6)"`
	Cost       decimal.Decimal `gorm:"type:decimal(20,6)"`
	OrderID    string
	Status     string          `gorm:"index"` // "open", "closed", "failed"
	ProfitLoss decimal.Decimal `gorm:"type:decimal(20,6)"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Redemption struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	WindowID  string `gorm:"index"`
	Outcome   string
	TxHash    string
	Status    string // "redeemed", "reverted", "pending"
	CreatedAt time.Time
}

func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	// Check if this is a PostgreSQL connection string
	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		// SQLite fallback
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&Trade{}, &Redemption{}); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// Trade operations

func (d *Database) SaveTrade(trade *Trade) error {
	return d.db.Create(trade).Error
}

func (d *Database) CloseTrade(windowID string, pnl decimal.Decimal) error {
	return d.db.Model(&Trade{}).
		Where("window_id = ? AND status = ?", windowID, "open").
		Updates(map[string]interface{}{"status": "closed", "profit_loss": pnl}).Error
}

func (d *Database) GetOpenTrades() ([]Trade, error) {
	var trades []Trade
	err := d.db.Where("status = ?", "open").Order("created_at desc").Find(&trades).Error
	return trades, err
}

func (d *Database) GetRecentTrades(limit int) ([]Trade, error) {
	var trades []Trade
	err := d.db.Order("created_at desc").Limit(limit).Find(&trades).Error
	return trades, err
}

func (d *Database) GetTotalProfitLoss() (decimal.Decimal, error) {
	var trades []Trade
	if err := d.db.Where("status = ?", "closed").Find(&trades).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, t := range trades {
		total = total.Add(t.ProfitLoss)
	}
	return total, nil
}

// Redemption operations

func (d *Database) SaveRedemption(r *Redemption) error {
	return d.db.Create(r).Error
}

func (d *Database) GetRedemptionsByWindow(windowID string) ([]Redemption, error) {
	var out []Redemption
	err := d.db.Where("window_id = ?", windowID).Find(&out).Error
	return out, err
}
