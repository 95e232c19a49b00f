// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/gpay-checkout/config"
	"github.com/yourusername/gpay-checkout/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens an isolated in-memory sqlite database with every table migrated.
// The DSN uses a shared cache so all pooled connections see the same database.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite allows one writer; a single connection serialises units of work.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	return db
}

func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// AssertDecimal compares amounts numerically, so "250" and "250.00" are equal.
func AssertDecimal(t testing.TB, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, Dec(expected).Equal(actual), append([]interface{}{"expected %s, got %s", expected, actual.String()}, msgAndArgs...)...)
}

func CreateOrder(t testing.TB, db *gorm.DB, total, currency string) *models.Order {
	t.Helper()
	order := &models.Order{
		CustomerName:  "Thandi Nkosi",
		CustomerEmail: "thandi@example.com",
		TotalAmount:   Dec(total),
		Currency:      currency,
		PaymentStatus: models.OrderPaymentPending,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

// CreateOrderWithID inserts an order under a fixed primary key.
func CreateOrderWithID(t testing.TB, db *gorm.DB, id uint, total, currency string) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:            id,
		CustomerName:  "Thandi Nkosi",
		CustomerEmail: "thandi@example.com",
		TotalAmount:   Dec(total),
		Currency:      currency,
		PaymentStatus: models.OrderPaymentPending,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func CreateInvoice(t testing.TB, db *gorm.DB, orderID uint, total string, status models.InvoiceStatus) *models.Invoice {
	t.Helper()
	invoice := &models.Invoice{
		OrderID:     orderID,
		InvoiceNo:   fmt.Sprintf("INV-%05d", orderID),
		TotalAmount: Dec(total),
		PaidAmount:  decimal.Zero,
		Currency:    "ZAR",
		Status:      status,
	}
	require.NoError(t, db.Create(invoice).Error)
	return invoice
}

func CreateTransaction(t testing.TB, db *gorm.DB, orderID uint, reference, amount string, method models.PaymentMethod, status models.TransactionStatus) *models.Transaction {
	t.Helper()
	tx := &models.Transaction{
		OrderID:          orderID,
		PaymentReference: reference,
		Amount:           Dec(amount),
		Currency:         "ZAR",
		PaymentMethod:    method,
		Status:           status,
		RefundAmount:     decimal.Zero,
		CreatedAt:        time.Now(),
	}
	require.NoError(t, db.Create(tx).Error)
	return tx
}

func ReloadTransaction(t testing.TB, db *gorm.DB, id uint) *models.Transaction {
	t.Helper()
	var tx models.Transaction
	require.NoError(t, db.First(&tx, id).Error)
	return &tx
}

func ReloadOrder(t testing.TB, db *gorm.DB, id uint) *models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, db.First(&order, id).Error)
	return &order
}

func ReloadInvoice(t testing.TB, db *gorm.DB, id uint) *models.Invoice {
	t.Helper()
	var invoice models.Invoice
	require.NoError(t, db.Preload("Payments").First(&invoice, id).Error)
	return &invoice
}

func CountTransactions(t testing.TB, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Transaction{}).Count(&n).Error)
	return n
}
