package models

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTransactionStatusCanTransitionTo(t *testing.T) {
	allowed := map[[2]TransactionStatus]bool{
		{TransactionPending, TransactionProcessing}:   true,
		{TransactionPending, TransactionCompleted}:    true,
		{TransactionPending, TransactionFailed}:       true,
		{TransactionProcessing, TransactionCompleted}: true,
		{TransactionProcessing, TransactionFailed}:    true,
		{TransactionCompleted, TransactionRefunded}:   true,
	}

	for _, from := range AllTransactionStatuses {
		for _, to := range AllTransactionStatuses {
			name := string(from) + "->" + string(to)
			t.Run(name, func(t *testing.T) {
				assert.Equal(t, allowed[[2]TransactionStatus{from, to}], from.CanTransitionTo(to))
			})
		}
	}
}

func TestTransactionStatusSettled(t *testing.T) {
	assert.False(t, TransactionPending.Settled())
	assert.False(t, TransactionProcessing.Settled())
	assert.True(t, TransactionCompleted.Settled())
	assert.True(t, TransactionFailed.Settled())
	assert.True(t, TransactionRefunded.Settled())
	assert.False(t, TransactionStatus("voided").Valid())
}

func TestTransactionRefundable(t *testing.T) {
	tx := Transaction{
		Amount:       decimal.RequireFromString("500.00"),
		RefundAmount: decimal.RequireFromString("120.50"),
	}
	assert.True(t, decimal.RequireFromString("379.50").Equal(tx.Refundable()))
}

func TestTransactionBeforeCreate(t *testing.T) {
	tests := []struct {
		name    string
		tx      Transaction
		wantErr error
	}{
		{name: "Positive", tx: Transaction{Amount: decimal.NewFromInt(10)}},
		{name: "Zero", tx: Transaction{Amount: decimal.Zero}, wantErr: ErrInvalidAmount},
		{name: "Negative", tx: Transaction{Amount: decimal.NewFromInt(-5)}, wantErr: ErrInvalidAmount},
		{name: "Refund Above Amount", tx: Transaction{Amount: decimal.NewFromInt(10), RefundAmount: decimal.NewFromInt(11)}, wantErr: ErrOverRefund},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.BeforeCreate(nil)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTransitionErrorUnwrap(t *testing.T) {
	err := error(&TransitionError{TransactionID: 7, From: TransactionFailed, To: TransactionCompleted})
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "failed to completed")
}

func TestInvoiceRemainingBalance(t *testing.T) {
	inv := Invoice{TotalAmount: decimal.NewFromInt(1000), PaidAmount: decimal.NewFromInt(400)}
	assert.True(t, decimal.NewFromInt(600).Equal(inv.RemainingBalance()))

	inv.PaidAmount = decimal.NewFromInt(1200)
	assert.True(t, inv.RemainingBalance().IsZero())
}

func TestInvoiceHasPosting(t *testing.T) {
	inv := Invoice{Payments: []InvoicePayment{{TransactionID: 3, Kind: PostingPayment}}}
	assert.True(t, inv.HasPosting(3, PostingPayment))
	assert.False(t, inv.HasPosting(3, PostingRefund))
	assert.False(t, inv.HasPosting(4, PostingPayment))
}
