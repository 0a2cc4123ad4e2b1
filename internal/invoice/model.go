package invoice

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusIssued        Status = "ISSUED"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusVoid          Status = "VOID"
)

var (
	ErrNotFound  = errors.New("invoice not found")
	ErrVoid      = errors.New("invoice is void")
	ErrFullyPaid = errors.New("invoice is already paid")
	ErrNoBalance = errors.New("invoice has no outstanding balance")
	ErrBadAmount = errors.New("settlement amount must be positive")
)

type Invoice struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	CustomerID uuid.UUID
	Number     string
	Total      decimal.Decimal
	AmountPaid decimal.Decimal
	Balance    decimal.Decimal
	Currency   string
	Status     Status
	UpdatedAt  time.Time
}

// Payable returns nil when an online payment may be started against the invoice.
func (i *Invoice) Payable() error {
	switch {
	case i.Status == StatusVoid:
		return ErrVoid
	case i.Status == StatusPaid:
		return ErrFullyPaid
	case !i.Balance.IsPositive():
		return ErrNoBalance
	}
	return nil
}

// ApplyPayment credits amount to inv and recomputes balance and status.
// Balance is clamped at zero; a residual within tolerance counts as paid.
func ApplyPayment(inv *Invoice, amount, tolerance decimal.Decimal) {
	inv.AmountPaid = inv.AmountPaid.Add(amount)

	balance := inv.Total.Sub(inv.AmountPaid)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	inv.Balance = balance

	if inv.Balance.LessThanOrEqual(tolerance) {
		inv.Status = StatusPaid
	} else {
		inv.Status = StatusPartiallyPaid
	}
}

// Settlement is the ledger write produced by one completed online payment.
type Settlement struct {
	TenantID        uuid.UUID
	InvoiceID       uuid.UUID
	OnlinePaymentID uuid.UUID
	Amount          decimal.Decimal
	Currency        string
	Method          string
	Reference       string
	ReceivedAt      time.Time
}

// Receipt describes what Settle wrote.
type Receipt struct {
	PaymentID    uuid.UUID
	AllocationID uuid.UUID
	Invoice      Invoice
}
