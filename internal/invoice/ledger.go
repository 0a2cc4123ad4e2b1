package invoice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"paygate-be/internal/db"
	"paygate-be/internal/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the narrow slice of invoicing the payment layer reads and writes.
type Ledger interface {
	GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*Invoice, error)
	// Settle must run on the caller's transaction so the payment status and
	// the ledger write commit or roll back together.
	Settle(ctx context.Context, tx db.DBTX, s Settlement) (*Receipt, error)
}

type ledger struct {
	db        db.DBTX
	tolerance decimal.Decimal
}

func NewLedger(conn db.DBTX, tolerance decimal.Decimal) Ledger {
	return &ledger{db: conn, tolerance: tolerance}
}

const selectInvoice = `
	SELECT id, tenant_id, customer_id, number, total, amount_paid, balance, currency, status, updated_at
	FROM invoices
	WHERE id = $1 AND tenant_id = $2`

func scanInvoice(row *sql.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.CustomerID, &inv.Number,
		&inv.Total, &inv.AmountPaid, &inv.Balance, &inv.Currency, &inv.Status, &inv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (l *ledger) GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*Invoice, error) {
	return scanInvoice(l.db.QueryRowContext(ctx, selectInvoice, invoiceID, tenantID))
}

func (l *ledger) Settle(ctx context.Context, tx db.DBTX, s Settlement) (*Receipt, error) {
	if !s.Amount.IsPositive() {
		return nil, ErrBadAmount
	}

	// The row lock serializes concurrent settlements against the same invoice.
	inv, err := scanInvoice(tx.QueryRowContext(ctx, selectInvoice+" FOR UPDATE", s.InvoiceID, s.TenantID))
	if err != nil {
		return nil, fmt.Errorf("lock invoice: %w", err)
	}

	log := logger.FromCtx(ctx).With(
		zap.String("invoice_id", inv.ID.String()),
		zap.String("online_payment_id", s.OnlinePaymentID.String()),
	)
	if inv.Status == StatusVoid || inv.Status == StatusPaid {
		log.Warn("settling against invoice that is no longer open", zap.String("invoice_status", string(inv.Status)))
	}

	receipt := &Receipt{PaymentID: uuid.New(), AllocationID: uuid.New()}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_payments (id, tenant_id, customer_id, online_payment_id, amount, currency, method, reference, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		receipt.PaymentID, s.TenantID, inv.CustomerID, s.OnlinePaymentID,
		s.Amount, s.Currency, s.Method, s.Reference, s.ReceivedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert ledger payment: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_allocations (id, payment_id, invoice_id, amount)
		VALUES ($1, $2, $3, $4)`,
		receipt.AllocationID, receipt.PaymentID, inv.ID, s.Amount,
	)
	if err != nil {
		return nil, fmt.Errorf("insert allocation: %w", err)
	}

	ApplyPayment(inv, s.Amount, l.tolerance)

	_, err = tx.ExecContext(ctx, `
		UPDATE invoices
		SET amount_paid = $1, balance = $2, status = $3, updated_at = now()
		WHERE id = $4`,
		inv.AmountPaid, inv.Balance, inv.Status, inv.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update invoice: %w", err)
	}

	log.Info("invoice settled",
		zap.String("amount", s.Amount.String()),
		zap.String("balance", inv.Balance.String()),
		zap.String("invoice_status", string(inv.Status)),
	)

	receipt.Invoice = *inv
	return receipt, nil
}
