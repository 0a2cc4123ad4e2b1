package invoice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var invoiceColumns = []string{
	"id", "tenant_id", "customer_id", "number", "total", "amount_paid", "balance", "currency", "status", "updated_at",
}

func TestLedger_GetInvoice(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	l := NewLedger(conn, d("0.01"))
	tenantID, invoiceID, customerID := uuid.New(), uuid.New(), uuid.New()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, tenant_id, customer_id, number`).
			WithArgs(invoiceID, tenantID).
			WillReturnRows(sqlmock.NewRows(invoiceColumns).
				AddRow(invoiceID.String(), tenantID.String(), customerID.String(), "INV-001", "1000.00", "0", "1000.00", "IDR", "ISSUED", time.Now()))

		inv, err := l.GetInvoice(context.Background(), tenantID, invoiceID)
		require.NoError(t, err)
		assert.Equal(t, "INV-001", inv.Number)
		assert.Equal(t, customerID, inv.CustomerID)
		assert.Equal(t, "1000", inv.Balance.String())
		assert.Equal(t, StatusIssued, inv.Status)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, tenant_id, customer_id, number`).
			WithArgs(invoiceID, tenantID).
			WillReturnRows(sqlmock.NewRows(invoiceColumns))

		_, err := l.GetInvoice(context.Background(), tenantID, invoiceID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_Settle(t *testing.T) {
	tenantID, invoiceID, customerID, onlineID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	settlement := Settlement{
		TenantID:        tenantID,
		InvoiceID:       invoiceID,
		OnlinePaymentID: onlineID,
		Amount:          d("1000.00"),
		Currency:        "IDR",
		Method:          "BANK_REDIRECT",
		Reference:       "OP260101120000000",
		ReceivedAt:      time.Now(),
	}

	lockRows := func() *sqlmock.Rows {
		return sqlmock.NewRows(invoiceColumns).
			AddRow(invoiceID.String(), tenantID.String(), customerID.String(), "INV-001", "1000.00", "0", "1000.00", "IDR", "ISSUED", time.Now())
	}

	t.Run("Success", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM invoices\s+WHERE id = \$1 AND tenant_id = \$2 FOR UPDATE`).
			WithArgs(invoiceID, tenantID).
			WillReturnRows(lockRows())
		mock.ExpectExec(`INSERT INTO ledger_payments`).
			WithArgs(sqlmock.AnyArg(), tenantID, customerID, onlineID, settlement.Amount, "IDR", "BANK_REDIRECT", settlement.Reference, settlement.ReceivedAt).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`INSERT INTO payment_allocations`).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), invoiceID, settlement.Amount).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`UPDATE invoices`).
			WithArgs(settlement.Amount, sqlmock.AnyArg(), StatusPaid, invoiceID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := conn.Begin()
		require.NoError(t, err)

		receipt, err := NewLedger(conn, d("0.01")).Settle(context.Background(), tx, settlement)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		assert.NotEqual(t, uuid.Nil, receipt.PaymentID)
		assert.Equal(t, StatusPaid, receipt.Invoice.Status)
		assert.True(t, receipt.Invoice.Balance.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AllocationFails", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(lockRows())
		mock.ExpectExec(`INSERT INTO ledger_payments`).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`INSERT INTO payment_allocations`).WillReturnError(errors.New("constraint violation"))
		mock.ExpectRollback()

		tx, err := conn.Begin()
		require.NoError(t, err)

		_, err = NewLedger(conn, d("0.01")).Settle(context.Background(), tx, settlement)
		assert.ErrorContains(t, err, "insert allocation")
		require.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InvoiceMissing", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(sqlmock.NewRows(invoiceColumns))

		tx, err := conn.Begin()
		require.NoError(t, err)

		_, err = NewLedger(conn, d("0.01")).Settle(context.Background(), tx, settlement)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("NonPositiveAmount", func(t *testing.T) {
		conn, _, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		bad := settlement
		bad.Amount = d("0")
		_, err = NewLedger(conn, d("0.01")).Settle(context.Background(), conn, bad)
		assert.ErrorIs(t, err, ErrBadAmount)
	})
}
