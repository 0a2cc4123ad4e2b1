package payment

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"paygate-be/internal/db"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var onlinePaymentColumns = []string{
	"id", "tenant_id", "invoice_id", "gateway", "status", "amount", "currency", "reference_number",
	"bank_code", "buyer_email", "buyer_name", "description", "gateway_ref", "callback_payload",
	"error_message", "created_at", "updated_at", "completed_at",
}

func paymentRows(id, tenantID, invoiceID uuid.UUID, status Status) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(onlinePaymentColumns).AddRow(
		id.String(), tenantID.String(), invoiceID.String(), "BANK_REDIRECT", string(status), "1000.00", "IDR", "OP2601011200000001234567",
		nil, "buyer@example.com", nil, nil, nil, nil,
		nil, now, now, nil,
	)
}

func TestRepository_Create(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	repo := NewRepository(conn)
	invoiceID := uuid.New()
	p := &OnlinePayment{
		TenantID:        uuid.New(),
		InvoiceID:       &invoiceID,
		Gateway:         GatewayQRBank,
		Status:          StatusPending,
		Amount:          decimal.RequireFromString("1000.00"),
		Currency:        "IDR",
		ReferenceNumber: "OP2601011200000001234567",
	}

	t.Run("Success", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(`INSERT INTO online_payments`).
			WithArgs(sqlmock.AnyArg(), p.TenantID, invoiceID, "QR_BANK", "PENDING", p.Amount, "IDR", p.ReferenceNumber,
				nil, nil, nil, nil).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

		err := repo.Create(context.Background(), p)
		assert.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, p.ID)
		assert.False(t, p.CreatedAt.IsZero())
	})

	t.Run("DuplicateReference", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO online_payments`).
			WillReturnError(&pq.Error{Code: "23505"})

		err := repo.Create(context.Background(), p)
		assert.ErrorIs(t, err, ErrDuplicateReference)
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO online_payments`).
			WillReturnError(errors.New("database error"))

		err := repo.Create(context.Background(), p)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrDuplicateReference)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetByReference(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	repo := NewRepository(conn)
	id, tenantID, invoiceID := uuid.New(), uuid.New(), uuid.New()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(`FROM online_payments WHERE reference_number = \$1`).
			WithArgs("OP2601011200000001234567").
			WillReturnRows(paymentRows(id, tenantID, invoiceID, StatusProcessing))

		p, err := repo.GetByReference(context.Background(), "OP2601011200000001234567")
		require.NoError(t, err)
		assert.Equal(t, id, p.ID)
		require.NotNil(t, p.InvoiceID)
		assert.Equal(t, invoiceID, *p.InvoiceID)
		assert.Equal(t, StatusProcessing, p.Status)
		assert.Equal(t, GatewayBankRedirect, p.Gateway)
		assert.Nil(t, p.BankCode)
		require.NotNil(t, p.BuyerEmail)
		assert.Equal(t, "buyer@example.com", *p.BuyerEmail)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`FROM online_payments WHERE reference_number = \$1`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetByReference(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrPaymentNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_MarkProcessing(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	repo := NewRepository(conn)
	id := uuid.New()

	t.Run("MarkProcessing", func(t *testing.T) {
		mock.ExpectExec(`UPDATE online_payments\s+SET status = CASE WHEN status = 'PENDING'`).
			WithArgs(id, "gw-123").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.MarkProcessing(context.Background(), id, "gw-123"))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ApplyUpdate(t *testing.T) {
	id, tenantID, invoiceID := uuid.New(), uuid.New(), uuid.New()
	lockQuery := `FROM online_payments WHERE id = \$1 FOR UPDATE`

	t.Run("CompletesAndSettles", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(id).
			WillReturnRows(paymentRows(id, tenantID, invoiceID, StatusProcessing))
		mock.ExpectExec(`INSERT INTO settle_probe`).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery(`UPDATE online_payments`).
			WithArgs(id, "COMPLETED", "gw-1", []byte("code=00"), "", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))
		mock.ExpectCommit()

		settled := 0
		settle := func(ctx context.Context, tx db.DBTX, p *OnlinePayment) error {
			settled++
			_, err := tx.ExecContext(ctx, "INSERT INTO settle_probe VALUES (1)")
			return err
		}

		p, applied, err := NewRepository(conn).ApplyUpdate(context.Background(), id,
			StatusUpdate{Status: StatusCompleted, GatewayRef: "gw-1", CallbackPayload: []byte("code=00")}, settle)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, 1, settled)
		assert.Equal(t, StatusCompleted, p.Status)
		assert.NotNil(t, p.CompletedAt)
		require.NotNil(t, p.GatewayRef)
		assert.Equal(t, "gw-1", *p.GatewayRef)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("TerminalIsNoop", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(id).
			WillReturnRows(paymentRows(id, tenantID, invoiceID, StatusCompleted))
		mock.ExpectCommit()

		settle := func(context.Context, db.DBTX, *OnlinePayment) error {
			t.Fatal("settle must not run for a terminal payment")
			return nil
		}

		p, applied, err := NewRepository(conn).ApplyUpdate(context.Background(), id,
			StatusUpdate{Status: StatusCompleted}, settle)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, StatusCompleted, p.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SettleFailureRollsBack", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(id).
			WillReturnRows(paymentRows(id, tenantID, invoiceID, StatusProcessing))
		mock.ExpectRollback()

		settle := func(context.Context, db.DBTX, *OnlinePayment) error {
			return errors.New("invoice locked by another writer")
		}

		_, applied, err := NewRepository(conn).ApplyUpdate(context.Background(), id,
			StatusUpdate{Status: StatusCompleted}, settle)
		assert.Error(t, err)
		assert.False(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CallbackPayloadIsSetOnce", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		now := time.Now()
		rows := sqlmock.NewRows(onlinePaymentColumns).AddRow(
			id.String(), tenantID.String(), invoiceID.String(), "BANK_REDIRECT", "PENDING", "1000.00", "IDR", "OP2601011200000001234567",
			nil, nil, nil, nil, nil, []byte("first-callback"),
			nil, now, now, nil,
		)

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(id).WillReturnRows(rows)
		mock.ExpectQuery(`callback_payload = COALESCE\(callback_payload, \$4\)`).
			WithArgs(id, "PROCESSING", "", []byte("second-callback"), "", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
		mock.ExpectCommit()

		p, applied, err := NewRepository(conn).ApplyUpdate(context.Background(), id,
			StatusUpdate{Status: StatusProcessing, CallbackPayload: []byte("second-callback")}, nil)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, StatusProcessing, p.Status)
		assert.Equal(t, "first-callback", string(p.CallbackPayload))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("PendingReportDoesNotDowngrade", func(t *testing.T) {
		conn, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer conn.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(id).
			WillReturnRows(paymentRows(id, tenantID, invoiceID, StatusProcessing))
		mock.ExpectCommit()

		p, applied, err := NewRepository(conn).ApplyUpdate(context.Background(), id,
			StatusUpdate{Status: StatusPending}, nil)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, StatusProcessing, p.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_ListStale(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	cutoff := time.Now().Add(-10 * time.Minute)
	rows := paymentRows(uuid.New(), uuid.New(), uuid.New(), StatusProcessing)

	mock.ExpectQuery(`WHERE status IN \('PENDING', 'PROCESSING'\) AND created_at < \$1`).
		WithArgs(cutoff, 50).
		WillReturnRows(rows)

	out, err := NewRepository(conn).ListStale(context.Background(), cutoff, 50)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CallbackLog(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	repo := NewRepository(conn)
	entry := CallbackLog{
		Gateway:         GatewayWalletB,
		ReferenceNumber: "OP1",
		PayloadHash:     "abc",
		Payload:         []byte(`{"outTradeNo":"OP1"}`),
		SignatureValid:  true,
	}

	t.Run("Inserted", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO payment_callbacks`).
			WithArgs("WALLET_B", "OP1", "abc", entry.Payload, true).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

		id, dup, err := repo.SaveCallbackLog(context.Background(), entry)
		assert.NoError(t, err)
		assert.False(t, dup)
		assert.EqualValues(t, 7, id)
	})

	t.Run("Duplicate", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO payment_callbacks`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		id, dup, err := repo.SaveCallbackLog(context.Background(), entry)
		assert.NoError(t, err)
		assert.True(t, dup)
		assert.Zero(t, id)
	})

	t.Run("MarkProcessed", func(t *testing.T) {
		mock.ExpectExec(`UPDATE payment_callbacks\s+SET processed_at = now\(\)`).
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.MarkCallbackProcessed(context.Background(), 7))
	})

	t.Run("MarkFailed", func(t *testing.T) {
		mock.ExpectExec(`UPDATE payment_callbacks\s+SET process_error = \$2`).
			WithArgs(int64(7), "payment not found").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.MarkCallbackFailed(context.Background(), 7, "payment not found"))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
