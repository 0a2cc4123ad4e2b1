package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"paygate-be/internal/db"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SettleFunc runs inside the status transaction when a payment first reaches COMPLETED.
// Returning an error rolls back both the settlement and the status change.
type SettleFunc func(ctx context.Context, tx db.DBTX, p *OnlinePayment) error

type Repository interface {
	Create(ctx context.Context, p *OnlinePayment) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*OnlinePayment, error)
	GetByReference(ctx context.Context, referenceNumber string) (*OnlinePayment, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, gatewayRef string) error
	// ApplyUpdate locks the payment row, moves it to upd.Status under the
	// no-downgrade rules of Status.Next, and reports whether anything changed.
	ApplyUpdate(ctx context.Context, id uuid.UUID, upd StatusUpdate, settle SettleFunc) (*OnlinePayment, bool, error)
	ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]OnlinePayment, error)

	SaveCallbackLog(ctx context.Context, entry CallbackLog) (logID int64, isDuplicate bool, err error)
	MarkCallbackProcessed(ctx context.Context, logID int64) error
	MarkCallbackFailed(ctx context.Context, logID int64, reason string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const paymentColumns = `
	id, tenant_id, invoice_id, gateway, status, amount, currency, reference_number,
	bank_code, buyer_email, buyer_name, description, gateway_ref, callback_payload,
	error_message, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*OnlinePayment, error) {
	var (
		p         OnlinePayment
		invoiceID uuid.NullUUID
		payload   []byte
	)
	err := row.Scan(
		&p.ID, &p.TenantID, &invoiceID, &p.Gateway, &p.Status, &p.Amount, &p.Currency, &p.ReferenceNumber,
		&p.BankCode, &p.BuyerEmail, &p.BuyerName, &p.Description, &p.GatewayRef, &payload,
		&p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	if invoiceID.Valid {
		id := invoiceID.UUID
		p.InvoiceID = &id
	}
	p.CallbackPayload = payload
	return &p, nil
}

func (r *repository) Create(ctx context.Context, p *OnlinePayment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO online_payments (
			id, tenant_id, invoice_id, gateway, status, amount, currency, reference_number,
			bank_code, buyer_email, buyer_name, description
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		p.ID, p.TenantID, p.InvoiceID, p.Gateway, p.Status, p.Amount, p.Currency, p.ReferenceNumber,
		p.BankCode, p.BuyerEmail, p.BuyerName, p.Description,
	).Scan(&p.CreatedAt, &p.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateReference
	}
	return err
}

func (r *repository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*OnlinePayment, error) {
	return scanPayment(r.db.QueryRowContext(ctx,
		`SELECT`+paymentColumns+` FROM online_payments WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	))
}

func (r *repository) GetByReference(ctx context.Context, referenceNumber string) (*OnlinePayment, error) {
	return scanPayment(r.db.QueryRowContext(ctx,
		`SELECT`+paymentColumns+` FROM online_payments WHERE reference_number = $1`,
		referenceNumber,
	))
}

func (r *repository) MarkProcessing(ctx context.Context, id uuid.UUID, gatewayRef string) error {
	// A callback may already have moved the row on; only PENDING is promoted.
	_, err := r.db.ExecContext(ctx, `
		UPDATE online_payments
		SET status = CASE WHEN status = 'PENDING' THEN 'PROCESSING' ELSE status END,
			gateway_ref = COALESCE(gateway_ref, NULLIF($2, '')),
			updated_at = now()
		WHERE id = $1`,
		id, gatewayRef,
	)
	return err
}

func (r *repository) ApplyUpdate(ctx context.Context, id uuid.UUID, upd StatusUpdate, settle SettleFunc) (*OnlinePayment, bool, error) {
	var (
		out     *OnlinePayment
		applied bool
	)

	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		p, err := scanPayment(tx.QueryRowContext(ctx,
			`SELECT`+paymentColumns+` FROM online_payments WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		out = p

		next := p.Status.Next(upd.Status)
		if next == p.Status {
			return nil
		}

		if next == StatusCompleted && settle != nil {
			if err := settle(ctx, tx, p); err != nil {
				return fmt.Errorf("settle payment %s: %w", p.ReferenceNumber, err)
			}
		}

		var completedAt *time.Time
		if next == StatusCompleted {
			now := time.Now().UTC()
			completedAt = &now
		}

		err = tx.QueryRowContext(ctx, `
			UPDATE online_payments
			SET status = $2,
				gateway_ref = COALESCE(gateway_ref, NULLIF($3, '')),
				callback_payload = COALESCE(callback_payload, $4),
				error_message = COALESCE(NULLIF($5, ''), error_message),
				completed_at = COALESCE($6, completed_at),
				updated_at = now()
			WHERE id = $1
			RETURNING updated_at`,
			p.ID, next, upd.GatewayRef, nullBytes(upd.CallbackPayload), upd.ErrorMessage, completedAt,
		).Scan(&p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}

		p.Status = next
		if p.GatewayRef == nil && upd.GatewayRef != "" {
			ref := upd.GatewayRef
			p.GatewayRef = &ref
		}
		if p.CallbackPayload == nil && upd.CallbackPayload != nil {
			p.CallbackPayload = upd.CallbackPayload
		}
		if upd.ErrorMessage != "" {
			msg := upd.ErrorMessage
			p.ErrorMessage = &msg
		}
		if completedAt != nil {
			p.CompletedAt = completedAt
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

func (r *repository) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]OnlinePayment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT`+paymentColumns+`
		FROM online_payments
		WHERE status IN ('PENDING', 'PROCESSING') AND created_at < $1
		ORDER BY created_at
		LIMIT $2`,
		createdBefore, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OnlinePayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *repository) SaveCallbackLog(ctx context.Context, entry CallbackLog) (int64, bool, error) {
	const q = `
	INSERT INTO payment_callbacks (
		gateway,
		reference_number,
		payload_hash,
		payload,
		signature_valid
	)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (gateway, payload_hash)
	DO NOTHING
	RETURNING id;
	`

	var id int64
	err := r.db.QueryRowContext(ctx, q,
		entry.Gateway,
		entry.ReferenceNumber,
		entry.PayloadHash,
		entry.Payload,
		entry.SignatureValid,
	).Scan(&id)
	if err != nil {
		// Same payload delivered again.
		if errors.Is(err, sql.ErrNoRows) {
			return 0, true, nil
		}
		return 0, false, err
	}

	return id, false, nil
}

func (r *repository) MarkCallbackProcessed(ctx context.Context, logID int64) error {
	const q = `
	UPDATE payment_callbacks
	SET processed_at = now(), process_error = NULL
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, logID)
	return err
}

func (r *repository) MarkCallbackFailed(ctx context.Context, logID int64, reason string) error {
	const q = `
	UPDATE payment_callbacks
	SET process_error = $2
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, logID, reason)
	return err
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
