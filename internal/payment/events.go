package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const EventStatusChanged = "payment.status_changed"

// StatusChangedEvent is emitted after a status transition has been committed.
type StatusChangedEvent struct {
	EventType       string          `json:"event_type"`
	PaymentID       uuid.UUID       `json:"payment_id"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	InvoiceID       *uuid.UUID      `json:"invoice_id,omitempty"`
	Gateway         GatewayKind     `json:"gateway"`
	ReferenceNumber string          `json:"reference_number"`
	PreviousStatus  Status          `json:"previous_status"`
	Status          Status          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, event StatusChangedEvent) error
}

type NopPublisher struct{}

func (NopPublisher) PublishStatusChanged(context.Context, StatusChangedEvent) error { return nil }

func newStatusChangedEvent(p *OnlinePayment, previous Status) StatusChangedEvent {
	return StatusChangedEvent{
		EventType:       EventStatusChanged,
		PaymentID:       p.ID,
		TenantID:        p.TenantID,
		InvoiceID:       p.InvoiceID,
		Gateway:         p.Gateway,
		ReferenceNumber: p.ReferenceNumber,
		PreviousStatus:  previous,
		Status:          p.Status,
		Amount:          p.Amount,
		Currency:        p.Currency,
		OccurredAt:      time.Now().UTC(),
	}
}
