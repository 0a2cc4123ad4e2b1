package payment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OnlinePayment is one initiated payment attempt against an invoice.
// Amount and Currency snapshot the invoice balance at creation and are never mutated.
type OnlinePayment struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	InvoiceID       *uuid.UUID
	Gateway         GatewayKind
	Status          Status
	Amount          decimal.Decimal
	Currency        string
	ReferenceNumber string
	BankCode        *string
	BuyerEmail      *string
	BuyerName       *string
	Description     *string
	GatewayRef      *string
	CallbackPayload []byte
	ErrorMessage    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// CreatePaymentParams is the immutable request handed to an adapter.
type CreatePaymentParams struct {
	Amount          decimal.Decimal
	Currency        string
	ReferenceNumber string
	Description     string
	BuyerEmail      string
	BuyerName       string
	BankCode        string
	CallbackURL     string
	RedirectURL     string
}

type CreatePaymentResult struct {
	PaymentURL    string
	TransactionID string
	Raw           json.RawMessage
}

// CallbackResult is the verified (or rejected) view of an inbound gateway notification.
type CallbackResult struct {
	Success         bool
	ReferenceNumber string
	GatewayRef      string
	Amount          decimal.Decimal
	Status          Status
	// ProviderStatus is the raw gateway code, kept for logs.
	ProviderStatus string
}

type StatusResult struct {
	Status         Status
	GatewayRef     string
	Amount         decimal.Decimal
	ProviderStatus string
}

type Bank struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	LogoURL string `json:"logo_url,omitempty"`
}

type InitiateOptions struct {
	BankCode    string
	BuyerEmail  string
	BuyerName   string
	Description string
	RedirectURL string
}

type InitiateResult struct {
	PaymentID       uuid.UUID
	ReferenceNumber string
	PaymentURL      string
	Amount          decimal.Decimal
	Currency        string
	Gateway         GatewayKind
}

// StatusUpdate is applied to a locked, non-terminal payment row.
type StatusUpdate struct {
	Status          Status
	GatewayRef      string
	CallbackPayload []byte
	ErrorMessage    string
}

// CallbackLog is one inbound notification as received, before any state change.
type CallbackLog struct {
	Gateway         GatewayKind
	ReferenceNumber string
	PayloadHash     string
	Payload         []byte
	SignatureValid  bool
}
