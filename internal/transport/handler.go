package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"paygate-be/internal/logger"
	"paygate-be/internal/payment"
	"paygate-be/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxRequestBytes = 64 << 10

// PaymentService is the subset of the orchestrator the REST routes call.
type PaymentService interface {
	Initiate(ctx context.Context, gateway payment.GatewayKind, invoiceID, tenantID uuid.UUID, opts payment.InitiateOptions) (*payment.InitiateResult, error)
	CheckStatus(ctx context.Context, tenantID, paymentID uuid.UUID) (*payment.OnlinePayment, error)
	GetBankList(ctx context.Context, gateway payment.GatewayKind) ([]payment.Bank, error)
}

type PaymentHandler struct {
	Service PaymentService
}

func NewPaymentHandler(svc PaymentService) *PaymentHandler {
	return &PaymentHandler{Service: svc}
}

type InitiateRequest struct {
	Gateway     string `json:"gateway"`
	InvoiceID   string `json:"invoiceId"`
	BankCode    string `json:"bankCode,omitempty"`
	BuyerEmail  string `json:"buyerEmail,omitempty"`
	BuyerName   string `json:"buyerName,omitempty"`
	Description string `json:"description,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

type InitiateResponse struct {
	PaymentID       string `json:"paymentId"`
	ReferenceNumber string `json:"referenceNumber"`
	PaymentURL      string `json:"paymentUrl"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	Gateway         string `json:"gateway"`
}

type StatusResponse struct {
	PaymentID       string     `json:"paymentId"`
	ReferenceNumber string     `json:"referenceNumber"`
	Gateway         string     `json:"gateway"`
	Status          string     `json:"status"`
	Amount          string     `json:"amount"`
	Currency        string     `json:"currency"`
	InvoiceID       *string    `json:"invoiceId,omitempty"`
	GatewayRef      *string    `json:"gatewayRef,omitempty"`
	ErrorMessage    *string    `json:"errorMessage,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// Register mounts the REST routes on mux, each wrapped by mw in order (first is outermost).
func (h *PaymentHandler) Register(mux *http.ServeMux, mw ...func(http.Handler) http.Handler) {
	wrap := func(next http.Handler) http.Handler {
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
	mux.Handle("POST /payments/online/initiate", wrap(http.HandlerFunc(h.Initiate)))
	// banks/{gateway} and {id}/status overlap as ServeMux patterns, so one pattern dispatches both.
	mux.Handle("GET /payments/online/{first}/{second}", wrap(http.HandlerFunc(h.dispatchGet)))
}

func (h *PaymentHandler) dispatchGet(w http.ResponseWriter, r *http.Request) {
	first, second := r.PathValue("first"), r.PathValue("second")
	switch {
	case first == "banks":
		r.SetPathValue("gateway", second)
		h.Banks(w, r)
	case second == "status":
		r.SetPathValue("id", first)
		h.Status(w, r)
	default:
		utils.WriteJSONError(w, "not found", http.StatusNotFound)
	}
}

// Initiate serves POST /payments/online/initiate.
func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := utils.GetTenantIDFromContext(r.Context())
	if !ok {
		utils.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req InitiateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		utils.WriteJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	gateway, err := payment.ParseGatewayKind(req.Gateway)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	invoiceID, err := uuid.Parse(req.InvoiceID)
	if err != nil {
		utils.WriteJSONError(w, "invalid invoiceId", http.StatusBadRequest)
		return
	}

	res, err := h.Service.Initiate(r.Context(), gateway, invoiceID, tenantID, payment.InitiateOptions{
		BankCode:    req.BankCode,
		BuyerEmail:  req.BuyerEmail,
		BuyerName:   req.BuyerName,
		Description: req.Description,
		RedirectURL: req.RedirectURL,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, InitiateResponse{
		PaymentID:       res.PaymentID.String(),
		ReferenceNumber: res.ReferenceNumber,
		PaymentURL:      res.PaymentURL,
		Amount:          payment.FormatAmount(res.Amount),
		Currency:        res.Currency,
		Gateway:         string(res.Gateway),
	})
}

// Status serves GET /payments/online/{id}/status.
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := utils.GetTenantIDFromContext(r.Context())
	if !ok {
		utils.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	paymentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.WriteJSONError(w, "invalid payment id", http.StatusBadRequest)
		return
	}

	p, err := h.Service.CheckStatus(r.Context(), tenantID, paymentID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, toStatusResponse(p))
}

// Banks serves GET /payments/online/banks/{gateway}.
func (h *PaymentHandler) Banks(w http.ResponseWriter, r *http.Request) {
	gateway, err := payment.ParseGatewayKind(r.PathValue("gateway"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	banks, err := h.Service.GetBankList(r.Context(), gateway)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if banks == nil {
		banks = []payment.Bank{}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{"gateway": gateway, "banks": banks})
}

func toStatusResponse(p *payment.OnlinePayment) StatusResponse {
	resp := StatusResponse{
		PaymentID:       p.ID.String(),
		ReferenceNumber: p.ReferenceNumber,
		Gateway:         string(p.Gateway),
		Status:          string(p.Status),
		Amount:          payment.FormatAmount(p.Amount),
		Currency:        p.Currency,
		GatewayRef:      p.GatewayRef,
		ErrorMessage:    p.ErrorMessage,
		CreatedAt:       p.CreatedAt,
		CompletedAt:     p.CompletedAt,
	}
	if p.InvoiceID != nil {
		id := p.InvoiceID.String()
		resp.InvoiceID = &id
	}
	return resp
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, payment.ErrUnsupportedGateway):
		utils.WriteJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, payment.ErrInvoiceNotPayable):
		utils.WriteJSONError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, payment.ErrInvoiceNotFound), errors.Is(err, payment.ErrPaymentNotFound):
		utils.WriteJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, payment.ErrCapabilityNotSupported):
		utils.WriteJSONError(w, err.Error(), http.StatusNotImplemented)
	case errors.Is(err, payment.ErrCredentialsMissing):
		logger.FromCtx(ctx).Error("gateway not configured", zap.Error(err))
		utils.WriteJSONError(w, "payment gateway unavailable", http.StatusServiceUnavailable)
	case payment.IsGatewayError(err), errors.Is(err, context.DeadlineExceeded):
		logger.FromCtx(ctx).Warn("gateway call failed", zap.Error(err))
		utils.WriteJSONError(w, "payment gateway error", http.StatusBadGateway)
	default:
		logger.FromCtx(ctx).Error("payment request failed", zap.Error(err))
		utils.WriteJSONError(w, "internal server error", http.StatusInternalServerError)
	}
}
