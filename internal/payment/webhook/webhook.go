package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"

	"paygate-be/internal/logger"
	"paygate-be/internal/payment"
	"paygate-be/internal/utils"

	"go.uber.org/zap"
)

const (
	// SignatureHeader carries the detached signature for gateways that sign outside the body.
	SignatureHeader = "X-Signature"
	maxBodyBytes    = 1 << 20
)

type CallbackProcessor interface {
	HandleCallback(ctx context.Context, gateway payment.GatewayKind, payload []byte, signature string) (*payment.OnlinePayment, error)
}

type Handler struct {
	Processor CallbackProcessor
}

func NewWebhookHandler(p CallbackProcessor) *Handler {
	return &Handler{Processor: p}
}

// CallbackHandler serves POST /payments/online/callback/{gateway}.
//
// Anything the gateway cannot fix by resending is acknowledged with 200 so it stops retrying.
// Only infrastructure failures answer 500.
func (h *Handler) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	log := logger.FromCtx(r.Context())

	gateway, err := payment.ParseGatewayKind(r.PathValue("gateway"))
	if err != nil {
		utils.WriteJSONError(w, "unknown gateway", http.StatusNotFound)
		return
	}
	log = log.With(zap.String("gateway", string(gateway)))

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		utils.WriteJSONError(w, "failed to read body", http.StatusBadRequest)
		return
	}

	p, err := h.Processor.HandleCallback(r.Context(), gateway, body, r.Header.Get(SignatureHeader))
	switch {
	case err == nil:
		resp := map[string]string{"result": "ok"}
		if p != nil {
			resp["status"] = string(p.Status)
		}
		utils.WriteJSON(w, http.StatusOK, resp)
	case errors.Is(err, payment.ErrUnsupportedGateway):
		utils.WriteJSONError(w, "gateway not enabled", http.StatusNotFound)
	case errors.Is(err, payment.ErrPaymentNotFound),
		errors.Is(err, payment.ErrGatewayMismatch),
		errors.Is(err, payment.ErrAmountMismatch):
		log.Warn("callback ignored", zap.Error(err))
		utils.WriteJSON(w, http.StatusOK, map[string]string{"result": "ignored"})
	default:
		log.Error("callback processing failed", zap.Error(err))
		utils.WriteJSONError(w, "callback processing failed", http.StatusInternalServerError)
	}
}
