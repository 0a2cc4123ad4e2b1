package webhook

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"paygate-be/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) HandleCallback(ctx context.Context, gateway payment.GatewayKind, payload []byte, signature string) (*payment.OnlinePayment, error) {
	args := m.Called(ctx, gateway, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.OnlinePayment), args.Error(1)
}

func serve(h *Handler, gateway string, body []byte, signature string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /payments/online/callback/{gateway}", h.CallbackHandler)

	req := httptest.NewRequest(http.MethodPost, "/payments/online/callback/"+gateway, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHandler_CallbackHandler(t *testing.T) {
	body := []byte(`{"reference":"OP-1","status":"SUCCESS"}`)

	t.Run("Success_Processed", func(t *testing.T) {
		proc := new(MockProcessor)
		proc.On("HandleCallback", mock.Anything, payment.GatewayQRBank, body, "abc123").
			Return(&payment.OnlinePayment{Status: payment.StatusCompleted}, nil).Once()

		w := serve(NewWebhookHandler(proc), "qr-bank", body, "abc123")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"result":"ok","status":"COMPLETED"}`, w.Body.String())
		proc.AssertExpectations(t)
	})

	t.Run("UnknownGateway", func(t *testing.T) {
		proc := new(MockProcessor)

		w := serve(NewWebhookHandler(proc), "paypal", body, "")

		assert.Equal(t, http.StatusNotFound, w.Code)
		proc.AssertNotCalled(t, "HandleCallback", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("GatewayNotEnabled", func(t *testing.T) {
		proc := new(MockProcessor)
		proc.On("HandleCallback", mock.Anything, payment.GatewayWalletA, body, "").
			Return(nil, payment.ErrUnsupportedGateway)

		w := serve(NewWebhookHandler(proc), "WALLET_A", body, "")

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("IgnoredErrorsAcknowledged", func(t *testing.T) {
		for _, err := range []error{payment.ErrPaymentNotFound, payment.ErrGatewayMismatch, payment.ErrAmountMismatch} {
			proc := new(MockProcessor)
			proc.On("HandleCallback", mock.Anything, payment.GatewayWalletB, body, "").Return(nil, err)

			w := serve(NewWebhookHandler(proc), "WALLET_B", body, "")

			assert.Equal(t, http.StatusOK, w.Code, err.Error())
			assert.JSONEq(t, `{"result":"ignored"}`, w.Body.String())
		}
	})

	t.Run("InfrastructureErrorAsksForRetry", func(t *testing.T) {
		proc := new(MockProcessor)
		proc.On("HandleCallback", mock.Anything, payment.GatewayBankRedirect, body, "").
			Return(nil, errors.New("connection refused"))

		w := serve(NewWebhookHandler(proc), "BANK_REDIRECT", body, "")

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("WrongMethod", func(t *testing.T) {
		proc := new(MockProcessor)
		mux := http.NewServeMux()
		mux.HandleFunc("POST /payments/online/callback/{gateway}", NewWebhookHandler(proc).CallbackHandler)

		req := httptest.NewRequest(http.MethodGet, "/payments/online/callback/QR_BANK", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}
