package walletb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"paygate-be/internal/config"
	"paygate-be/internal/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockRoundTripper func(req *http.Request) (*http.Response, error)

func (f MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func newTestGateway(rt http.RoundTripper) *Gateway {
	return New(config.WalletBConfig{
		MerchantID: "WB001",
		SecretKey:  "wb-secret",
		BaseURL:    "https://wb.test/gateway",
	}, true, &http.Client{Transport: rt})
}

func signedNotification(g *Gateway, tradeStatus string) []byte {
	fields := map[string]string{
		"merchantId":  "WB001",
		"outTradeNo":  "OP1",
		"tradeNo":     "WB-T-1",
		"amount":      "99.90",
		"tradeStatus": tradeStatus,
		"timestamp":   "1767268800000",
		"nonce":       "abc123",
	}
	fields["sign"] = g.sign(fields)
	b, _ := json.Marshal(fields)
	return b
}

func TestCanonical(t *testing.T) {
	got := canonical(map[string]string{
		"nonce":      "n1",
		"amount":     "10.00",
		"sign":       "ignored",
		"subject":    "",
		"merchantId": "WB001",
	})
	assert.Equal(t, "amount=10.00&merchantId=WB001&nonce=n1&subject=", got)
}

func TestTimestampMonotonic(t *testing.T) {
	g := newTestGateway(nil)
	frozen := time.UnixMilli(1767268800000)
	g.now = func() time.Time { return frozen }

	first, _ := strconv.ParseInt(g.timestamp(), 10, 64)
	second, _ := strconv.ParseInt(g.timestamp(), 10, 64)
	assert.Equal(t, int64(1767268800000), first)
	assert.Equal(t, first+1, second)

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := g.timestamp()
			mu.Lock()
			assert.False(t, seen[ts], "duplicate timestamp %s", ts)
			seen[ts] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
}

func TestGateway_CreatePayment(t *testing.T) {
	params := payment.CreatePaymentParams{
		Amount:          decimal.RequireFromString("99.9"),
		Currency:        "IDR",
		ReferenceNumber: "OP1",
		Description:     "Invoice INV-9",
		CallbackURL:     "https://pay.example.com/payments/online/callback/WALLET_B",
	}

	t.Run("Success", func(t *testing.T) {
		var g *Gateway
		g = newTestGateway(MockRoundTripper(func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "https://wb.test/gateway/trade/create", req.URL.String())

			body, _ := io.ReadAll(req.Body)
			fields, err := decodeFields(body)
			require.NoError(t, err)
			assert.Equal(t, "99.90", fields["amount"])
			assert.Len(t, fields["nonce"], 32)
			assert.NotEmpty(t, fields["timestamp"])
			assert.Equal(t, g.sign(fields), fields["sign"])

			return jsonResponse(http.StatusOK, `{"code":"SUCCESS","tradeNo":"WB-T-1","payUrl":"https://wb.test/cashier/1"}`), nil
		}))

		res, err := g.CreatePayment(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, "WB-T-1", res.TransactionID)
		assert.Equal(t, "https://wb.test/cashier/1", res.PaymentURL)
	})

	t.Run("BusinessError", func(t *testing.T) {
		g := newTestGateway(MockRoundTripper(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"code":"PARAM_ERROR","msg":"amount invalid"}`), nil
		}))

		_, err := g.CreatePayment(context.Background(), params)
		var ge *payment.GatewayError
		require.True(t, errors.As(err, &ge))
		assert.Equal(t, "PARAM_ERROR", ge.Code)
		assert.Equal(t, "amount invalid", ge.Message)
	})

	t.Run("MissingCredentials", func(t *testing.T) {
		g := New(config.WalletBConfig{}, true, nil)
		_, err := g.CreatePayment(context.Background(), params)
		assert.ErrorIs(t, err, payment.ErrCredentialsMissing)
	})
}

func TestGateway_VerifyCallback(t *testing.T) {
	g := newTestGateway(nil)
	ctx := context.Background()

	t.Run("Valid", func(t *testing.T) {
		res := g.VerifyCallback(ctx, signedNotification(g, "SUCCESS"), "")
		assert.True(t, res.Success)
		assert.Equal(t, payment.StatusCompleted, res.Status)
		assert.Equal(t, "OP1", res.ReferenceNumber)
		assert.Equal(t, "WB-T-1", res.GatewayRef)
		assert.Equal(t, "99.9", res.Amount.String())
	})

	t.Run("ExtraFieldsAreSigned", func(t *testing.T) {
		fields := map[string]string{
			"merchantId":  "WB001",
			"outTradeNo":  "OP1",
			"amount":      "99.90",
			"tradeStatus": "SUCCESS",
			"attach":      "custom",
		}
		fields["sign"] = g.sign(fields)
		body, _ := json.Marshal(fields)
		assert.True(t, g.VerifyCallback(ctx, body, "").Success)

		fields["attach"] = "changed"
		body, _ = json.Marshal(fields)
		assert.False(t, g.VerifyCallback(ctx, body, "").Success)
	})

	t.Run("EmptyFieldsAreSigned", func(t *testing.T) {
		fields := map[string]string{
			"merchantId":  "WB001",
			"outTradeNo":  "OP1",
			"amount":      "99.90",
			"tradeStatus": "SUCCESS",
			"attach":      "",
		}
		fields["sign"] = g.sign(fields)
		body, _ := json.Marshal(fields)
		assert.True(t, g.VerifyCallback(ctx, body, "").Success)

		delete(fields, "attach")
		body, _ = json.Marshal(fields)
		assert.False(t, g.VerifyCallback(ctx, body, "").Success)
	})

	t.Run("PayloadMutation", func(t *testing.T) {
		body := bytes.Replace(signedNotification(g, "SUCCESS"), []byte("99.90"), []byte("99.91"), 1)
		res := g.VerifyCallback(ctx, body, "")
		assert.False(t, res.Success)
		assert.Equal(t, payment.StatusFailed, res.Status)
	})

	t.Run("SignatureMutation", func(t *testing.T) {
		var fields map[string]string
		require.NoError(t, json.Unmarshal(signedNotification(g, "SUCCESS"), &fields))
		sig := []byte(fields["sign"])
		sig[3] ^= 0x01
		res := g.VerifyCallback(ctx, signedNotification(g, "SUCCESS"), string(sig))
		assert.False(t, res.Success)
	})

	t.Run("UnknownTradeStatus", func(t *testing.T) {
		res := g.VerifyCallback(ctx, signedNotification(g, "FROZEN"), "")
		assert.True(t, res.Success)
		assert.Equal(t, payment.StatusPending, res.Status)
	})
}

func TestMapTradeStatus(t *testing.T) {
	tests := map[string]payment.Status{
		"INITIAL": payment.StatusPending,
		"PAYING":  payment.StatusProcessing,
		"SUCCESS": payment.StatusCompleted,
		"FAIL":    payment.StatusFailed,
		"CLOSED":  payment.StatusFailed,
		"TIMEOUT": payment.StatusExpired,
		"REFUND":  payment.StatusRefunded,
		"???":     payment.StatusPending,
	}
	for in, want := range tests {
		assert.Equal(t, want, mapTradeStatus(in), in)
	}
}

func TestGateway_CheckStatus(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		g := newTestGateway(MockRoundTripper(func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "/gateway/trade/query", req.URL.Path)
			return jsonResponse(http.StatusOK, `{"code":"SUCCESS","tradeNo":"WB-T-1","tradeStatus":"TIMEOUT","amount":"99.90"}`), nil
		}))

		res := g.CheckStatus(context.Background(), "OP1")
		assert.Equal(t, payment.StatusExpired, res.Status)
	})

	t.Run("BusinessErrorIsPending", func(t *testing.T) {
		g := newTestGateway(MockRoundTripper(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"code":"SYSTEM_BUSY"}`), nil
		}))
		assert.Equal(t, payment.StatusPending, g.CheckStatus(context.Background(), "OP1").Status)
	})

	t.Run("HTTPErrorIsPending", func(t *testing.T) {
		g := newTestGateway(MockRoundTripper(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusGatewayTimeout, ``), nil
		}))
		assert.Equal(t, payment.StatusPending, g.CheckStatus(context.Background(), "OP1").Status)
	})
}

func TestDecodeFields(t *testing.T) {
	fields, err := decodeFields([]byte(`{"amount":10.50,"paid":true,"note":null,"extra":{"a":1}}`))
	require.NoError(t, err)
	assert.Equal(t, "10.50", fields["amount"])
	assert.Equal(t, "true", fields["paid"])
	assert.Equal(t, "", fields["note"])
	assert.Equal(t, `{"a":1}`, fields["extra"])
}
