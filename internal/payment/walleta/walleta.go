package walleta

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paygate-be/internal/config"
	"paygate-be/internal/logger"
	"paygate-be/internal/payment"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	sandboxBaseURL    = "https://sandbox.wallet-a.example"
	productionBaseURL = "https://api.wallet-a.example"

	proofHeader = "X-Signature"
)

type Gateway struct {
	clientID      string
	clientSecret  string
	signingKey    string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
	tokens        *TokenCache
	now           func() time.Time
}

func New(cfg config.WalletAConfig, sandbox bool, client *http.Client) *Gateway {
	g := &Gateway{
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		signingKey:    cfg.SigningKey,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:    client,
		now:           time.Now,
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if g.baseURL == "" {
		g.baseURL = productionBaseURL
		if sandbox {
			g.baseURL = sandboxBaseURL
		}
	}
	g.tokens = NewTokenCache(g.fetchToken, func() time.Time { return g.now() })
	return g
}

func (g *Gateway) Kind() payment.GatewayKind { return payment.GatewayWalletA }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (g *Gateway) fetchToken(ctx context.Context) (string, time.Duration, error) {
	if g.clientID == "" || g.clientSecret == "" {
		return "", 0, fmt.Errorf("wallet-a client credentials: %w", payment.ErrCredentialsMissing)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.SetBasicAuth(g.clientID, g.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := payment.Send(g.httpClient, payment.GatewayWalletA, "token", req)
	if err != nil {
		return "", 0, err
	}

	var res tokenResponse
	if err := json.Unmarshal(body, &res); err != nil || res.AccessToken == "" {
		return "", 0, &payment.GatewayError{Gateway: payment.GatewayWalletA, HTTPStatus: status, Message: "no access token in response", Raw: body}
	}
	return res.AccessToken, time.Duration(res.ExpiresIn) * time.Second, nil
}

// proof computes the proof-of-possession header:
// base64(HMAC-SHA256(key, method \n content-type \n date \n path \n hex(sha256(body)))).
func (g *Gateway) proof(method, contentType, date, path string, body []byte) string {
	bodyHash := sha256.Sum256(body)
	canonical := strings.Join([]string{method, contentType, date, path, hex.EncodeToString(bodyHash[:])}, "\n")

	mac := hmac.New(sha256.New, []byte(g.signingKey))
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// do sends an authenticated, signed API call. A 401 drops the cached token.
func (g *Gateway) do(ctx context.Context, method, path, operation string, payload any) ([]byte, int, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, 0, err
	}

	var body []byte
	contentType := ""
	if payload != nil {
		if body, err = json.Marshal(payload); err != nil {
			return nil, 0, err
		}
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	date := g.now().UTC().Format(http.TimeFormat)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Date", date)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(proofHeader, g.proof(method, contentType, date, path, body))

	respBody, status, err := payment.Send(g.httpClient, payment.GatewayWalletA, operation, req)
	if status == http.StatusUnauthorized {
		g.tokens.Invalidate()
	}
	return respBody, status, err
}

type money struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type buyer struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type createRequest struct {
	MerchantReference string `json:"merchantReference"`
	Amount            money  `json:"amount"`
	Description       string `json:"description,omitempty"`
	Buyer             *buyer `json:"buyer,omitempty"`
	NotificationURL   string `json:"notificationUrl"`
	ReturnURL         string `json:"returnUrl,omitempty"`
}

type paymentResource struct {
	ID                string `json:"id"`
	MerchantReference string `json:"merchantReference"`
	Status            string `json:"status"`
	Amount            money  `json:"amount"`
	RedirectURL       string `json:"redirectUrl"`
}

func (g *Gateway) CreatePayment(ctx context.Context, params payment.CreatePaymentParams) (*payment.CreatePaymentResult, error) {
	if g.signingKey == "" {
		return nil, fmt.Errorf("wallet-a signing key: %w", payment.ErrCredentialsMissing)
	}

	log := logger.FromCtx(ctx).With(
		zap.String("gateway", string(payment.GatewayWalletA)),
		zap.String("reference", params.ReferenceNumber),
	)

	reqBody := createRequest{
		MerchantReference: params.ReferenceNumber,
		Amount:            money{Value: payment.FormatAmount(params.Amount), Currency: params.Currency},
		Description:       params.Description,
		NotificationURL:   params.CallbackURL,
		ReturnURL:         params.RedirectURL,
	}
	if params.BuyerEmail != "" || params.BuyerName != "" {
		reqBody.Buyer = &buyer{Email: params.BuyerEmail, Name: params.BuyerName}
	}

	body, status, err := g.do(ctx, http.MethodPost, "/v1/payments", "create", reqBody)
	if err != nil {
		return nil, err
	}

	var res paymentResource
	if err := json.Unmarshal(body, &res); err != nil || res.RedirectURL == "" {
		log.Error("wallet-a response missing redirect", zap.ByteString("response", body))
		return nil, &payment.GatewayError{Gateway: payment.GatewayWalletA, HTTPStatus: status, Message: "missing redirect url", Raw: body}
	}

	log.Info("wallet-a payment created", zap.String("payment_id", res.ID), zap.String("status", res.Status))
	return &payment.CreatePaymentResult{
		PaymentURL:    res.RedirectURL,
		TransactionID: res.ID,
		Raw:           json.RawMessage(body),
	}, nil
}

type webhookEvent struct {
	EventID           string `json:"eventId"`
	PaymentID         string `json:"paymentId"`
	MerchantReference string `json:"merchantReference"`
	Status            string `json:"status"`
	Amount            money  `json:"amount"`
}

// VerifyCallback checks the hex HMAC-SHA256 of the exact raw body against the webhook secret.
func (g *Gateway) VerifyCallback(ctx context.Context, payload []byte, signature string) payment.CallbackResult {
	log := logger.FromCtx(ctx).With(zap.String("gateway", string(payment.GatewayWalletA)))

	var ev webhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Warn("unparseable webhook payload", zap.Error(err))
		return payment.Rejected("")
	}

	if g.webhookSecret == "" || signature == "" {
		log.Warn("webhook not verifiable", zap.String("reference", ev.MerchantReference))
		return payment.Rejected(ev.MerchantReference)
	}

	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		log.Warn("webhook signature rejected", zap.String("reference", ev.MerchantReference))
		return payment.Rejected(ev.MerchantReference)
	}

	amount, err := decimal.NewFromString(ev.Amount.Value)
	if err != nil {
		return payment.Rejected(ev.MerchantReference)
	}

	return payment.CallbackResult{
		Success:         true,
		ReferenceNumber: ev.MerchantReference,
		GatewayRef:      ev.PaymentID,
		Amount:          amount,
		Status:          mapStatus(ev.Status),
		ProviderStatus:  ev.Status,
	}
}

func (g *Gateway) CheckStatus(ctx context.Context, referenceNumber string) payment.StatusResult {
	pending := payment.StatusResult{Status: payment.StatusPending}
	log := logger.FromCtx(ctx).With(
		zap.String("gateway", string(payment.GatewayWalletA)),
		zap.String("reference", referenceNumber),
	)

	if g.signingKey == "" {
		return pending
	}

	body, _, err := g.do(ctx, http.MethodGet, "/v1/payments?merchantReference="+url.QueryEscape(referenceNumber), "status", nil)
	if err != nil {
		if !errors.Is(err, payment.ErrCredentialsMissing) {
			log.Warn("status query failed, treating as pending", zap.Error(err))
		}
		return pending
	}

	var res paymentResource
	if err := json.Unmarshal(body, &res); err != nil {
		log.Warn("status response undecodable", zap.Error(err))
		return pending
	}

	amount, _ := decimal.NewFromString(res.Amount.Value)
	return payment.StatusResult{
		Status:         mapStatus(res.Status),
		GatewayRef:     res.ID,
		Amount:         amount,
		ProviderStatus: res.Status,
	}
}

func mapStatus(s string) payment.Status {
	switch strings.ToUpper(s) {
	case "CREATED":
		return payment.StatusPending
	case "AUTHORIZED":
		return payment.StatusProcessing
	case "PAID":
		return payment.StatusCompleted
	case "DECLINED", "CANCELLED":
		return payment.StatusFailed
	case "EXPIRED":
		return payment.StatusExpired
	case "REFUNDED":
		return payment.StatusRefunded
	default:
		return payment.StatusPending
	}
}
