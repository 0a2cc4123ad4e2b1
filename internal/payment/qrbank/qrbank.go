package qrbank

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paygate-be/internal/config"
	"paygate-be/internal/logger"
	"paygate-be/internal/payment"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	sandboxBaseURL    = "https://sandbox.qr-bank.example/api/v1"
	productionBaseURL = "https://api.qr-bank.example/api/v1"

	codeSuccess     = "0000"
	signatureHeader = "X-Signature"

	ModeQR            = "QR"
	ModeOnlineBanking = "ONLINE_BANKING"
)

type Gateway struct {
	merchantID string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func New(cfg config.QRBankConfig, sandbox bool, client *http.Client) *Gateway {
	g := &Gateway{
		merchantID: cfg.MerchantID,
		secretKey:  cfg.SecretKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: client,
		now:        time.Now,
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
	return g
}

func (g *Gateway) Kind() payment.GatewayKind { return payment.GatewayQRBank }

type createRequest struct {
	MerchantID  string `json:"merchantId"`
	Reference   string `json:"reference"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Mode        string `json:"mode"`
	BankCode    string `json:"bankCode,omitempty"`
	Description string `json:"description,omitempty"`
	BuyerEmail  string `json:"buyerEmail,omitempty"`
	BuyerName   string `json:"buyerName,omitempty"`
	CallbackURL string `json:"callbackUrl"`
	ReturnURL   string `json:"returnUrl,omitempty"`
	Timestamp   string `json:"timestamp"`
	Signature   string `json:"signature"`
}

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type createData struct {
	TransactionID string `json:"transactionId"`
	PaymentURL    string `json:"paymentUrl"`
	QRString      string `json:"qrString"`
	DeepLink      string `json:"deeplink"`
}

// CreatePayment picks the online-banking flow when a bank code is supplied, QR otherwise.
func (g *Gateway) CreatePayment(ctx context.Context, params payment.CreatePaymentParams) (*payment.CreatePaymentResult, error) {
	if g.merchantID == "" || g.secretKey == "" {
		return nil, fmt.Errorf("qr-bank merchant id/secret: %w", payment.ErrCredentialsMissing)
	}

	mode := ModeQR
	if params.BankCode != "" {
		mode = ModeOnlineBanking
	}

	log := logger.FromCtx(ctx).With(
		zap.String("gateway", string(payment.GatewayQRBank)),
		zap.String("reference", params.ReferenceNumber),
		zap.String("mode", mode),
	)

	amount := payment.FormatAmount(params.Amount)
	timestamp := strconv.FormatInt(g.now().Unix(), 10)
	body := createRequest{
		MerchantID:  g.merchantID,
		Reference:   params.ReferenceNumber,
		Amount:      amount,
		Currency:    params.Currency,
		Mode:        mode,
		BankCode:    params.BankCode,
		Description: params.Description,
		BuyerEmail:  params.BuyerEmail,
		BuyerName:   params.BuyerName,
		CallbackURL: params.CallbackURL,
		ReturnURL:   params.RedirectURL,
		Timestamp:   timestamp,
		Signature:   g.sign(g.merchantID, params.ReferenceNumber, amount, timestamp),
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payments", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, status, err := payment.Send(g.httpClient, payment.GatewayQRBank, "create", req)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		log.Error("failed decoding qr-bank response", zap.Error(err))
		return nil, &payment.GatewayError{Gateway: payment.GatewayQRBank, HTTPStatus: status, Message: "undecodable response", Raw: respBody}
	}
	if env.Code != codeSuccess {
		log.Error("qr-bank rejected payment", zap.String("code", env.Code), zap.String("message", env.Message))
		return nil, &payment.GatewayError{Gateway: payment.GatewayQRBank, HTTPStatus: status, Code: env.Code, Message: env.Message, Raw: respBody}
	}

	var data createData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, &payment.GatewayError{Gateway: payment.GatewayQRBank, HTTPStatus: status, Message: "undecodable data", Raw: respBody}
	}

	paymentURL := data.PaymentURL
	if paymentURL == "" {
		paymentURL = data.DeepLink
	}

	log.Info("qr-bank payment created", zap.String("transaction_id", data.TransactionID))
	return &payment.CreatePaymentResult{
		PaymentURL:    paymentURL,
		TransactionID: data.TransactionID,
		Raw:           json.RawMessage(respBody),
	}, nil
}

type callbackPayload struct {
	MerchantID    string `json:"merchantId"`
	Reference     string `json:"reference"`
	Amount        string `json:"amount"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Signature     string `json:"signature"`
}

// VerifyCallback checks the HMAC over merchantId|reference|amount|transactionId|status.
// The signature comes from the X-Signature header or the payload's signature field.
func (g *Gateway) VerifyCallback(ctx context.Context, payload []byte, signature string) payment.CallbackResult {
	log := logger.FromCtx(ctx).With(zap.String("gateway", string(payment.GatewayQRBank)))

	var cb callbackPayload
	if err := json.Unmarshal(payload, &cb); err != nil {
		log.Warn("unparseable callback payload", zap.Error(err))
		return payment.Rejected("")
	}
	if signature == "" {
		signature = cb.Signature
	}

	if g.secretKey == "" || cb.MerchantID != g.merchantID {
		log.Warn("callback not verifiable for this merchant", zap.String("reference", cb.Reference))
		return payment.Rejected(cb.Reference)
	}

	expected := g.sign(cb.MerchantID, cb.Reference, cb.Amount, cb.TransactionID, cb.Status)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		log.Warn("callback signature rejected", zap.String("reference", cb.Reference))
		return payment.Rejected(cb.Reference)
	}

	amount, err := decimal.NewFromString(cb.Amount)
	if err != nil {
		return payment.Rejected(cb.Reference)
	}

	return payment.CallbackResult{
		Success:         true,
		ReferenceNumber: cb.Reference,
		GatewayRef:      cb.TransactionID,
		Amount:          amount,
		Status:          mapStatus(cb.Status),
		ProviderStatus:  cb.Status,
	}
}

type statusData struct {
	TransactionID string `json:"transactionId"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
}

func (g *Gateway) CheckStatus(ctx context.Context, referenceNumber string) payment.StatusResult {
	pending := payment.StatusResult{Status: payment.StatusPending}
	log := logger.FromCtx(ctx).With(
		zap.String("gateway", string(payment.GatewayQRBank)),
		zap.String("reference", referenceNumber),
	)

	if g.merchantID == "" || g.secretKey == "" {
		return pending
	}

	timestamp := strconv.FormatInt(g.now().Unix(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/payments/"+referenceNumber, nil)
	if err != nil {
		return pending
	}
	req.Header.Set("X-Merchant-Id", g.merchantID)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set(signatureHeader, g.sign(g.merchantID, referenceNumber, timestamp))

	body, _, err := payment.Send(g.httpClient, payment.GatewayQRBank, "status", req)
	if err != nil {
		log.Warn("status query failed, treating as pending", zap.Error(err))
		return pending
	}

	var env envelope
	var data statusData
	if err := json.Unmarshal(body, &env); err != nil || env.Code != codeSuccess {
		log.Warn("status query not successful", zap.String("code", env.Code))
		return pending
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return pending
	}

	amount, _ := decimal.NewFromString(data.Amount)
	return payment.StatusResult{
		Status:         mapStatus(data.Status),
		GatewayRef:     data.TransactionID,
		Amount:         amount,
		ProviderStatus: data.Status,
	}
}

func (g *Gateway) GetBankList(ctx context.Context) ([]payment.Bank, error) {
	if g.merchantID == "" || g.secretKey == "" {
		return nil, fmt.Errorf("qr-bank merchant id/secret: %w", payment.ErrCredentialsMissing)
	}

	timestamp := strconv.FormatInt(g.now().Unix(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/banks", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Merchant-Id", g.merchantID)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set(signatureHeader, g.sign(g.merchantID, timestamp))

	body, status, err := payment.Send(g.httpClient, payment.GatewayQRBank, "banks", req)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode bank list: %w", err)
	}
	if env.Code != codeSuccess {
		return nil, &payment.GatewayError{Gateway: payment.GatewayQRBank, HTTPStatus: status, Code: env.Code, Message: env.Message, Raw: body}
	}

	var banks []payment.Bank
	if err := json.Unmarshal(env.Data, &banks); err != nil {
		return nil, fmt.Errorf("decode bank list: %w", err)
	}
	return banks, nil
}

func mapStatus(s string) payment.Status {
	switch strings.ToUpper(s) {
	case "SUCCESS":
		return payment.StatusCompleted
	case "PROCESSING":
		return payment.StatusProcessing
	case "FAILED", "CANCELLED":
		return payment.StatusFailed
	case "EXPIRED":
		return payment.StatusExpired
	case "REFUNDED":
		return payment.StatusRefunded
	default:
		return payment.StatusPending
	}
}

// sign returns the lowercase hex HMAC-SHA256 of the pipe-joined parts.
func (g *Gateway) sign(parts ...string) string {
	mac := hmac.New(sha256.New, []byte(g.secretKey))
	mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}
