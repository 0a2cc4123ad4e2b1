package bankredirect

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paygate-be/internal/config"
	"paygate-be/internal/logger"
	"paygate-be/internal/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	sandboxBaseURL    = "https://sandbox.ipg-bank.example/ipg"
	productionBaseURL = "https://ipg-bank.example/ipg"

	protocolVersion = "2.1"
	txnTimeLayout   = "20060102150405"
	paymentWindow   = 15 * time.Minute
)

// requestFields is the signing order of the redirect request.
var requestFields = []string{
	"version", "command", "merchant_id", "terminal_id", "order_ref",
	"amount", "currency", "order_info", "order_type", "bank_code",
	"buyer_email", "buyer_name", "return_url", "notify_url", "locale",
	"txn_date", "expire_date", "channel", "mode", "request_id",
}

var callbackFields = []string{
	"merchant_id", "order_ref", "txn_ref", "amount", "currency", "response_code", "txn_date",
}

type Gateway struct {
	merchantID string
	terminalID string
	baseURL    string
	sandbox    bool
	httpClient *http.Client
	signer     signer
	now        func() time.Time
}

type Options struct {
	Sandbox bool
	// AllowInsecure enables the SHA-256 digest path when no RSA key is configured.
	AllowInsecure bool
	HTTPClient    *http.Client
}

func New(cfg config.BankRedirectConfig, opts Options) (*Gateway, error) {
	g := &Gateway{
		merchantID: cfg.MerchantID,
		terminalID: cfg.TerminalID,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		sandbox:    opts.Sandbox,
		httpClient: opts.HTTPClient,
		signer:     signer{insecure: opts.AllowInsecure},
		now:        time.Now,
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if g.baseURL == "" {
		g.baseURL = productionBaseURL
		if opts.Sandbox {
			g.baseURL = sandboxBaseURL
		}
	}

	if cfg.PrivateKeyPath != "" {
		key, err := loadPrivateKey(cfg.PrivateKeyPath, cfg.PrivateKeyPassword)
		if err != nil {
			return nil, err
		}
		g.signer.key = key
	}
	if cfg.BankPublicKeyPath != "" {
		key, err := loadPublicKey(cfg.BankPublicKeyPath)
		if err != nil {
			return nil, err
		}
		g.signer.bankKey = key
	}

	if g.signer.key == nil && opts.AllowInsecure {
		logger.L().Warn("bank-redirect running with digest-only signatures; never enable outside testing")
	}
	return g, nil
}

func (g *Gateway) Kind() payment.GatewayKind { return payment.GatewayBankRedirect }

func (g *Gateway) CreatePayment(ctx context.Context, params payment.CreatePaymentParams) (*payment.CreatePaymentResult, error) {
	if g.merchantID == "" || g.terminalID == "" {
		return nil, fmt.Errorf("bank-redirect merchant/terminal id: %w", payment.ErrCredentialsMissing)
	}

	log := logger.FromCtx(ctx).With(
		zap.String("gateway", string(payment.GatewayBankRedirect)),
		zap.String("reference", params.ReferenceNumber),
	)

	now := g.now()
	mode := "LIVE"
	if g.sandbox {
		mode = "TEST"
	}
	values := map[string]string{
		"version":     protocolVersion,
		"command":     "pay",
		"merchant_id": g.merchantID,
		"terminal_id": g.terminalID,
		"order_ref":   params.ReferenceNumber,
		"amount":      payment.FormatAmount(params.Amount),
		"currency":    params.Currency,
		"order_info":  params.Description,
		"order_type":  "billpayment",
		"bank_code":   params.BankCode,
		"buyer_email": params.BuyerEmail,
		"buyer_name":  params.BuyerName,
		"return_url":  params.RedirectURL,
		"notify_url":  params.CallbackURL,
		"locale":      "en",
		"txn_date":    now.Format(txnTimeLayout),
		"expire_date": now.Add(paymentWindow).Format(txnTimeLayout),
		"channel":     "WEB",
		"mode":        mode,
		"request_id":  uuid.NewString(),
	}

	signature, err := g.signer.sign(joinFields(values, requestFields))
	if err != nil {
		log.Error("failed to sign redirect request", zap.Error(err))
		return nil, err
	}

	form := url.Values{}
	for _, f := range requestFields {
		form.Set(f, values[f])
	}
	form.Set("signature", signature)

	paymentURL := g.baseURL + "/pay?" + form.Encode()
	log.Info("bank-redirect payment URL built")

	return &payment.CreatePaymentResult{
		PaymentURL:    paymentURL,
		TransactionID: values["request_id"],
	}, nil
}

// VerifyCallback accepts the bank's form-encoded notification. The signature may
// arrive in a header (signature argument) or as the "signature" form field.
func (g *Gateway) VerifyCallback(ctx context.Context, payload []byte, signature string) payment.CallbackResult {
	log := logger.FromCtx(ctx).With(zap.String("gateway", string(payment.GatewayBankRedirect)))

	form, err := url.ParseQuery(string(payload))
	if err != nil {
		log.Warn("unparseable callback payload", zap.Error(err))
		return payment.Rejected("")
	}

	ref := form.Get("order_ref")
	if signature == "" {
		signature = form.Get("signature")
	}

	values := make(map[string]string, len(callbackFields))
	for _, f := range callbackFields {
		values[f] = form.Get(f)
	}

	if values["merchant_id"] != g.merchantID {
		log.Warn("callback for another merchant", zap.String("reference", ref))
		return payment.Rejected(ref)
	}
	if !g.signer.verify(joinFields(values, callbackFields), signature) {
		log.Warn("callback signature rejected", zap.String("reference", ref))
		return payment.Rejected(ref)
	}

	amount, err := decimal.NewFromString(values["amount"])
	if err != nil {
		log.Warn("callback amount invalid", zap.String("reference", ref), zap.Error(err))
		return payment.Rejected(ref)
	}

	code := values["response_code"]
	return payment.CallbackResult{
		Success:         true,
		ReferenceNumber: ref,
		GatewayRef:      values["txn_ref"],
		Amount:          amount,
		Status:          mapResponseCode(code),
		ProviderStatus:  code,
	}
}

type queryResponse struct {
	ResponseCode string `json:"response_code"`
	TxnRef       string `json:"txn_ref"`
	Amount       string `json:"amount"`
	Message      string `json:"message"`
}

func (g *Gateway) CheckStatus(ctx context.Context, referenceNumber string) payment.StatusResult {
	pending := payment.StatusResult{Status: payment.StatusPending}
	log := logger.FromCtx(ctx).With(
		zap.String("gateway", string(payment.GatewayBankRedirect)),
		zap.String("reference", referenceNumber),
	)

	if g.merchantID == "" {
		return pending
	}

	requestTime := g.now().Format(txnTimeLayout)
	signature, err := g.signer.sign(strings.Join([]string{g.merchantID, g.terminalID, referenceNumber, requestTime}, "|"))
	if err != nil {
		log.Warn("status query not signed", zap.Error(err))
		return pending
	}

	form := url.Values{}
	form.Set("merchant_id", g.merchantID)
	form.Set("terminal_id", g.terminalID)
	form.Set("order_ref", referenceNumber)
	form.Set("request_time", requestTime)
	form.Set("signature", signature)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/query", strings.NewReader(form.Encode()))
	if err != nil {
		return pending
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, _, err := payment.Send(g.httpClient, payment.GatewayBankRedirect, "status", req)
	if err != nil {
		log.Warn("status query failed, treating as pending", zap.Error(err))
		return pending
	}

	var res queryResponse
	if err := json.Unmarshal(body, &res); err != nil {
		log.Warn("status response undecodable", zap.Error(err))
		return pending
	}

	amount, _ := decimal.NewFromString(res.Amount)
	return payment.StatusResult{
		Status:         mapResponseCode(res.ResponseCode),
		GatewayRef:     res.TxnRef,
		Amount:         amount,
		ProviderStatus: res.ResponseCode,
	}
}

type bankListResponse struct {
	Banks []payment.Bank `json:"banks"`
}

func (g *Gateway) GetBankList(ctx context.Context) ([]payment.Bank, error) {
	if g.merchantID == "" {
		return nil, fmt.Errorf("bank-redirect merchant id: %w", payment.ErrCredentialsMissing)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.baseURL+"/banks?merchant_id="+url.QueryEscape(g.merchantID), nil)
	if err != nil {
		return nil, err
	}

	body, _, err := payment.Send(g.httpClient, payment.GatewayBankRedirect, "banks", req)
	if err != nil {
		return nil, err
	}

	var res bankListResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode bank list: %w", err)
	}
	return res.Banks, nil
}

func mapResponseCode(code string) payment.Status {
	switch code {
	case "00":
		return payment.StatusCompleted
	case "09":
		return payment.StatusProcessing
	case "05", "24", "51", "57":
		return payment.StatusFailed
	case "11":
		return payment.StatusExpired
	case "R0":
		return payment.StatusRefunded
	default:
		return payment.StatusPending
	}
}

func joinFields(values map[string]string, order []string) string {
	parts := make([]string, len(order))
	for i, f := range order {
		parts[i] = values[f]
	}
	return strings.Join(parts, "|")
}

// signer holds the merchant key (outbound) and the bank key (inbound).
type signer struct {
	key      *rsa.PrivateKey
	bankKey  *rsa.PublicKey
	insecure bool
}

func (s signer) sign(data string) (string, error) {
	if s.key != nil {
		digest := sha1.Sum([]byte(data))
		sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA1, digest[:])
		if err != nil {
			return "", fmt.Errorf("rsa sign: %w", err)
		}
		return base64.StdEncoding.EncodeToString(sig), nil
	}
	if s.insecure {
		return digestHex(data), nil
	}
	return "", fmt.Errorf("bank-redirect signing key: %w", payment.ErrCredentialsMissing)
}

func (s signer) verify(data, signature string) bool {
	if signature == "" {
		return false
	}
	if s.bankKey != nil {
		sig, err := base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return false
		}
		digest := sha1.Sum([]byte(data))
		return rsa.VerifyPKCS1v15(s.bankKey, crypto.SHA1, digest[:], sig) == nil
	}
	if s.insecure {
		return hmac.Equal([]byte(digestHex(data)), []byte(signature))
	}
	return false
}

func digestHex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
