package walletb

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"paygate-be/internal/config"
	"paygate-be/internal/logger"
	"paygate-be/internal/payment"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	sandboxBaseURL    = "https://sandbox.wallet-b.example/gateway"
	productionBaseURL = "https://api.wallet-b.example/gateway"

	signField   = "sign"
	codeSuccess = "SUCCESS"
)

type Gateway struct {
	merchantID string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
	lastStamp  atomic.Int64
}

func New(cfg config.WalletBConfig, sandbox bool, client *http.Client) *Gateway {
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

func (g *Gateway) Kind() payment.GatewayKind { return payment.GatewayWalletB }

// timestamp returns epoch milliseconds, strictly increasing across calls.
func (g *Gateway) timestamp() string {
	for {
		last := g.lastStamp.Load()
		next := g.now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if g.lastStamp.CompareAndSwap(last, next) {
			return strconv.FormatInt(next, 10)
		}
	}
}

func nonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// canonical joins every field except the signature as sorted key=value pairs.
// Empty values are kept as "key=".
func canonical(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == signField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + fields[k]
	}
	return strings.Join(pairs, "&")
}

func (g *Gateway) sign(fields map[string]string) string {
	mac := hmac.New(sha256.New, []byte(g.secretKey))
	mac.Write([]byte(canonical(fields)))
	return hex.EncodeToString(mac.Sum(nil))
}

// call signs fields, posts them as JSON and returns the decoded response fields.
func (g *Gateway) call(ctx context.Context, path, operation string, fields map[string]string) (map[string]string, []byte, error) {
	fields["merchantId"] = g.merchantID
	fields["timestamp"] = g.timestamp()
	fields["nonce"] = nonce()
	fields[signField] = g.sign(fields)

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, status, err := payment.Send(g.httpClient, payment.GatewayWalletB, operation, req)
	if err != nil {
		return nil, respBody, err
	}

	resp, err := decodeFields(respBody)
	if err != nil {
		return nil, respBody, &payment.GatewayError{Gateway: payment.GatewayWalletB, HTTPStatus: status, Message: "undecodable response", Raw: respBody}
	}
	if resp["code"] != codeSuccess {
		return nil, respBody, &payment.GatewayError{
			Gateway:    payment.GatewayWalletB,
			HTTPStatus: status,
			Code:       resp["code"],
			Message:    resp["msg"],
			Raw:        respBody,
		}
	}
	return resp, respBody, nil
}

func (g *Gateway) CreatePayment(ctx context.Context, params payment.CreatePaymentParams) (*payment.CreatePaymentResult, error) {
	if g.merchantID == "" || g.secretKey == "" {
		return nil, fmt.Errorf("wallet-b merchant id/secret: %w", payment.ErrCredentialsMissing)
	}

	log := logger.FromCtx(ctx).With(
		zap.String("gateway", string(payment.GatewayWalletB)),
		zap.String("reference", params.ReferenceNumber),
	)

	resp, raw, err := g.call(ctx, "/trade/create", "create", map[string]string{
		"outTradeNo": params.ReferenceNumber,
		"amount":     payment.FormatAmount(params.Amount),
		"currency":   params.Currency,
		"subject":    params.Description,
		"buyerEmail": params.BuyerEmail,
		"buyerName":  params.BuyerName,
		"notifyUrl":  params.CallbackURL,
		"returnUrl":  params.RedirectURL,
	})
	if err != nil {
		log.Error("wallet-b create failed", zap.Error(err))
		return nil, err
	}

	if resp["payUrl"] == "" {
		return nil, &payment.GatewayError{Gateway: payment.GatewayWalletB, Message: "missing payUrl", Raw: raw}
	}

	log.Info("wallet-b payment created", zap.String("trade_no", resp["tradeNo"]))
	return &payment.CreatePaymentResult{
		PaymentURL:    resp["payUrl"],
		TransactionID: resp["tradeNo"],
		Raw:           json.RawMessage(raw),
	}, nil
}

// VerifyCallback rebuilds the signing string from every payload field but "sign".
func (g *Gateway) VerifyCallback(ctx context.Context, payload []byte, signature string) payment.CallbackResult {
	log := logger.FromCtx(ctx).With(zap.String("gateway", string(payment.GatewayWalletB)))

	fields, err := decodeFields(payload)
	if err != nil {
		log.Warn("unparseable callback payload", zap.Error(err))
		return payment.Rejected("")
	}
	ref := fields["outTradeNo"]
	if signature == "" {
		signature = fields[signField]
	}

	if g.secretKey == "" || signature == "" || fields["merchantId"] != g.merchantID {
		log.Warn("callback not verifiable for this merchant", zap.String("reference", ref))
		return payment.Rejected(ref)
	}
	if !hmac.Equal([]byte(g.sign(fields)), []byte(signature)) {
		log.Warn("callback signature rejected", zap.String("reference", ref))
		return payment.Rejected(ref)
	}

	amount, err := decimal.NewFromString(fields["amount"])
	if err != nil {
		return payment.Rejected(ref)
	}

	return payment.CallbackResult{
		Success:         true,
		ReferenceNumber: ref,
		GatewayRef:      fields["tradeNo"],
		Amount:          amount,
		Status:          mapTradeStatus(fields["tradeStatus"]),
		ProviderStatus:  fields["tradeStatus"],
	}
}

func (g *Gateway) CheckStatus(ctx context.Context, referenceNumber string) payment.StatusResult {
	pending := payment.StatusResult{Status: payment.StatusPending}
	if g.merchantID == "" || g.secretKey == "" {
		return pending
	}

	resp, _, err := g.call(ctx, "/trade/query", "status", map[string]string{"outTradeNo": referenceNumber})
	if err != nil {
		logger.FromCtx(ctx).Warn("status query failed, treating as pending",
			zap.String("gateway", string(payment.GatewayWalletB)),
			zap.String("reference", referenceNumber),
			zap.Error(err),
		)
		return pending
	}

	amount, _ := decimal.NewFromString(resp["amount"])
	return payment.StatusResult{
		Status:         mapTradeStatus(resp["tradeStatus"]),
		GatewayRef:     resp["tradeNo"],
		Amount:         amount,
		ProviderStatus: resp["tradeStatus"],
	}
}

func mapTradeStatus(s string) payment.Status {
	switch strings.ToUpper(s) {
	case "INITIAL":
		return payment.StatusPending
	case "PAYING":
		return payment.StatusProcessing
	case "SUCCESS":
		return payment.StatusCompleted
	case "FAIL", "CLOSED":
		return payment.StatusFailed
	case "TIMEOUT":
		return payment.StatusExpired
	case "REFUND":
		return payment.StatusRefunded
	default:
		return payment.StatusPending
	}
}

// decodeFields flattens a JSON object into string values. Numbers keep their
// literal text so the signing string matches what the sender signed.
func decodeFields(raw []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, err
			}
			out[k] = string(b)
		}
	}
	return out, nil
}
