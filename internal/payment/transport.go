package payment

import (
	"fmt"
	"io"
	"net/http"

	"paygate-be/internal/logger"
	"paygate-be/internal/metrics"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("paygate/payment")

// maxResponseBytes caps how much of a gateway response is buffered.
const maxResponseBytes = 1 << 20

// Send executes req against a gateway and returns the body of a 2xx response.
// Any other HTTP status becomes a *GatewayError carrying the raw body.
func Send(client *http.Client, kind GatewayKind, operation string, req *http.Request) ([]byte, int, error) {
	ctx, span := tracer.Start(req.Context(), "gateway."+operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("gateway", string(kind)),
		attribute.String("http.method", req.Method),
		attribute.String("http.path", req.URL.Path),
	)

	log := logger.FromCtx(ctx).With(
		zap.String("gateway", string(kind)),
		zap.String("operation", operation),
	)

	timer := metrics.StartTimer()
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		metrics.ObserveGatewayRequest(string(kind), operation, 0, timer.Duration())
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		log.Error("gateway request failed", zap.Error(err))
		return nil, 0, fmt.Errorf("%s %s: %w", kind, operation, err)
	}
	defer resp.Body.Close()
	metrics.ObserveGatewayRequest(string(kind), operation, resp.StatusCode, timer.Duration())
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		log.Error("failed to read gateway response", zap.Error(err))
		return nil, resp.StatusCode, fmt.Errorf("failed to read %s response: %w", kind, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		span.SetStatus(codes.Error, "non-success status")
		log.Error("gateway returned non-success status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", body),
		)
		return nil, resp.StatusCode, &GatewayError{Gateway: kind, HTTPStatus: resp.StatusCode, Raw: body}
	}

	return body, resp.StatusCode, nil
}

// FormatAmount renders an amount the way every supported network expects it: two decimals, no grouping.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
