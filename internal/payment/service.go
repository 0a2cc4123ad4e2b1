package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"paygate-be/internal/db"
	"paygate-be/internal/invoice"
	"paygate-be/internal/logger"
	"paygate-be/internal/metrics"
	"paygate-be/internal/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const maxReferenceAttempts = 3

type Service interface {
	Initiate(ctx context.Context, gateway GatewayKind, invoiceID, tenantID uuid.UUID, opts InitiateOptions) (*InitiateResult, error)
	HandleCallback(ctx context.Context, gateway GatewayKind, payload []byte, signature string) (*OnlinePayment, error)
	CheckStatus(ctx context.Context, tenantID, paymentID uuid.UUID) (*OnlinePayment, error)
	GetBankList(ctx context.Context, gateway GatewayKind) ([]Bank, error)
	// ReconcileStale polls the gateway for non-terminal payments created before cutoff.
	ReconcileStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type ServiceConfig struct {
	GatewayTimeout       time.Duration
	RejectAmountMismatch bool
	// CallbackURL builds the public webhook URL handed to each gateway.
	CallbackURL        func(GatewayKind) string
	DefaultRedirectURL string
}

type service struct {
	repo     Repository
	ledger   invoice.Ledger
	registry *Registry
	events   EventPublisher
	cfg      ServiceConfig
	now      func() time.Time
}

func NewService(repo Repository, ledger invoice.Ledger, registry *Registry, events EventPublisher, cfg ServiceConfig) Service {
	if events == nil {
		events = NopPublisher{}
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 30 * time.Second
	}
	if cfg.CallbackURL == nil {
		cfg.CallbackURL = func(GatewayKind) string { return "" }
	}
	return &service{
		repo:     repo,
		ledger:   ledger,
		registry: registry,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *service) Initiate(ctx context.Context, gateway GatewayKind, invoiceID, tenantID uuid.UUID, opts InitiateOptions) (*InitiateResult, error) {
	ctx, span := tracer.Start(ctx, "payment.Initiate")
	defer span.End()
	span.SetAttributes(attribute.String("gateway", string(gateway)), attribute.String("invoice_id", invoiceID.String()))

	log := logger.FromCtx(ctx).With(
		zap.String("gateway", string(gateway)),
		zap.String("invoice_id", invoiceID.String()),
	)

	provider, err := s.registry.Get(gateway)
	if err != nil {
		metrics.RecordInitiated(string(gateway), "rejected")
		return nil, err
	}

	inv, err := s.ledger.GetInvoice(ctx, tenantID, invoiceID)
	if errors.Is(err, invoice.ErrNotFound) {
		metrics.RecordInitiated(string(gateway), "rejected")
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	if err := inv.Payable(); err != nil {
		metrics.RecordInitiated(string(gateway), "rejected")
		return nil, fmt.Errorf("%w: %v", ErrInvoiceNotPayable, err)
	}

	description := opts.Description
	if description == "" {
		description = "Payment for invoice " + inv.Number
	}
	redirectURL := opts.RedirectURL
	if redirectURL == "" {
		redirectURL = s.cfg.DefaultRedirectURL
	}

	p := &OnlinePayment{
		TenantID:    tenantID,
		InvoiceID:   &inv.ID,
		Gateway:     gateway,
		Status:      StatusPending,
		Amount:      inv.Balance,
		Currency:    inv.Currency,
		BankCode:    utils.NilIfEmpty(opts.BankCode),
		BuyerEmail:  utils.NilIfEmpty(opts.BuyerEmail),
		BuyerName:   utils.NilIfEmpty(opts.BuyerName),
		Description: utils.NilIfEmpty(description),
	}

	// The PENDING row must exist before the gateway hears about the reference.
	for attempt := 1; ; attempt++ {
		p.ID = uuid.Nil
		p.ReferenceNumber = utils.GenerateReferenceNumber()
		err = s.repo.Create(ctx, p)
		if !errors.Is(err, ErrDuplicateReference) || attempt == maxReferenceAttempts {
			break
		}
		log.Warn("reference number collision, regenerating", zap.Int("attempt", attempt))
	}
	if err != nil {
		return nil, fmt.Errorf("create online payment: %w", err)
	}

	log = log.With(zap.String("reference", p.ReferenceNumber), zap.String("payment_id", p.ID.String()))
	span.SetAttributes(attribute.String("reference", p.ReferenceNumber))

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	res, err := provider.CreatePayment(gwCtx, CreatePaymentParams{
		Amount:          p.Amount,
		Currency:        p.Currency,
		ReferenceNumber: p.ReferenceNumber,
		Description:     description,
		BuyerEmail:      opts.BuyerEmail,
		BuyerName:       opts.BuyerName,
		BankCode:        opts.BankCode,
		CallbackURL:     s.cfg.CallbackURL(gateway),
		RedirectURL:     redirectURL,
	})
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway create failed")
		log.Error("gateway rejected payment", zap.Error(err))
		metrics.RecordInitiated(string(gateway), "failed")

		if _, markErr := s.apply(context.WithoutCancel(ctx), p, StatusUpdate{Status: StatusFailed, ErrorMessage: err.Error()}); markErr != nil {
			log.Error("failed to mark payment failed", zap.Error(markErr))
		}
		return nil, fmt.Errorf("create %s payment: %w", gateway, err)
	}

	if err := s.repo.MarkProcessing(ctx, p.ID, res.TransactionID); err != nil {
		// The gateway already holds the reference; a callback or poll will still find the row.
		log.Error("failed to mark payment processing", zap.Error(err))
	}

	metrics.RecordInitiated(string(gateway), "created")
	log.Info("online payment initiated", zap.String("amount", p.Amount.String()))

	return &InitiateResult{
		PaymentID:       p.ID,
		ReferenceNumber: p.ReferenceNumber,
		PaymentURL:      res.PaymentURL,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Gateway:         gateway,
	}, nil
}

func (s *service) HandleCallback(ctx context.Context, gateway GatewayKind, payload []byte, signature string) (*OnlinePayment, error) {
	ctx, span := tracer.Start(ctx, "payment.HandleCallback")
	defer span.End()
	span.SetAttributes(attribute.String("gateway", string(gateway)))

	provider, err := s.registry.Get(gateway)
	if err != nil {
		return nil, err
	}

	result := provider.VerifyCallback(ctx, payload, signature)
	span.SetAttributes(attribute.String("reference", result.ReferenceNumber), attribute.Bool("verified", result.Success))

	log := logger.FromCtx(ctx).With(
		zap.String("gateway", string(gateway)),
		zap.String("reference", result.ReferenceNumber),
	)

	sum := sha256.Sum256(payload)
	logID, duplicate, err := s.repo.SaveCallbackLog(ctx, CallbackLog{
		Gateway:         gateway,
		ReferenceNumber: result.ReferenceNumber,
		PayloadHash:     hex.EncodeToString(sum[:]),
		Payload:         payload,
		SignatureValid:  result.Success,
	})
	if err != nil {
		log.Error("failed to record callback", zap.Error(err))
	}
	if duplicate {
		log.Info("callback payload seen before")
	}

	p, err := s.processCallback(ctx, gateway, result, payload)

	outcome := "processed"
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	case !result.Success:
		outcome = "invalid_signature"
	}
	metrics.RecordCallback(string(gateway), outcome)

	if logID != 0 {
		var markErr error
		if err != nil {
			markErr = s.repo.MarkCallbackFailed(ctx, logID, err.Error())
		} else {
			markErr = s.repo.MarkCallbackProcessed(ctx, logID)
		}
		if markErr != nil {
			log.Warn("failed to update callback record", zap.Int64("callback_id", logID), zap.Error(markErr))
		}
	}
	return p, err
}

func (s *service) processCallback(ctx context.Context, gateway GatewayKind, result CallbackResult, payload []byte) (*OnlinePayment, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("gateway", string(gateway)),
		zap.String("reference", result.ReferenceNumber),
	)

	if result.ReferenceNumber == "" {
		log.Warn("callback without reference number")
		return nil, ErrPaymentNotFound
	}

	p, err := s.repo.GetByReference(ctx, result.ReferenceNumber)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			log.Warn("callback for unknown reference")
		}
		return nil, err
	}
	if p.Gateway != gateway {
		log.Warn("callback gateway does not match payment", zap.String("payment_gateway", string(p.Gateway)))
		return nil, ErrGatewayMismatch
	}

	if !result.Success {
		// An unverified notification never moves state; the gateway's retry or a status poll will.
		log.Warn("callback failed verification, ignoring", zap.String("status", string(p.Status)))
		return p, nil
	}

	if p.Status.IsTerminal() {
		log.Info("duplicate callback for terminal payment", zap.String("status", string(p.Status)))
		return p, nil
	}

	if err := s.checkAmount(log, p, result.Status, result.Amount.String(), result.Amount.IsZero() || result.Amount.Equal(p.Amount)); err != nil {
		return p, err
	}

	log.Info("callback verified",
		zap.String("provider_status", result.ProviderStatus),
		zap.String("status", string(result.Status)),
	)

	return s.apply(ctx, p, StatusUpdate{
		Status:          result.Status,
		GatewayRef:      result.GatewayRef,
		CallbackPayload: payload,
	})
}

func (s *service) CheckStatus(ctx context.Context, tenantID, paymentID uuid.UUID) (*OnlinePayment, error) {
	ctx, span := tracer.Start(ctx, "payment.CheckStatus")
	defer span.End()

	p, err := s.repo.GetByID(ctx, tenantID, paymentID)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, p)
}

// refresh polls the gateway for a non-terminal payment and applies the answer.
func (s *service) refresh(ctx context.Context, p *OnlinePayment) (*OnlinePayment, error) {
	if p.Status.IsTerminal() {
		return p, nil
	}

	log := logger.FromCtx(ctx).With(
		zap.String("gateway", string(p.Gateway)),
		zap.String("reference", p.ReferenceNumber),
		zap.String("payment_id", p.ID.String()),
	)

	provider, err := s.registry.Get(p.Gateway)
	if err != nil {
		return nil, err
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	res := provider.CheckStatus(gwCtx, p.ReferenceNumber)
	cancel()

	if res.Status == StatusPending || res.Status == p.Status {
		return p, nil
	}

	if err := s.checkAmount(log, p, res.Status, res.Amount.String(), res.Amount.IsZero() || res.Amount.Equal(p.Amount)); err != nil {
		return p, err
	}

	log.Info("gateway status polled", zap.String("provider_status", res.ProviderStatus), zap.String("status", string(res.Status)))
	return s.apply(ctx, p, StatusUpdate{Status: res.Status, GatewayRef: res.GatewayRef})
}

func (s *service) checkAmount(log *zap.Logger, p *OnlinePayment, target Status, reported string, matches bool) error {
	if target != StatusCompleted || matches {
		return nil
	}
	if s.cfg.RejectAmountMismatch {
		log.Error("gateway amount differs from payment amount, not settling",
			zap.String("expected", p.Amount.String()),
			zap.String("reported", reported),
		)
		metrics.RecordReconciliation("amount_mismatch")
		return ErrAmountMismatch
	}
	log.Warn("gateway amount differs from payment amount, settling snapshot amount",
		zap.String("expected", p.Amount.String()),
		zap.String("reported", reported),
	)
	return nil
}

// apply runs the locked status transition and, on the first COMPLETED, the settlement.
func (s *service) apply(ctx context.Context, p *OnlinePayment, upd StatusUpdate) (*OnlinePayment, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("reference", p.ReferenceNumber),
		zap.String("payment_id", p.ID.String()),
	)
	previous := p.Status

	updated, applied, err := s.repo.ApplyUpdate(ctx, p.ID, upd, s.settle)
	if err != nil {
		if upd.Status == StatusCompleted {
			metrics.RecordReconciliation("failed")
		}
		log.Error("status update failed, payment left for retry", zap.Error(err))
		return nil, err
	}
	if !applied {
		return updated, nil
	}

	metrics.RecordTransition(string(updated.Gateway), string(updated.Status))
	if updated.Status == StatusCompleted && updated.InvoiceID != nil {
		metrics.RecordReconciliation("settled")
	}
	log.Info("payment status changed",
		zap.String("from", string(previous)),
		zap.String("to", string(updated.Status)),
	)

	if updated.Status.IsTerminal() {
		if err := s.events.PublishStatusChanged(ctx, newStatusChangedEvent(updated, previous)); err != nil {
			log.Warn("failed to publish payment event", zap.Error(err))
		}
	}
	return updated, nil
}

func (s *service) settle(ctx context.Context, tx db.DBTX, p *OnlinePayment) error {
	if p.InvoiceID == nil {
		return nil
	}
	_, err := s.ledger.Settle(ctx, tx, invoice.Settlement{
		TenantID:        p.TenantID,
		InvoiceID:       *p.InvoiceID,
		OnlinePaymentID: p.ID,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Method:          string(p.Gateway),
		Reference:       p.ReferenceNumber,
		ReceivedAt:      s.now().UTC(),
	})
	return err
}

func (s *service) GetBankList(ctx context.Context, gateway GatewayKind) ([]Bank, error) {
	provider, err := s.registry.Get(gateway)
	if err != nil {
		return nil, err
	}
	lister, ok := provider.(BankLister)
	if !ok {
		return nil, fmt.Errorf("%s bank list: %w", gateway, ErrCapabilityNotSupported)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	return lister.GetBankList(gwCtx)
}

func (s *service) ReconcileStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	ctx, span := tracer.Start(ctx, "payment.ReconcileStale")
	defer span.End()

	stale, err := s.repo.ListStale(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range stale {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		p := &stale[i]
		updated, err := s.refresh(ctx, p)
		if err != nil {
			logger.FromCtx(ctx).Warn("stale payment check failed",
				zap.String("reference", p.ReferenceNumber),
				zap.Error(err),
			)
			continue
		}
		if updated.Status != p.Status {
			changed++
		}
	}
	span.SetAttributes(attribute.Int("checked", len(stale)), attribute.Int("changed", changed))
	return changed, nil
}
