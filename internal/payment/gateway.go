package payment

import "context"

// Provider is the contract every gateway adapter implements.
//
// VerifyCallback never fails for a bad signature: it reports Success=false and
// Status=FAILED so webhook handling stays uniform. CheckStatus is best-effort and
// reports PENDING on any failure instead of returning an error.
type Provider interface {
	Kind() GatewayKind
	CreatePayment(ctx context.Context, params CreatePaymentParams) (*CreatePaymentResult, error)
	VerifyCallback(ctx context.Context, payload []byte, signature string) CallbackResult
	CheckStatus(ctx context.Context, referenceNumber string) StatusResult
}

// BankLister is the optional capability of listing selectable banks.
type BankLister interface {
	GetBankList(ctx context.Context) ([]Bank, error)
}

// Rejected is the CallbackResult for a notification that failed verification.
func Rejected(reference string) CallbackResult {
	return CallbackResult{Success: false, ReferenceNumber: reference, Status: StatusFailed}
}
