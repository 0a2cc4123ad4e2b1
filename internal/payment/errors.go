package payment

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedGateway     = errors.New("unsupported gateway")
	ErrInvoiceNotPayable      = errors.New("invoice is not payable")
	ErrInvoiceNotFound        = errors.New("invoice not found")
	ErrPaymentNotFound        = errors.New("online payment not found")
	ErrGatewayMismatch        = errors.New("callback gateway does not match payment")
	ErrCapabilityNotSupported = errors.New("capability not supported by gateway")
	ErrAmountMismatch         = errors.New("gateway amount does not match payment amount")
	ErrCredentialsMissing     = errors.New("gateway credentials not configured")
	ErrDuplicateReference     = errors.New("reference number already exists")
)

// IsValidation reports whether err is a caller error that caused no state change.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnsupportedGateway) ||
		errors.Is(err, ErrInvoiceNotPayable) ||
		errors.Is(err, ErrGatewayMismatch)
}

// GatewayError is a non-success answer from a remote payment network.
type GatewayError struct {
	Gateway    GatewayKind
	HTTPStatus int
	Code       string
	Message    string
	Raw        []byte
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s gateway error: code=%s http=%d: %s", e.Gateway, e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s gateway error: http=%d: %s", e.Gateway, e.HTTPStatus, string(e.Raw))
}

func IsGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}
