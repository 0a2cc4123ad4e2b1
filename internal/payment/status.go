package payment

import "strings"

// Status is the canonical lifecycle state every gateway adapter maps into.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusExpired    Status = "EXPIRED"
	StatusRefunded   Status = "REFUNDED"
)

var AllStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusExpired,
	StatusRefunded,
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

// Next resolves the status to store when a gateway reports target for a payment currently in s.
// Terminal states never move, and a report of PENDING never downgrades an accepted payment.
func (s Status) Next(target Status) Status {
	if s.IsTerminal() || !target.Valid() {
		return s
	}
	if target == StatusPending {
		return s
	}
	return target
}

// GatewayKind identifies one of the supported payment networks.
type GatewayKind string

const (
	GatewayBankRedirect GatewayKind = "BANK_REDIRECT"
	GatewayQRBank       GatewayKind = "QR_BANK"
	GatewayWalletA      GatewayKind = "WALLET_A"
	GatewayWalletB      GatewayKind = "WALLET_B"
)

var AllGateways = []GatewayKind{
	GatewayBankRedirect,
	GatewayQRBank,
	GatewayWalletA,
	GatewayWalletB,
}

func (k GatewayKind) Valid() bool {
	switch k {
	case GatewayBankRedirect, GatewayQRBank, GatewayWalletA, GatewayWalletB:
		return true
	}
	return false
}

// ParseGatewayKind accepts the canonical name in any case, with '-' or '_' separators.
func ParseGatewayKind(raw string) (GatewayKind, error) {
	k := GatewayKind(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_")))
	if !k.Valid() {
		return "", ErrUnsupportedGateway
	}
	return k, nil
}
