package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// GenerateReferenceNumber returns the idempotency key correlating an online payment with every
// gateway-side artifact. It is alphanumeric and at most 24 characters so it fits the strictest
// order-id field among the supported networks.
func GenerateReferenceNumber() string {
	now := time.Now().UTC()

	datePart := now.Format("060102150405")
	millis := now.Nanosecond() / int(time.Millisecond)

	// 8-digit cryptographic random
	n, err := rand.Int(rand.Reader, big.NewInt(100000000))
	if err != nil {
		// fallback: time-based entropy
		n = big.NewInt(now.UnixNano() % 100000000)
	}

	return fmt.Sprintf("OP%s%03d%08d", datePart, millis, n.Int64())
}
