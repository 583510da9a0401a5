// Package payment defines the payment gateway contract used for capturing
// winning amounts, plus a simulated gateway for local runs and tests.
package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Outcome is the final result of a capture as reported by the gateway.
type Outcome string

const (
	OutcomeCaptured Outcome = "captured"
	OutcomeDeclined Outcome = "declined"
)

// Valid reports whether o is a known outcome
func (o Outcome) Valid() bool {
	return o == OutcomeCaptured || o == OutcomeDeclined
}

// CaptureRequest asks the gateway to charge a user.
// Requests with the same IdempotencyKey charge at most once.
type CaptureRequest struct {
	UserID         string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// Validate checks the request before it is submitted.
func (r CaptureRequest) Validate() error {
	switch {
	case r.IdempotencyKey == "":
		return fmt.Errorf("payment: empty idempotency key")
	case r.UserID == "":
		return fmt.Errorf("payment: empty user id")
	case !r.Amount.IsPositive():
		return fmt.Errorf("payment: non-positive amount %s", r.Amount.String())
	}
	return nil
}

// CaptureResult is delivered asynchronously once the gateway settles a capture.
type CaptureResult struct {
	IdempotencyKey string  `json:"idempotency_key"`
	Outcome        Outcome `json:"outcome"`
	Reason         string  `json:"reason,omitempty"`
	ProviderRef    string  `json:"provider_ref,omitempty"`
}

// Gateway submits captures. A nil error means the gateway accepted the
// request; the outcome arrives later through a CaptureResult callback.
type Gateway interface {
	Capture(ctx context.Context, req CaptureRequest) (providerRef string, err error)
}

// ResultHandler consumes capture results.
type ResultHandler func(ctx context.Context, result CaptureResult) error
