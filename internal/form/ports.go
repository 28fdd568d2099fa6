// Package form implements the transaction submission form controller: a
// debounced, gated state machine between raw user input and the transaction
// preparation, submission and confirmation services.
package form

import (
	"context"
	"time"
)

// Field identifies a form input field.
type Field string

const (
	// FieldRecipient is the destination address field.
	FieldRecipient Field = "recipient"
	// FieldAmount is the ether amount field.
	FieldAmount Field = "amount"
)

// Status is the confirmation status of the controller's current submission.
type Status string

const (
	// StatusNotStarted means nothing has been submitted yet.
	StatusNotStarted Status = "NOT_STARTED"
	// StatusPending means a submission is awaiting network confirmation.
	StatusPending Status = "PENDING"
	// StatusSucceeded means the last submission was confirmed.
	StatusSucceeded Status = "SUCCEEDED"
	// StatusFailed means the last submission failed.
	StatusFailed Status = "FAILED"
)

// PreparedConfig holds the pre-computed parameters needed to submit a
// transaction. It is produced by the Preparer from the debounced input and
// is required before submission is allowed.
type PreparedConfig struct {
	Recipient  string
	Amount     float64
	AmountText string
	Fee        float64
	GasPrice   float64
	GasLimit   uint64
	Nonce      string
	PreparedAt time.Time
}

// Receipt is the handle returned once a submission is accepted.
type Receipt struct {
	TxID        string
	Hash        string
	SubmittedAt time.Time
}

// Preparer derives a prepared transaction config from raw form inputs.
// A nil config with a nil error means the inputs do not yet describe a
// preparable transaction (e.g. an empty field).
type Preparer interface {
	Prepare(ctx context.Context, recipient, amount string) (*PreparedConfig, error)
}

// Submitter broadcasts a prepared transaction and returns its receipt.
type Submitter interface {
	Submit(ctx context.Context, cfg *PreparedConfig) (*Receipt, error)
}

// Watcher asynchronously yields the confirmation outcome for a submitted
// transaction. The callback is invoked at most once with StatusSucceeded or
// StatusFailed.
type Watcher interface {
	Watch(ctx context.Context, txID string, fn func(status Status, reason string)) error
}
