// internal/form/controller.go
package form

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmorse17/txflow/pkg/errors"
	"github.com/dmorse17/txflow/pkg/logging"
	"github.com/dmorse17/txflow/pkg/metrics"
)

// Sentinel errors returned by Submit when its preconditions fail.
// A rejected Submit never changes controller state; callers gate the
// control on CanSubmit instead of relying on these.
var (
	// ErrNotReady means a field is empty or no prepared config is available.
	ErrNotReady = errors.NewFormError(errors.FormErrNotPrepared, "form is not ready for submission", nil)
	// ErrSubmitPending means a prior submission is still awaiting confirmation.
	ErrSubmitPending = errors.NewFormError(errors.FormErrSubmitPending, "a submission is already pending", nil)
	// ErrUnknownField means the field name is not part of the form.
	ErrUnknownField = errors.NewFormError(errors.FormErrUnknownField, "unknown form field", nil)
)

// Config holds the dependencies and tuning for a Controller.
type Config struct {
	// Debounce is the quiescence window applied to raw edits before a
	// preparation is triggered.
	Debounce  time.Duration
	Preparer  Preparer
	Submitter Submitter
	Watcher   Watcher
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

// Controller mediates between raw user keystrokes and the transaction
// services. Raw input is committed to the debounced state only after the
// quiescence window elapses with no further edits (last write wins);
// each commit triggers a re-preparation, and submission is gated on both
// fields being non-empty, a prepared config existing, and no submission
// currently pending.
type Controller struct {
	mu sync.Mutex

	ctx       context.Context
	debounce  time.Duration
	preparer  Preparer
	submitter Submitter
	watcher   Watcher
	logger    *logging.Logger
	metrics   *metrics.Metrics

	raw       map[Field]string
	debounced map[Field]string
	timers    map[Field]*time.Timer

	// prepGen invalidates in-flight preparations: a result is applied
	// only if its generation still matches.
	prepGen  uint64
	prepared *PreparedConfig

	status      Status
	receipt     *Receipt
	submitted   *PreparedConfig
	submittedAt time.Time
	message     string
	lastErr     error

	lastActive time.Time
	closed     bool
}

// State is a point-in-time view of the controller for the UI surface.
type State struct {
	Recipient          string `json:"recipient"`
	Amount             string `json:"amount"`
	DebouncedRecipient string `json:"debounced_recipient"`
	DebouncedAmount    string `json:"debounced_amount"`
	Prepared           bool   `json:"prepared"`
	CanSubmit          bool   `json:"can_submit"`
	Status             Status `json:"status"`
	TxID               string `json:"tx_id,omitempty"`
	TxHash             string `json:"tx_hash,omitempty"`
	Message            string `json:"message,omitempty"`
	Error              string `json:"error,omitempty"`
}

// NewController creates a new form controller.
func NewController(ctx context.Context, cfg Config) *Controller {
	return &Controller{
		ctx:        ctx,
		debounce:   cfg.Debounce,
		preparer:   cfg.Preparer,
		submitter:  cfg.Submitter,
		watcher:    cfg.Watcher,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		raw:        map[Field]string{FieldRecipient: "", FieldAmount: ""},
		debounced:  map[Field]string{FieldRecipient: "", FieldAmount: ""},
		timers:     make(map[Field]*time.Timer),
		status:     StatusNotStarted,
		lastActive: time.Now(),
	}
}

// SetField updates the raw value of a form field immediately and resets the
// field's debounce timer. Any string is accepted.
func (c *Controller) SetField(field Field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.NewFormError(errors.FormErrSessionNotFound, "form session is closed", nil)
	}
	if field != FieldRecipient && field != FieldAmount {
		return ErrUnknownField
	}

	c.raw[field] = value
	c.lastActive = time.Now()
	c.metrics.FormFieldEdits.WithLabelValues(string(field)).Inc()

	if t, ok := c.timers[field]; ok {
		t.Stop()
	}
	c.timers[field] = time.AfterFunc(c.debounce, func() {
		c.commitField(field)
	})

	return nil
}

// commitField copies the latest raw value into the debounced state once the
// quiescence window has elapsed, then triggers a re-preparation.
func (c *Controller) commitField(field Field) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.debounced[field] = c.raw[field]
	c.metrics.DebounceCommits.WithLabelValues(string(field)).Inc()

	c.prepGen++
	gen := c.prepGen
	recipient := c.debounced[FieldRecipient]
	amount := c.debounced[FieldAmount]
	c.mu.Unlock()

	go c.runPrepare(gen, recipient, amount)
}

// runPrepare invokes the preparation service and applies the result unless a
// newer debounced state has superseded it.
func (c *Controller) runPrepare(gen uint64, recipient, amount string) {
	start := time.Now()
	cfg, err := c.preparer.Prepare(c.ctx, recipient, amount)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.prepGen {
		c.metrics.PreparationsDropped.Inc()
		return
	}

	if err != nil {
		c.prepared = nil
		c.lastErr = err
		c.metrics.PreparationCount.WithLabelValues("error").Inc()
		c.metrics.PreparationDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		c.logger.Debug("Transaction preparation failed",
			"recipient", recipient, "amount", amount, "error", err)
		return
	}

	if cfg == nil {
		// Inputs do not describe a preparable transaction yet
		c.prepared = nil
		c.metrics.PreparationCount.WithLabelValues("skipped").Inc()
		return
	}

	c.prepared = cfg
	c.lastErr = nil
	c.metrics.PreparationCount.WithLabelValues("ok").Inc()
	c.metrics.PreparationDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
}

// CanSubmit reports whether a submission would currently pass its
// preconditions. The UI uses this to enable or disable the submit control.
func (c *Controller) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canSubmitLocked()
}

func (c *Controller) canSubmitLocked() bool {
	return c.raw[FieldRecipient] != "" &&
		c.raw[FieldAmount] != "" &&
		c.prepared != nil &&
		c.status != StatusPending &&
		!c.closed
}

// Submit broadcasts the prepared transaction. If the preconditions fail the
// controller state is left unchanged and a sentinel error is returned. On
// acceptance the status transitions to Pending and the receipt is recorded;
// the confirmation watcher then drives the terminal transition.
func (c *Controller) Submit(ctx context.Context) (*Receipt, error) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil, errors.NewFormError(errors.FormErrSessionNotFound, "form session is closed", nil)
	}
	if c.status == StatusPending {
		c.mu.Unlock()
		return nil, ErrSubmitPending
	}
	if c.raw[FieldRecipient] == "" || c.raw[FieldAmount] == "" || c.prepared == nil {
		c.mu.Unlock()
		return nil, ErrNotReady
	}

	// Claim the pending slot before releasing the lock so concurrent
	// Submit calls are rejected while the broadcast is in flight.
	cfg := c.prepared
	c.status = StatusPending
	c.submitted = cfg
	c.submittedAt = time.Now()
	c.message = ""
	c.lastErr = nil
	c.lastActive = time.Now()
	c.mu.Unlock()

	receipt, err := c.submitter.Submit(ctx, cfg)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.status = StatusFailed
		c.lastErr = err
		c.message = fmt.Sprintf("Failed to send %s ether to %s", cfg.AmountText, cfg.Recipient)
		c.metrics.SubmissionCount.WithLabelValues("rejected").Inc()
		c.logger.Error("Transaction submission failed",
			"recipient", cfg.Recipient, "amount", cfg.AmountText, "error", err)
		return nil, errors.FormWrap(err, errors.OpSubmit, "submission rejected")
	}

	c.receipt = receipt
	c.metrics.SubmissionCount.WithLabelValues("accepted").Inc()
	c.metrics.SubmissionAmount.WithLabelValues("accepted").Observe(cfg.Amount)
	c.logger.Info("Transaction submitted",
		"tx_id", receipt.TxID, "recipient", cfg.Recipient, "amount", cfg.AmountText)

	if err := c.watcher.Watch(c.ctx, receipt.TxID, c.OnConfirmation); err != nil {
		// Without a watch the confirmation would never arrive; fail the
		// submission rather than leave it pending forever.
		c.status = StatusFailed
		c.lastErr = err
		c.message = "Transaction submitted but confirmation tracking failed"
		c.logger.Error("Failed to watch transaction", "tx_id", receipt.TxID, "error", err)
		return receipt, errors.FormWrap(err, errors.OpSubmit, "confirmation watch failed")
	}

	return receipt, nil
}

// OnConfirmation is the confirmation watcher callback. Updates arriving when
// no submission is pending are ignored.
func (c *Controller) OnConfirmation(status Status, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusPending {
		return
	}
	if status != StatusSucceeded && status != StatusFailed {
		return
	}

	c.status = status
	latency := time.Since(c.submittedAt)

	if status == StatusSucceeded {
		c.message = fmt.Sprintf("Successfully sent %s ether to %s",
			c.submitted.AmountText, c.submitted.Recipient)
		c.metrics.ConfirmationCount.WithLabelValues("succeeded").Inc()
		c.metrics.ConfirmationLatency.WithLabelValues("succeeded").Observe(latency.Seconds())
		c.logger.Info("Transaction confirmed", "tx_id", c.receipt.TxID, "latency", latency)
		return
	}

	c.message = fmt.Sprintf("Failed to send %s ether to %s",
		c.submitted.AmountText, c.submitted.Recipient)
	if reason != "" {
		c.lastErr = errors.NewFormError(errors.FormErrSubmissionFailed, reason, nil)
	}
	c.metrics.ConfirmationCount.WithLabelValues("failed").Inc()
	c.metrics.ConfirmationLatency.WithLabelValues("failed").Observe(latency.Seconds())
	c.logger.Warn("Transaction failed", "tx_id", c.receipt.TxID, "reason", reason)
}

// Snapshot returns a point-in-time view of the controller state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{
		Recipient:          c.raw[FieldRecipient],
		Amount:             c.raw[FieldAmount],
		DebouncedRecipient: c.debounced[FieldRecipient],
		DebouncedAmount:    c.debounced[FieldAmount],
		Prepared:           c.prepared != nil,
		CanSubmit:          c.canSubmitLocked(),
		Status:             c.status,
		Message:            c.message,
	}
	if c.receipt != nil {
		st.TxID = c.receipt.TxID
		st.TxHash = c.receipt.Hash
	}
	if c.lastErr != nil {
		st.Error = c.lastErr.Error()
	}
	return st
}

// Status returns the current confirmation status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastActive returns the time of the last user interaction.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Close stops the controller's timers and rejects further operations.
// In-flight preparation results are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for _, t := range c.timers {
		t.Stop()
	}
}
