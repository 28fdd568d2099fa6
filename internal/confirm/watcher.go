// Package confirm implements the confirmation watch service. It consumes the
// confirmed and failed transaction topics, updates the stored status, and
// dispatches the outcome to whichever form controller is watching the
// transaction.
package confirm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/dmorse17/txflow/internal/form"
	"github.com/dmorse17/txflow/internal/transaction"
	"github.com/dmorse17/txflow/pkg/logging"
)

// StatusStore persists confirmation status transitions and serves the
// stored status back to late watch registrations.
type StatusStore interface {
	GetTransaction(ctx context.Context, txID string) (*transaction.Transaction, error)
	UpdateStatus(ctx context.Context, txID string, status transaction.Status, reason string) error
}

// Watcher consumes confirmation topics and dispatches outcomes to watchers.
type Watcher struct {
	consumer *kafka.Consumer
	store    StatusStore
	logger   *logging.Logger

	confirmedTopic string
	failedTopic    string

	mu      sync.Mutex
	watches map[string]func(status form.Status, reason string)
}

var _ form.Watcher = (*Watcher)(nil)

// NewWatcher creates a new confirmation watcher.
func NewWatcher(brokers, group, confirmedTopic, failedTopic string, store StatusStore, logger *logging.Logger) (*Watcher, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"group.id":          group,
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return &Watcher{
		consumer:       consumer,
		store:          store,
		logger:         logger,
		confirmedTopic: confirmedTopic,
		failedTopic:    failedTopic,
		watches:        make(map[string]func(status form.Status, reason string)),
	}, nil
}

// Watch registers a callback for a transaction's confirmation outcome.
// The callback fires at most once.
func (w *Watcher) Watch(ctx context.Context, txID string, fn func(status form.Status, reason string)) error {
	if txID == "" {
		return fmt.Errorf("transaction ID is required")
	}

	w.mu.Lock()
	if _, exists := w.watches[txID]; exists {
		w.mu.Unlock()
		return fmt.Errorf("transaction %s is already being watched", txID)
	}
	w.watches[txID] = fn
	w.mu.Unlock()

	// A confirmation consumed before this registration had no callback to
	// land on. Check the stored status so such an outcome still fires.
	// The dispatch runs asynchronously since callers may hold their own
	// locks inside the callback.
	tx, err := w.store.GetTransaction(ctx, txID)
	if err != nil || tx == nil {
		return nil
	}
	if tx.Status != transaction.Pending {
		go w.dispatch(txID, tx.Status, tx.FailureReason)
	}
	return nil
}

// Run consumes confirmation topics until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	err := w.consumer.SubscribeTopics([]string{w.confirmedTopic, w.failedTopic}, nil)
	if err != nil {
		w.logger.Error("Failed to subscribe to confirmation topics", "error", err)
		return
	}

	w.logger.Info("Confirmation watcher started",
		"confirmed_topic", w.confirmedTopic, "failed_topic", w.failedTopic)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutting down confirmation watcher")
			w.consumer.Close()
			return

		default:
			msg, err := w.consumer.ReadMessage(100 * time.Millisecond)
			if err != nil {
				if err.(kafka.Error).Code() == kafka.ErrTimedOut {
					continue
				}
				w.logger.Error("Error reading confirmation message", "error", err)
				continue
			}

			w.processMessage(ctx, msg)
		}
	}
}

// processMessage handles a single confirmation message.
func (w *Watcher) processMessage(ctx context.Context, msg *kafka.Message) {
	tx, err := transaction.FromJSON(msg.Value)
	if err != nil {
		w.logger.Error("Error deserializing confirmation", "error", err)
		return
	}

	var status transaction.Status
	if msg.TopicPartition.Topic != nil && *msg.TopicPartition.Topic == w.failedTopic {
		status = transaction.Failed
	} else {
		status = transaction.Confirmed
	}

	if err := w.store.UpdateStatus(ctx, tx.ID, status, tx.FailureReason); err != nil {
		// The dispatch below still runs; the watching controller should not
		// miss its outcome because the store write failed.
		w.logger.Error("Error updating stored status", "tx_id", tx.ID, "error", err)
	}

	w.dispatch(tx.ID, status, tx.FailureReason)
}

// dispatch invokes and removes the registered callback, if any.
func (w *Watcher) dispatch(txID string, status transaction.Status, reason string) {
	w.mu.Lock()
	fn, ok := w.watches[txID]
	if ok {
		delete(w.watches, txID)
	}
	w.mu.Unlock()

	if !ok {
		return
	}

	outcome := form.StatusSucceeded
	if status == transaction.Failed {
		outcome = form.StatusFailed
	}

	w.logger.Debug("Dispatching confirmation", "tx_id", txID, "status", outcome)
	fn(outcome, reason)
}

// Watching returns the number of registered watches.
func (w *Watcher) Watching() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}
