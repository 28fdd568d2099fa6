package confirm

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmorse17/txflow/internal/form"
	"github.com/dmorse17/txflow/internal/transaction"
	"github.com/dmorse17/txflow/pkg/logging"
)

type recordingStore struct {
	mu       sync.Mutex
	txs      map[string]*transaction.Transaction
	statuses map[string]transaction.Status
	reasons  map[string]string
	err      error
}

func (s *recordingStore) GetTransaction(ctx context.Context, txID string) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[txID]
	if !ok {
		return nil, fmt.Errorf("transaction not found: %s", txID)
	}
	return tx, nil
}

func (s *recordingStore) UpdateStatus(ctx context.Context, txID string, status transaction.Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.statuses == nil {
		s.statuses = make(map[string]transaction.Status)
		s.reasons = make(map[string]string)
	}
	s.statuses[txID] = status
	s.reasons[txID] = reason
	return nil
}

func newTestWatcher(store StatusStore) *Watcher {
	return &Watcher{
		store:          store,
		logger:         logging.New(logging.Config{Level: logging.ErrorLevel, Output: io.Discard}),
		confirmedTopic: "confirmed_transactions",
		failedTopic:    "failed_transactions",
		watches:        make(map[string]func(status form.Status, reason string)),
	}
}

func confirmationMessage(t *testing.T, topic string, mutate func(*transaction.Transaction)) (*kafka.Message, string) {
	t.Helper()

	tx, err := transaction.New("0xsender", "0xrecipient", 0.05, 0.01, 1.0, 21000, "n")
	require.NoError(t, err)
	if mutate != nil {
		mutate(tx)
	}

	payload, err := tx.ToJSON()
	require.NoError(t, err)

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic},
		Value:          payload,
	}, tx.ID
}

func TestWatchValidation(t *testing.T) {
	w := newTestWatcher(&recordingStore{})
	ctx := context.Background()
	noop := func(form.Status, string) {}

	assert.Error(t, w.Watch(ctx, "", noop))

	require.NoError(t, w.Watch(ctx, "tx-1", noop))
	assert.Error(t, w.Watch(ctx, "tx-1", noop), "duplicate watch")
	assert.Equal(t, 1, w.Watching())
}

func TestProcessMessageConfirmed(t *testing.T) {
	store := &recordingStore{}
	w := newTestWatcher(store)

	msg, txID := confirmationMessage(t, "confirmed_transactions", nil)

	var gotStatus form.Status
	require.NoError(t, w.Watch(context.Background(), txID, func(s form.Status, reason string) {
		gotStatus = s
	}))

	w.processMessage(context.Background(), msg)

	assert.Equal(t, form.StatusSucceeded, gotStatus)
	assert.Equal(t, transaction.Confirmed, store.statuses[txID])
	assert.Equal(t, 0, w.Watching(), "watch fires at most once")
}

func TestProcessMessageFailed(t *testing.T) {
	store := &recordingStore{}
	w := newTestWatcher(store)

	msg, txID := confirmationMessage(t, "failed_transactions", func(tx *transaction.Transaction) {
		tx.FailureReason = "out of gas"
	})

	var gotStatus form.Status
	var gotReason string
	require.NoError(t, w.Watch(context.Background(), txID, func(s form.Status, reason string) {
		gotStatus = s
		gotReason = reason
	}))

	w.processMessage(context.Background(), msg)

	assert.Equal(t, form.StatusFailed, gotStatus)
	assert.Equal(t, "out of gas", gotReason)
	assert.Equal(t, transaction.Failed, store.statuses[txID])
	assert.Equal(t, "out of gas", store.reasons[txID])
}

func TestProcessMessageDispatchesDespiteStoreError(t *testing.T) {
	store := &recordingStore{err: fmt.Errorf("redis down")}
	w := newTestWatcher(store)

	msg, txID := confirmationMessage(t, "confirmed_transactions", nil)

	fired := false
	require.NoError(t, w.Watch(context.Background(), txID, func(form.Status, string) {
		fired = true
	}))

	w.processMessage(context.Background(), msg)
	assert.True(t, fired, "controller must still learn the outcome")
}

func TestWatchFiresForStoredOutcome(t *testing.T) {
	// The outcome can be consumed between the broadcast and the watch
	// registration; the stored status must still reach the callback.
	cases := []struct {
		name       string
		status     transaction.Status
		reason     string
		wantStatus form.Status
	}{
		{"confirmed", transaction.Confirmed, "", form.StatusSucceeded},
		{"failed", transaction.Failed, "out of gas", form.StatusFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx, err := transaction.New("0xsender", "0xrecipient", 0.05, 0.01, 1.0, 21000, "n")
			require.NoError(t, err)
			tx.Status = tc.status
			tx.FailureReason = tc.reason

			store := &recordingStore{txs: map[string]*transaction.Transaction{tx.ID: tx}}
			w := newTestWatcher(store)

			type outcome struct {
				status form.Status
				reason string
			}
			fired := make(chan outcome, 1)
			require.NoError(t, w.Watch(context.Background(), tx.ID, func(s form.Status, reason string) {
				fired <- outcome{s, reason}
			}))

			select {
			case got := <-fired:
				assert.Equal(t, tc.wantStatus, got.status)
				assert.Equal(t, tc.reason, got.reason)
			case <-time.After(time.Second):
				t.Fatal("stored outcome was not dispatched")
			}
			assert.Equal(t, 0, w.Watching())
		})
	}
}

func TestWatchStaysArmedWhileStoredStatusPending(t *testing.T) {
	tx, err := transaction.New("0xsender", "0xrecipient", 0.05, 0.01, 1.0, 21000, "n")
	require.NoError(t, err)

	store := &recordingStore{txs: map[string]*transaction.Transaction{tx.ID: tx}}
	w := newTestWatcher(store)

	fired := false
	require.NoError(t, w.Watch(context.Background(), tx.ID, func(form.Status, string) {
		fired = true
	}))

	assert.False(t, fired)
	assert.Equal(t, 1, w.Watching())
}

func TestProcessMessageWithoutWatcherIsHarmless(t *testing.T) {
	store := &recordingStore{}
	w := newTestWatcher(store)

	msg, txID := confirmationMessage(t, "confirmed_transactions", nil)
	w.processMessage(context.Background(), msg)

	// The status is still persisted for the history API.
	assert.Equal(t, transaction.Confirmed, store.statuses[txID])
}

func TestProcessMessageIgnoresGarbage(t *testing.T) {
	store := &recordingStore{}
	w := newTestWatcher(store)

	topic := "confirmed_transactions"
	w.processMessage(context.Background(), &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic},
		Value:          []byte("{not json"),
	})

	assert.Empty(t, store.statuses)
}
