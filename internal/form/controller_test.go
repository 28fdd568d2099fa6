package form

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmorse17/txflow/pkg/logging"
	"github.com/dmorse17/txflow/pkg/metrics"
)

const testRecipient = "0xA0Cf798816D4b9b9866b5330EEa46a18382f251e"

type stubPreparer struct {
	mu     sync.Mutex
	calls  []string
	delays map[string]time.Duration
	err    error
}

func (s *stubPreparer) Prepare(ctx context.Context, recipient, amount string) (*PreparedConfig, error) {
	s.mu.Lock()
	s.calls = append(s.calls, recipient+"|"+amount)
	delay := s.delays[amount]
	err := s.err
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if recipient == "" || amount == "" {
		return nil, nil
	}

	value, perr := strconv.ParseFloat(amount, 64)
	if perr != nil {
		return nil, perr
	}
	return &PreparedConfig{
		Recipient:  recipient,
		Amount:     value,
		AmountText: amount,
		Fee:        0.01,
		GasPrice:   1.0,
		GasLimit:   21000,
		Nonce:      "nonce",
		PreparedAt: time.Now(),
	}, nil
}

func (s *stubPreparer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubPreparer) lastCall() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return ""
	}
	return s.calls[len(s.calls)-1]
}

type stubSubmitter struct {
	mu    sync.Mutex
	err   error
	count int
	last  *PreparedConfig
}

func (s *stubSubmitter) Submit(ctx context.Context, cfg *PreparedConfig) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.count++
	s.last = cfg
	return &Receipt{
		TxID:        fmt.Sprintf("tx-%d", s.count),
		Hash:        "0xdeadbeef",
		SubmittedAt: time.Now(),
	}, nil
}

type stubWatcher struct {
	mu        sync.Mutex
	err       error
	callbacks map[string]func(Status, string)
}

func (s *stubWatcher) Watch(ctx context.Context, txID string, fn func(Status, string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.callbacks == nil {
		s.callbacks = make(map[string]func(Status, string))
	}
	s.callbacks[txID] = fn
	return nil
}

func (s *stubWatcher) fire(txID string, status Status, reason string) {
	s.mu.Lock()
	fn := s.callbacks[txID]
	delete(s.callbacks, txID)
	s.mu.Unlock()
	if fn != nil {
		fn(status, reason)
	}
}

func newTestController(t *testing.T, debounce time.Duration, p Preparer, s Submitter, w Watcher) *Controller {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c := NewController(ctx, Config{
		Debounce:  debounce,
		Preparer:  p,
		Submitter: s,
		Watcher:   w,
		Logger:    logging.New(logging.Config{Level: logging.ErrorLevel, Output: io.Discard}),
		Metrics:   metrics.New(metrics.Config{Namespace: "test"}),
	})
	t.Cleanup(c.Close)
	return c
}

func fillForm(t *testing.T, c *Controller, recipient, amount string) {
	t.Helper()
	require.NoError(t, c.SetField(FieldRecipient, recipient))
	require.NoError(t, c.SetField(FieldAmount, amount))
	require.Eventually(t, c.CanSubmit, time.Second, 5*time.Millisecond,
		"form never became submittable")
}

func TestSetFieldRejectsUnknownField(t *testing.T) {
	c := newTestController(t, 20*time.Millisecond, &stubPreparer{}, &stubSubmitter{}, &stubWatcher{})

	err := c.SetField(Field("memo"), "hello")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestDebounceCoalescesRapidEdits(t *testing.T) {
	preparer := &stubPreparer{}
	c := newTestController(t, 30*time.Millisecond, preparer, &stubSubmitter{}, &stubWatcher{})

	// Simulate keystrokes arriving well inside the quiescence window.
	for _, v := range []string{"0x", "0xA0", "0xA0Cf", testRecipient} {
		require.NoError(t, c.SetField(FieldRecipient, v))
		time.Sleep(5 * time.Millisecond)
	}

	// The raw value is visible immediately, the debounced one is not.
	st := c.Snapshot()
	assert.Equal(t, testRecipient, st.Recipient)
	assert.Empty(t, st.DebouncedRecipient)

	require.Eventually(t, func() bool {
		return c.Snapshot().DebouncedRecipient == testRecipient
	}, time.Second, 5*time.Millisecond)

	// All four edits collapsed into a single preparation with the final value.
	assert.Equal(t, 1, preparer.callCount())
	assert.Equal(t, testRecipient+"|", preparer.lastCall())
}

func TestDebounceTracksFieldsIndependently(t *testing.T) {
	preparer := &stubPreparer{}
	c := newTestController(t, 30*time.Millisecond, preparer, &stubSubmitter{}, &stubWatcher{})

	require.NoError(t, c.SetField(FieldRecipient, testRecipient))

	// Let the recipient commit, then edit the amount: only the amount's
	// window restarts.
	require.Eventually(t, func() bool {
		return c.Snapshot().DebouncedRecipient == testRecipient
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.SetField(FieldAmount, "0.05"))
	require.Eventually(t, func() bool {
		return c.Snapshot().DebouncedAmount == "0.05"
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, testRecipient+"|0.05", preparer.lastCall())
}

func TestStalePreparationDropped(t *testing.T) {
	// The first preparation is slow; a second edit supersedes it before it
	// lands. Its result must be discarded.
	preparer := &stubPreparer{delays: map[string]time.Duration{"1.0": 150 * time.Millisecond}}
	c := newTestController(t, 20*time.Millisecond, preparer, &stubSubmitter{}, &stubWatcher{})

	require.NoError(t, c.SetField(FieldRecipient, testRecipient))
	require.NoError(t, c.SetField(FieldAmount, "1.0"))

	// Wait for the slow preparation to be in flight, then supersede it.
	require.Eventually(t, func() bool {
		return preparer.callCount() >= 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, c.SetField(FieldAmount, "2.0"))

	require.Eventually(t, func() bool {
		st := c.Snapshot()
		return st.Prepared && st.DebouncedAmount == "2.0"
	}, time.Second, 5*time.Millisecond)

	// Give the slow preparation time to complete and (incorrectly) overwrite.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, "2.0", c.Snapshot().DebouncedAmount)
	assert.True(t, c.CanSubmit())
}

func TestSubmitNotReady(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		amount    string
	}{
		{"both empty", "", ""},
		{"missing amount", testRecipient, ""},
		{"missing recipient", "", "0.05"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t, 10*time.Millisecond, &stubPreparer{}, &stubSubmitter{}, &stubWatcher{})

			if tt.recipient != "" {
				require.NoError(t, c.SetField(FieldRecipient, tt.recipient))
			}
			if tt.amount != "" {
				require.NoError(t, c.SetField(FieldAmount, tt.amount))
			}
			time.Sleep(50 * time.Millisecond)

			receipt, err := c.Submit(context.Background())
			assert.ErrorIs(t, err, ErrNotReady)
			assert.Nil(t, receipt)

			// A rejected submission leaves the status untouched.
			assert.Equal(t, StatusNotStarted, c.Status())
		})
	}
}

func TestSubmitBeforePreparationCompletes(t *testing.T) {
	preparer := &stubPreparer{delays: map[string]time.Duration{"0.05": 200 * time.Millisecond}}
	c := newTestController(t, 10*time.Millisecond, preparer, &stubSubmitter{}, &stubWatcher{})

	require.NoError(t, c.SetField(FieldRecipient, testRecipient))
	require.NoError(t, c.SetField(FieldAmount, "0.05"))
	time.Sleep(30 * time.Millisecond)

	// Fields are set but the preparation has not landed yet.
	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSubmitSuccessFlow(t *testing.T) {
	submitter := &stubSubmitter{}
	watcher := &stubWatcher{}
	c := newTestController(t, 10*time.Millisecond, &stubPreparer{}, submitter, watcher)

	fillForm(t, c, testRecipient, "0.05")

	receipt, err := c.Submit(context.Background())
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, "tx-1", receipt.TxID)
	assert.Equal(t, StatusPending, c.Status())
	assert.False(t, c.CanSubmit())

	st := c.Snapshot()
	assert.Equal(t, "tx-1", st.TxID)
	assert.Equal(t, "0xdeadbeef", st.TxHash)

	watcher.fire("tx-1", StatusSucceeded, "")

	assert.Equal(t, StatusSucceeded, c.Status())
	assert.Equal(t, "Successfully sent 0.05 ether to "+testRecipient, c.Snapshot().Message)
}

func TestSubmitWhilePendingRejected(t *testing.T) {
	watcher := &stubWatcher{}
	c := newTestController(t, 10*time.Millisecond, &stubPreparer{}, &stubSubmitter{}, watcher)

	fillForm(t, c, testRecipient, "0.05")

	_, err := c.Submit(context.Background())
	require.NoError(t, err)

	_, err = c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmitPending)
	assert.Equal(t, StatusPending, c.Status())
}

func TestSubmitterErrorFailsForm(t *testing.T) {
	submitter := &stubSubmitter{err: fmt.Errorf("broker unavailable")}
	c := newTestController(t, 10*time.Millisecond, &stubPreparer{}, submitter, &stubWatcher{})

	fillForm(t, c, testRecipient, "0.05")

	receipt, err := c.Submit(context.Background())
	require.Error(t, err)
	assert.Nil(t, receipt)
	assert.Equal(t, StatusFailed, c.Status())

	st := c.Snapshot()
	assert.Equal(t, "Failed to send 0.05 ether to "+testRecipient, st.Message)
	assert.Contains(t, st.Error, "broker unavailable")

	// A failed submission is terminal, not pending: the form can be
	// corrected and resubmitted.
	assert.True(t, c.CanSubmit())
}

func TestWatchFailureFailsForm(t *testing.T) {
	watcher := &stubWatcher{err: fmt.Errorf("consumer closed")}
	c := newTestController(t, 10*time.Millisecond, &stubPreparer{}, &stubSubmitter{}, watcher)

	fillForm(t, c, testRecipient, "0.05")

	_, err := c.Submit(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusFailed, c.Status())
}

func TestConfirmationFailureReportsReason(t *testing.T) {
	watcher := &stubWatcher{}
	c := newTestController(t, 10*time.Millisecond, &stubPreparer{}, &stubSubmitter{}, watcher)

	fillForm(t, c, testRecipient, "0.05")

	_, err := c.Submit(context.Background())
	require.NoError(t, err)

	watcher.fire("tx-1", StatusFailed, "out of gas")

	assert.Equal(t, StatusFailed, c.Status())
	st := c.Snapshot()
	assert.Equal(t, "Failed to send 0.05 ether to "+testRecipient, st.Message)
	assert.Contains(t, st.Error, "out of gas")
}

func TestConfirmationIgnoredWhenNotPending(t *testing.T) {
	c := newTestController(t, 10*time.Millisecond, &stubPreparer{}, &stubSubmitter{}, &stubWatcher{})

	c.OnConfirmation(StatusSucceeded, "")
	assert.Equal(t, StatusNotStarted, c.Status())
}

func TestResubmitAfterTerminalStatus(t *testing.T) {
	submitter := &stubSubmitter{}
	watcher := &stubWatcher{}
	c := newTestController(t, 10*time.Millisecond, &stubPreparer{}, submitter, watcher)

	fillForm(t, c, testRecipient, "0.05")

	_, err := c.Submit(context.Background())
	require.NoError(t, err)
	watcher.fire("tx-1", StatusSucceeded, "")
	require.Equal(t, StatusSucceeded, c.Status())

	// The prepared config is still valid; a second submission starts a
	// fresh pending cycle.
	receipt, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tx-2", receipt.TxID)
	assert.Equal(t, StatusPending, c.Status())

	watcher.fire("tx-2", StatusFailed, "nonce reused")
	assert.Equal(t, StatusFailed, c.Status())
}

func TestCloseRejectsFurtherOperations(t *testing.T) {
	c := newTestController(t, 10*time.Millisecond, &stubPreparer{}, &stubSubmitter{}, &stubWatcher{})

	c.Close()

	assert.Error(t, c.SetField(FieldRecipient, testRecipient))
	_, err := c.Submit(context.Background())
	assert.Error(t, err)
	assert.False(t, c.CanSubmit())
}
