package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmorse17/txflow/internal/form"
	"github.com/dmorse17/txflow/internal/transaction"
	"github.com/dmorse17/txflow/pkg/config"
	"github.com/dmorse17/txflow/pkg/logging"
	"github.com/dmorse17/txflow/pkg/metrics"
)

const testRecipient = "0xA0Cf798816D4b9b9866b5330EEa46a18382f251e"

type fakePreparer struct{}

func (fakePreparer) Prepare(ctx context.Context, recipient, amount string) (*form.PreparedConfig, error) {
	if recipient == "" || amount == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return nil, fmt.Errorf("bad amount: %w", err)
	}
	return &form.PreparedConfig{
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

type fakeSubmitter struct {
	mu    sync.Mutex
	count int
}

func (f *fakeSubmitter) Submit(ctx context.Context, cfg *form.PreparedConfig) (*form.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return &form.Receipt{
		TxID:        fmt.Sprintf("tx-%d", f.count),
		Hash:        "0xabc123",
		SubmittedAt: time.Now(),
	}, nil
}

type fakeWatcher struct {
	mu        sync.Mutex
	callbacks map[string]func(form.Status, string)
}

func (f *fakeWatcher) Watch(ctx context.Context, txID string, fn func(form.Status, string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callbacks == nil {
		f.callbacks = make(map[string]func(form.Status, string))
	}
	f.callbacks[txID] = fn
	return nil
}

func (f *fakeWatcher) fire(txID string, status form.Status, reason string) {
	f.mu.Lock()
	fn := f.callbacks[txID]
	f.mu.Unlock()
	if fn != nil {
		fn(status, reason)
	}
}

type fakeHistory struct {
	transactions map[string]*transaction.Transaction
	byAddress    map[string][]*transaction.Transaction
}

func (f *fakeHistory) GetTransaction(ctx context.Context, txID string) (*transaction.Transaction, error) {
	tx, ok := f.transactions[txID]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", txID)
	}
	return tx, nil
}

func (f *fakeHistory) GetAddressTransactions(ctx context.Context, address string, limit, offset int64) ([]*transaction.Transaction, error) {
	return f.byAddress[address], nil
}

func (f *fakeHistory) Ping(ctx context.Context) error { return nil }

type testServer struct {
	srv     *Server
	watcher *fakeWatcher
	history *fakeHistory
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{}
	cfg.API.Port = "0"
	cfg.API.CORSAllowedOrigins = []string{"*"}
	cfg.API.RateLimitPerMinute = 10000
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.TokenExpiry = 3600
	cfg.Redis.Address = "localhost:6379"
	cfg.Metrics.Namespace = "test"

	logger := logging.New(logging.Config{Level: logging.ErrorLevel, Output: io.Discard})
	watcher := &fakeWatcher{}
	history := &fakeHistory{
		transactions: make(map[string]*transaction.Transaction),
		byAddress:    make(map[string][]*transaction.Transaction),
	}

	manager := form.NewManager(form.ManagerConfig{
		Debounce:    20 * time.Millisecond,
		SessionTTL:  time.Minute,
		MaxSessions: 100,
		Preparer:    fakePreparer{},
		Submitter:   &fakeSubmitter{},
		Watcher:     watcher,
		Logger:      logger,
		Metrics:     metrics.New(metrics.Config{Namespace: "test_form"}),
	})

	srv := NewServer(cfg, manager, history, logger, metrics.New(metrics.Config{Namespace: "test_api"}))

	ts := &testServer{srv: srv, watcher: watcher, history: history}
	ts.token = ts.login(t)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}

	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)

	var resp Response
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func (ts *testServer) login(t *testing.T) string {
	t.Helper()

	_, resp := ts.do(t, http.MethodPost, "/login", map[string]string{"username": "tester"})
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "login returned no data")
	token, _ := data["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()

	rec, resp := ts.do(t, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	data := resp.Data.(map[string]interface{})
	id, _ := data["session_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func (ts *testServer) setField(t *testing.T, session, field, value string) {
	t.Helper()

	rec, _ := ts.do(t, http.MethodPut, "/sessions/"+session+"/fields",
		map[string]string{"field": field, "value": value})
	require.Equal(t, http.StatusOK, rec.Code)
}

func (ts *testServer) snapshot(t *testing.T, session string) map[string]interface{} {
	t.Helper()

	rec, resp := ts.do(t, http.MethodGet, "/sessions/"+session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	return state
}

func (ts *testServer) waitSubmittable(t *testing.T, session string) {
	t.Helper()

	require.Eventually(t, func() bool {
		canSubmit, _ := ts.snapshot(t, session)["can_submit"].(bool)
		return canSubmit
	}, time.Second, 10*time.Millisecond, "session never became submittable")
}

func TestLoginRequiresUsername(t *testing.T) {
	ts := newTestServer(t)
	ts.token = ""

	rec, resp := ts.do(t, http.MethodPost, "/login", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	ts := newTestServer(t)
	ts.token = ""

	rec, _ := ts.do(t, http.MethodPost, "/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthEndpointIsPublic(t *testing.T) {
	ts := newTestServer(t)
	ts.token = ""

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec, resp := ts.do(t, http.MethodGet, "/sessions/unknown-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
}

func TestSetFieldRejectsUnknownField(t *testing.T) {
	ts := newTestServer(t)
	session := ts.createSession(t)

	rec, resp := ts.do(t, http.MethodPut, "/sessions/"+session+"/fields",
		map[string]string{"field": "memo", "value": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
}

func TestSubmitBeforeReadyConflicts(t *testing.T) {
	ts := newTestServer(t)
	session := ts.createSession(t)

	rec, resp := ts.do(t, http.MethodPost, "/sessions/"+session+"/submit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, resp.Success)
}

func TestFullSubmissionFlow(t *testing.T) {
	ts := newTestServer(t)
	session := ts.createSession(t)

	ts.setField(t, session, "recipient", testRecipient)
	ts.setField(t, session, "amount", "0.05")
	ts.waitSubmittable(t, session)

	rec, resp := ts.do(t, http.MethodPost, "/sessions/"+session+"/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := resp.Data.(map[string]interface{})
	txID, _ := data["tx_id"].(string)
	require.NotEmpty(t, txID)
	assert.Equal(t, "0xabc123", data["tx_hash"])

	state := ts.snapshot(t, session)
	assert.Equal(t, string(form.StatusPending), state["status"])

	// A second submit while pending is rejected without changing state.
	rec, _ = ts.do(t, http.MethodPost, "/sessions/"+session+"/submit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	ts.watcher.fire(txID, form.StatusSucceeded, "")

	state = ts.snapshot(t, session)
	assert.Equal(t, string(form.StatusSucceeded), state["status"])
	assert.Equal(t, "Successfully sent 0.05 ether to "+testRecipient, state["message"])
}

func TestCloseSession(t *testing.T) {
	ts := newTestServer(t)
	session := ts.createSession(t)

	rec, _ := ts.do(t, http.MethodDelete, "/sessions/"+session, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/sessions/"+session, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTransactions(t *testing.T) {
	ts := newTestServer(t)

	tx, err := transaction.New("0xsender", testRecipient, 0.05, 0.01, 1.0, 21000, "n")
	require.NoError(t, err)
	ts.history.transactions[tx.ID] = tx
	ts.history.byAddress[testRecipient] = []*transaction.Transaction{tx}

	rec, _ := ts.do(t, http.MethodGet, "/transactions", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "address is required")

	rec, resp := ts.do(t, http.MethodGet, "/transactions?address="+testRecipient, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	list, ok := data["transactions"].([]interface{})
	require.True(t, ok)
	assert.Len(t, list, 1)

	rec, _ = ts.do(t, http.MethodGet, "/transactions/"+tx.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/transactions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
