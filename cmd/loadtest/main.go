// cmd/loadtest/main.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"
)

// Command line flags
var (
	duration    = pflag.Duration("duration", 1*time.Minute, "Test duration")
	concurrency = pflag.Int("concurrency", 50, "Number of concurrent clients")
	formRate    = pflag.Float64("rate", 100, "Target form submissions per second")
	baseURL     = pflag.String("url", "http://localhost:8080", "API base URL")
	debounce    = pflag.Duration("debounce", 500*time.Millisecond, "Server debounce window (wait time before submit)")
	username    = pflag.String("user", "loadtest", "Login username")
)

// Statistics
type Stats struct {
	successCount uint64
	failureCount uint64
	latencySum   uint64
	latencyCount uint64
}

// response mirrors the API response envelope
type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func main() {
	pflag.Parse()

	fmt.Printf("Load Test Configuration:\n")
	fmt.Printf("  Duration: %s\n", *duration)
	fmt.Printf("  Concurrency: %d\n", *concurrency)
	fmt.Printf("  Target rate: %.0f forms/s\n", *formRate)
	fmt.Printf("  URL: %s\n", *baseURL)
	fmt.Printf("  Debounce wait: %s\n", *debounce)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signals
		fmt.Println("\nShutting down...")
		cancel()
	}()

	client := &http.Client{Timeout: 10 * time.Second}

	token, err := login(ctx, client, *baseURL, *username)
	if err != nil {
		log.Fatalf("Failed to log in: %v", err)
	}

	stats := &Stats{}

	fmt.Printf("Starting load test for %s...\n", *duration)

	testCtx, testCancel := context.WithTimeout(ctx, *duration)
	defer testCancel()

	var wg sync.WaitGroup

	rateLimiter := make(chan struct{}, *concurrency*2)

	go func() {
		interval := time.Duration(float64(time.Second) / *formRate)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-testCtx.Done():
				return
			case <-ticker.C:
				select {
				case rateLimiter <- struct{}{}:
				default:
					// Channel is full, skip
				}
			}
		}
	}()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go worker(testCtx, i, client, token, rateLimiter, stats, &wg)
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	lastSuccessCount := uint64(0)
	lastFailureCount := uint64(0)
	startTime := time.Now()

	go func() {
		for {
			select {
			case <-testCtx.Done():
				return
			case <-ticker.C:
				successCount := atomic.LoadUint64(&stats.successCount)
				failureCount := atomic.LoadUint64(&stats.failureCount)
				latencySum := atomic.LoadUint64(&stats.latencySum)
				latencyCount := atomic.LoadUint64(&stats.latencyCount)

				successDelta := successCount - lastSuccessCount
				failureDelta := failureCount - lastFailureCount
				totalDelta := successDelta + failureDelta

				var avgLatency uint64
				if latencyCount > 0 {
					avgLatency = latencySum / latencyCount
				}

				elapsedSeconds := time.Since(startTime).Seconds()
				overallRate := float64(successCount) / elapsedSeconds

				fmt.Printf("\rForms/s: %.2f (Current: %d), Success: %d, Failure: %d, Avg Latency: %d ms",
					overallRate, totalDelta, successCount, failureCount, avgLatency)

				lastSuccessCount = successCount
				lastFailureCount = failureCount
			}
		}
	}()

	<-testCtx.Done()
	fmt.Println("\nTest duration reached")

	wg.Wait()

	successCount := atomic.LoadUint64(&stats.successCount)
	failureCount := atomic.LoadUint64(&stats.failureCount)
	latencySum := atomic.LoadUint64(&stats.latencySum)
	latencyCount := atomic.LoadUint64(&stats.latencyCount)

	totalCount := successCount + failureCount
	successRate := 0.0
	if totalCount > 0 {
		successRate = float64(successCount) / float64(totalCount) * 100
	}

	var avgLatency uint64
	if latencyCount > 0 {
		avgLatency = latencySum / latencyCount
	}

	elapsedSeconds := time.Since(startTime).Seconds()

	fmt.Printf("\n\nLoad Test Results:\n")
	fmt.Printf("  Test Duration: %.2f seconds\n", elapsedSeconds)
	fmt.Printf("  Total Forms: %d\n", totalCount)
	fmt.Printf("  Successful Submissions: %d (%.2f%%)\n", successCount, successRate)
	fmt.Printf("  Failed Submissions: %d (%.2f%%)\n", failureCount, 100-successRate)
	fmt.Printf("  Average rate: %.2f forms/s\n", float64(totalCount)/elapsedSeconds)
	fmt.Printf("  Average Latency: %d ms\n", avgLatency)
}

// worker drives complete form flows at the specified rate: create a session,
// fill both fields, wait out the debounce window and submit.
func worker(ctx context.Context, id int, client *http.Client, token string, rateLimiter <-chan struct{}, stats *Stats, wg *sync.WaitGroup) {
	defer wg.Done()

	r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

	for {
		select {
		case <-ctx.Done():
			return
		case <-rateLimiter:
			startTime := time.Now()

			if err := runFormFlow(ctx, client, token, r); err != nil {
				atomic.AddUint64(&stats.failureCount, 1)
				continue
			}

			elapsedMillis := time.Since(startTime).Milliseconds()
			atomic.AddUint64(&stats.successCount, 1)
			atomic.AddUint64(&stats.latencySum, uint64(elapsedMillis))
			atomic.AddUint64(&stats.latencyCount, 1)
		}
	}
}

// runFormFlow exercises one full session lifecycle against the API.
func runFormFlow(ctx context.Context, client *http.Client, token string, r *rand.Rand) error {
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := call(ctx, client, token, http.MethodPost, *baseURL+"/sessions", nil, &created); err != nil {
		return err
	}
	sessionURL := *baseURL + "/sessions/" + created.SessionID

	// Closing the session on every exit keeps the server's session count flat.
	defer func() {
		req, err := http.NewRequest(http.MethodDelete, sessionURL, nil)
		if err != nil {
			return
		}
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
		}
	}()

	recipient := randomAddress(r)
	amount := fmt.Sprintf("%.4f", 0.001+0.1*r.Float64())

	for _, f := range []struct{ field, value string }{
		{"recipient", recipient},
		{"amount", amount},
	} {
		body := map[string]string{"field": f.field, "value": f.value}
		if err := call(ctx, client, token, http.MethodPut, sessionURL+"/fields", body, nil); err != nil {
			return err
		}
	}

	// Give the debounce window time to elapse and the preparation to land.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(*debounce + 200*time.Millisecond):
	}

	return call(ctx, client, token, http.MethodPost, sessionURL+"/submit", nil, nil)
}

// login obtains a JWT from the API.
func login(ctx context.Context, client *http.Client, base, user string) (string, error) {
	var data struct {
		Token string `json:"token"`
	}
	body := map[string]string{"username": user}
	if err := call(ctx, client, "", http.MethodPost, base+"/login", body, &data); err != nil {
		return "", err
	}
	if data.Token == "" {
		return "", fmt.Errorf("login response contained no token")
	}
	return data.Token, nil
}

// call performs a JSON request against the API and decodes the data payload
// into out when non-nil.
func call(ctx context.Context, client *http.Client, token, method, url string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding response from %s: %w", url, err)
	}
	if !envelope.Success {
		return fmt.Errorf("%s %s failed: %s", method, url, envelope.Error)
	}
	if out != nil && envelope.Data != nil {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

const hexDigits = "0123456789abcdef"

// randomAddress produces a well-formed 0x recipient address.
func randomAddress(r *rand.Rand) string {
	b := make([]byte, 40)
	for i := range b {
		b[i] = hexDigits[r.Intn(len(hexDigits))]
	}
	return "0x" + string(b)
}
