package request

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func compressBackoff(t *testing.T) {
	t.Helper()
	old := retryBackoff
	retryBackoff = time.Millisecond
	t.Cleanup(func() { retryBackoff = old })
}

func TestMakeRequest_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New()
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	body, err := client.MakeRequest(req)
	if err != nil {
		t.Fatalf("MakeRequest failed: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("Expected body '{\"ok\":true}', got '%s'", string(body))
	}
}

func TestMakeRequest_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such item", http.StatusNotFound)
	}))
	defer srv.Close()

	client := New()
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/items/42", nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	body, err := client.MakeRequest(req)
	if err == nil {
		t.Fatal("Expected an error for status 404")
	}
	if !strings.Contains(err.Error(), "status 404") {
		t.Errorf("Expected error to carry the status, got %v", err)
	}
	if !strings.Contains(err.Error(), "no such item") {
		t.Errorf("Expected error to carry the body, got %v", err)
	}
	if !strings.Contains(string(body), "no such item") {
		t.Errorf("Expected body to be returned alongside the error, got '%s'", string(body))
	}
}

func TestDo_DefaultHeaders(t *testing.T) {
	var mu sync.Mutex
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.Header.Get("Authorization"))
		mu.Unlock()
	}))
	defer srv.Close()

	client := New(WithHeaders(map[string]string{"Authorization": "Bearer default"}))

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()

	// A header set on the request itself wins over the client default.
	req, err = http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer override")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(got))
	}
	if got[0] != "Bearer default" {
		t.Errorf("Expected default header, got '%s'", got[0])
	}
	if got[1] != "Bearer override" {
		t.Errorf("Expected request header to win, got '%s'", got[1])
	}
}

func TestDo_RetriesOnRetryableStatus(t *testing.T) {
	compressBackoff(t)

	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := New(WithMaxRetries(3), WithRetryableStatus(http.StatusServiceUnavailable))
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 after retries, got %d", resp.StatusCode)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestDo_StopsAfterMaxRetries(t *testing.T) {
	compressBackoff(t)

	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(WithMaxRetries(2), WithRetryableStatus(http.StatusTooManyRequests))
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp.Body.Close()

	// The last response is handed back, not an error.
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", resp.StatusCode)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestDo_HonoursRetryAfter(t *testing.T) {
	compressBackoff(t)

	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := New(WithMaxRetries(1), WithRetryableStatus(http.StatusTooManyRequests))
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	// With the backoff compressed to 1ms, a wait this long can only come
	// from the Retry-After header.
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("Expected Retry-After to hold the retry for ~1s, waited %v", elapsed)
	}
}

func TestDo_RewindsBodyOnRetry(t *testing.T) {
	compressBackoff(t)

	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		n := len(bodies)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := New(WithMaxRetries(1), WithRetryableStatus(http.StatusTooManyRequests))
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("magnet=abc"))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("Expected 2 attempts, got %d", len(bodies))
	}
	for i, body := range bodies {
		if body != "magnet=abc" {
			t.Errorf("Attempt %d: expected full body, got '%s'", i+1, body)
		}
	}
}

func TestDo_UnrepeatableBody(t *testing.T) {
	compressBackoff(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(WithMaxRetries(1), WithRetryableStatus(http.StatusTooManyRequests))
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("one-shot"))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.GetBody = nil

	if _, err := client.Do(req); err == nil {
		t.Fatal("Expected an error for an unrepeatable body")
	} else if !strings.Contains(err.Error(), "unrepeatable") {
		t.Errorf("Expected unrepeatable body error, got %v", err)
	}
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(WithMaxRetries(1), WithRetryableStatus(http.StatusTooManyRequests))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}

	start := time.Now()
	if _, err := client.Do(req); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected a prompt return on cancellation, waited %v", elapsed)
	}
}

func TestSpacingLimiter(t *testing.T) {
	rl := SpacingLimiter(0.05)
	rl.Take()
	start := time.Now()
	rl.Take()
	if elapsed := time.Since(start); elapsed < 45*time.Millisecond {
		t.Errorf("Expected at least 50ms between takes, got %v", elapsed)
	}
}

func TestSpacingLimiter_Disabled(t *testing.T) {
	rl := SpacingLimiter(0)
	start := time.Now()
	for i := 0; i < 10; i++ {
		rl.Take()
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Expected unlimited takes, got %v for 10 takes", elapsed)
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		paths    []string
		expected string
	}{
		{"trailing slash", "http://localhost:8080/", []string{"api", "items"}, "http://localhost:8080/api/items"},
		{"no slash", "http://localhost:8080", []string{"api", "items"}, "http://localhost:8080/api/items"},
		{"single segment", "http://localhost:8080/api", []string{"health"}, "http://localhost:8080/api/health"},
		{"no segments", "http://localhost:8080/api", nil, "http://localhost:8080/api"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := JoinURL(tc.base, tc.paths...)
			if err != nil {
				t.Fatalf("JoinURL failed: %v", err)
			}
			if got != tc.expected {
				t.Errorf("Expected '%s', got '%s'", tc.expected, got)
			}
		})
	}
}

func TestJSONResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONResponse(rec, map[string]int{"count": 3}, http.StatusCreated)

	if rec.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got '%s'", ct)
	}
	var body map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["count"] != 3 {
		t.Errorf("Expected count 3, got %d", body["count"])
	}
}

func TestJSONResponse_NilBody(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONResponse(rec, nil, http.StatusNoContent)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("Expected empty body, got '%s'", rec.Body.String())
	}
}
