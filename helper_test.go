package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// MockStreamServer provides a configurable mock HTTP server standing in for
// one content source (a primary URL or a mirror).
type MockStreamServer struct {
	server         *httptest.Server
	content        []byte
	supportsRanges bool
	allowHead      bool
	failureCount   int32 // atomic counter for simulating transient failures
	maxFailures    int32
	failAlways     atomic.Bool
	requestDelay   time.Duration
	requestCount   int32
}

// NewMockStreamServer creates a mock server serving the given content.
func NewMockStreamServer(content []byte) *MockStreamServer {
	m := &MockStreamServer{
		content:        content,
		supportsRanges: true,
		allowHead:      true,
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handler))
	return m
}

// URL returns the mock server URL.
func (m *MockStreamServer) URL() string {
	return m.server.URL + "/stream.m4s"
}

// Close closes the mock server.
func (m *MockStreamServer) Close() {
	m.server.Close()
}

// SetMaxFailures sets how many requests fail before succeeding.
func (m *MockStreamServer) SetMaxFailures(count int) {
	atomic.StoreInt32(&m.maxFailures, int32(count))
	atomic.StoreInt32(&m.failureCount, 0)
}

// SetFailAlways makes every request fail, simulating a dead mirror.
func (m *MockStreamServer) SetFailAlways(fail bool) {
	m.failAlways.Store(fail)
}

// SetRequestDelay sets a delay for each request.
func (m *MockStreamServer) SetRequestDelay(delay time.Duration) {
	m.requestDelay = delay
}

// SetAllowHead configures whether the server accepts HEAD requests.
func (m *MockStreamServer) SetAllowHead(allow bool) {
	m.allowHead = allow
}

// SetSupportsRanges configures whether the server honors Range headers.
func (m *MockStreamServer) SetSupportsRanges(supports bool) {
	m.supportsRanges = supports
}

// RequestCount reports how many requests reached the server.
func (m *MockStreamServer) RequestCount() int {
	return int(atomic.LoadInt32(&m.requestCount))
}

func (m *MockStreamServer) handler(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&m.requestCount, 1)

	if m.requestDelay > 0 {
		time.Sleep(m.requestDelay)
	}

	if m.failAlways.Load() {
		http.Error(w, "Simulated permanent failure", http.StatusServiceUnavailable)
		return
	}

	currentFailures := atomic.LoadInt32(&m.failureCount)
	maxFailures := atomic.LoadInt32(&m.maxFailures)
	if currentFailures < maxFailures {
		atomic.AddInt32(&m.failureCount, 1)
		http.Error(w, "Simulated transient failure", http.StatusServiceUnavailable)
		return
	}

	if r.Method == http.MethodHead {
		if !m.allowHead {
			http.Error(w, "HEAD not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(m.content)))
		if m.supportsRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" && m.supportsRanges {
		var start, end int64
		if _, err := fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end); err != nil {
			http.Error(w, "Invalid range", http.StatusBadRequest)
			return
		}
		if start < 0 || start >= int64(len(m.content)) {
			http.Error(w, "Range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if end >= int64(len(m.content)) {
			end = int64(len(m.content)) - 1
		}
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(m.content)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(m.content[start : end+1])
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(m.content)))
	if m.supportsRanges {
		w.Header().Set("Accept-Ranges", "bytes")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(m.content)
}

// GenerateFakeContent generates fake binary content of the specified size.
func GenerateFakeContent(size int) []byte {
	content := make([]byte, size)
	for i := 0; i < size; i++ {
		content[i] = byte(i % 256)
	}
	return content
}

// testFetcher builds a Fetcher with short retry delays suitable for tests.
func testFetcher(workers int) *Fetcher {
	f := NewFetcher(workers, "", 0, false)
	f.maxRetries = 3
	f.initialDelay = 20 * time.Millisecond
	f.maxDelay = 100 * time.Millisecond
	return f
}

// AssertBytesEqual checks if two byte slices are equal.
func AssertBytesEqual(t *testing.T, expected, actual []byte, msg string) {
	t.Helper()
	if !bytes.Equal(expected, actual) {
		t.Errorf("%s: expected %d bytes, got %d bytes", msg, len(expected), len(actual))
		if len(expected) < 100 && len(actual) < 100 {
			t.Errorf("Expected: %v", expected)
			t.Errorf("Actual: %v", actual)
		}
	}
}

// AssertInt64Equal checks if two int64 values are equal.
func AssertInt64Equal(t *testing.T, expected, actual int64, msg string) {
	t.Helper()
	if expected != actual {
		t.Errorf("%s: expected %d, got %d", msg, expected, actual)
	}
}

// AssertStringEqual checks if two strings are equal.
func AssertStringEqual(t *testing.T, expected, actual string, msg string) {
	t.Helper()
	if expected != actual {
		t.Errorf("%s: expected %q, got %q", msg, expected, actual)
	}
}

// AssertTrue checks if a condition is true.
func AssertTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Errorf("%s: expected true, got false", msg)
	}
}
