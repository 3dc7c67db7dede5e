package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObservers(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("shop.test", "ok"))
	ObservePage("https://shop.test/contact", "ok", 512)
	if got := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("shop.test", "ok")); got != before+1 {
		t.Errorf("expected page counter to grow by 1, got %f -> %f", before, got)
	}

	circuit := testutil.ToFloat64(crawlerCircuitOpenTotal)
	ObserveCircuitOpen()
	if got := testutil.ToFloat64(crawlerCircuitOpenTotal); got != circuit+1 {
		t.Errorf("expected circuit counter to grow by 1, got %f", got)
	}

	ObserveEmails("raw", 0)
	ObserveEmails("raw", 3)
	if got := testutil.ToFloat64(crawlerEmailsTotal.WithLabelValues("raw")); got < 3 {
		t.Errorf("expected raw email counter >= 3, got %f", got)
	}

	IncActiveWorkers("email")
	IncActiveWorkers("email")
	DecActiveWorkers("email")
	if got := testutil.ToFloat64(poolActiveWorkers.WithLabelValues("email")); got != 1 {
		t.Errorf("expected one active worker, got %f", got)
	}
	DecActiveWorkers("email")

	ObserveThrottleWait(2 * time.Second)
	if n := testutil.CollectAndCount(crawlerThrottleWaitSeconds); n != 1 {
		t.Errorf("expected throttle histogram to be collected, got %d", n)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
