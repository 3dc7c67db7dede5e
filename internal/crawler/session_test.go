package crawler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-contact-crawler/internal/policy/ratelimit"
)

func testSessionConfig() SessionConfig {
	return SessionConfig{
		MaxAttempts: 3,
		RateControl: ratelimit.AdaptiveConfig{
			BaseDelay:        100 * time.Millisecond,
			MaxDelay:         10 * time.Second,
			BreakerThreshold: 5,
		},
	}
}

func TestSessionNotFoundIsEmptyPage(t *testing.T) {
	transport := newFakeTransport()
	session := NewSession(transport, testSessionConfig(), nil, &recordingPauser{})

	page, err := session.Fetch(context.Background(), "https://shop.test/missing")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, page.StatusCode)
	require.Empty(t, page.Body)
	require.Equal(t, 1, transport.callCount(), "404 is never retried")
}

func TestSessionRetriesServerErrorsWithBackoff(t *testing.T) {
	transport := newFakeTransport()
	transport.handler = scriptedResponses(http.StatusInternalServerError, http.StatusOK)
	pauser := &recordingPauser{}
	session := NewSession(transport, testSessionConfig(), nil, pauser)

	page, err := session.Fetch(context.Background(), "https://shop.test/contact")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.NotEmpty(t, page.Body)
	require.Equal(t, 2, transport.callCount())
	require.Equal(t, []time.Duration{time.Second}, pauser.recorded())
}

func TestSessionGivesUpAfterMaxAttempts(t *testing.T) {
	transport := newFakeTransport()
	transport.handler = func(string) (Response, error) {
		return Response{}, errors.New("connection reset")
	}
	pauser := &recordingPauser{}
	session := NewSession(transport, testSessionConfig(), nil, pauser)

	_, err := session.Fetch(context.Background(), "https://shop.test/contact")
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 3 attempts")
	require.Contains(t, err.Error(), "connection reset")
	require.Equal(t, 3, transport.callCount())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, pauser.recorded())
}

func TestSessionHonorsRetryAfter(t *testing.T) {
	transport := newFakeTransport()
	calls := 0
	transport.handler = func(rawURL string) (Response, error) {
		calls++
		if calls == 1 {
			return Response{
				URL:        rawURL,
				StatusCode: http.StatusTooManyRequests,
				Headers:    http.Header{"Retry-After": []string{"2"}},
			}, nil
		}
		return Response{URL: rawURL, StatusCode: http.StatusOK, Body: []byte("hello")}, nil
	}
	pauser := &recordingPauser{}
	session := NewSession(transport, testSessionConfig(), nil, pauser)

	page, err := session.Fetch(context.Background(), "https://shop.test/about")
	require.NoError(t, err)
	require.Equal(t, "hello", string(page.Body))
	require.Equal(t, []time.Duration{2 * time.Second}, pauser.recorded())
	require.Equal(t, 1800*time.Millisecond, session.Delay(), "success relaxes the grown delay")
	require.False(t, session.CircuitOpen())
}

func TestSessionBreakerOpensOnSustainedThrottling(t *testing.T) {
	transport := newFakeTransport()
	transport.handler = scriptedResponses(http.StatusTooManyRequests)
	pauser := &recordingPauser{}
	session := NewSession(transport, testSessionConfig(), nil, pauser)
	ctx := context.Background()

	_, err := session.Fetch(ctx, "https://shop.test/contact")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	require.False(t, session.CircuitOpen())

	_, err = session.Fetch(ctx, "https://shop.test/about")
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.True(t, session.CircuitOpen())
	require.Equal(t, 5, transport.callCount())

	_, err = session.Fetch(ctx, "https://shop.test/faq")
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, 5, transport.callCount(), "an open circuit issues no requests")

	delays := pauser.recorded()
	require.Len(t, delays, 3, "the last attempt of a fetch is not followed by a wait")
	for i := 1; i < len(delays); i++ {
		require.GreaterOrEqual(t, delays[i], delays[i-1], "throttle waits never shrink during a streak")
	}

	session.Reset()
	require.False(t, session.CircuitOpen())
	require.Equal(t, 100*time.Millisecond, session.Delay())
}

func TestSessionDoesNotWaitAfterFinalThrottledAttempt(t *testing.T) {
	transport := newFakeTransport()
	transport.handler = scriptedResponses(http.StatusTooManyRequests)
	pauser := &recordingPauser{}
	cfg := testSessionConfig()
	cfg.RateControl.BreakerThreshold = 10
	session := NewSession(transport, cfg, nil, pauser)

	_, err := session.Fetch(context.Background(), "https://shop.test/contact")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, 3, transport.callCount())
	require.Len(t, pauser.recorded(), 2, "one wait between each pair of requests")
	require.False(t, session.CircuitOpen())
}

func TestSessionNotFoundEndsThrottleStreak(t *testing.T) {
	transport := newFakeTransport()
	transport.handler = scriptedResponses(
		http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests,
		http.StatusTooManyRequests, http.StatusNotFound,
		http.StatusTooManyRequests, http.StatusOK,
	)
	session := NewSession(transport, testSessionConfig(), nil, &recordingPauser{})
	ctx := context.Background()

	_, err := session.Fetch(ctx, "https://shop.test/a")
	require.Error(t, err)
	page, err := session.Fetch(ctx, "https://shop.test/b")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, page.StatusCode)

	page, err = session.Fetch(ctx, "https://shop.test/c")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.False(t, session.CircuitOpen())
}

func TestSessionStopsOnCanceledContext(t *testing.T) {
	transport := newFakeTransport()
	session := NewSession(transport, testSessionConfig(), nil, &recordingPauser{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := session.Fetch(ctx, "https://shop.test/")
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, transport.callCount())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := map[string]time.Duration{
		"":        0,
		"3":       3 * time.Second,
		" 7 ":     7 * time.Second,
		"0":       0,
		"-4":      0,
		"soon":    0,
		now.Add(10 * time.Second).Format(http.TimeFormat): 10 * time.Second,
		now.Add(-time.Minute).Format(http.TimeFormat):     0,
	}
	for in, want := range cases {
		require.Equal(t, want, parseRetryAfter(in, now), "Retry-After %q", in)
	}
}
