package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/storefront-contact-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-contact-crawler/internal/resolver"
)

func answerServer(t *testing.T, statuses []int, text string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		require.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-2.0-flash:generateContent"), r.URL.Path)
		if n <= len(statuses) && statuses[n-1] != http.StatusOK {
			w.WriteHeader(statuses[n-1])
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{"text": text}}},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testOpts(srv *httptest.Server) []option.ClientOption {
	return []option.ClientOption{
		option.WithEndpoint(srv.URL + "/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	}
}

func newTestProvider(t *testing.T, srv *httptest.Server, cfg Config, storefront crawler.Transport) *Provider {
	t.Helper()
	p, err := New(context.Background(), cfg, storefront, zap.NewNop(), testOpts(srv)...)
	require.NoError(t, err)
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

const lineAnswer = `SELECTED_URL: acme.com
CONFIDENCE: 0.85
REASONING: Official site matches the brand.
CANDIDATES:
- https://acme.com
- https://www.facebook.com/acme
- acme-store.myshopify.com`

func TestResolveParsesLineFormat(t *testing.T) {
	srv, calls := answerServer(t, nil, lineAnswer)
	p := newTestProvider(t, srv, Config{}, nil)

	res, err := p.Resolve(context.Background(), resolver.Query{Name: "Acme", Country: "US"})
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, Name, res.Provider)
	require.Equal(t, "https://acme.com", res.SelectedURL)
	require.NotNil(t, res.Confidence)
	require.InDelta(t, 0.85, *res.Confidence, 1e-9)
	require.Equal(t, "Official site matches the brand.", res.Reasoning)
	require.Len(t, res.Candidates, 2)
	require.Equal(t, "https://acme-store.myshopify.com", res.Candidates[1].URL)
}

func TestResolveParsesJSON(t *testing.T) {
	srv, _ := answerServer(t, nil, "```json\n{\"selected_url\":\"https://acme.com\",\"confidence\":0.9,\"reasoning\":\"ok\"}\n```")
	p := newTestProvider(t, srv, Config{}, nil)

	res, err := p.Resolve(context.Background(), resolver.Query{Name: "Acme"})
	require.NoError(t, err)
	require.Equal(t, "https://acme.com", res.SelectedURL)
	require.InDelta(t, 0.9, *res.Confidence, 1e-9)
}

func TestResolveRetriesRateLimit(t *testing.T) {
	srv, calls := answerServer(t, []int{429, 429}, lineAnswer)
	p := newTestProvider(t, srv, Config{MaxRetries: 3}, nil)

	res, err := p.Resolve(context.Background(), resolver.Query{Name: "Acme"})
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, "https://acme.com", res.SelectedURL)
}

func TestResolveGivesUpAfterRetries(t *testing.T) {
	srv, calls := answerServer(t, []int{429, 429, 429}, lineAnswer)
	p := newTestProvider(t, srv, Config{MaxRetries: 2}, nil)

	_, err := p.Resolve(context.Background(), resolver.Query{Name: "Acme"})
	require.ErrorContains(t, err, "rate limit exceeded after 3 attempts")
	require.Equal(t, int32(3), calls.Load())
}

type staticTransport map[string]string

func (s staticTransport) Get(_ context.Context, rawURL string) (crawler.Response, error) {
	body, ok := s[rawURL]
	if !ok {
		return crawler.Response{URL: rawURL, StatusCode: http.StatusNotFound, Headers: http.Header{}}, nil
	}
	return crawler.Response{URL: rawURL, StatusCode: http.StatusOK, Headers: http.Header{}, Body: []byte(body)}, nil
}

func TestStorefrontVerificationCapsConfidence(t *testing.T) {
	srv, _ := answerServer(t, nil, lineAnswer)

	plain := newTestProvider(t, srv, Config{VerifyStorefront: true}, staticTransport{"https://acme.com": "<html>hello</html>"})
	res, err := plain.Resolve(context.Background(), resolver.Query{Name: "Acme"})
	require.NoError(t, err)
	require.InDelta(t, unverifiedCeiling, *res.Confidence, 1e-9)
	require.Contains(t, res.Reasoning, "Shopify verification not detected")

	shop := newTestProvider(t, srv, Config{VerifyStorefront: true},
		staticTransport{"https://acme.com": `<script src="https://cdn.shopify.com/s/files/theme.js"></script>`})
	res, err = shop.Resolve(context.Background(), resolver.Query{Name: "Acme"})
	require.NoError(t, err)
	require.InDelta(t, 0.85, *res.Confidence, 1e-9)
}

func TestIgnoredURL(t *testing.T) {
	cases := map[string]bool{
		"https://acme.com":    false,
		"https://vertexaisearch.cloud.google.com/grounding-api-redirect/abc": true,
		"https://www.instagram.com/acme":     true,
		"https://www.amazon.co.uk/acme":      true,
		"https://en.wikipedia.org/wiki/Acme": true,
		"":                                   true,
	}
	for raw, want := range cases {
		require.Equal(t, want, ignoredURL(raw), raw)
	}
}

func TestExtractURLsFromFreeText(t *testing.T) {
	got := extractURLs("The store lives at https://acme.com, see also facebook.com/acme and acme.co.uk.", 5)
	require.Equal(t, []string{"https://acme.com", "https://acme.co.uk"}, got)
}

func TestSelectorPicksByIndex(t *testing.T) {
	srv, _ := answerServer(t, nil, `{"selected_index": 1, "confidence": 0.8, "reasoning": "brand match"}`)
	s, err := NewSelector(context.Background(), Config{}, zap.NewNop(), testOpts(srv)...)
	require.NoError(t, err)

	hits := []resolver.Candidate{{URL: "https://reviews.test/acme"}, {URL: "https://acme.com"}}
	res, err := s.Select(context.Background(), resolver.Query{Name: "Acme"}, hits)
	require.NoError(t, err)
	require.Equal(t, "https://acme.com", res.SelectedURL)
	require.InDelta(t, 0.8, *res.Confidence, 1e-9)
}

func TestSelectorFallsBackOnUnknownURL(t *testing.T) {
	srv, _ := answerServer(t, nil, `{"selected_url": "https://elsewhere.test", "confidence": 0.95}`)
	s, err := NewSelector(context.Background(), Config{}, zap.NewNop(), testOpts(srv)...)
	require.NoError(t, err)

	hits := []resolver.Candidate{{URL: "https://acme.com"}, {URL: "https://other.test"}}
	res, err := s.Select(context.Background(), resolver.Query{Name: "Acme"}, hits)
	require.NoError(t, err)
	require.Equal(t, "https://acme.com", res.SelectedURL)
	require.InDelta(t, selectorFallbackConfidence, *res.Confidence, 1e-9)
}

func TestAdjudicatorParsesVerdict(t *testing.T) {
	srv, _ := answerServer(t, nil, "Sure:\n{\"is_legitimate\": true, \"confidence\": 0.82, \"reasoning\": \"matches store name\"}")
	a, err := NewAdjudicator(context.Background(), Config{}, zap.NewNop(), testOpts(srv)...)
	require.NoError(t, err)

	v, err := a.Adjudicate(context.Background(), "acmeshop@gmail.com", "https://acme.com", "Acme")
	require.NoError(t, err)
	require.True(t, v.Legitimate)
	require.InDelta(t, 0.82, v.Confidence, 1e-9)
	require.Equal(t, "matches store name", v.Reasoning)
}

func TestAdjudicatorTreatsGarbageAsRejection(t *testing.T) {
	srv, _ := answerServer(t, nil, "I cannot tell.")
	a, err := NewAdjudicator(context.Background(), Config{}, zap.NewNop(), testOpts(srv)...)
	require.NoError(t, err)

	v, err := a.Adjudicate(context.Background(), "x@gmail.com", "https://acme.com", "")
	require.NoError(t, err)
	require.False(t, v.Legitimate)
}
