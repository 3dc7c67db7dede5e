package crawler

import (
	"context"
	"net/http"
	"sync"
)

// fakeTransport answers from a URL-keyed table; anything missing is a 404.
type fakeTransport struct {
	mu      sync.Mutex
	pages   map[string]Response
	handler func(rawURL string) (Response, error)
	calls   []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{pages: make(map[string]Response)}
}

func (f *fakeTransport) html(rawURL, body string) *fakeTransport {
	f.pages[rawURL] = Response{URL: rawURL, StatusCode: http.StatusOK, Body: []byte(body)}
	return f
}

func (f *fakeTransport) Get(_ context.Context, rawURL string) (Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	handler := f.handler
	resp, ok := f.pages[rawURL]
	f.mu.Unlock()

	if handler != nil {
		return handler(rawURL)
	}
	if !ok {
		return Response{URL: rawURL, StatusCode: http.StatusNotFound}, nil
	}
	return resp, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransport) callsTo(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == rawURL {
			n++
		}
	}
	return n
}

// scriptedResponses replays statuses in order, repeating the last one.
func scriptedResponses(statuses ...int) func(string) (Response, error) {
	var mu sync.Mutex
	i := 0
	return func(rawURL string) (Response, error) {
		mu.Lock()
		defer mu.Unlock()
		code := statuses[min(i, len(statuses)-1)]
		i++
		resp := Response{URL: rawURL, StatusCode: code, Headers: http.Header{}}
		if code == http.StatusOK {
			resp.Body = []byte("<html><body>ok</body></html>")
		}
		return resp, nil
	}
}
