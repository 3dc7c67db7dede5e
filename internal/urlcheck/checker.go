// Package urlcheck confirms that a resolved storefront URL is live before it
// is saved: the host must resolve and a HEAD (or GET fallback) must answer
// 2xx/3xx within a bounded redirect chain.
package urlcheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrorType classifies a failed check.
type ErrorType string

// Failure classes reported in Result.ErrorType.
const (
	ErrorDNS        ErrorType = "dns"
	ErrorTimeout    ErrorType = "timeout"
	ErrorConnection ErrorType = "connection"
	ErrorHTTP       ErrorType = "http_error"
)

// Defaults applied by New.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRedirects = 3
	DefaultUserAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var errTooManyRedirects = errors.New("too many redirects")

// Result is the outcome of one check.
type Result struct {
	Valid      bool      `json:"valid"`
	StatusCode int       `json:"status_code,omitempty"`
	FinalURL   string    `json:"final_url,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorType  ErrorType `json:"error_type,omitempty"`
}

// HostResolver looks up a hostname; *net.Resolver satisfies it.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Config tunes a Checker.
type Config struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRedirects int           `mapstructure:"max_redirects"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// Checker validates URLs. It is safe for concurrent use.
type Checker struct {
	client    *http.Client
	resolver  HostResolver
	userAgent string
	logger    *zap.Logger
}

// Option customizes a Checker.
type Option func(*Checker)

// WithResolver replaces the DNS resolver.
func WithResolver(r HostResolver) Option {
	return func(c *Checker) { c.resolver = r }
}

// WithLogger sets the checker logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds a Checker.
func New(cfg Config, opts ...Option) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	maxRedirects := cfg.MaxRedirects
	c := &Checker{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
		},
		resolver:  net.DefaultResolver,
		userAgent: cfg.UserAgent,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check validates rawURL. Bare domains are treated as https.
func (c *Checker) Check(ctx context.Context, rawURL string) Result {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return failure(ErrorConnection, "URL is empty")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return failure(ErrorConnection, "invalid URL format: no hostname")
	}

	if net.ParseIP(u.Hostname()) == nil {
		if _, err := c.resolver.LookupHost(ctx, u.Hostname()); err != nil {
			c.logger.Debug("dns lookup failed", zap.String("url", rawURL), zap.Error(err))
			return failure(ErrorDNS, fmt.Sprintf("DNS resolution failed: %v", err))
		}
	}

	resp, err := c.do(ctx, http.MethodHead, rawURL)
	if err != nil || resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp, err = c.do(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		kind := classify(err)
		c.logger.Debug("url check failed", zap.String("url", rawURL), zap.String("error_type", string(kind)), zap.Error(err))
		return failure(kind, err.Error())
	}

	res := Result{StatusCode: resp.StatusCode, FinalURL: resp.FinalURL}
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		res.Valid = true
		return res
	}
	res.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	res.ErrorType = ErrorHTTP
	return res
}

type response struct {
	StatusCode int
	FinalURL   string
}

func (c *Checker) do(ctx context.Context, method, rawURL string) (response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	resp, err := c.client.Do(req)
	if err != nil {
		return response{}, err
	}
	// GET bodies are discarded unread; only the status matters.
	_ = resp.Body.Close()
	return response{StatusCode: resp.StatusCode, FinalURL: resp.Request.URL.String()}, nil
}

func classify(err error) ErrorType {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorDNS
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}
	return ErrorConnection
}

func failure(kind ErrorType, msg string) Result {
	return Result{Error: msg, ErrorType: kind}
}
