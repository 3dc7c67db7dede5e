// Package relevance decides which crawled addresses belong to a store.
//
// Addresses on the store's own domain or a subdomain of it are kept. Free
// mailbox providers are kept when the local part reads like a business inbox
// and are otherwise ambiguous; an optional Adjudicator may rescue ambiguous
// addresses. Everything else is dropped. The output is always a subset of
// the input.
package relevance

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/extract"
)

// Category classifies one address against a store domain.
type Category string

// Categories returned by Categorize.
const (
	CategoryDomain           Category = "domain"
	CategorySubdomain        Category = "subdomain"
	CategoryThirdPartyLegit  Category = "third_party_legitimate"
	CategoryThirdPartyUnsure Category = "third_party_ambiguous"
	CategoryOther            Category = "other"
)

// DefaultAdjudicationThreshold is the minimum confidence for an adjudicated
// address to be kept.
const DefaultAdjudicationThreshold = 0.7

var thirdPartyDomains = map[string]struct{}{
	"gmail.com": {}, "googlemail.com": {}, "yahoo.com": {}, "yahoo.co.uk": {}, "yahoo.fr": {},
	"outlook.com": {}, "hotmail.com": {}, "hotmail.co.uk": {}, "live.com": {}, "msn.com": {},
	"icloud.com": {}, "me.com": {}, "mac.com": {}, "aol.com": {}, "protonmail.com": {},
	"zoho.com": {}, "yandex.com": {}, "mail.com": {}, "gmx.com": {},
}

var businessKeywords = []string{
	"contact", "info", "hello", "support", "help", "sales", "business", "service",
	"customerservice", "team", "inquiries", "inquiry", "admin", "office", "general", "mail",
	"enquiries", "enquiry", "customersupport", "customer.service", "customercare", "care",
	"assistance", "hi", "reach", "getintouch", "get-in-touch",
}

var spamKeywords = []string{
	"noreply", "no-reply", "donotreply", "do-not-reply", "no.reply",
	"test", "example", "demo", "sample", "spam", "trash",
}

// Verdict is an adjudicator's opinion on one ambiguous address.
type Verdict struct {
	Legitimate bool
	Confidence float64
	Reasoning  string
}

// Adjudicator judges ambiguous third-party addresses, typically with a model.
type Adjudicator interface {
	Adjudicate(ctx context.Context, email, storeURL, storeName string) (Verdict, error)
}

// Stats counts addresses per stage of Filter.
type Stats struct {
	TotalRaw         int `json:"total_raw"`
	TotalUnique      int `json:"total_unique"`
	Domain           int `json:"domain_count"`
	Subdomain        int `json:"subdomain_count"`
	ThirdPartyLegit  int `json:"third_party_legitimate_count"`
	ThirdPartyUnsure int `json:"third_party_ambiguous_count"`
	Adjudicated      int `json:"ai_validated_count"`
	Final            int `json:"final_count"`
}

// Result is the outcome of Filter.
type Result struct {
	Primary     []string
	Secondary   []string
	Categorized map[Category][]string
	Stats       Stats
}

// All returns primary then secondary addresses.
func (r Result) All() []string {
	out := make([]string, 0, len(r.Primary)+len(r.Secondary))
	out = append(out, r.Primary...)
	return append(out, r.Secondary...)
}

// Option configures a Filter.
type Option func(*Filter)

// WithAdjudicator enables adjudication of ambiguous addresses.
func WithAdjudicator(a Adjudicator, threshold float64) Option {
	return func(f *Filter) {
		f.adjudicator = a
		if threshold > 0 {
			f.threshold = threshold
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Filter) {
		if l != nil {
			f.logger = l
		}
	}
}

// Filter applies the relevance rules.
type Filter struct {
	adjudicator Adjudicator
	threshold   float64
	logger      *zap.Logger
}

// New returns a Filter.
func New(opts ...Option) *Filter {
	f := &Filter{threshold: DefaultAdjudicationThreshold, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Filter dedups, categorizes and selects the relevant addresses of raw.
// Adjudicator failures leave the address out.
func (f *Filter) Filter(ctx context.Context, raw []string, storeURL, storeName string) Result {
	unique := Dedup(raw)
	categorized := Categorize(unique, StoreDomain(storeURL))

	res := Result{Categorized: categorized}
	res.Primary = append(res.Primary, categorized[CategoryDomain]...)
	res.Primary = append(res.Primary, categorized[CategorySubdomain]...)
	res.Primary = append(res.Primary, categorized[CategoryThirdPartyLegit]...)

	if f.adjudicator != nil {
		for _, email := range categorized[CategoryThirdPartyUnsure] {
			if ctx.Err() != nil {
				break
			}
			v, err := f.adjudicator.Adjudicate(ctx, email, storeURL, storeName)
			if err != nil {
				f.logger.Warn("adjudication failed", zap.String("email", email), zap.Error(err))
				continue
			}
			if v.Legitimate && v.Confidence >= f.threshold {
				res.Secondary = append(res.Secondary, email)
				f.logger.Debug("adjudicated address kept", zap.String("email", email),
					zap.Float64("confidence", v.Confidence), zap.String("reasoning", v.Reasoning))
			}
		}
	}

	res.Stats = Stats{
		TotalRaw:         len(raw),
		TotalUnique:      len(unique),
		Domain:           len(categorized[CategoryDomain]),
		Subdomain:        len(categorized[CategorySubdomain]),
		ThirdPartyLegit:  len(categorized[CategoryThirdPartyLegit]),
		ThirdPartyUnsure: len(categorized[CategoryThirdPartyUnsure]),
		Adjudicated:      len(res.Secondary),
	}
	res.Stats.Final = len(res.Primary) + len(res.Secondary)
	return res
}

// Dedup drops invalid addresses and keeps the first spelling of each
// normalized mailbox.
func Dedup(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.TrimSpace(e)
		if !extract.IsValid(e) {
			continue
		}
		key := extract.Normalize(e)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}

// StoreDomain returns the lowercased host of storeURL without "www.".
func StoreDomain(storeURL string) string {
	storeURL = strings.TrimSpace(storeURL)
	if storeURL == "" {
		return ""
	}
	if !strings.Contains(storeURL, "://") {
		storeURL = "https://" + storeURL
	}
	u, err := url.Parse(storeURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Categorize buckets valid addresses against domain.
func Categorize(emails []string, domain string) map[Category][]string {
	out := make(map[Category][]string, 5)
	for _, e := range emails {
		if !extract.IsValid(e) {
			continue
		}
		c := categoryOf(e, domain)
		out[c] = append(out[c], e)
	}
	return out
}

func categoryOf(email, domain string) Category {
	at := strings.LastIndexByte(email, '@')
	local, host := strings.ToLower(email[:at]), strings.ToLower(email[at+1:])
	host = strings.TrimPrefix(host, "www.")
	switch {
	case domain != "" && host == domain:
		return CategoryDomain
	case domain != "" && strings.HasSuffix(host, "."+domain):
		return CategorySubdomain
	}
	if _, ok := thirdPartyDomains[host]; ok {
		if businessLike(local) {
			return CategoryThirdPartyLegit
		}
		return CategoryThirdPartyUnsure
	}
	return CategoryOther
}

// businessLike reports whether a free-mailbox local part looks like a shop
// inbox: a business keyword, or a short alphanumeric handle.
func businessLike(local string) bool {
	for _, k := range spamKeywords {
		if strings.Contains(local, k) {
			return false
		}
	}
	for _, k := range businessKeywords {
		if strings.Contains(local, k) {
			return true
		}
	}
	if len(local) >= 20 {
		return false
	}
	clean := strings.NewReplacer(".", "", "-", "", "_", "").Replace(local)
	if clean == "" {
		return false
	}
	for _, r := range clean {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// Restrict returns the members of candidates that appear in raw, compared
// case-insensitively, in candidates order without duplicates. It guards the
// subset rule when a filter or adjudicator misbehaves.
func Restrict(candidates, raw []string) []string {
	allowed := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		allowed[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		key := strings.ToLower(strings.TrimSpace(c))
		if _, ok := allowed[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
