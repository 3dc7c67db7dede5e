package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/clock/system"
	"github.com/JakeFAU/storefront-contact-crawler/internal/metrics"
	"github.com/JakeFAU/storefront-contact-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
	"github.com/JakeFAU/storefront-contact-crawler/internal/urlcheck"
)

// Threshold defaults.
const (
	DefaultAutoSaveThreshold  = 0.7
	DefaultLowConfidence      = 0.5
	DefaultMaxAlternatives    = 5
	DefaultAlternativePenalty = 0.1
	DefaultMaxReviewURLs      = 10
)

// Action summarizes what Process did with a store.
type Action string

// Process outcomes.
const (
	ActionSaved       Action = "saved"
	ActionNeedsReview Action = "needs_review"
	ActionNotFound    Action = "not_found"
)

// Validator checks that a URL is live.
type Validator interface {
	Check(ctx context.Context, rawURL string) urlcheck.Result
}

// OutcomeWriter persists a resolution decision.
type OutcomeWriter interface {
	SaveURLResult(ctx context.Context, id int64, o store.URLOutcome) error
}

// Config tunes thresholds and validation.
type Config struct {
	AutoSaveThreshold  float64 `mapstructure:"auto_save_threshold"`
	LowConfidence      float64 `mapstructure:"low_confidence_threshold"`
	MaxAlternatives    int     `mapstructure:"max_alternatives"`
	AlternativePenalty float64 `mapstructure:"alternative_penalty"`
	MaxReviewURLs      int     `mapstructure:"max_review_urls"`
}

func (c Config) withDefaults() Config {
	if c.AutoSaveThreshold <= 0 {
		c.AutoSaveThreshold = DefaultAutoSaveThreshold
	}
	if c.LowConfidence <= 0 {
		c.LowConfidence = DefaultLowConfidence
	}
	if c.MaxAlternatives <= 0 {
		c.MaxAlternatives = DefaultMaxAlternatives
	}
	if c.AlternativePenalty <= 0 {
		c.AlternativePenalty = DefaultAlternativePenalty
	}
	if c.MaxReviewURLs <= 0 {
		c.MaxReviewURLs = DefaultMaxReviewURLs
	}
	return c
}

// Decision is the classified outcome for one store.
type Decision struct {
	Action     Action
	Outcome    store.URLOutcome
	Validation *urlcheck.Result
}

// Orchestrator runs providers in priority order and classifies the answer.
type Orchestrator struct {
	providers []Provider
	cfg       Config
	validator Validator
	writer    OutcomeWriter
	cache     *Cache
	limiter   *ratelimit.Limiter
	logger    *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithValidator enables live URL validation before saving.
func WithValidator(v Validator) Option {
	return func(o *Orchestrator) { o.validator = v }
}

// WithCache reuses provider answers per query.
func WithCache(c *Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithLimiter paces calls per provider name.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New builds an Orchestrator. Providers are tried in the order given; nil
// entries are skipped.
func New(writer OutcomeWriter, cfg Config, providers []Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg.withDefaults(),
		writer: writer,
		logger: zap.NewNop(),
	}
	for _, p := range providers {
		if p != nil {
			o.providers = append(o.providers, p)
		}
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil {
		o.cache = NewCache(DefaultCacheTTL, system.New())
	}
	return o
}

// Providers lists configured provider names in priority order.
func (o *Orchestrator) Providers() []string {
	names := make([]string, 0, len(o.providers))
	for _, p := range o.providers {
		names = append(names, p.Name())
	}
	return names
}

// Resolve returns the first provider answer with a selection or candidates.
// Answers are never merged across providers. Provider errors are logged and
// the next provider is tried; if every provider fails the errors are joined.
func (o *Orchestrator) Resolve(ctx context.Context, q Query) (Result, error) {
	if len(o.providers) == 0 {
		return Result{}, ErrNoProviders
	}
	key := q.cacheKey()
	if cached, ok := o.cache.get(key); ok {
		return cached, nil
	}

	var errs []error
	for _, p := range o.providers {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx, p.Name()); err != nil {
				return Result{}, err
			}
		}
		res, err := p.Resolve(ctx, q)
		if err != nil {
			metrics.ObserveResolverCall(p.Name(), "error")
			o.logger.Warn("provider failed", zap.String("provider", p.Name()), zap.String("query", q.Text()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if res.Empty() {
			metrics.ObserveResolverCall(p.Name(), "empty")
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), ErrNoResult))
			continue
		}
		metrics.ObserveResolverCall(p.Name(), "ok")
		res = normalize(res, p.Name())
		o.cache.put(key, res)
		return res, nil
	}
	return Result{}, errors.Join(errs...)
}

func normalize(res Result, provider string) Result {
	res.Provider = provider
	res.Candidates = DedupCandidates(res.Candidates, 0)
	if strings.TrimSpace(res.SelectedURL) == "" && len(res.Candidates) > 0 {
		res.SelectedURL = res.Candidates[0].URL
		if res.Reasoning == "" {
			res.Reasoning = "Low confidence result"
		}
	}
	res.SelectedURL = strings.TrimSpace(res.SelectedURL)
	return res
}

// Decide validates res and classifies it against the thresholds.
//
// At or above AutoSaveThreshold a validated URL is saved as url_verified; a
// high-confidence answer whose every candidate fails validation goes to
// review. Between the thresholds the store goes to review. Below
// LowConfidence the store is not_found unless validation confirmed a live
// candidate, which always earns a review.
func (o *Orchestrator) Decide(ctx context.Context, res Result) Decision {
	confidence := 0.0
	if res.Confidence != nil {
		confidence = *res.Confidence
	}
	chosen := res.SelectedURL
	reason := res.Reasoning
	validated := false
	var validation *urlcheck.Result

	if o.validator != nil && chosen != "" {
		check := o.validator.Check(ctx, chosen)
		validation = &check
		if check.Valid {
			validated = true
		} else if alt, altCheck, ok := o.tryAlternatives(ctx, res, chosen); ok {
			o.logger.Info("primary url failed validation, using alternative",
				zap.String("primary", chosen), zap.String("alternative", alt), zap.String("provider", res.Provider))
			chosen = alt
			validation = &altCheck
			validated = true
			if res.Confidence != nil {
				confidence = max(0, confidence-o.cfg.AlternativePenalty)
			}
		} else {
			reason = validationFailure(check, len(res.Candidates))
		}
	}

	outcome := store.URLOutcome{
		URL:        CleanURL(chosen),
		Confidence: confidence,
		Provider:   res.Provider,
		Candidates: o.reviewURLs(res, chosen),
		Reason:     reason,
	}
	validationFailed := o.validator != nil && !validated

	switch {
	case chosen == "":
		outcome.Status = store.StatusNotFound
		outcome.Reason = "No URL returned from provider"
	case validationFailed && confidence >= o.cfg.AutoSaveThreshold:
		outcome.Status = store.StatusNeedsReview
	case validationFailed:
		outcome.Status = store.StatusNotFound
	case confidence >= o.cfg.AutoSaveThreshold:
		outcome.Status = store.StatusURLVerified
		outcome.Reason = ""
	case confidence >= o.cfg.LowConfidence:
		outcome.Status = store.StatusNeedsReview
		outcome.Reason = fmt.Sprintf("Low confidence (%.0f%%): %s", confidence*100, res.Reasoning)
	case validated:
		outcome.Status = store.StatusNeedsReview
		outcome.Reason = fmt.Sprintf("Very low confidence (%.0f%%) but the site is live: %s", confidence*100, res.Reasoning)
	default:
		outcome.Status = store.StatusNotFound
		outcome.Reason = fmt.Sprintf("Very low confidence (%.0f%%): %s", confidence*100, res.Reasoning)
	}
	if outcome.Status == store.StatusNotFound {
		outcome.URL = ""
	}
	return Decision{Action: actionFor(outcome.Status), Outcome: outcome, Validation: validation}
}

func (o *Orchestrator) tryAlternatives(ctx context.Context, res Result, primary string) (string, urlcheck.Result, bool) {
	tried := 0
	for _, c := range res.Candidates {
		if tried == o.cfg.MaxAlternatives {
			break
		}
		if c.URL == primary {
			continue
		}
		tried++
		if check := o.validator.Check(ctx, c.URL); check.Valid {
			return c.URL, check, true
		}
	}
	return "", urlcheck.Result{}, false
}

// reviewURLs lists the cleaned candidates other than chosen for manual
// disambiguation.
func (o *Orchestrator) reviewURLs(res Result, chosen string) []string {
	chosenKey := CleanURL(chosen)
	out := make([]string, 0, len(res.Candidates))
	seen := map[string]struct{}{chosenKey: {}}
	for _, c := range res.Candidates {
		u := CleanURL(c.URL)
		if _, dup := seen[u]; dup || u == "" {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
		if len(out) == o.cfg.MaxReviewURLs {
			break
		}
	}
	return out
}

func validationFailure(check urlcheck.Result, candidates int) string {
	msg := fmt.Sprintf("URL validation failed: %s (error_type: %s)", check.Error, check.ErrorType)
	if candidates <= 1 {
		return msg + ". No alternative candidates available."
	}
	return msg + ". All alternatives failed validation."
}

func actionFor(s store.Status) Action {
	switch s {
	case store.StatusURLVerified:
		return ActionSaved
	case store.StatusNeedsReview:
		return ActionNeedsReview
	default:
		return ActionNotFound
	}
}

// Process resolves, decides and persists the outcome for st. Provider
// failures become not_found; the returned error is reserved for a failed
// write, which leaves the store untouched.
func (o *Orchestrator) Process(ctx context.Context, st store.Store) (Decision, error) {
	logger := o.logger.With(zap.Int64("store_id", st.ID), zap.String("store_name", st.Name))
	var decision Decision

	q := Query{Name: strings.TrimSpace(st.Name), Country: strings.TrimSpace(st.Country), Context: st.ReviewText}
	if q.Name == "" {
		decision = notFound("Store name is empty", "")
	} else if res, err := o.Resolve(ctx, q); err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		decision = notFound(err.Error(), "")
	} else {
		decision = o.Decide(ctx, res)
	}

	if err := o.writer.SaveURLResult(ctx, st.ID, decision.Outcome); err != nil {
		return decision, fmt.Errorf("save url result for store %d: %w", st.ID, err)
	}
	metrics.ObserveStoreOutcome("url", string(decision.Outcome.Status))
	logger.Info("store resolved",
		zap.String("action", string(decision.Action)),
		zap.String("url", decision.Outcome.URL),
		zap.Float64("confidence", decision.Outcome.Confidence),
		zap.String("provider", decision.Outcome.Provider))
	return decision, nil
}

func notFound(reason, provider string) Decision {
	return Decision{
		Action:  ActionNotFound,
		Outcome: store.URLOutcome{Status: store.StatusNotFound, Provider: provider, Reason: reason},
	}
}
