// Package crawler implements the per-store crawl engine: page discovery and
// prioritization, an adaptive rate-limited fetch session with a 429 circuit
// breaker, and the loop that drives extraction across a bounded page budget.
package crawler
