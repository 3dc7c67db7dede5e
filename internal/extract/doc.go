// Package extract pulls candidate contact emails out of fetched page content.
//
// Extraction is a pure function over bytes: it combines mailto links, data
// attributes, Cloudflare-obfuscated spans, JSON-LD blocks and several decoded
// renditions of the raw page text, and keeps only syntactically plausible
// addresses. Deciding which addresses are relevant to a storefront is left to
// the relevance package.
package extract
