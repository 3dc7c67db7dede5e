package extract

import (
	"bytes"
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

var (
	anchorSelector     = cascadia.MustCompile(`a[href]`)
	dataAttrSelector   = cascadia.MustCompile(`[data-email], [data-contact]`)
	labelledSelector   = cascadia.MustCompile(`a[title], a[aria-label]`)
	cfEmailSelector    = cascadia.MustCompile(`[data-cfemail]`)
	structuredSelector = cascadia.MustCompile(`script[type="application/ld+json"]`)
)

const cfProtectionFragment = "/cdn-cgi/l/email-protection#"

// Extract returns the lowercased, deduplicated candidate emails found in body.
// pageURL is only used to resolve relative links and may be empty. Malformed
// markup degrades to the text-based passes rather than failing.
func Extract(body []byte, pageURL string) []string {
	found := make(map[string]struct{})
	add := func(candidates ...string) {
		for _, c := range candidates {
			if IsValid(c) {
				found[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
			}
		}
	}

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		extractMarkup(doc, pageURL, add)
	}
	add(textCandidates(string(body))...)

	out := make([]string, 0, len(found))
	for email := range found {
		out = append(out, email)
	}
	sort.Strings(out)
	return out
}

func extractMarkup(doc *goquery.Document, pageURL string, add func(...string)) {
	doc.FindMatcher(anchorSelector).Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		lower := strings.ToLower(href)
		switch {
		case strings.HasPrefix(lower, "mailto:"):
			add(SplitConcatenated(mailtoAddress(href))...)
		case strings.Contains(lower, cfProtectionFragment):
			payload := href[strings.Index(lower, cfProtectionFragment)+len(cfProtectionFragment):]
			if decoded, ok := decodeCFEmail(payload); ok {
				add(decoded)
			}
		case strings.Contains(href, "@"):
			add(addressPattern.FindAllString(resolveHref(pageURL, href), -1)...)
		}
	})

	doc.FindMatcher(dataAttrSelector).Each(func(_ int, s *goquery.Selection) {
		value := s.AttrOr("data-email", "")
		if value == "" {
			value = s.AttrOr("data-contact", "")
		}
		add(SplitConcatenated(value)...)
	})

	doc.FindMatcher(labelledSelector).Each(func(_ int, s *goquery.Selection) {
		text := s.AttrOr("title", "")
		if text == "" {
			text = s.AttrOr("aria-label", "")
		}
		add(addressPattern.FindAllString(text, -1)...)
	})

	doc.FindMatcher(cfEmailSelector).Each(func(_ int, s *goquery.Selection) {
		if decoded, ok := decodeCFEmail(s.AttrOr("data-cfemail", "")); ok {
			add(decoded)
		}
	})

	doc.FindMatcher(structuredSelector).Each(func(_ int, s *goquery.Selection) {
		var payload any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return
		}
		walkJSON(payload, add)
	})
}

// textCandidates runs the address pattern over the unescaped page, its
// entity-decoded and word-substituted forms, and its ROT13 rotation.
func textCandidates(raw string) []string {
	text := html.UnescapeString(raw)
	var out []string
	for _, v := range []string{text, decodeEntities(text), substituteWords(text)} {
		out = append(out, addressPattern.FindAllString(v, -1)...)
	}
	// Every plain address also has a ROT13 twin, so decoded matches must land
	// on a recognised TLD to count.
	for _, candidate := range addressPattern.FindAllString(rot13(text), -1) {
		if hasKnownTLD(candidate) {
			out = append(out, candidate)
		}
	}
	return out
}

func hasKnownTLD(email string) bool {
	dot := strings.LastIndexByte(email, '.')
	if dot < 0 {
		return false
	}
	_, ok := knownTLDs[strings.ToLower(email[dot+1:])]
	return ok
}

func walkJSON(node any, add func(...string)) {
	switch v := node.(type) {
	case map[string]any:
		for _, child := range v {
			walkJSON(child, add)
		}
	case []any:
		for _, child := range v {
			walkJSON(child, add)
		}
	case string:
		add(strings.TrimPrefix(strings.TrimSpace(v), "mailto:"))
	}
}

func mailtoAddress(href string) string {
	addr := href[len("mailto:"):]
	if q := strings.IndexByte(addr, '?'); q >= 0 {
		addr = addr[:q]
	}
	if unescaped, err := url.PathUnescape(addr); err == nil {
		addr = unescaped
	}
	return strings.TrimSpace(addr)
}

func resolveHref(pageURL, href string) string {
	if pageURL == "" {
		return href
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	resolved := base.ResolveReference(ref).String()
	if unescaped, err := url.PathUnescape(resolved); err == nil {
		return unescaped
	}
	return resolved
}
