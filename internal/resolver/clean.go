package resolver

import (
	"net/url"
	"strings"
)

var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {}, "utm_content": {},
	"gclid": {}, "fbclid": {}, "srsltid": {}, "ref": {}, "source": {}, "campaign": {},
	"affiliate": {}, "partner": {}, "promo": {}, "discount": {}, "coupon": {},
}

// CleanURL strips tracking parameters, the fragment and a trailing slash.
// Unparseable input is returned trimmed but otherwise unchanged.
func CleanURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if _, drop := trackingParams[strings.ToLower(key)]; drop {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}
	u.Fragment = ""
	u.RawFragment = ""
	return strings.TrimRight(u.String(), "/")
}
