package reviews

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

// blockSelectors are tried in order; the first that matches anything wins.
var blockSelectors = []string{
	"div[data-merchant-review]",
	`div[class*="lg:tw-grid-cols-4"][class*="tw-gap-xs"]`,
	`div[class*="lg:tw-row-span-2"], div[class*="tw-order-1"]`,
	"div[data-review-id]",
	`article[class*="review"], section[class*="review"], article[class*="Review"], section[class*="Review"]`,
}

var (
	ratingLabel = regexp.MustCompile(`(\d+)\s*(?:out of 5|stars?)`)
	ratingSlash = regexp.MustCompile(`(\d+)\s*/\s*5`)
	months      = []string{"january", "february", "march", "april", "may", "june", "july",
		"august", "september", "october", "november", "december"}
)

// AppName returns the path segment before "reviews" in an app store URL.
func AppName(reviewURL string) string {
	u, err := url.Parse(reviewURL)
	if err != nil {
		return "unknown_app"
	}
	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	for i, p := range parts {
		if p == "reviews" && i > 0 {
			return parts[i-1]
		}
	}
	return "unknown_app"
}

// RatingFromURL reads a star filter from the listing URL, or 0.
func RatingFromURL(reviewURL string) int {
	u, err := url.Parse(reviewURL)
	if err != nil {
		return 0
	}
	q := u.Query()
	for _, key := range []string{"rating", "stars"} {
		if n, err := strconv.Atoi(q.Get(key)); err == nil && n >= 1 && n <= 5 {
			return n
		}
	}
	path := strings.ToLower(u.Path)
	for n := 1; n <= 5; n++ {
		if strings.Contains(path, strconv.Itoa(n)+"-star") {
			return n
		}
	}
	return 0
}

// ParseReviews extracts review rows from one listing page. Rows without a
// store name are dropped; urlRating fills in a missing star rating.
func ParseReviews(doc *goquery.Document, urlRating int) []store.NewStore {
	var blocks *goquery.Selection
	for _, sel := range blockSelectors {
		if blocks = doc.Find(sel); blocks.Length() > 0 {
			break
		}
	}
	out := make([]store.NewStore, 0, blocks.Length())
	blocks.Each(func(_ int, s *goquery.Selection) {
		name := storeName(s)
		if name == "" {
			return
		}
		row := store.NewStore{
			Name:          name,
			Country:       country(s, name),
			ReviewText:    reviewText(s),
			ReviewDate:    reviewDate(s),
			UsageDuration: usageDuration(s),
			Rating:        rating(s),
		}
		if row.Rating == 0 {
			row.Rating = urlRating
		}
		out = append(out, row)
	})
	return out
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func storeName(s *goquery.Selection) string {
	if n := text(s.Find(`span[class*="tw-overflow-hidden"][class*="tw-text-ellipsis"]`).First()); n != "" {
		return n
	}
	return text(s.Find(`a[href*="/stores/"]`).First())
}

// leafDivs returns the divs of s with no element children.
func leafDivs(s *goquery.Selection) []string {
	var out []string
	s.Find("div").Each(func(_ int, d *goquery.Selection) {
		if d.Children().Length() == 0 {
			if t := text(d); t != "" {
				out = append(out, t)
			}
		}
	})
	return out
}

func looksTemporal(t string) bool {
	l := strings.ToLower(t)
	for _, w := range []string{"year", "month", "day", "ago", "replied", "using the app"} {
		if strings.Contains(l, w) {
			return true
		}
	}
	for _, m := range months {
		if strings.Contains(l, m) {
			return true
		}
	}
	return false
}

func country(s *goquery.Selection, name string) string {
	var found string
	s.Find(`div[class*="tw-text-body-xs"]`).EachWithBreak(func(_ int, d *goquery.Selection) bool {
		if d.Children().Length() > 0 {
			return true
		}
		t := text(d)
		if len(t) > 2 && t != name && !looksTemporal(t) {
			found = t
			return false
		}
		return true
	})
	return found
}

func reviewText(s *goquery.Selection) string {
	for _, sel := range []string{
		"div[data-truncate-content-copy]",
		`p[class*="tw-break-words"]`,
		`div[class*="tw-text-body-md"][class*="tw-text-fg-secondary"]`,
	} {
		if t := text(s.Find(sel).First()); t != "" {
			return t
		}
	}
	return ""
}

func reviewDate(s *goquery.Selection) string {
	if tm := s.Find("time").First(); tm.Length() > 0 {
		if dt, ok := tm.Attr("datetime"); ok && dt != "" {
			return dt
		}
		return text(tm)
	}
	var found string
	s.Find(`div[class*="tw-text-fg-tertiary"]`).EachWithBreak(func(_ int, d *goquery.Selection) bool {
		t := text(d)
		l := strings.ToLower(t)
		for _, m := range months {
			if strings.Contains(l, m) {
				found = t
				return false
			}
		}
		return true
	})
	return found
}

func usageDuration(s *goquery.Selection) string {
	for _, t := range leafDivs(s) {
		if strings.Contains(strings.ToLower(t), "using the app") {
			return t
		}
	}
	return ""
}

func rating(s *goquery.Selection) int {
	found := 0
	s.Find("[aria-label]").EachWithBreak(func(_ int, e *goquery.Selection) bool {
		label, _ := e.Attr("aria-label")
		if m := ratingLabel.FindStringSubmatch(strings.ToLower(label)); m != nil {
			if n, _ := strconv.Atoi(m[1]); n >= 1 && n <= 5 {
				found = n
				return false
			}
		}
		return true
	})
	if found > 0 {
		return found
	}
	for _, attr := range []string{"data-rating", "data-star-rating"} {
		if v, ok := s.Attr(attr); ok {
			if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 5 {
				return n
			}
		}
	}
	body := s.Text()
	if n := strings.Count(body, "★"); n >= 1 && n <= 5 {
		return n
	}
	if m := ratingSlash.FindStringSubmatch(body); m != nil {
		if n, _ := strconv.Atoi(m[1]); n >= 1 && n <= 5 {
			return n
		}
	}
	return 0
}
