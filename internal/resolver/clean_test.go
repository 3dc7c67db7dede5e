package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanURL(t *testing.T) {
	cases := map[string]string{
		"https://acme.com/":                                     "https://acme.com",
		"https://acme.com/?utm_source=google&utm_medium=cpc":    "https://acme.com",
		"https://acme.com/shop?gclid=abc&page=2#reviews":        "https://acme.com/shop?page=2",
		"https://acme.com/?ref=producthunt&srsltid=x&Coupon=10": "https://acme.com",
		"  https://acme.com/collections/  ":                     "https://acme.com/collections",
		"acme.com/":                                             "acme.com",
	}
	for in, want := range cases {
		require.Equal(t, want, CleanURL(in), in)
	}
}
