package extract

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func cfEncode(email string, key byte) string {
	out := []byte{key}
	for i := 0; i < len(email); i++ {
		out = append(out, email[i]^key)
	}
	return hex.EncodeToString(out)
}

func TestExtractMailto(t *testing.T) {
	t.Parallel()

	page := `<html><body><a href="mailto:Sales@Store.com?subject=Hi">Email us</a></body></html>`
	require.Equal(t, []string{"sales@store.com"}, Extract([]byte(page), "https://store.com/"))
}

func TestExtractObfuscatedSources(t *testing.T) {
	t.Parallel()

	page := `<html><head>
<script type="application/ld+json">{"@type":"Organization","contactPoint":[{"email":"care@brand.com"}]}</script>
</head><body>
<span class="__cf_email__" data-cfemail="` + cfEncode("cf@brand.com", 0x42) + `">[email protected]</span>
<a href="/cdn-cgi/l/email-protection#` + cfEncode("link@brand.com", 0x17) + `">protected</a>
<div data-email="data@brand.com"></div>
<div data-contact="team@brand.com"></div>
<a title="Write to title@brand.com" href="#">t</a>
<a href="https://brand.com/redirect?to=href@brand.com">h</a>
<p>press&#64;brand&#46;com</p>
<p>orders (at) brand (dot) com</p>
<p>jubyrfnyr@oenaq.pbz</p>
</body></html>`

	got := Extract([]byte(page), "https://brand.com/contact")
	for _, want := range []string{
		"care@brand.com",
		"cf@brand.com",
		"link@brand.com",
		"data@brand.com",
		"team@brand.com",
		"title@brand.com",
		"href@brand.com",
		"press@brand.com",
		"orders@brand.com",
		"wholesale@brand.com",
	} {
		require.Contains(t, got, want)
	}
}

func TestExtractRejectsArtifacts(t *testing.T) {
	t.Parallel()

	page := `<script src="/lib/jquery@3.6.0.min.js"></script><p>build version@2.3.44</p>`
	require.Empty(t, Extract([]byte(page), ""))
}

func TestExtractSplitsConcatenatedData(t *testing.T) {
	t.Parallel()

	page := `<div data-email="info@shop.comsales@shop.com"></div>`
	got := Extract([]byte(page), "")
	require.Contains(t, got, "info@shop.com")
	require.Contains(t, got, "sales@shop.com")
}

func TestDecodeCFEmail(t *testing.T) {
	t.Parallel()

	decoded, ok := decodeCFEmail(cfEncode("hi@x.com", 0x5a))
	require.True(t, ok)
	require.Equal(t, "hi@x.com", decoded)

	_, ok = decodeCFEmail("zz")
	require.False(t, ok)
}
