package extract

import (
	"net"
	"regexp"
	"strings"
)

var (
	// addressPattern finds address-like substrings in free text.
	addressPattern = regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z]{2,}(?:\.[a-zA-Z]{2,})*`)
	strictPattern  = regexp.MustCompile(
		`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`,
	)
)

// knownTLDs is only used to find label boundaries inside concatenated strings.
var knownTLDs = map[string]struct{}{
	"com": {}, "net": {}, "org": {}, "edu": {}, "gov": {}, "mil": {}, "int": {},
	"co": {}, "io": {}, "ai": {}, "app": {}, "dev": {}, "tech": {}, "online": {}, "store": {}, "shop": {},
	"us": {}, "uk": {}, "ca": {}, "au": {}, "de": {}, "fr": {}, "es": {}, "it": {}, "nl": {}, "be": {},
	"ch": {}, "at": {}, "jp": {}, "cn": {}, "in": {}, "br": {}, "mx": {}, "ar": {}, "za": {}, "ae": {},
	"sa": {}, "sg": {}, "hk": {}, "nz": {}, "se": {}, "no": {}, "dk": {}, "fi": {}, "pl": {}, "cz": {},
	"ie": {}, "pt": {}, "gr": {}, "ro": {}, "hu": {}, "info": {}, "biz": {}, "name": {}, "pro": {},
	"xyz": {}, "site": {}, "email": {}, "tv": {}, "cc": {}, "ws": {}, "me": {}, "mobi": {}, "tel": {},
	"asia": {}, "jobs": {},
}

var rejectedFragments = []string{"version@", "@localhost"}

// IsValid reports whether email is a syntactically plausible address.
//
// Beyond the character rules it rejects artifacts that commonly match an
// address regex in page source: version strings such as "v@2.3.44", numeric
// domains, and loopback or private IP literals.
func IsValid(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return false
	}
	local, domain := email[:at], email[at+1:]
	if len(local) > 64 || domain == "" || len(domain) > 255 {
		return false
	}
	for _, frag := range rejectedFragments {
		if strings.Contains(email, frag) {
			return false
		}
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	tld := labels[len(labels)-1]
	if len(tld) < 2 || len(tld) > 6 || !isAlpha(tld) {
		return false
	}
	if !strings.ContainsFunc(domain, isLetter) {
		return false
	}
	if isPrivateLiteral(labels) {
		return false
	}
	return strictPattern.MatchString(email)
}

// Normalize lowercases and trims email and folds Gmail aliases onto one
// canonical mailbox. Normalize(Normalize(x)) == Normalize(x).
func Normalize(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}
	if domain == "gmail.com" || domain == "googlemail.com" {
		if plus := strings.IndexByte(local, '+'); plus >= 0 {
			local = local[:plus]
		}
		local = strings.ReplaceAll(local, ".", "")
		domain = "gmail.com"
	}
	return local + "@" + domain
}

// SplitConcatenated recovers separate addresses from a string where several
// were glued together, e.g. "info@shop.comsales@shop.com". Strings with a
// single '@' that are not overlong are simply validated.
func SplitConcatenated(s string) []string {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.Count(s, "@") <= 1 && len(s) <= 100 {
		if IsValid(s) {
			return []string{s}
		}
		return nil
	}

	var out []string
	rest := s
	for {
		at := strings.IndexByte(rest, '@')
		if at < 0 {
			break
		}
		local := trailingRun(rest[:at], isLocalChar)
		run := leadingRun(rest[at+1:], isDomainChar)
		next := at + 1 + len(run)
		domain := run
		if next < len(rest) && rest[next] == '@' {
			domain = longestKnownTLDPrefix(run)
		}
		domain = strings.TrimRight(domain, ".-")
		if local != "" && domain != "" {
			if candidate := local + "@" + domain; IsValid(candidate) {
				out = append(out, candidate)
			}
		}
		if domain == "" {
			rest = rest[at+1:]
			continue
		}
		rest = rest[at+1+len(domain):]
	}
	return out
}

func longestKnownTLDPrefix(run string) string {
	for i := len(run); i > 0; i-- {
		candidate := run[:i]
		dot := strings.LastIndexByte(candidate, '.')
		if dot <= 0 {
			continue
		}
		if _, ok := knownTLDs[candidate[dot+1:]]; ok {
			return candidate
		}
	}
	return ""
}

// isPrivateLiteral reports whether the domain starts with a full loopback or
// private IPv4 address, as in "ops@10.0.0.5.nip.io". Numeric labels that do
// not form four octets are ordinary hostnames.
func isPrivateLiteral(labels []string) bool {
	n := 0
	for n < len(labels) && isDigits(labels[n]) {
		n++
	}
	if n != 4 {
		return false
	}
	ip := net.ParseIP(strings.Join(labels[:4], "."))
	return ip != nil && (ip.IsPrivate() || ip.IsLoopback())
}

func trailingRun(s string, keep func(byte) bool) string {
	i := len(s)
	for i > 0 && keep(s[i-1]) {
		i--
	}
	return s[i:]
}

func leadingRun(s string, keep func(byte) bool) string {
	i := 0
	for i < len(s) && keep(s[i]) {
		i++
	}
	return s[:i]
}

func isLocalChar(c byte) bool {
	return isDomainChar(c) || c == '_' || c == '+' || c == '%'
}

func isDomainChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '.' || c == '-'
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !isLetter(r) {
			return false
		}
	}
	return s != ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
