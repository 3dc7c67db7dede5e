package extract

import (
	"encoding/hex"
	"strings"
)

var entityReplacer = strings.NewReplacer(
	"&#64;", "@", "&#064;", "@",
	"&#46;", ".", "&#046;", ".",
	"&amp;", "&", "&lt;", "<", "&gt;", ">",
)

// Order matters: the spaced bracket forms must win over the bare ones.
var wordReplacer = strings.NewReplacer(
	" [at] ", "@", " [dot] ", ".",
	" (at) ", "@", " (dot) ", ".",
	"(at)", "@", "[at]", "@", " at ", "@", " AT ", "@",
	"(dot)", ".", "[dot]", ".", " dot ", ".", " DOT ", ".",
)

// decodeEntities resolves the numeric entities commonly used to hide '@' and
// '.' characters, including double-escaped forms left after a first unescape.
func decodeEntities(s string) string {
	return entityReplacer.Replace(s)
}

func substituteWords(s string) string {
	return wordReplacer.Replace(s)
}

func rot13(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return 'a' + (r-'a'+13)%26
		case r >= 'A' && r <= 'Z':
			return 'A' + (r-'A'+13)%26
		}
		return r
	}, s)
}

// decodeCFEmail reverses Cloudflare's email protection: the first byte of the
// hex payload is the XOR key for every byte that follows.
func decodeCFEmail(payload string) (string, bool) {
	raw, err := hex.DecodeString(strings.TrimSpace(payload))
	if err != nil || len(raw) < 2 {
		return "", false
	}
	key := raw[0]
	out := make([]byte, len(raw)-1)
	for i, b := range raw[1:] {
		out[i] = b ^ key
	}
	return string(out), true
}
