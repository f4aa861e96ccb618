package intent

import (
	"encoding/base64"
	"encoding/hex"
	"regexp"
	"strings"
)

// rot13SignatureTokens are lowercase ROT13 encodings of words that, in
// plaintext, would themselves be red flags — their presence in a
// ROT13'd prompt is itself the tell, before decoding.
var rot13SignatureTokens = []string{
	"xrl",    // "key"
	"penml",  // "crazy"
	"frperg", // "secret"
	"npprff", // "access"
	"cnffjbeq", // "password"
	"nffvfg", // "assist"
}

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+=*$`)
var hexPattern = regexp.MustCompile(`^[0-9A-Fa-f]+$`)

// obfuscationMethod names the decode path that matched, or "" if none did.
type obfuscationMethod string

const (
	methodNone   obfuscationMethod = ""
	methodROT13  obfuscationMethod = "ROT13"
	methodBase64 obfuscationMethod = "Base64"
	methodHex    obfuscationMethod = "Hex"
)

// decodeObfuscation tries ROT13, then Base64, then Hex, in that order
// (first match wins), returning the decoded text and which method
// matched. If none match, returns the original text and methodNone.
func decodeObfuscation(text string) (decoded string, method obfuscationMethod) {
	lower := strings.ToLower(text)
	for _, tok := range rot13SignatureTokens {
		if strings.Contains(lower, tok) {
			return rot13(text), methodROT13
		}
	}

	if candidate, ok := tryBase64(text); ok {
		return candidate, methodBase64
	}

	if candidate, ok := tryHex(text); ok {
		return candidate, methodHex
	}

	return text, methodNone
}

func rot13(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return 'a' + (r-'a'+13)%26
		case r >= 'A' && r <= 'Z':
			return 'A' + (r-'A'+13)%26
		default:
			return r
		}
	}, s)
}

func tryBase64(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= 10 {
		return "", false
	}
	if !base64Pattern.MatchString(trimmed) {
		return "", false
	}
	if strings.Count(trimmed, "=") > 2 {
		return "", false
	}

	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return "", false
	}
	if !isPrintableOrAlnum(raw) {
		return "", false
	}
	return string(raw), true
}

func tryHex(text string) (string, bool) {
	stripped := strings.Join(strings.Fields(text), "")
	if len(stripped) < 20 || len(stripped)%2 != 0 {
		return "", false
	}
	if !hexPattern.MatchString(stripped) {
		return "", false
	}

	raw, err := hex.DecodeString(stripped)
	if err != nil {
		return "", false
	}
	if !isPrintableOrAlnum(raw) {
		return "", false
	}
	return string(raw), true
}

// isPrintableOrAlnum accepts a decoded byte slice as plausible text if
// it contains at least one alphanumeric byte and no control bytes
// outside common whitespace — guards against decoding arbitrary binary
// noise and treating it as a valid obfuscated prompt.
func isPrintableOrAlnum(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	hasAlnum := false
	for _, c := range b {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			hasAlnum = true
		case c == '\n', c == '\r', c == '\t', (c >= 0x20 && c < 0x7f):
			// printable ASCII or common whitespace, acceptable
		default:
			return false
		}
	}
	return hasAlnum
}
