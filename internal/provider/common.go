package provider

import "strings"

// sizeAliases maps the common aspect-ratio shorthands accepted by the
// public endpoints to concrete pixel dimensions. Values follow the
// conventions most image-generation APIs in the pack settled on; the
// spec calls this "a fixed table" without naming exact numbers.
var sizeAliases = map[string]string{
	"1:1":  "1024x1024",
	"16:9": "1344x768",
	"9:16": "768x1344",
	"4:3":  "1152x864",
	"3:4":  "864x1152",
	"3:2":  "1216x832",
	"2:3":  "832x1216",
}

// ResolveSize returns the effective size string for a request: the
// request value (resolving a ratio alias if present) if non-empty, else
// taskDefault, else adapterDefault.
func ResolveSize(requested, taskDefault, adapterDefault string) string {
	if requested != "" {
		if resolved, ok := sizeAliases[requested]; ok {
			return resolved
		}
		return requested
	}
	if taskDefault != "" {
		return taskDefault
	}
	return adapterDefault
}

// ResolveModel returns the effective model: requested if it is in
// supported, else taskDefault, else adapterDefault.
func ResolveModel(requested string, supported []string, taskDefault, adapterDefault string) string {
	if requested != "" && contains(supported, requested) {
		return requested
	}
	if taskDefault != "" {
		return taskDefault
	}
	return adapterDefault
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// ClampN bounds n to [1, max]. A non-positive n is treated as 1.
func ClampN(n, max int) int {
	if n < 1 {
		n = 1
	}
	if max > 0 && n > max {
		n = max
	}
	return n
}

// Slug lowercases s, replaces every run of non-alphanumeric characters
// with a single '-', and trims the result to maxLen runes. Used by the
// artifact store for prompt/model slugging.
func Slug(s string, maxLen int) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(s) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			b.WriteRune(r)
			prevDash = false
			continue
		}
		if !prevDash {
			b.WriteByte('-')
			prevDash = true
		}
	}
	out := strings.Trim(b.String(), "-")
	runes := []rune(out)
	if maxLen > 0 && len(runes) > maxLen {
		runes = runes[:maxLen]
	}
	return strings.Trim(string(runes), "-")
}
