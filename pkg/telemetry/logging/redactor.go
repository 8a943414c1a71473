package logging

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
)

const mask = "***"

// Redactor masks credentials in log output. It knows two kinds of secret:
// literal values registered with SetSecrets (upstream and proxy passwords)
// and password-looking fields found by pattern.
type Redactor struct {
	secrets atomic.Pointer[[]string]
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// queryPattern matches password=... in query strings and key=value text.
var queryPattern = regexp.MustCompile(`(?i)((?:password|passwd|pwd|token)=)[^&\s"]+`)

var patterns = []redactPattern{
	{regex: queryPattern, replacement: "${1}" + mask},
	// user:pass@ in URLs
	{regex: regexp.MustCompile(`(://[^/:@\s]+:)[^@/\s]+@`), replacement: "${1}" + mask + "@"},
}

// NewRedactor creates a redactor for the given literal secrets.
func NewRedactor(secrets []string) *Redactor {
	r := &Redactor{}
	r.SetSecrets(secrets)
	return r
}

// SetSecrets replaces the literal secrets. Longer secrets are matched
// first. Values shorter than four characters are ignored; masking them
// would garble ordinary text.
func (r *Redactor) SetSecrets(secrets []string) {
	seen := make(map[string]bool, len(secrets))
	out := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if len(s) < 4 || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	r.secrets.Store(&out)
}

// RedactString masks every known secret in value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, s := range *r.secrets.Load() {
		if strings.Contains(value, s) {
			value = strings.ReplaceAll(value, s, mask)
		}
	}
	for _, p := range patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// sensitiveKeys are attribute keys whose values are always masked.
var sensitiveKeys = []string{"password", "passwd", "secret", "token", "authorization"}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// streamPrefixes are the path roots followed by /{username}/{password}.
var streamPrefixes = map[string]bool{
	"live":      true,
	"movie":     true,
	"series":    true,
	"timeshift": true,
	"relay":     true,
}

// RedactPath masks the password segment of Xtream stream paths and the
// password query parameter of a request URI.
func RedactPath(uri string) string {
	path, query, hasQuery := strings.Cut(uri, "?")
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")

	switch {
	case len(segs) >= 3 && streamPrefixes[segs[0]]:
		segs[2] = mask
	case len(segs) >= 4 && segs[0] == "hlsr":
		segs[3] = mask
	case len(segs) == 3 && !strings.HasSuffix(segs[0], ".php"):
		segs[1] = mask
	}
	out := "/" + strings.Join(segs, "/")

	if !hasQuery {
		return out
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return out + "?" + queryPattern.ReplaceAllString(query, "${1}"+mask)
	}
	for k := range values {
		if isSensitiveKey(k) {
			values.Set(k, mask)
		}
	}
	return out + "?" + values.Encode()
}
