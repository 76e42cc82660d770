package extauth

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// RedirectFieldName is the query parameter carrying the post-login destination.
const RedirectFieldName = "next"

// ErrUnresolvableURL is returned when a configured URL is neither a known route
// name nor something that looks like a URL.
var ErrUnresolvableURL = errors.New("extauth: unresolvable url")

// Reverser looks up named routes.
type Reverser interface {
	Reverse(name string) (string, bool)
}

// Resolve turns a configured login/logout setting into a URL. Route names known
// to r are reversed; values containing "/" or "." are taken verbatim.
func Resolve(r Reverser, to string) (string, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return "", fmt.Errorf("%w: empty value", ErrUnresolvableURL)
	}
	if r != nil {
		if path, ok := r.Reverse(to); ok {
			return path, nil
		}
	}
	if !strings.ContainsAny(to, "/.") {
		return "", fmt.Errorf("%w: %q is not a route name or URL", ErrUnresolvableURL, to)
	}
	if _, err := url.Parse(to); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnresolvableURL, err)
	}
	return to, nil
}

// withRedirectTarget sets the redirect field on rawURL's query, keeping the
// parameters already present.
func withRedirectTarget(rawURL, target string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	// Malformed pairs are dropped rather than failing the redirect.
	q, _ := url.ParseQuery(u.RawQuery)
	q.Set(RedirectFieldName, target)
	u.RawQuery = encodeQuery(q)
	u.ForceQuery = false
	return u.String(), nil
}

// encodeQuery is url.Values.Encode with "/" left unescaped and spaces as %20.
func encodeQuery(v url.Values) string {
	if len(v) == 0 {
		return ""
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf strings.Builder
	for _, k := range keys {
		key := escapeKeepSlash(k)
		for _, val := range v[k] {
			if buf.Len() > 0 {
				buf.WriteByte('&')
			}
			buf.WriteString(key)
			buf.WriteByte('=')
			buf.WriteString(escapeKeepSlash(val))
		}
	}
	return buf.String()
}

func escapeKeepSlash(s string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
	return strings.ReplaceAll(escaped, "%2F", "/")
}
