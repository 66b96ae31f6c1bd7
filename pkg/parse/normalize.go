package parse

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"site-replica/pkg/utils"
)

// NormalizeURL standardizes a URL for visited-set keys and storage.
// It lowercases the scheme and host, removes default ports (80 for http, 443
// for https), removes trailing slashes from paths (unless root "/"), ensures
// an empty path becomes "/", and strips fragments and query strings.
// Does not modify the input *url.URL.
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	// Work on a copy
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	// Remove default ports
	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil { // Host included a port
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = normalized.Path[:len(normalized.Path)-1]
	}

	normalized.Fragment = ""
	normalized.RawQuery = ""

	return normalized.String()
}

// ParseAndNormalize parses a URL string with the stricter url.ParseRequestURI
// (a scheme is required) and normalizes it with NormalizeURL.
// Returns the normalized string, the parsed URL, and any parse error.
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", nil, fmt.Errorf("%w: URL %q: %w", utils.ErrParsing, urlStr, err)
	}
	return NormalizeURL(parsed), parsed, nil
}

// NormalizeSeedURL prepares an operator-supplied seed URL: trims whitespace,
// defaults the scheme to https when none is given, and validates that a host
// is present. Malformed operator input must produce an error, never a panic.
func NormalizeSeedURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty seed URL", utils.ErrParsing)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: seed URL %q: %w", utils.ErrParsing, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q in seed URL %q", utils.ErrParsing, u.Scheme, raw)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: seed URL %q missing host", utils.ErrParsing, raw)
	}
	return u, nil
}
