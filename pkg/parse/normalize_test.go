package parse

import (
	"errors"
	"net/url"
	"testing"

	"site-replica/pkg/utils"
)

func TestNormalizeURL_NilInput(t *testing.T) {
	result := NormalizeURL(nil)
	if result != "" {
		t.Errorf("NormalizeURL(nil) = %q, want empty string", result)
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "UppercaseSchemeAndHost",
			input:    "HTTPS://Example.COM/Path",
			expected: "https://example.com/Path", // Path case preserved
		},
		{
			name:     "HTTPDefaultPortRemoved",
			input:    "http://example.com:80/path",
			expected: "http://example.com/path",
		},
		{
			name:     "HTTPSDefaultPortRemoved",
			input:    "https://example.com:443/path",
			expected: "https://example.com/path",
		},
		{
			name:     "NonDefaultPortKept",
			input:    "http://example.com:8080/path",
			expected: "http://example.com:8080/path",
		},
		{
			name:     "TrailingSlashRemoved",
			input:    "https://example.com/about/",
			expected: "https://example.com/about",
		},
		{
			name:     "RootPathKept",
			input:    "https://example.com/",
			expected: "https://example.com/",
		},
		{
			name:     "EmptyPathBecomesRoot",
			input:    "https://example.com",
			expected: "https://example.com/",
		},
		{
			name:     "FragmentStripped",
			input:    "https://example.com/page#section",
			expected: "https://example.com/page",
		},
		{
			name:     "QueryStripped",
			input:    "https://example.com/page?utm=1",
			expected: "https://example.com/page",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := url.Parse(tt.input)
			if err != nil {
				t.Fatalf("url.Parse(%q) failed: %v", tt.input, err)
			}
			result := NormalizeURL(parsed)
			if result != tt.expected {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNormalizeURL_DoesNotModifyInput(t *testing.T) {
	parsed, err := url.Parse("https://Example.COM/page/?q=1#frag")
	if err != nil {
		t.Fatalf("url.Parse failed: %v", err)
	}
	_ = NormalizeURL(parsed)
	// url.Parse preserves host casing, path, query, and fragment; all of
	// them must survive normalization of the copy.
	if parsed.Host != "Example.COM" || parsed.Path != "/page/" || parsed.RawQuery != "q=1" || parsed.Fragment != "frag" {
		t.Errorf("NormalizeURL modified its input: %v", parsed)
	}
}

func TestParseAndNormalize_Invalid(t *testing.T) {
	_, _, err := ParseAndNormalize("not a url")
	if err == nil {
		t.Fatal("ParseAndNormalize accepted a schemeless string")
	}
	if !errors.Is(err, utils.ErrParsing) {
		t.Errorf("error not wrapped with ErrParsing: %v", err)
	}
}

func TestNormalizeSeedURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "SchemeDefaulted",
			input:    "example.com",
			expected: "https://example.com",
		},
		{
			name:     "SchemeKept",
			input:    "http://example.com/docs",
			expected: "http://example.com/docs",
		},
		{
			name:     "WhitespaceTrimmed",
			input:    "  https://example.com  ",
			expected: "https://example.com",
		},
		{
			name:    "Empty",
			input:   "   ",
			wantErr: true,
		},
		{
			name:    "UnsupportedScheme",
			input:   "ftp://example.com",
			wantErr: true,
		},
		{
			name:    "MissingHost",
			input:   "https://",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NormalizeSeedURL(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizeSeedURL(%q) succeeded, want error", tt.input)
				}
				if !errors.Is(err, utils.ErrParsing) {
					t.Errorf("error not wrapped with ErrParsing: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeSeedURL(%q) failed: %v", tt.input, err)
			}
			if u.String() != tt.expected {
				t.Errorf("NormalizeSeedURL(%q) = %q, want %q", tt.input, u.String(), tt.expected)
			}
		})
	}
}
