package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"
	"testing"
)

// stubFetcher serves canned bodies by URL and counts calls.
type stubFetcher struct {
	bodies map[string]string
	errs   map[string]error
	calls  atomic.Int32
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string) (*Result, error) {
	s.calls.Add(1)
	if err, ok := s.errs[rawURL]; ok {
		return nil, err
	}
	body, ok := s.bodies[rawURL]
	if !ok {
		return nil, fmt.Errorf("unexpected fetch: %s", rawURL)
	}
	return &Result{ContentType: "text/plain", Kind: KindOther, Body: []byte(body)}, nil
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}

func TestRobotsHandler_DisallowRespected(t *testing.T) {
	fetcher := &stubFetcher{bodies: map[string]string{
		"https://example.com/robots.txt": "User-agent: *\nDisallow: /private/\n",
	}}
	rh := NewRobotsHandler(fetcher, "site-replica/1.0", testLogger())
	ctx := context.Background()

	if rh.Allowed(ctx, mustParseURL(t, "https://example.com/private/page")) {
		t.Error("disallowed path reported allowed")
	}
	if !rh.Allowed(ctx, mustParseURL(t, "https://example.com/public")) {
		t.Error("allowed path reported disallowed")
	}
}

func TestRobotsHandler_AgentSpecificRules(t *testing.T) {
	fetcher := &stubFetcher{bodies: map[string]string{
		"https://example.com/robots.txt": "User-agent: site-replica\nDisallow: /\n\nUser-agent: *\nDisallow:\n",
	}}
	rh := NewRobotsHandler(fetcher, "site-replica/1.0", testLogger())

	if rh.Allowed(context.Background(), mustParseURL(t, "https://example.com/page")) {
		t.Error("agent-specific disallow ignored")
	}
}

func TestRobotsHandler_UnavailableAllowsAll(t *testing.T) {
	fetcher := &stubFetcher{errs: map[string]error{
		"https://example.com/robots.txt": fmt.Errorf("connection refused"),
	}}
	rh := NewRobotsHandler(fetcher, "site-replica/1.0", testLogger())

	if !rh.Allowed(context.Background(), mustParseURL(t, "https://example.com/anything")) {
		t.Error("missing robots.txt must allow everything")
	}
}

func TestRobotsHandler_CachesPerHost(t *testing.T) {
	fetcher := &stubFetcher{bodies: map[string]string{
		"https://example.com/robots.txt": "User-agent: *\nDisallow:\n",
	}}
	rh := NewRobotsHandler(fetcher, "site-replica/1.0", testLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rh.Allowed(ctx, mustParseURL(t, "https://example.com/page"))
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Errorf("robots.txt fetched %d times, want 1", got)
	}
}

func TestRobotsHandler_CachesFailures(t *testing.T) {
	fetcher := &stubFetcher{errs: map[string]error{
		"https://example.com/robots.txt": fmt.Errorf("boom"),
	}}
	rh := NewRobotsHandler(fetcher, "site-replica/1.0", testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rh.Allowed(ctx, mustParseURL(t, "https://example.com/page"))
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Errorf("failed robots.txt fetched %d times, want 1", got)
	}
}

func TestRobotsHandler_AllowedURLMalformed(t *testing.T) {
	rh := NewRobotsHandler(&stubFetcher{}, "site-replica/1.0", testLogger())
	if !rh.AllowedURL(context.Background(), "http://%zz") {
		t.Error("malformed URL must pass through to the fetch path")
	}
}
