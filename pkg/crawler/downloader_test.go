package crawler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-replica/pkg/fetch"
	"site-replica/pkg/models"
	"site-replica/pkg/rewrite"
	"site-replica/pkg/storage"
	"site-replica/pkg/utils"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// stubFetcher serves canned responses by URL and counts fetches per URL.
type stubFetcher struct {
	mu      sync.Mutex
	bodies  map[string]fetch.Result
	errs    map[string]error
	fetched map[string]int
	calls   atomic.Int32
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		bodies:  make(map[string]fetch.Result),
		errs:    make(map[string]error),
		fetched: make(map[string]int),
	}
}

func (s *stubFetcher) serve(rawURL, contentType string, kind fetch.Kind, body string) {
	s.bodies[rawURL] = fetch.Result{ContentType: contentType, Kind: kind, Body: []byte(body)}
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string) (*fetch.Result, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.fetched[rawURL]++
	s.mu.Unlock()
	if err, ok := s.errs[rawURL]; ok {
		return nil, err
	}
	res, ok := s.bodies[rawURL]
	if !ok {
		return nil, fmt.Errorf("stub: no response for %s", rawURL)
	}
	return &res, nil
}

func (s *stubFetcher) fetchCount(rawURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetched[rawURL]
}

// memAssetStore collects persisted assets keyed by path.
type memAssetStore struct {
	mu     sync.Mutex
	assets map[string]models.Asset
}

func newMemAssetStore() *memAssetStore {
	return &memAssetStore{assets: make(map[string]models.Asset)}
}

func (m *memAssetStore) CreateAsset(asset *models.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[asset.Path] = *asset
	return nil
}

func (m *memAssetStore) ListAssets(string) ([]models.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Asset, 0, len(m.assets))
	for _, a := range m.assets {
		out = append(out, a)
	}
	return out, nil
}

func (m *memAssetStore) get(path string) (models.Asset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[path]
	return a, ok
}

func newTestSession(t *testing.T, opts models.ReplicationOptions) *CrawlSession {
	t.Helper()
	base, err := url.Parse("https://example.com/")
	require.NoError(t, err)
	return NewCrawlSession(context.Background(), "c1", base, 1, opts)
}

func newTestDownloader(fetcher *stubFetcher, store storage.AssetStore) *ResourceDownloader {
	log := testLogger()
	robots := fetch.NewRobotsHandler(fetcher, "site-replica/1.0", log)
	return NewResourceDownloader(fetcher, robots, rewrite.NewCSSRewriter(log), store, 5, logrus.NewEntry(log))
}

func TestDownloader_ImagePersistedBase64(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.serve("https://example.com/img/logo.png", "image/png", fetch.KindImage, "\x89PNGdata")
	store := newMemAssetStore()
	rd := newTestDownloader(fetcher, store)
	session := newTestSession(t, models.AllOptions())

	err := rd.Download(context.Background(), session, []models.ResourceDescriptor{
		{URL: "https://example.com/img/logo.png", Type: models.ResourceImage, AssetPath: "assets/img/logo.png"},
	})
	require.NoError(t, err)

	asset, ok := store.get("assets/img/logo.png")
	require.True(t, ok)
	assert.Equal(t, models.ResourceImage, asset.Type)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("\x89PNGdata")), asset.Content)
}

func TestDownloader_CSSNestedSingleRound(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.serve("https://example.com/css/main.css", "text/css", fetch.KindCSS,
		`@import "other.css"; body { background: url(/img/bg.png); }`)
	fetcher.serve("https://example.com/css/other.css", "text/css", fetch.KindCSS,
		`.deep { background: url(/img/deep.png); }`)
	fetcher.serve("https://example.com/img/bg.png", "image/png", fetch.KindImage, "bg")
	fetcher.serve("https://example.com/img/deep.png", "image/png", fetch.KindImage, "deep")
	store := newMemAssetStore()
	rd := newTestDownloader(fetcher, store)
	session := newTestSession(t, models.AllOptions())

	err := rd.Download(context.Background(), session, []models.ResourceDescriptor{
		{URL: "https://example.com/css/main.css", Type: models.ResourceCSS, AssetPath: "assets/css/main.css"},
	})
	require.NoError(t, err)

	main, ok := store.get("assets/css/main.css")
	require.True(t, ok)
	assert.Contains(t, main.Content, `@import "assets/css/other.css"`)
	assert.Contains(t, main.Content, "url(assets/img/bg.png)")

	other, ok := store.get("assets/css/other.css")
	require.True(t, ok, "first-round CSS discovery must be downloaded")
	assert.Contains(t, other.Content, "url(assets/img/deep.png)",
		"second-round CSS is still rewritten to local references")
	_, ok = store.get("assets/img/bg.png")
	assert.True(t, ok, "first-round image discovery must be downloaded")

	// The extra round does not recurse further.
	assert.Equal(t, 0, fetcher.fetchCount("https://example.com/img/deep.png"))

	// But a page referencing the same URL directly can still get it: the
	// undownloaded discovery was not claimed.
	require.NoError(t, rd.Download(context.Background(), session, []models.ResourceDescriptor{
		{URL: "https://example.com/img/deep.png", Type: models.ResourceImage, AssetPath: "assets/img/deep.png"},
	}))
	assert.Equal(t, 1, fetcher.fetchCount("https://example.com/img/deep.png"))
	_, ok = store.get("assets/img/deep.png")
	assert.True(t, ok)
}

func TestDownloader_DedupFirstSeenWins(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.serve("https://example.com/js/app.js", "application/javascript", fetch.KindJS, "var x;")
	store := newMemAssetStore()
	rd := newTestDownloader(fetcher, store)
	session := newTestSession(t, models.AllOptions())

	descs := []models.ResourceDescriptor{
		{URL: "https://example.com/js/app.js", Type: models.ResourceJS, AssetPath: "assets/js/app.js"},
		{URL: "https://example.com/js/app.js", Type: models.ResourceOther, AssetPath: "assets/js/dup.js"},
	}
	require.NoError(t, rd.Download(context.Background(), session, descs))

	assert.Equal(t, 1, fetcher.fetchCount("https://example.com/js/app.js"))
	_, ok := store.get("assets/js/app.js")
	assert.True(t, ok)
	_, ok = store.get("assets/js/dup.js")
	assert.False(t, ok, "later descriptor for a claimed URL must be dropped")

	// A later page referencing the same URL does not refetch it.
	require.NoError(t, rd.Download(context.Background(), session, descs[:1]))
	assert.Equal(t, 1, fetcher.fetchCount("https://example.com/js/app.js"))
}

func TestDownloader_FailureSkipsResourceOnly(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.errs["https://example.com/broken.css"] = fmt.Errorf("connection reset")
	fetcher.serve("https://example.com/ok.css", "text/css", fetch.KindCSS, "body{}")
	store := newMemAssetStore()
	rd := newTestDownloader(fetcher, store)
	session := newTestSession(t, models.AllOptions())

	err := rd.Download(context.Background(), session, []models.ResourceDescriptor{
		{URL: "https://example.com/broken.css", Type: models.ResourceCSS, AssetPath: "assets/broken.css"},
		{URL: "https://example.com/ok.css", Type: models.ResourceCSS, AssetPath: "assets/ok.css"},
	})
	require.NoError(t, err, "a single resource failure must not fail the batch")

	_, ok := store.get("assets/ok.css")
	assert.True(t, ok)
	_, ok = store.get("assets/broken.css")
	assert.False(t, ok)
}

// brokenAssetStore refuses asset writes.
type brokenAssetStore struct{}

func (brokenAssetStore) CreateAsset(*models.Asset) error {
	return fmt.Errorf("%w: disk full", utils.ErrDatabase)
}

func (brokenAssetStore) ListAssets(string) ([]models.Asset, error) { return nil, nil }

func TestDownloader_StoreFailureAborts(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.serve("https://example.com/img/a.png", "image/png", fetch.KindImage, "a")
	rd := newTestDownloader(fetcher, brokenAssetStore{})
	session := newTestSession(t, models.AllOptions())

	err := rd.Download(context.Background(), session, []models.ResourceDescriptor{
		{URL: "https://example.com/img/a.png", Type: models.ResourceImage, AssetPath: "assets/img/a.png"},
	})
	require.Error(t, err, "a store failure must not be swallowed like a fetch failure")
	assert.True(t, errors.Is(err, utils.ErrDatabase))
}

func TestDownloader_RobotsGate(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.serve("https://example.com/robots.txt", "text/plain", fetch.KindOther,
		"User-agent: *\nDisallow: /private/\n")
	fetcher.serve("https://example.com/private/secret.png", "image/png", fetch.KindImage, "secret")
	fetcher.serve("https://example.com/img/open.png", "image/png", fetch.KindImage, "open")
	store := newMemAssetStore()
	rd := newTestDownloader(fetcher, store)
	session := newTestSession(t, models.AllOptions())

	err := rd.Download(context.Background(), session, []models.ResourceDescriptor{
		{URL: "https://example.com/private/secret.png", Type: models.ResourceImage, AssetPath: "assets/private/secret.png"},
		{URL: "https://example.com/img/open.png", Type: models.ResourceImage, AssetPath: "assets/img/open.png"},
	})
	require.NoError(t, err)

	_, ok := store.get("assets/private/secret.png")
	assert.False(t, ok, "disallowed resource must not be fetched")
	assert.Equal(t, 0, fetcher.fetchCount("https://example.com/private/secret.png"))
	_, ok = store.get("assets/img/open.png")
	assert.True(t, ok)
}
