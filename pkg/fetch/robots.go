package fetch

import (
	"context"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsHandler fetches, parses, caches, and checks robots.txt data per host.
// A missing or unfetchable robots.txt allows everything, matching the usual
// crawler convention.
type RobotsHandler struct {
	fetcher   HTTPFetcher
	userAgent string
	cache     map[string]*robotstxt.RobotsData // hostname -> parsed data (nil on fetch/parse failure)
	cacheMu   sync.Mutex
	log       *logrus.Logger
}

// NewRobotsHandler creates a RobotsHandler
func NewRobotsHandler(fetcher HTTPFetcher, userAgent string, log *logrus.Logger) *RobotsHandler {
	return &RobotsHandler{
		fetcher:   fetcher,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log,
	}
}

// getRobotsData retrieves robots.txt data for the targetURL's host, using the
// cache or fetching. Returns nil on any error, 4xx, or missing file.
func (rh *RobotsHandler) getRobotsData(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	host := targetURL.Hostname()

	rh.cacheMu.Lock()
	data, found := rh.cache[host]
	rh.cacheMu.Unlock()
	if found {
		return data // Cached data may be nil
	}

	robotsURL := &url.URL{Scheme: targetURL.Scheme, Host: targetURL.Host, Path: "/robots.txt"}
	if robotsURL.Scheme != "http" && robotsURL.Scheme != "https" {
		robotsURL.Scheme = "https"
	}
	hostLog := rh.log.WithFields(logrus.Fields{"host": host, "robots_url": robotsURL.String()})
	hostLog.Info("Fetching robots.txt...")

	var parsed *robotstxt.RobotsData
	res, err := rh.fetcher.Fetch(ctx, robotsURL.String())
	if err != nil {
		hostLog.Debugf("robots.txt unavailable: %v", err)
	} else if data, parseErr := robotstxt.FromBytes(res.Body); parseErr != nil {
		hostLog.Warnf("robots.txt parse failed: %v", parseErr)
	} else {
		parsed = data
		hostLog.Debug("robots.txt fetched and parsed")
	}

	rh.cacheMu.Lock()
	rh.cache[host] = parsed // Cache failures too, so each host is fetched once
	rh.cacheMu.Unlock()
	return parsed
}

// Allowed reports whether the configured user agent may fetch rawURL.
// Returns true when robots data could not be obtained.
func (rh *RobotsHandler) Allowed(ctx context.Context, target *url.URL) bool {
	data := rh.getRobotsData(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), rh.userAgent)
}

// AllowedURL is Allowed for a raw URL string; malformed URLs are allowed
// through so the fetch path reports the real error.
func (rh *RobotsHandler) AllowedURL(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return rh.Allowed(ctx, u)
}
