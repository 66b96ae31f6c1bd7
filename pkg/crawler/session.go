// Package crawler drives the breadth-first replication of a site: the
// controller owns the depth-level loop and job lifecycle, the session holds
// one crawl's mutable traversal state, and the downloader materializes
// discovered resources.
package crawler

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"

	"site-replica/pkg/models"
	"site-replica/pkg/parse"
)

// CrawlSession is the in-memory traversal state of one running crawl. The
// visited set and the frontier are the only shared mutable state of a crawl;
// both live here behind the mutex. Cancellation is the session context,
// pause an atomic flag polled per URL.
type CrawlSession struct {
	ID       string
	BaseURL  *url.URL
	MaxDepth int
	Options  models.ReplicationOptions

	ctx    context.Context
	cancel context.CancelFunc
	paused atomic.Bool

	mu       sync.Mutex
	depth    int
	frontier []string
	visited  map[string]bool
}

// NewCrawlSession creates the session for a crawl rooted at baseURL. The
// normalized seed is the initial frontier of level 0; every frontier entry
// and visited key uses the normalized form so a URL discovered in several
// spellings still maps to one visit.
func NewCrawlSession(parent context.Context, id string, baseURL *url.URL, maxDepth int, opts models.ReplicationOptions) *CrawlSession {
	ctx, cancel := context.WithCancel(parent)
	return &CrawlSession{
		ID:       id,
		BaseURL:  baseURL,
		MaxDepth: maxDepth,
		Options:  opts,
		ctx:      ctx,
		cancel:   cancel,
		frontier: []string{parse.NormalizeURL(baseURL)},
		visited:  make(map[string]bool),
	}
}

// Context returns the session's cancellation context.
func (cs *CrawlSession) Context() context.Context { return cs.ctx }

// Cancel aborts the session; in-flight URL work observes it via Context.
func (cs *CrawlSession) Cancel() { cs.cancel() }

// Cancelled reports whether the session has been cancelled.
func (cs *CrawlSession) Cancelled() bool { return cs.ctx.Err() != nil }

// Pause stops the session from starting new URL tasks. In-flight tasks run
// to completion and persist their results.
func (cs *CrawlSession) Pause() { cs.paused.Store(true) }

// Unpause clears the pause flag before a resume.
func (cs *CrawlSession) Unpause() { cs.paused.Store(false) }

// Paused reports whether the session is paused.
func (cs *CrawlSession) Paused() bool { return cs.paused.Load() }

// Depth returns the level the session is currently processing.
func (cs *CrawlSession) Depth() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.depth
}

// AdvanceDepth moves the session to the next level.
func (cs *CrawlSession) AdvanceDepth() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.depth++
}

// TakeFrontier snapshots the pending frontier and clears it, so discoveries
// made while the level runs land in the next level's frontier.
func (cs *CrawlSession) TakeFrontier() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	snapshot := cs.frontier
	cs.frontier = nil
	return snapshot
}

// FrontierLen returns how many URLs are pending for the next level.
func (cs *CrawlSession) FrontierLen() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.frontier)
}

// Enqueue adds a discovered URL to the next level's frontier unless it has
// already been visited. Duplicate frontier entries are tolerated; the visited
// check at dequeue keeps them from being fetched twice.
func (cs *CrawlSession) Enqueue(rawURL string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.visited[rawURL] {
		return
	}
	cs.frontier = append(cs.frontier, rawURL)
}

// Requeue puts unprocessed URLs back at the front of the frontier. Used when
// a level is abandoned mid-way by a pause, so resume restarts the same depth.
func (cs *CrawlSession) Requeue(urls []string) {
	if len(urls) == 0 {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.frontier = append(append([]string{}, urls...), cs.frontier...)
}

// MarkVisited records rawURL as visited and reports whether it was new.
// Called only at dequeue time on the level loop, before the fetch, so two
// same-depth discoveries of one URL can never both be processed.
func (cs *CrawlSession) MarkVisited(rawURL string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.visited[rawURL] {
		return false
	}
	cs.visited[rawURL] = true
	return true
}

// VisitedCount returns how many URLs have been dequeued for processing.
func (cs *CrawlSession) VisitedCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.visited)
}
