package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"site-replica/pkg/config"
	"site-replica/pkg/fetch"
	"site-replica/pkg/models"
	"site-replica/pkg/parse"
	"site-replica/pkg/rewrite"
	"site-replica/pkg/storage"
	"site-replica/pkg/utils"
)

// Controller runs and supervises crawls. Each crawl's traversal state lives
// in a CrawlSession registered under its job ID; the controller owns the
// depth-level loop and all job lifecycle transitions. One Controller serves
// any number of concurrent crawls; they share nothing but the fetcher, the
// robots cache, and the store.
type Controller struct {
	cfg       *config.AppConfig
	store     storage.CrawlStore
	fetcher   fetch.HTTPFetcher
	robots    *fetch.RobotsHandler
	html      *rewrite.HTMLRewriter
	css       *rewrite.CSSRewriter
	extractor rewrite.LinkExtractor
	log       *logrus.Logger

	mu          sync.Mutex
	sessions    map[string]*CrawlSession
	downloaders map[string]*ResourceDownloader
}

// NewController creates a Controller wired to the given store and fetcher.
func NewController(cfg *config.AppConfig, store storage.CrawlStore, fetcher fetch.HTTPFetcher, robots *fetch.RobotsHandler, logger *logrus.Logger) *Controller {
	css := rewrite.NewCSSRewriter(logger)
	return &Controller{
		cfg:         cfg,
		store:       store,
		fetcher:     fetcher,
		robots:      robots,
		html:        rewrite.NewHTMLRewriter(css, logger),
		css:         css,
		log:         logger,
		sessions:    make(map[string]*CrawlSession),
		downloaders: make(map[string]*ResourceDownloader),
	}
}

// StartCrawl creates the job record and runs the crawl to a resting state:
// completed, paused, cancelled, or error. It blocks for the duration of the
// traversal; Pause and Cancel are safe to call from other goroutines.
func (c *Controller) StartCrawl(ctx context.Context, crawlID, seedURL string, maxDepth int, opts models.ReplicationOptions) error {
	if maxDepth < 1 {
		return fmt.Errorf("%w: max depth must be >= 1, got %d", utils.ErrConfigValidation, maxDepth)
	}
	seed, err := parse.NormalizeSeedURL(seedURL)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	job := &models.CrawlJob{
		ID:        crawlID,
		SeedURL:   parse.NormalizeURL(seed),
		MaxDepth:  maxDepth,
		Options:   opts,
		Status:    models.StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateCrawl(job); err != nil {
		return err
	}

	session := NewCrawlSession(ctx, crawlID, seed, maxDepth, opts)
	downloader := NewResourceDownloader(c.fetcher, c.robots, c.css, c.store, c.cfg.ResourceBatchSize, c.log.WithField("crawl_id", crawlID))

	c.mu.Lock()
	c.sessions[crawlID] = session
	c.downloaders[crawlID] = downloader
	c.mu.Unlock()

	if err := c.store.UpdateCrawlStatus(crawlID, models.StatusInProgress); err != nil {
		c.dropSession(crawlID)
		return err
	}
	return c.run(session, downloader)
}

// ResumeCrawl continues a paused crawl from the depth level it stopped at,
// using the retained in-memory session. A crawl paused in a previous process
// has no session and cannot be resumed; that is a documented limitation of
// the in-process lifecycle.
func (c *Controller) ResumeCrawl(crawlID string) error {
	job, err := c.store.GetCrawl(crawlID)
	if err != nil {
		return err
	}
	if job.Status != models.StatusPaused {
		if job.Status.Terminal() {
			return fmt.Errorf("cannot resume crawl %q: status %s is terminal", crawlID, job.Status)
		}
		return fmt.Errorf("cannot resume crawl %q in status %s", crawlID, job.Status)
	}

	c.mu.Lock()
	session := c.sessions[crawlID]
	downloader := c.downloaders[crawlID]
	c.mu.Unlock()
	if session == nil {
		return fmt.Errorf("%w: %q (paused in another process?)", utils.ErrNoActiveSession, crawlID)
	}

	session.Unpause()
	if err := c.store.UpdateCrawlStatus(crawlID, models.StatusInProgress); err != nil {
		return err
	}
	return c.run(session, downloader)
}

// Pause signals a running crawl to stop starting new page tasks. In-flight
// tasks complete and persist; the session is retained for ResumeCrawl.
func (c *Controller) Pause(crawlID string) error {
	c.mu.Lock()
	session := c.sessions[crawlID]
	c.mu.Unlock()
	if session == nil {
		return fmt.Errorf("%w: %q", utils.ErrNoActiveSession, crawlID)
	}
	session.Pause()
	c.log.WithField("crawl_id", crawlID).Info("Pause requested")
	return nil
}

// Cancel terminally stops a crawl, running or paused.
func (c *Controller) Cancel(crawlID string) error {
	job, err := c.store.GetCrawl(crawlID)
	if err != nil {
		return err
	}

	if !job.Status.CanTransition(models.StatusCancelled) {
		return fmt.Errorf("cannot cancel crawl %q in status %s", crawlID, job.Status)
	}

	c.mu.Lock()
	session := c.sessions[crawlID]
	c.mu.Unlock()

	switch job.Status {
	case models.StatusInProgress:
		if session == nil {
			return fmt.Errorf("%w: %q", utils.ErrNoActiveSession, crawlID)
		}
		// The run loop observes the cancelled context and records the status.
		session.Cancel()
	case models.StatusPaused:
		// The run loop already exited; finalize here.
		if session != nil {
			session.Cancel()
		}
		c.dropSession(crawlID)
		if err := c.store.UpdateCrawlStatus(crawlID, models.StatusCancelled); err != nil {
			return err
		}
	}
	c.log.WithField("crawl_id", crawlID).Info("Cancel requested")
	return nil
}

// GetCrawl returns the persisted job record.
func (c *Controller) GetCrawl(crawlID string) (*models.CrawlJob, error) {
	return c.store.GetCrawl(crawlID)
}

func (c *Controller) dropSession(crawlID string) {
	c.mu.Lock()
	delete(c.sessions, crawlID)
	delete(c.downloaders, crawlID)
	c.mu.Unlock()
}

// run drives the level loop to a resting state and records it. The session
// is retained only across a pause; every terminal outcome drops it.
func (c *Controller) run(session *CrawlSession, downloader *ResourceDownloader) error {
	crawlLog := c.log.WithField("crawl_id", session.ID)
	runErr := c.runLevels(session, downloader, crawlLog)

	switch {
	case session.Cancelled():
		crawlLog.WithField("pages", session.VisitedCount()).Info("Crawl cancelled")
		c.dropSession(session.ID)
		return c.store.UpdateCrawlStatus(session.ID, models.StatusCancelled)
	case runErr != nil:
		crawlLog.Errorf("Crawl failed: %v", runErr)
		c.dropSession(session.ID)
		if failErr := c.store.FailCrawl(session.ID, runErr); failErr != nil {
			crawlLog.Errorf("Recording crawl failure also failed: %v", failErr)
		}
		return runErr
	case session.Paused():
		crawlLog.WithFields(logrus.Fields{"pages": session.VisitedCount(), "depth": session.Depth(), "pending": session.FrontierLen()}).Info("Crawl paused")
		return c.store.UpdateCrawlStatus(session.ID, models.StatusPaused)
	default:
		crawlLog.WithField("pages", session.VisitedCount()).Info("Crawl completed")
		c.dropSession(session.ID)
		return c.store.CompleteCrawl(session.ID, session.VisitedCount())
	}
}

// runLevels is the breadth-first traversal: one frontier per depth level,
// level N fully processed before N+1 starts. Discoveries made during a level
// accumulate in the session for the next one.
func (c *Controller) runLevels(session *CrawlSession, downloader *ResourceDownloader, crawlLog *logrus.Entry) error {
	for session.Depth() <= session.MaxDepth {
		if session.Paused() || session.Cancelled() {
			return nil
		}
		level := session.TakeFrontier()
		if len(level) == 0 {
			return nil
		}
		crawlLog.WithFields(logrus.Fields{"depth": session.Depth(), "frontier": len(level)}).Info("Processing level")

		// A fully processed level advances the depth even when a pause
		// arrives at its tail, so resume picks up the next level where it
		// belongs. A level broken off mid-way keeps its depth; the requeued
		// remainder still belongs to it.
		completed, err := c.processLevel(session, downloader, level)
		if err != nil {
			return err
		}
		if completed {
			session.AdvanceDepth()
		}
		if session.Paused() || session.Cancelled() {
			return nil
		}
	}
	return nil
}

// processLevel fans out one goroutine per URL in the level and reports
// whether the whole level was dispatched. Visited marking happens here at
// dequeue, on the single level-loop goroutine, so a URL discovered twice at
// the same depth is processed once. On pause the untouched remainder is
// requeued so resume restarts the same level. A storage failure reported by
// any URL stops further dispatch and is returned, failing the job.
func (c *Controller) processLevel(session *CrawlSession, downloader *ResourceDownloader, level []string) (bool, error) {
	completed := true
	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		levelErr error
	)
	failed := func() bool {
		errMu.Lock()
		defer errMu.Unlock()
		return levelErr != nil
	}

	for i := 0; i < len(level); i++ {
		if session.Cancelled() || failed() {
			completed = false
			break
		}
		if session.Paused() {
			session.Requeue(level[i:])
			completed = false
			break
		}
		rawURL := level[i]
		if !session.MarkVisited(rawURL) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.processURL(session, downloader, rawURL); err != nil {
				errMu.Lock()
				if levelErr == nil {
					levelErr = err
				}
				errMu.Unlock()
			}
		}()
	}
	wg.Wait()

	errMu.Lock()
	defer errMu.Unlock()
	return completed, levelErr
}

// processURL handles one page end to end: fetch, rewrite, persist, report.
// Fetch and parse failures are per-URL: logged with their category and
// swallowed, so one bad page never takes the crawl down. A storage failure
// is returned instead; a crawl that cannot persist its results must fail.
func (c *Controller) processURL(session *CrawlSession, downloader *ResourceDownloader, rawURL string) error {
	urlLog := c.log.WithFields(logrus.Fields{"crawl_id": session.ID, "url": rawURL, "depth": session.Depth()})
	defer func() {
		if r := recover(); r != nil {
			urlLog.Errorf("Panic while processing URL, skipping: %v", r)
		}
	}()

	ctx := session.Context()
	if c.cfg.PerPageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.PerPageTimeout)
		defer cancel()
	}

	pageURL, err := url.Parse(rawURL)
	if err != nil {
		urlLog.WithField("error_category", utils.CategorizeError(err)).Warnf("Skipping unparsable URL: %v", err)
		return nil
	}

	if session.Options.RespectRobots && !c.robots.Allowed(ctx, pageURL) {
		urlLog.WithField("error_category", utils.CategorizeError(utils.ErrRobotsDisallowed)).Info("Skipping URL disallowed by robots.txt")
		return nil
	}

	res, err := c.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		urlLog.WithField("error_category", utils.CategorizeError(err)).Warnf("Fetch failed, skipping: %v", err)
		return nil
	}

	if res.Kind != fetch.KindPage {
		urlLog.WithField("kind", res.Kind).Debug("Frontier URL is not a page, skipping")
		return nil
	}

	if err := c.processPage(ctx, session, downloader, pageURL, string(res.Body)); err != nil {
		if errors.Is(err, utils.ErrDatabase) {
			return fmt.Errorf("persisting %q: %w", rawURL, err)
		}
		urlLog.WithField("error_category", utils.CategorizeError(err)).Warnf("Page processing failed, skipping: %v", err)
		return nil
	}

	if err := c.store.UpdateCrawlProgress(session.ID, session.VisitedCount()); err != nil {
		return fmt.Errorf("recording progress after %q: %w", rawURL, err)
	}
	return nil
}

// processPage rewrites (or, with every rewrite option off, passes through)
// one HTML document, persists it, enqueues its same-domain links, and hands
// its resource descriptors to the downloader.
func (c *Controller) processPage(ctx context.Context, session *CrawlSession, downloader *ResourceDownloader, pageURL *url.URL, rawHTML string) error {
	opts := session.Options
	page := &models.Page{
		CrawlID: session.ID,
		URL:     parse.NormalizeURL(pageURL),
	}

	var links []string
	var descriptors []models.ResourceDescriptor

	if opts.DownloadImages || opts.PreserveCSS || opts.PreserveNav {
		result, err := c.html.Rewrite(rawHTML, pageURL, session.BaseURL, session.ID, opts)
		if err != nil {
			return err
		}
		page.Path = result.Path
		page.Title = result.Title
		page.Content = result.HTML
		links = result.Links
		descriptors = result.Descriptors
	} else {
		// No rewrite rule enabled: store the document exactly as served.
		extracted, title, err := c.extractor.Extract(rawHTML, pageURL, session.BaseURL)
		if err != nil {
			return err
		}
		page.Path = rewrite.PagePath(pageURL)
		page.Title = title
		page.Content = rawHTML
		links = extracted
	}

	if err := c.store.CreatePage(page); err != nil {
		return err
	}

	for _, link := range links {
		norm, _, err := parse.ParseAndNormalize(link)
		if err != nil {
			continue
		}
		session.Enqueue(norm)
	}

	if len(descriptors) > 0 {
		if err := downloader.Download(ctx, session, descriptors); err != nil {
			return err
		}
	}
	return nil
}
