package crawler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"site-replica/pkg/fetch"
	"site-replica/pkg/models"
	"site-replica/pkg/rewrite"
	"site-replica/pkg/storage"
	"site-replica/pkg/utils"
)

// ResourceDownloader materializes discovered resources for one crawl:
// deduplicated by URL across the crawl's lifetime, fetched in sequential
// batches with a fixed concurrency bound, and persisted through the store.
// A single resource failing to fetch is logged and skipped; a store failure
// aborts the download and surfaces to the caller.
type ResourceDownloader struct {
	fetcher   fetch.HTTPFetcher
	robots    *fetch.RobotsHandler
	css       *rewrite.CSSRewriter
	store     storage.AssetStore
	batchSize int
	log       *logrus.Entry

	seenMu sync.Mutex
	seen   map[string]bool
}

// NewResourceDownloader creates a downloader scoped to one crawl. batchSize
// bounds how many fetches run concurrently within a batch.
func NewResourceDownloader(fetcher fetch.HTTPFetcher, robots *fetch.RobotsHandler, css *rewrite.CSSRewriter, store storage.AssetStore, batchSize int, log *logrus.Entry) *ResourceDownloader {
	if batchSize <= 0 {
		batchSize = 5
	}
	return &ResourceDownloader{
		fetcher:   fetcher,
		robots:    robots,
		css:       css,
		store:     store,
		batchSize: batchSize,
		seen:      make(map[string]bool),
		log:       log,
	}
}

// claim filters descriptors down to the ones this crawl has not downloaded
// yet, marking them claimed. First-seen wins: a later descriptor for an
// already claimed URL is dropped regardless of its type or path.
func (rd *ResourceDownloader) claim(descs []models.ResourceDescriptor) []models.ResourceDescriptor {
	rd.seenMu.Lock()
	defer rd.seenMu.Unlock()
	fresh := descs[:0]
	for _, d := range descs {
		if rd.seen[d.URL] {
			continue
		}
		rd.seen[d.URL] = true
		fresh = append(fresh, d)
	}
	return fresh
}

// Download fetches and persists every new descriptor for the session. Every
// downloaded stylesheet has its nested url() references rewritten to local
// paths; the resources a stylesheet discovers are downloaded in exactly one
// extra round, so a pathological import chain cannot recurse unboundedly.
// Discoveries of the second round stay unclaimed and are picked up if a page
// references them directly.
func (rd *ResourceDownloader) Download(ctx context.Context, session *CrawlSession, descs []models.ResourceDescriptor) error {
	nested, err := rd.runRound(ctx, session, rd.claim(descs))
	if err != nil {
		return err
	}
	_, err = rd.runRound(ctx, session, rd.claim(nested))
	return err
}

// runRound processes descriptors in sequential batches of batchSize,
// returning the discoveries made by CSS bodies along the way. The only
// errors it returns are context cancellation and storage failures;
// per-resource fetch failures are logged and swallowed.
func (rd *ResourceDownloader) runRound(ctx context.Context, session *CrawlSession, descs []models.ResourceDescriptor) ([]models.ResourceDescriptor, error) {
	var (
		nestedMu sync.Mutex
		nested   []models.ResourceDescriptor
	)

	for start := 0; start < len(descs); start += rd.batchSize {
		end := min(start+rd.batchSize, len(descs))
		g, gctx := errgroup.WithContext(ctx)
		for _, desc := range descs[start:end] {
			desc := desc
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				found, err := rd.downloadOne(gctx, session, desc)
				if err != nil {
					if errors.Is(err, utils.ErrDatabase) {
						return err
					}
					rd.log.WithFields(logrus.Fields{
						"url":            desc.URL,
						"type":           desc.Type,
						"error_category": utils.CategorizeError(err),
					}).Warnf("Resource download failed, skipping: %v", err)
					return nil
				}
				if len(found) > 0 {
					nestedMu.Lock()
					nested = append(nested, found...)
					nestedMu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nested, err
		}
	}
	return nested, nil
}

// downloadOne fetches, optionally rewrites, and persists one resource.
func (rd *ResourceDownloader) downloadOne(ctx context.Context, session *CrawlSession, desc models.ResourceDescriptor) ([]models.ResourceDescriptor, error) {
	if session.Options.RespectRobots && !rd.robots.AllowedURL(ctx, desc.URL) {
		return nil, fmt.Errorf("%w: %q", utils.ErrRobotsDisallowed, desc.URL)
	}

	res, err := rd.fetcher.Fetch(ctx, desc.URL)
	if err != nil {
		return nil, err
	}

	var nested []models.ResourceDescriptor
	content := string(res.Body)

	switch desc.Type {
	case models.ResourceImage:
		content = base64.StdEncoding.EncodeToString(res.Body)
	case models.ResourceCSS:
		cssURL, parseErr := url.Parse(desc.URL)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: CSS URL %q: %w", utils.ErrParsing, desc.URL, parseErr)
		}
		content, nested = rd.css.Rewrite(content, cssURL, session.Options)
	}

	asset := &models.Asset{
		CrawlID: session.ID,
		URL:     desc.URL,
		Path:    desc.AssetPath,
		Type:    desc.Type,
		Content: content,
	}
	if err := rd.store.CreateAsset(asset); err != nil {
		return nil, err
	}

	rd.log.WithFields(logrus.Fields{"url": desc.URL, "path": desc.AssetPath, "type": desc.Type}).Debug("Resource persisted")
	return nested, nil
}
