// Package storage persists crawl jobs, rewritten pages, and downloaded
// assets. The interfaces are the seam the crawler writes through; BadgerStore
// is the embedded-KV implementation.
package storage

import (
	"context"
	"time"

	"site-replica/pkg/models"
)

// JobStore handles crawl job lifecycle records
type JobStore interface {
	// CreateCrawl persists a freshly created job record
	CreateCrawl(job *models.CrawlJob) error

	// GetCrawl retrieves a job by ID. Returns utils.ErrCrawlNotFound when
	// no record exists
	GetCrawl(crawlID string) (*models.CrawlJob, error)

	// UpdateCrawlStatus sets the lifecycle status of a job
	UpdateCrawlStatus(crawlID string, status models.CrawlStatus) error

	// UpdateCrawlProgress bumps the visited page counter
	UpdateCrawlProgress(crawlID string, pageCount int) error

	// CompleteCrawl marks a job completed with its final page count
	CompleteCrawl(crawlID string, pageCount int) error

	// FailCrawl marks a job failed with the terminal error message
	FailCrawl(crawlID string, cause error) error
}

// PageStore persists rewritten page documents
type PageStore interface {
	// CreatePage stores a rewritten page keyed by its normalized URL.
	// Writing the same URL again overwrites the previous document
	CreatePage(page *models.Page) error

	// ListPages returns every stored page for a crawl
	ListPages(crawlID string) ([]models.Page, error)
}

// AssetStore persists downloaded resources
type AssetStore interface {
	// CreateAsset stores a downloaded resource keyed by its local path.
	// Two origin URLs mapping to the same path overwrite each other
	CreateAsset(asset *models.Asset) error

	// ListAssets returns every stored asset for a crawl
	ListAssets(crawlID string) ([]models.Asset, error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database
	Close() error
}

// CrawlStore combines all store interfaces for components that need full access
type CrawlStore interface {
	JobStore
	PageStore
	AssetStore
	StoreAdmin
}
