package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"site-replica/pkg/log"
	"site-replica/pkg/models"
	"site-replica/pkg/utils"
)

const (
	jobKeyPrefix   = "job:"       // job:<crawlID>
	pageKeyPrefix  = "page:"      // page:<crawlID>:<normalizedURL>
	assetKeyPrefix = "asset:"     // asset:<crawlID>:<localPath>
	replicaDBDir   = "replica_db" // Subdirectory within stateDir for Badger files
)

// BadgerStore implements the CrawlStore interface using BadgerDB
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the replica database under stateDir
func NewBadgerStore(stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, replicaDBDir)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}

	logger.Infof("Initializing replica database at: %s", dbPath)

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", dbPath, err)
	}

	logger.Info("Replica database initialized successfully.")
	return &BadgerStore{db: db, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := 0; i < maxConflictRetries; i++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// setJSON marshals value and writes it under key inside a retried update.
func (s *BadgerStore) setJSON(key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: marshaling value for key '%s': %w", utils.ErrParsing, string(key), err)
	}
	err = s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, raw))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error: %v", err)
		return fmt.Errorf("%w: setting key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return nil
}

// CreateCrawl implements the JobStore interface
func (s *BadgerStore) CreateCrawl(job *models.CrawlJob) error {
	return s.setJSON([]byte(jobKeyPrefix+job.ID), job)
}

// GetCrawl implements the JobStore interface
func (s *BadgerStore) GetCrawl(crawlID string) (*models.CrawlJob, error) {
	key := []byte(jobKeyPrefix + crawlID)
	var job models.CrawlJob

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %q", utils.ErrCrawlNotFound, crawlID)
		}
		if errGet != nil {
			return fmt.Errorf("%w: getting job key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			if errJson := json.Unmarshal(val, &job); errJson != nil {
				return fmt.Errorf("%w: unmarshaling job '%s': %w", utils.ErrParsing, crawlID, errJson)
			}
			if !job.Status.IsValid() {
				return fmt.Errorf("%w: job '%s' has unknown status %q", utils.ErrParsing, crawlID, job.Status)
			}
			return nil
		})
	})
	if errView != nil {
		return nil, errView
	}
	return &job, nil
}

// updateJob loads, mutates, and rewrites a job record in one transaction so
// concurrent status/progress writers cannot clobber each other's fields.
func (s *BadgerStore) updateJob(crawlID string, mutate func(job *models.CrawlJob)) error {
	key := []byte(jobKeyPrefix + crawlID)
	err := s.dbUpdate(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %q", utils.ErrCrawlNotFound, crawlID)
		}
		if errGet != nil {
			return errGet
		}
		var job models.CrawlJob
		errVal := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		})
		if errVal != nil {
			return fmt.Errorf("%w: unmarshaling job '%s': %w", utils.ErrParsing, crawlID, errVal)
		}

		mutate(&job)
		job.UpdatedAt = time.Now().UTC()

		raw, errJson := json.Marshal(&job)
		if errJson != nil {
			return fmt.Errorf("%w: marshaling job '%s': %w", utils.ErrParsing, crawlID, errJson)
		}
		return txn.SetEntry(badger.NewEntry(key, raw))
	})
	if err != nil {
		if errors.Is(err, utils.ErrCrawlNotFound) || errors.Is(err, utils.ErrParsing) {
			return err
		}
		s.log.WithField("key", string(key)).Errorf("DB Update error in updateJob: %v", err)
		return fmt.Errorf("%w: updating job '%s': %w", utils.ErrDatabase, crawlID, err)
	}
	return nil
}

// UpdateCrawlStatus implements the JobStore interface
func (s *BadgerStore) UpdateCrawlStatus(crawlID string, status models.CrawlStatus) error {
	return s.updateJob(crawlID, func(job *models.CrawlJob) {
		job.Status = status
	})
}

// UpdateCrawlProgress implements the JobStore interface
func (s *BadgerStore) UpdateCrawlProgress(crawlID string, pageCount int) error {
	return s.updateJob(crawlID, func(job *models.CrawlJob) {
		job.PageCount = pageCount
	})
}

// CompleteCrawl implements the JobStore interface
func (s *BadgerStore) CompleteCrawl(crawlID string, pageCount int) error {
	return s.updateJob(crawlID, func(job *models.CrawlJob) {
		job.Status = models.StatusCompleted
		job.PageCount = pageCount
	})
}

// FailCrawl implements the JobStore interface
func (s *BadgerStore) FailCrawl(crawlID string, cause error) error {
	return s.updateJob(crawlID, func(job *models.CrawlJob) {
		job.Status = models.StatusError
		if cause != nil {
			job.Error = cause.Error()
		}
	})
}

// CreatePage implements the PageStore interface
func (s *BadgerStore) CreatePage(page *models.Page) error {
	return s.setJSON([]byte(pageKeyPrefix+page.CrawlID+":"+page.URL), page)
}

// ListPages implements the PageStore interface
func (s *BadgerStore) ListPages(crawlID string) ([]models.Page, error) {
	var pages []models.Page
	err := s.listPrefix(pageKeyPrefix+crawlID+":", func(val []byte) error {
		var page models.Page
		if errJson := json.Unmarshal(val, &page); errJson != nil {
			return errJson
		}
		pages = append(pages, page)
		return nil
	})
	return pages, err
}

// CreateAsset implements the AssetStore interface.
// Keyed by local path, so positional collisions are last-write-wins.
func (s *BadgerStore) CreateAsset(asset *models.Asset) error {
	return s.setJSON([]byte(assetKeyPrefix+asset.CrawlID+":"+asset.Path), asset)
}

// ListAssets implements the AssetStore interface
func (s *BadgerStore) ListAssets(crawlID string) ([]models.Asset, error) {
	var listed []models.Asset
	err := s.listPrefix(assetKeyPrefix+crawlID+":", func(val []byte) error {
		var asset models.Asset
		if errJson := json.Unmarshal(val, &asset); errJson != nil {
			return errJson
		}
		listed = append(listed, asset)
		return nil
	})
	return listed, err
}

// listPrefix iterates every value under prefix, handing each to visit.
// A single undecodable record is logged and skipped, not fatal to the scan.
func (s *BadgerStore) listPrefix(prefix string, visit func(val []byte) error) error {
	prefixBytes := []byte(prefix)
	errView := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			errVal := item.Value(func(val []byte) error {
				return visit(val)
			})
			if errVal != nil {
				s.log.Warnf("Skipping undecodable record at key '%s': %v", string(item.Key()), errVal)
			}
		}
		return nil
	})
	if errView != nil {
		return fmt.Errorf("%w: scanning prefix '%s': %w", utils.ErrDatabase, prefix, errView)
	}
	return nil
}

// RunGC runs BadgerDB's value log garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute // Default interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Info("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}

			s.log.Debug("Running BadgerDB value log garbage collection...")
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for {
				err = s.db.RunValueLogGC(0.5)
				if err != nil {
					break
				}
			}
			if errors.Is(err, badger.ErrNoRewrite) {
				s.log.Debug("BadgerDB GC finished (no rewrite needed).")
			} else {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Infof("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close implements the StoreAdmin interface
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing replica DB...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing replica DB: %v", err)
			return err
		}
		s.log.Info("Replica DB closed.")
		return nil
	}
	s.log.Info("Replica DB already closed or was not initialized.")
	return nil
}
