package models

// CrawlStatus represents the lifecycle state of a crawl job
type CrawlStatus string

const (
	StatusIdle       CrawlStatus = "idle"        // Job created, traversal not started
	StatusInProgress CrawlStatus = "in_progress" // Traversal running
	StatusPaused     CrawlStatus = "paused"      // Stopped by operator, resumable
	StatusCancelled  CrawlStatus = "cancelled"   // Stopped by operator, terminal
	StatusCompleted  CrawlStatus = "completed"   // Frontier exhausted or depth limit reached
	StatusError      CrawlStatus = "error"       // Job-level failure, terminal
)

// String implements fmt.Stringer for logging
func (s CrawlStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known lifecycle value
func (s CrawlStatus) IsValid() bool {
	switch s {
	case StatusIdle, StatusInProgress, StatusPaused, StatusCancelled, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Terminal reports whether the status ends a run for good. A paused job can
// always be resumed unless cancelled first.
func (s CrawlStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusError:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal lifecycle step
func (s CrawlStatus) CanTransition(next CrawlStatus) bool {
	switch s {
	case StatusIdle:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusPaused || next == StatusCancelled || next == StatusCompleted || next == StatusError
	case StatusPaused:
		return next == StatusInProgress || next == StatusCancelled
	}
	return false
}
