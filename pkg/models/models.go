package models

import "time"

// ReplicationOptions gate the individual rewrite/download rules of a crawl.
// Each flag is independently togglable; a disabled flag means the matching
// rule never runs at all.
type ReplicationOptions struct {
	DownloadImages bool `json:"download_images" yaml:"download_images"`
	PreserveCSS    bool `json:"preserve_css" yaml:"preserve_css"`
	PreserveNav    bool `json:"preserve_nav" yaml:"preserve_nav"`
	RespectRobots  bool `json:"respect_robots" yaml:"respect_robots"`
}

// AllOptions returns options with every rule enabled.
func AllOptions() ReplicationOptions {
	return ReplicationOptions{DownloadImages: true, PreserveCSS: true, PreserveNav: true, RespectRobots: true}
}

// CrawlJob identifies one replication run. Created once per operator request;
// only the crawl controller mutates its lifecycle fields.
type CrawlJob struct {
	ID        string             `json:"id"`
	SeedURL   string             `json:"seed_url"`
	MaxDepth  int                `json:"max_depth"`
	Options   ReplicationOptions `json:"options"`
	Status    CrawlStatus        `json:"status"`
	PageCount int                `json:"page_count"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ResourceType classifies a discovered resource by how it is persisted.
type ResourceType string

const (
	ResourceImage ResourceType = "image"
	ResourceCSS   ResourceType = "css"
	ResourceJS    ResourceType = "js"
	ResourceOther ResourceType = "other"
)

// ResourceDescriptor is a discovered resource pending download. URL is the
// download target (for images it may already be the full-resolution variant),
// AssetPath the local path the referencing markup was rewritten to.
type ResourceDescriptor struct {
	URL       string
	Type      ResourceType
	AssetPath string
}

// Page is one crawled HTML document with its references rewritten to the
// crawl's local namespace.
type Page struct {
	CrawlID string `json:"crawl_id"`
	URL     string `json:"url"`
	Path    string `json:"path"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// Asset is a persisted non-HTML resource. Content holds text for css/js/other
// and base64 for images.
type Asset struct {
	CrawlID string       `json:"crawl_id"`
	URL     string       `json:"url"`
	Path    string       `json:"path"`
	Type    ResourceType `json:"type"`
	Content string       `json:"content"`
}
