package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"site-replica/pkg/utils"
)

// Kind classifies a fetched body by its Content-Type header prefix.
type Kind string

const (
	KindPage  Kind = "page"  // text/html, application/xhtml+xml
	KindImage Kind = "image" // image/*
	KindCSS   Kind = "css"   // text/css
	KindJS    Kind = "js"    // application/javascript, text/javascript
	KindOther Kind = "other" // anything else; callers may still ingest it as a generic asset
)

// Result is a fetched and classified HTTP body.
type Result struct {
	ContentType string
	Kind        Kind
	Body        []byte
}

// HTTPFetcher performs a single HTTP GET and classifies the response.
// There is no retry at this layer; a failed fetch simply drops that one
// page or resource at the caller.
type HTTPFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Result, error)
}

// Fetcher is the HTTP implementation of HTTPFetcher.
type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	log          *logrus.Logger
}

// NewFetcher creates a Fetcher. maxBodyBytes caps how much of any single
// response body is read; zero or negative disables the cap.
func NewFetcher(client *http.Client, userAgent string, maxBodyBytes int64, log *logrus.Logger) *Fetcher {
	return &Fetcher{
		client:       client,
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
		log:          log,
	}
}

// ClassifyContentType maps a Content-Type header value to a Kind by prefix.
func ClassifyContentType(contentType string) Kind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "text/html"), strings.HasPrefix(ct, "application/xhtml+xml"):
		return KindPage
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	case strings.HasPrefix(ct, "text/css"):
		return KindCSS
	case strings.HasPrefix(ct, "application/javascript"), strings.HasPrefix(ct, "text/javascript"):
		return KindJS
	}
	return KindOther
}

// Fetch performs one GET. Non-2xx responses are errors wrapped with the
// matching sentinel so callers can categorize them.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	reqLog := f.log.WithField("url", rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", utils.ErrRequestCreation, rawURL, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	statusCode := resp.StatusCode
	switch {
	case statusCode >= 200 && statusCode < 300:
		// Proceed to read the body
	case statusCode >= 500:
		return nil, fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, resp.Status)
	case statusCode >= 400:
		return nil, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status)
	default:
		return nil, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, resp.Status)
	}

	var reader io.Reader = resp.Body
	if f.maxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBodyBytes+1) // +1 to detect exceeding the cap
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body from %q: %w", utils.ErrResponseBodyRead, rawURL, err)
	}
	if f.maxBodyBytes > 0 && int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("%w: %q exceeds max body size (%d bytes)", utils.ErrResponseBodyRead, rawURL, f.maxBodyBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	kind := ClassifyContentType(contentType)
	reqLog.WithFields(logrus.Fields{"content_type": contentType, "kind": kind, "bytes": len(body)}).Debug("Fetched")

	return &Result{ContentType: contentType, Kind: kind, Body: body}, nil
}
