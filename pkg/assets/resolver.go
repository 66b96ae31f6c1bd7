// Package assets maps origin resource URLs into a crawl's local asset
// namespace and recovers full-resolution image URLs from CDN thumbnailing
// conventions.
package assets

import (
	"net/url"
	"regexp"
	"strings"
)

// AssetPrefix is the directory every persisted resource path lives under.
const AssetPrefix = "assets/"

// Pre-compiled patterns, one per known CDN thumbnailing convention.
var (
	// Squarespace: trailing "=NNNw" size suffix on the path.
	squarespaceSuffixRe = regexp.MustCompile(`=\d+w$`)
	// WordPress: "-300x200" filename suffix before the extension.
	wordpressSizeRe = regexp.MustCompile(`-\d+x\d+(\.[A-Za-z0-9]+)$`)
	// Shopify: "_100x100" / "_large" filename suffix before the extension.
	shopifySizeRe = regexp.MustCompile(`_(?:\d+x\d*|\d*x\d+|pico|icon|thumb|small|compact|medium|large|grande|original|master)(\.[A-Za-z0-9]+)$`)
	// Cloudinary: transformation path segment like "/w_300,h_200,c_fill/".
	cloudinarySegmentRe = regexp.MustCompile(`/(?:[a-z]+_[A-Za-z0-9.]+,)*(?:w_\d+|h_\d+|c_[a-z]+)(?:,[a-z]+_[A-Za-z0-9.]+)*/`)
)

// ResolveAssetPath maps an absolute resource URL to its canonical relative
// path under the crawl's asset namespace: the URL's path with the leading
// slash stripped, prefixed with "assets/". The mapping is positional, not
// content-addressed, so two origins sharing a path suffix collide and the
// last write wins.
func ResolveAssetPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// Callers resolve references before asking for a path, so this is
		// rare; strip what we can and keep going.
		trimmed := rawURL
		if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
			trimmed = trimmed[:i]
		}
		return AssetPrefix + strings.TrimLeft(trimmed, "/")
	}
	p := strings.TrimPrefix(u.Path, "/")
	if p == "" {
		p = "index"
	}
	return AssetPrefix + p
}

// ResolveFullSizeImageURL strips known CDN size/format conventions from an
// image URL to recover the original-resolution asset. Best effort: if no
// pattern matches, or the URL cannot be parsed, the input comes back
// unchanged. Pure and total; it never fails.
func ResolveFullSizeImageURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	p := u.Path
	q := u.Query()
	changed := false

	if squarespaceSuffixRe.MatchString(p) {
		p = squarespaceSuffixRe.ReplaceAllString(p, "")
		changed = true
	}
	if q.Has("format") { // Squarespace "?format=300w" / "?format=original"
		q.Del("format")
		changed = true
	}
	if wordpressSizeRe.MatchString(p) {
		p = wordpressSizeRe.ReplaceAllString(p, "$1")
		changed = true
	}
	if shopifySizeRe.MatchString(p) {
		p = shopifySizeRe.ReplaceAllString(p, "$1")
		changed = true
	}
	if cloudinarySegmentRe.MatchString(p) {
		p = cloudinarySegmentRe.ReplaceAllString(p, "/")
		changed = true
	}

	if !changed {
		return rawURL
	}
	u.Path = p
	u.RawQuery = q.Encode()
	return u.String()
}
