// Package rewrite turns fetched HTML and CSS into self-contained offline
// markup: every embedded reference is mapped into the crawl's local
// namespace, and everything discovered along the way is reported so the
// crawler can fetch it.
package rewrite

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"site-replica/pkg/assets"
	"site-replica/pkg/models"
)

// Two passes over stylesheet text. Pass 1 picks up the bare-string form of
// @import; pass 2 picks up every url(...) reference, which includes
// @import url(...). Split this way, no reference is visited by both passes.
var (
	cssImportStringRe = regexp.MustCompile(`@import\s+(['"])([^'"]+)['"]`)
	cssURLRe          = regexp.MustCompile(`url\(\s*(['"]?)([^'")]+?)['"]?\s*\)`)
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".svg": true, ".ico": true, ".avif": true, ".bmp": true,
}

// classifyResource types a resource URL path by file extension.
func classifyResource(urlPath string) models.ResourceType {
	ext := strings.ToLower(path.Ext(urlPath))
	switch {
	case imageExtensions[ext]:
		return models.ResourceImage
	case ext == ".css":
		return models.ResourceCSS
	case ext == ".js" || ext == ".mjs":
		return models.ResourceJS
	}
	return models.ResourceOther
}

// CSSRewriter rewrites url() and @import references inside stylesheet text to
// local asset paths and reports the resources it discovered.
type CSSRewriter struct {
	log *logrus.Logger
}

// NewCSSRewriter creates a CSSRewriter
func NewCSSRewriter(log *logrus.Logger) *CSSRewriter {
	return &CSSRewriter{log: log}
}

// Rewrite maps every resolvable reference in cssText to its local asset path.
// cssURL is the URL the stylesheet came from and anchors relative references.
// Options gate which reference types are touched: image targets require
// DownloadImages, everything else PreserveCSS. Image targets get the
// full-size heuristic on the download URL while the rewritten reference keeps
// the plain positional path. data: URIs and unparsable references are left
// untouched.
func (cr *CSSRewriter) Rewrite(cssText string, cssURL *url.URL, opts models.ReplicationOptions) (string, []models.ResourceDescriptor) {
	var descriptors []models.ResourceDescriptor
	seen := make(map[string]bool)

	rewriteRef := func(ref string) (string, bool) {
		ref = strings.TrimSpace(ref)
		if ref == "" || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "#") {
			return "", false
		}
		abs, err := cssURL.Parse(ref)
		if err != nil {
			cr.log.Debugf("Skipping malformed CSS reference %q: %v", ref, err)
			return "", false
		}
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return "", false
		}

		resType := classifyResource(abs.Path)
		if resType == models.ResourceImage && !opts.DownloadImages {
			return "", false
		}
		if resType != models.ResourceImage && !opts.PreserveCSS {
			return "", false
		}

		absStr := abs.String()
		localPath := assets.ResolveAssetPath(absStr)
		downloadURL := absStr
		if resType == models.ResourceImage {
			downloadURL = assets.ResolveFullSizeImageURL(absStr)
		}
		if !seen[downloadURL] {
			seen[downloadURL] = true
			descriptors = append(descriptors, models.ResourceDescriptor{
				URL:       downloadURL,
				Type:      resType,
				AssetPath: localPath,
			})
		}
		return localPath, true
	}

	rewritten := cssImportStringRe.ReplaceAllStringFunc(cssText, func(match string) string {
		sub := cssImportStringRe.FindStringSubmatch(match)
		localPath, ok := rewriteRef(sub[2])
		if !ok {
			return match
		}
		return "@import " + sub[1] + localPath + sub[1]
	})

	rewritten = cssURLRe.ReplaceAllStringFunc(rewritten, func(match string) string {
		sub := cssURLRe.FindStringSubmatch(match)
		localPath, ok := rewriteRef(sub[2])
		if !ok {
			return match
		}
		quote := sub[1]
		return "url(" + quote + localPath + quote + ")"
	})

	return rewritten, descriptors
}
