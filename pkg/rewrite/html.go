package rewrite

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"site-replica/pkg/assets"
	"site-replica/pkg/models"
	"site-replica/pkg/utils"
)

// PageResult is the outcome of rewriting one fetched HTML page: the
// self-contained markup, where to store it, and the two side channels the
// crawler consumes: same-domain links for the next frontier and resource
// descriptors for the downloader.
type PageResult struct {
	HTML        string
	Path        string
	Title       string
	Links       []string
	Descriptors []models.ResourceDescriptor
}

// PagePath derives the canonical local file path for a crawled page URL.
// The homepage maps to index.html; extensionless paths get their own
// directory with an index.html inside.
func PagePath(u *url.URL) string {
	p := strings.Trim(u.Path, "/")
	if p == "" {
		return "index.html"
	}
	if path.Ext(p) == "" {
		return p + "/index.html"
	}
	return p
}

// PreviewHref builds the local navigation target for a same-domain link.
func PreviewHref(crawlID, localPath string) string {
	return "/preview/" + crawlID + "?path=" + url.QueryEscape(localPath)
}

// HTMLRewriter rewrites embedded references in a page so the offline copy is
// self-contained. Each rewrite rule runs as an independent pass over the
// parsed tree, gated by its option flag.
type HTMLRewriter struct {
	css *CSSRewriter
	log *logrus.Logger
}

// NewHTMLRewriter creates an HTMLRewriter delegating stylesheet text to css.
func NewHTMLRewriter(css *CSSRewriter, log *logrus.Logger) *HTMLRewriter {
	return &HTMLRewriter{css: css, log: log}
}

// descriptorCollector deduplicates discovered resources by download URL,
// keeping the first-seen type/path pair.
type descriptorCollector struct {
	seen  map[string]bool
	descs []models.ResourceDescriptor
}

func newDescriptorCollector() *descriptorCollector {
	return &descriptorCollector{seen: make(map[string]bool)}
}

func (dc *descriptorCollector) add(d models.ResourceDescriptor) {
	if dc.seen[d.URL] {
		return
	}
	dc.seen[d.URL] = true
	dc.descs = append(dc.descs, d)
}

func (dc *descriptorCollector) addAll(ds []models.ResourceDescriptor) {
	for _, d := range ds {
		dc.add(d)
	}
}

// Rewrite parses rawHTML fetched from pageURL and applies every enabled
// rewrite pass. baseURL is the crawl's origin and bounds link discovery to
// the same host; crawlID names the local preview namespace for navigation.
// A malformed URL in any single attribute is skipped, never fatal.
func (hr *HTMLRewriter) Rewrite(rawHTML string, pageURL, baseURL *url.URL, crawlID string, opts models.ReplicationOptions) (*PageResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML from %q: %w", utils.ErrParsing, pageURL.String(), err)
	}

	result := &PageResult{
		Path:  PagePath(pageURL),
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	collector := newDescriptorCollector()

	if opts.PreserveCSS {
		hr.rewriteStylesheetLinks(doc, pageURL, collector)
		hr.rewriteScripts(doc, pageURL, collector)
		hr.rewriteStyleBlocks(doc, pageURL, opts, collector)
	}
	if opts.DownloadImages {
		hr.rewriteImages(doc, pageURL, collector)
		hr.rewriteSrcsets(doc, pageURL, collector)
		hr.rewriteInlineStyles(doc, pageURL, opts, collector)
	}
	// Anchors are always walked for frontier discovery; mutation is gated.
	hr.processAnchors(doc, pageURL, baseURL, crawlID, opts, result)
	if opts.PreserveNav {
		hr.rewriteForms(doc, pageURL, baseURL, crawlID)
	}

	html, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("%w: serializing HTML for %q: %w", utils.ErrParsing, pageURL.String(), err)
	}
	result.HTML = html
	result.Descriptors = collector.descs
	return result, nil
}

// resolveHTTP resolves ref against base and accepts only http(s) targets.
func (hr *HTMLRewriter) resolveHTTP(base *url.URL, ref string) (*url.URL, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return nil, false
	}
	abs, err := base.Parse(ref)
	if err != nil {
		hr.log.Debugf("Skipping malformed reference %q: %v", ref, err)
		return nil, false
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, false
	}
	return abs, true
}

func (hr *HTMLRewriter) rewriteStylesheetLinks(doc *goquery.Document, pageURL *url.URL, collector *descriptorCollector) {
	doc.Find(`link[rel="stylesheet"], link[as="style"], link[type="text/css"]`).Each(func(_ int, sel *goquery.Selection) {
		href, exists := sel.Attr("href")
		if !exists {
			return
		}
		abs, ok := hr.resolveHTTP(pageURL, href)
		if !ok {
			return
		}
		localPath := assets.ResolveAssetPath(abs.String())
		collector.add(models.ResourceDescriptor{URL: abs.String(), Type: models.ResourceCSS, AssetPath: localPath})
		sel.SetAttr("href", localPath)
	})
}

func (hr *HTMLRewriter) rewriteScripts(doc *goquery.Document, pageURL *url.URL, collector *descriptorCollector) {
	doc.Find("script[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		abs, ok := hr.resolveHTTP(pageURL, src)
		if !ok {
			return
		}
		localPath := assets.ResolveAssetPath(abs.String())
		collector.add(models.ResourceDescriptor{URL: abs.String(), Type: models.ResourceJS, AssetPath: localPath})
		sel.SetAttr("src", localPath)
	})
}

// rewriteStyleBlocks delegates inline <style> text to the CSS rewriter.
func (hr *HTMLRewriter) rewriteStyleBlocks(doc *goquery.Document, pageURL *url.URL, opts models.ReplicationOptions, collector *descriptorCollector) {
	doc.Find("style").Each(func(_ int, sel *goquery.Selection) {
		cssText := sel.Text()
		if strings.TrimSpace(cssText) == "" {
			return
		}
		rewritten, descs := hr.css.Rewrite(cssText, pageURL, opts)
		if rewritten != cssText {
			sel.SetText(rewritten)
		}
		collector.addAll(descs)
	})
}

func (hr *HTMLRewriter) rewriteImages(doc *goquery.Document, pageURL *url.URL, collector *descriptorCollector) {
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		abs, ok := hr.resolveHTTP(pageURL, src)
		if !ok {
			return
		}
		localPath := assets.ResolveAssetPath(abs.String())
		// Download the full-resolution variant; the reference keeps the
		// positional path, so the local file ends up holding the real bytes.
		collector.add(models.ResourceDescriptor{
			URL:       assets.ResolveFullSizeImageURL(abs.String()),
			Type:      models.ResourceImage,
			AssetPath: localPath,
		})
		sel.SetAttr("src", localPath)
	})
}

func (hr *HTMLRewriter) rewriteSrcsets(doc *goquery.Document, pageURL *url.URL, collector *descriptorCollector) {
	doc.Find("img[srcset], picture source[srcset]").Each(func(_ int, sel *goquery.Selection) {
		srcset, _ := sel.Attr("srcset")
		rewritten := hr.rewriteSrcsetValue(srcset, pageURL, collector)
		if rewritten != srcset {
			sel.SetAttr("srcset", rewritten)
		}
	})
}

// rewriteSrcsetValue rewrites each comma-separated "url [descriptor]"
// candidate independently, preserving the width/density descriptor.
func (hr *HTMLRewriter) rewriteSrcsetValue(srcset string, pageURL *url.URL, collector *descriptorCollector) string {
	candidates := strings.Split(srcset, ",")
	for i, candidate := range candidates {
		fields := strings.Fields(strings.TrimSpace(candidate))
		if len(fields) == 0 {
			continue
		}
		abs, ok := hr.resolveHTTP(pageURL, fields[0])
		if !ok {
			continue
		}
		localPath := assets.ResolveAssetPath(abs.String())
		collector.add(models.ResourceDescriptor{
			URL:       assets.ResolveFullSizeImageURL(abs.String()),
			Type:      models.ResourceImage,
			AssetPath: localPath,
		})
		fields[0] = localPath
		candidates[i] = strings.Join(fields, " ")
	}
	return strings.Join(candidates, ", ")
}

// rewriteInlineStyles handles style="...background...url(...)" attributes.
func (hr *HTMLRewriter) rewriteInlineStyles(doc *goquery.Document, pageURL *url.URL, opts models.ReplicationOptions, collector *descriptorCollector) {
	doc.Find("[style]").Each(func(_ int, sel *goquery.Selection) {
		styleVal, _ := sel.Attr("style")
		if !strings.Contains(styleVal, "background") {
			return
		}
		rewritten, descs := hr.css.Rewrite(styleVal, pageURL, opts)
		if rewritten != styleVal {
			sel.SetAttr("style", rewritten)
		}
		collector.addAll(descs)
	})
}

// processAnchors collects same-domain links for the frontier and, when
// PreserveNav is set, points their hrefs at the local preview namespace.
// Fragment-only, javascript:, mailto:, tel:, and cross-domain links are left
// untouched and never enqueued.
func (hr *HTMLRewriter) processAnchors(doc *goquery.Document, pageURL, baseURL *url.URL, crawlID string, opts models.ReplicationOptions, result *PageResult) {
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
			return
		}
		abs, ok := hr.resolveHTTP(pageURL, href)
		if !ok {
			return
		}
		if abs.Hostname() != baseURL.Hostname() {
			return
		}
		absStr := abs.String()
		if !seen[absStr] {
			seen[absStr] = true
			result.Links = append(result.Links, absStr)
		}
		if opts.PreserveNav {
			sel.SetAttr("href", PreviewHref(crawlID, PagePath(abs)))
		}
	})
}

// rewriteForms rewrites same-domain form actions into the preview namespace.
func (hr *HTMLRewriter) rewriteForms(doc *goquery.Document, pageURL, baseURL *url.URL, crawlID string) {
	doc.Find("form[action]").Each(func(_ int, sel *goquery.Selection) {
		action, _ := sel.Attr("action")
		abs, ok := hr.resolveHTTP(pageURL, action)
		if !ok {
			return
		}
		if abs.Hostname() != baseURL.Hostname() {
			return
		}
		sel.SetAttr("action", PreviewHref(crawlID, PagePath(abs)))
	})
}
