package rewrite

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"site-replica/pkg/utils"
)

// LinkExtractor discovers same-domain links without mutating the document.
// The crawler uses it when no rewrite option is enabled, so the stored page
// stays byte-identical to what the origin served.
type LinkExtractor struct{}

// Extract parses rawHTML fetched from pageURL and returns the deduplicated
// same-domain links plus the page title. The markup itself is never touched.
func (LinkExtractor) Extract(rawHTML string, pageURL, baseURL *url.URL) ([]string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, "", fmt.Errorf("%w: HTML from %q: %w", utils.ErrParsing, pageURL.String(), err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	var links []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
			return
		}
		abs, err := pageURL.Parse(href)
		if err != nil {
			return
		}
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		if abs.Hostname() != baseURL.Hostname() {
			return
		}
		absStr := abs.String()
		if !seen[absStr] {
			seen[absStr] = true
			links = append(links, absStr)
		}
	})

	return links, title, nil
}
