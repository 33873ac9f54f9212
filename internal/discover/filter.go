// Package discover finds candidate page URLs for managed domains. Two
// strategies implement the same interface: a breadth-first site crawl
// and a Common Crawl CDX index lookup.
package discover

import (
	"net/url"
	"path"
	"strings"

	"github.com/zerolabs/zeroweb/internal/crawl"
)

// skippedExtensions lists file extensions that never hold indexable
// article text.
var skippedExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {},
	".ppt": {}, ".pptx": {},
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".svg": {},
	".webp": {}, ".ico": {},
	".css": {}, ".js": {}, ".json": {}, ".xml": {}, ".rss": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".rar": {}, ".7z": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {},
	".exe": {}, ".dmg": {}, ".apk": {},
}

// skippedPathPatterns lists path fragments for administrative and
// navigational endpoints that duplicate or lack content.
var skippedPathPatterns = []string{
	"/api/", "/admin/", "/login", "/logout", "/register",
	"/signin", "/signup", "/account", "/cart", "/checkout",
	"/search?", "/tag/", "/tags/", "/category/", "/categories/",
	"/archive/", "/feed/", "/wp-admin", "/wp-json", "/cdn-cgi/",
}

// Filter decides which discovered URLs enter the store. It matches on
// scheme, host, extension and path; robots checks happen separately.
type Filter struct {
	domain string
}

// NewFilter builds a filter scoped to one normalized domain.
func NewFilter(domain string) *Filter {
	return &Filter{domain: crawl.NormalizeDomain(domain)}
}

// Allow reports whether rawURL should be kept for the filter's domain.
func (f *Filter) Allow(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !f.sameDomain(u.Hostname()) {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if _, skip := skippedExtensions[ext]; skip {
		return false
	}
	lowered := strings.ToLower(u.Path)
	if u.RawQuery != "" {
		lowered += "?"
	}
	for _, pattern := range skippedPathPatterns {
		if strings.Contains(lowered, pattern) {
			return false
		}
	}
	return true
}

// sameDomain accepts the domain itself and its subdomains, so
// www.example.com and blog.example.com both match example.com.
func (f *Filter) sameDomain(host string) bool {
	host = strings.ToLower(host)
	return host == f.domain || strings.HasSuffix(host, "."+f.domain)
}
