package model

import (
	"net/url"
	"sort"
	"strings"
)

const cacheKeyPrefix = "ytdl"

// CacheKey derives the deterministic cache key for a download request:
// ytdl:{normalized_url}:{format}[:sub={lang}].
func CacheKey(rawURL, format, subtitleLang string) (string, error) {
	normalized, err := NormalizeSourceURL(rawURL)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(cacheKeyPrefix)
	b.WriteByte(':')
	b.WriteString(normalized)
	b.WriteByte(':')
	b.WriteString(strings.TrimSpace(format))
	if lang := strings.TrimSpace(subtitleLang); lang != "" {
		b.WriteString(":sub=")
		b.WriteString(lang)
	}
	return b.String(), nil
}

// NormalizeSourceURL canonicalizes a source URL so that trivially different
// spellings of the same resource share one cache entry. Known providers are
// rewritten to their canonical item URL. Otherwise scheme and host are
// lowercased, the fragment and utm_* tracking parameters are dropped and the
// remaining query is sorted.
func NormalizeSourceURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", ErrInvalidSourceURL
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", ErrInvalidSourceURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidSourceURL
	}
	if u.Host == "" {
		return "", ErrInvalidSourceURL
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	u, canonical, err := canonicalizeProvider(u)
	if err != nil {
		return "", err
	}
	if canonical {
		return u.String(), nil
	}

	query := u.Query()
	for name := range query {
		if strings.HasPrefix(strings.ToLower(name), "utm_") {
			query.Del(name)
		}
	}
	for _, values := range query {
		sort.Strings(values)
	}
	// Encode sorts by key.
	u.RawQuery = query.Encode()

	return u.String(), nil
}
