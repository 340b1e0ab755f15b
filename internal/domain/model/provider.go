package model

import (
	"net/url"
	"regexp"
	"strings"
)

var youtubeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// youtubeHosts are the hosts that serve the regular watch page.
var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtube.nl":        true,
	"www.youtube.nl":    true,
}

// youtubePathPrefixes carry the video ID as the next path segment.
var youtubePathPrefixes = []string{"/shorts/", "/embed/", "/live/", "/v/"}

// canonicalizeProvider rewrites provider URLs that have several spellings
// for one item. u has a lowercased scheme and host. It reports whether u was
// rewritten.
func canonicalizeProvider(u *url.URL) (*url.URL, bool, error) {
	host := u.Hostname()

	switch {
	case host == "youtu.be":
		id := strings.Trim(u.Path, "/")
		if youtubeIDPattern.MatchString(id) {
			return youtubeWatchURL(id), true, nil
		}

	case youtubeHosts[host]:
		if id := u.Query().Get("v"); youtubeIDPattern.MatchString(id) {
			return youtubeWatchURL(id), true, nil
		}
		for _, prefix := range youtubePathPrefixes {
			if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
				id, _, _ := strings.Cut(rest, "/")
				if youtubeIDPattern.MatchString(id) {
					return youtubeWatchURL(id), true, nil
				}
			}
		}
		if u.Path == "/playlist" && u.Query().Get("list") != "" {
			return nil, false, ErrPlaylistNotSupported
		}

	case host == "web.facebook.com" || host == "m.facebook.com":
		u.Host = "www.facebook.com"
	}

	return u, false, nil
}

// youtubeWatchURL drops playlist, timestamp and share parameters: they do
// not change the downloaded media.
func youtubeWatchURL(id string) *url.URL {
	return &url.URL{
		Scheme:   "https",
		Host:     "www.youtube.com",
		Path:     "/watch",
		RawQuery: "v=" + id,
	}
}
