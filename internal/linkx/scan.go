// Package linkx finds http(s) URLs in arbitrary bytes.
package linkx

import (
	"regexp"
	"strings"
)

// DefaultMaxBytes bounds how much of the input Scan looks at.
const DefaultMaxBytes = 1_000_000

// The character class is ASCII only, so bytes that are not valid UTF-8
// can never be part of a match.
var (
	urlPattern    = regexp.MustCompile(`https?://[a-zA-Z0-9\-._~:/?#@!$&'*+,;=%]+`)
	trailingPunct = ".,;:!?%"
)

// Scan returns the distinct URLs found in the first maxBytes of b, in the
// order they first appear. Trailing punctuation is trimmed from each match.
// maxBytes <= 0 means DefaultMaxBytes. The result is never nil.
func Scan(b []byte, maxBytes int) []string {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(b) > maxBytes {
		b = b[:maxBytes]
	}

	links := []string{}
	seen := make(map[string]struct{})

	for _, m := range urlPattern.FindAll(b, -1) {
		link := strings.TrimRight(string(m), trailingPunct)
		if !hasHost(link) {
			continue
		}
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		links = append(links, link)
	}

	return links
}

func hasHost(link string) bool {
	_, rest, ok := strings.Cut(link, "://")
	return ok && rest != ""
}
