package httpds

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"path"
	"regexp"
)

// filenameCleaner replaces sequences of characters unsafe in file names with "_".
var filenameCleaner = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// HashString returns a stable SHA1 hex digest of s.
func HashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// FilenameFromURL derives the file-name hint of a download: the last path
// segment, cleaned. URLs without a path segment fall back to the cleaned
// query, then to a hash of the whole URL.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return HashString(rawURL)
	}
	if base := path.Base(u.Path); base != "." && base != "/" {
		if clean := filenameCleaner.ReplaceAllString(base, "_"); clean != "" && clean != "_" {
			return clean
		}
	}
	if clean := filenameCleaner.ReplaceAllString(u.RawQuery, "_"); clean != "" && clean != "_" {
		return clean
	}
	return HashString(rawURL)
}
