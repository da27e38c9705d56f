// Package textenc resolves character encoding names and repairs text that was
// decoded with the wrong one. Upstream open-data files are frequently
// declared as Latin-1 while actually holding UTF-8 (or the reverse), so both
// the parser and the reencode rule go through here.
package textenc

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// aliases covers the spellings used by profile authors that the IANA index
// does not know (Python codec names mostly).
var aliases = map[string]encoding.Encoding{
	"utf-8":        unicode.UTF8,
	"utf8":         unicode.UTF8,
	"utf-8-sig":    unicode.UTF8BOM,
	"latin-1":      charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"latin_1":      charmap.ISO8859_1,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso8859-1":    charmap.ISO8859_1,
	"cp1252":       charmap.Windows1252,
	"windows-1252": charmap.Windows1252,
	"iso-8859-15":  charmap.ISO8859_15,
	"cp850":        charmap.CodePage850,
}

// Lookup resolves an encoding name. An empty name means UTF-8.
func Lookup(name string) (encoding.Encoding, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return unicode.UTF8, nil
	}
	if e, ok := aliases[n]; ok {
		return e, nil
	}
	if e, err := ianaindex.IANA.Encoding(n); err == nil && e != nil {
		return e, nil
	}
	if e, err := htmlindex.Get(n); err == nil && e != nil {
		return e, nil
	}
	return nil, fmt.Errorf("textenc: unsupported encoding %q", name)
}

// IsUTF8 reports whether e decodes as UTF-8 (with or without BOM handling).
func IsUTF8(e encoding.Encoding) bool {
	return e == unicode.UTF8 || e == unicode.UTF8BOM
}

// Repair reverses a mis-decoding: s is assumed to be UTF-8 bytes that were
// wrongly decoded as from. The result is s re-encoded into from and decoded
// as UTF-8.
//
// Repair is idempotent. Text that cannot be represented in from, and text
// whose from-bytes hold no valid multi-byte UTF-8 sequence, is returned as is
// because it is already correct. When the bytes mix valid sequences with
// broken ones, the broken ones become U+FFFD.
func Repair(s string, from encoding.Encoding) string {
	if s == "" || isASCII(s) || IsUTF8(from) {
		return s
	}
	raw, err := from.NewEncoder().String(s)
	if err != nil {
		return s
	}
	if utf8.ValidString(raw) {
		return raw
	}
	if !hasMultiByteSequence(raw) {
		return s
	}
	return strings.ToValidUTF8(raw, string(utf8.RuneError))
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// hasMultiByteSequence reports whether b contains at least one valid UTF-8
// encoded rune of two or more bytes.
func hasMultiByteSequence(b string) bool {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRuneInString(b[i:])
		if r != utf8.RuneError && size > 1 {
			return true
		}
		i += size
	}
	return false
}
