package csv

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// maxQuotedLines bounds how many physical lines one quoted field may span
// before its opening line is treated as malformed.
const maxQuotedLines = 512

// framer hands the tokenizer whole records. It joins physical lines only
// while a quoted field is open, following the tokenizer's quoting rules, and
// drops the opening line of a quoted field that never closes (or closes on a
// later line followed by stray text) so parsing resumes on the next line
// instead of swallowing the rest of the input.
type framer struct {
	br       *bufio.Reader
	comma    rune
	lazy     bool
	maxLines int
	log      *slog.Logger

	pending []string
	eof     bool
	line    int // physical line number of pending[0]
	out     []byte

	// dropped counts lines removed before tokenization.
	dropped int
}

func newFramer(r io.Reader, comma rune, lazy bool, log *slog.Logger) *framer {
	if comma == 0 {
		comma = ','
	}
	return &framer{
		br:       bufio.NewReaderSize(r, 64*1024),
		comma:    comma,
		lazy:     lazy,
		maxLines: maxQuotedLines,
		log:      log,
		line:     1,
	}
}

func (f *framer) Read(p []byte) (int, error) {
	for len(f.out) == 0 {
		if err := f.next(); err != nil {
			return 0, err
		}
	}
	n := copy(p, f.out)
	f.out = f.out[n:]
	return n, nil
}

// next frames one record into f.out, or drops one line.
func (f *framer) next() error {
	if err := f.fill(1); err != nil {
		return err
	}
	if len(f.pending) == 0 {
		return io.EOF
	}
	quoted := false
	for k := 0; ; k++ {
		if k >= f.maxLines {
			f.drop("quoted field spans too many lines")
			return nil
		}
		if err := f.fill(k + 1); err != nil {
			return err
		}
		if k >= len(f.pending) {
			f.drop("unterminated quoted field")
			return nil
		}
		open, bad := f.scan(f.pending[k], quoted)
		if bad && k > 0 {
			f.drop("quoted field closes with trailing text on a later line")
			return nil
		}
		if bad || !open {
			f.emit(k + 1)
			return nil
		}
		quoted = true
	}
}

// fill reads until pending holds n lines or the input ends.
func (f *framer) fill(n int) error {
	for len(f.pending) < n && !f.eof {
		s, err := f.br.ReadString('\n')
		if s != "" {
			f.pending = append(f.pending, s)
		}
		if err == io.EOF {
			f.eof = true
			break
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *framer) emit(n int) {
	f.out = f.out[:0]
	for _, l := range f.pending[:n] {
		f.out = append(f.out, l...)
	}
	f.pending = f.pending[n:]
	f.line += n
}

func (f *framer) drop(reason string) {
	f.dropped++
	if f.dropped <= skipLogLimit {
		f.log.Warn("skipping malformed row", "line", f.line, "err", reason)
	}
	f.pending = f.pending[1:]
	f.line++
}

// scan walks one physical line. quoted reports that the line starts inside a
// quoted field. It returns whether the line ends inside a quoted field, and
// whether a closing quote is followed by text the strict tokenizer rejects.
func (f *framer) scan(line string, quoted bool) (open, bad bool) {
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	commaLen := utf8.RuneLen(f.comma)
	i := 0
	for {
		if !quoted {
			if !strings.HasPrefix(line[i:], `"`) {
				j := strings.IndexRune(line[i:], f.comma)
				if j < 0 {
					return false, false
				}
				i += j + commaLen
				continue
			}
			quoted = true
			i++
		}
		j := strings.IndexByte(line[i:], '"')
		if j < 0 {
			return true, false
		}
		i += j + 1
		rest := line[i:]
		switch {
		case strings.HasPrefix(rest, `"`):
			i++
		case rest == "":
			return false, false
		case strings.HasPrefix(rest, string(f.comma)):
			quoted = false
			i += commaLen
		case f.lazy:
			// A lone quote inside a quoted field is literal.
		default:
			return false, true
		}
	}
}
