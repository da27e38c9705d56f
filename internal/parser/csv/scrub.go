package csv

import (
	"bufio"
	"bytes"
	"io"
)

// Replacement is one literal rewrite applied to the stream before CSV
// tokenization, e.g. to repair a broken-quote sequence a publisher emits.
type Replacement struct {
	From []byte
	To   []byte
}

// scrubber is an io.Reader that performs a streaming, rolling find/replace
// without buffering the entire stream. To match sequences that span chunk
// boundaries it retains the last maxFrom-1 bytes of each processed block and
// prepends them to the next one.
type scrubber struct {
	br    *bufio.Reader
	reps  []Replacement
	keep  int
	tmp   []byte
	carry []byte
	buf   bytes.Buffer
	eof   bool
}

// newScrubber wraps r. With no replacements r is returned unchanged.
func newScrubber(r io.Reader, reps []Replacement) io.Reader {
	var live []Replacement
	keep := 0
	for _, rep := range reps {
		if len(rep.From) == 0 || bytes.Equal(rep.From, rep.To) {
			continue
		}
		live = append(live, rep)
		if n := len(rep.From) - 1; n > keep {
			keep = n
		}
	}
	if len(live) == 0 {
		return r
	}
	return &scrubber{
		br:    bufio.NewReaderSize(r, 64*1024),
		reps:  live,
		keep:  keep,
		tmp:   make([]byte, 64*1024),
		carry: make([]byte, 0, keep),
	}
}

func (s *scrubber) Read(p []byte) (int, error) {
	for {
		if s.buf.Len() > 0 {
			return s.buf.Read(p)
		}
		if s.eof {
			return 0, io.EOF
		}

		n, rerr := s.br.Read(s.tmp)
		if n > 0 {
			block := make([]byte, 0, len(s.carry)+n)
			block = append(block, s.carry...)
			block = append(block, s.tmp[:n]...)
			for _, rep := range s.reps {
				block = bytes.ReplaceAll(block, rep.From, rep.To)
			}

			if len(block) > s.keep {
				s.buf.Write(block[:len(block)-s.keep])
				s.carry = append(s.carry[:0], block[len(block)-s.keep:]...)
			} else {
				s.carry = append(s.carry[:0], block...)
			}
		}

		if rerr == io.EOF {
			s.buf.Write(s.carry)
			s.carry = s.carry[:0]
			s.eof = true
		} else if rerr != nil {
			return 0, rerr
		}
	}
}
