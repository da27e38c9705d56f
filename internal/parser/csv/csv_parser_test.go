package csv_test

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"

	"golang.org/x/text/encoding/charmap"

	"ecoetl/internal/etlerr"
	pcsv "ecoetl/internal/parser/csv"
)

func TestParse_Latin1Semicolon(t *testing.T) {
	t.Parallel()

	// "Razão Social" and "José" in ISO-8859-1.
	in := "CNPJ;Raz\xe3o Social;UF\n12.345.678/0001-90;Jos\xe9 Ltda; PA \n"
	p := pcsv.NewParser(pcsv.Options{Comma: ';', Encoding: charmap.ISO8859_1, TrimSpace: true})

	ds, st, err := p.Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if want := []string{"CNPJ", "Razão Social", "UF"}; !reflect.DeepEqual(ds.Columns, want) {
		t.Fatalf("columns got %v want %v", ds.Columns, want)
	}
	if got := ds.Value(0, "Razão Social"); got != "José Ltda" {
		t.Fatalf("name got %v", got)
	}
	if got := ds.Value(0, "UF"); got != "PA" {
		t.Fatalf("uf got %q", got)
	}
	if st.Extracted != 1 || st.Parsed != 1 || st.Skipped != 0 {
		t.Fatalf("stats got %+v", st)
	}
}

func TestParse_SkipsMisalignedRows(t *testing.T) {
	t.Parallel()

	in := "a;b;c\n1;2;3\n4;5\n6;7;8;9\n;;x\n"
	ds, st, err := pcsv.NewParser(pcsv.Options{Comma: ';'}).Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := [][]any{{"1", "2", "3"}, {nil, nil, "x"}}
	if !reflect.DeepEqual(ds.Rows, want) {
		t.Fatalf("rows got %v want %v", ds.Rows, want)
	}
	if st.Extracted != 4 || st.Parsed != 2 || st.Skipped != 2 {
		t.Fatalf("stats got %+v", st)
	}
	if st.Parsed+st.Skipped != st.Extracted {
		t.Fatalf("accounting broken: %+v", st)
	}
}

func TestParse_HeaderOnlyIsEmptyDataset(t *testing.T) {
	t.Parallel()

	ds, st, err := pcsv.NewParser(pcsv.Options{}).Parse(strings.NewReader("a,b\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ds.Len() != 0 || len(ds.Columns) != 2 || st.Extracted != 0 {
		t.Fatalf("got %d rows, %v columns, stats %+v", ds.Len(), ds.Columns, st)
	}
}

func TestParse_EmptyInputIsFormatError(t *testing.T) {
	t.Parallel()

	_, _, err := pcsv.NewParser(pcsv.Options{Name: "empty.csv"}).Parse(strings.NewReader(""))
	if !errors.Is(err, etlerr.SourceFormat) {
		t.Fatalf("expected SourceFormat, got %v", err)
	}
}

func TestParse_ReadFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	r := io.MultiReader(strings.NewReader("a,b\n1,2\n"), iotest.ErrReader(errors.New("connection reset")))
	_, _, err := pcsv.NewParser(pcsv.Options{}).Parse(r)
	if !errors.Is(err, etlerr.SourceUnavailable) {
		t.Fatalf("expected SourceUnavailable, got %v", err)
	}
}

func TestParse_BOMAndDuplicateHeaders(t *testing.T) {
	t.Parallel()

	in := "\uFEFFid,name,name,name.1\n1,a,b,c\n"
	ds, _, err := pcsv.NewParser(pcsv.Options{}).Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if want := []string{"id", "name", "name.2", "name.1"}; !reflect.DeepEqual(ds.Columns, want) {
		t.Fatalf("columns got %v want %v", ds.Columns, want)
	}
	if got := ds.Value(0, "name.2"); got != "b" {
		t.Fatalf("name.2 got %v", got)
	}
}

func TestParse_ScrubRepairsBrokenQuotes(t *testing.T) {
	t.Parallel()

	in := "id;nome\n1;\"ACME \"em liquidacao\"\"\n2;ok\n"
	p := pcsv.NewParser(pcsv.Options{
		Comma: ';',
		Scrub: []pcsv.Replacement{{From: []byte(` "em liquidacao""`), To: []byte(` (em liquidacao)"`)}},
	})
	ds, st, err := p.Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if st.Skipped != 0 || ds.Len() != 2 {
		t.Fatalf("got %d rows, stats %+v", ds.Len(), st)
	}
	if got := ds.Value(0, "nome"); got != "ACME (em liquidacao)" {
		t.Fatalf("nome got %q", got)
	}
}

func TestScrub_MatchesAcrossChunkBoundary(t *testing.T) {
	t.Parallel()

	// OneByteReader forces every match to straddle reads.
	in := "k\n" + strings.Repeat("xAB\n", 100)
	p := pcsv.NewParser(pcsv.Options{Scrub: []pcsv.Replacement{{From: []byte("AB"), To: []byte("ok")}}})
	ds, _, err := p.Parse(iotest.OneByteReader(strings.NewReader(in)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ds.Len() != 100 {
		t.Fatalf("rows got %d", ds.Len())
	}
	for i := 0; i < ds.Len(); i++ {
		if ds.Value(i, "k") != "xok" {
			t.Fatalf("row %d got %v", i, ds.Value(i, "k"))
		}
	}
}

func TestParse_QuotingRecovery(t *testing.T) {
	t.Parallel()

	var long strings.Builder
	long.WriteString("a;b\n1;\"never closed\n")
	for i := range 600 {
		fmt.Fprintf(&long, "%d;ok\n", i)
	}

	tests := []struct {
		name       string
		in         string
		lazy       bool
		wantRows   int
		wantFirst  []any
		wantSkip   int
		wantExtrac int
	}{
		{"unterminated quote costs one line", "a;b\n1;\"x\n2;ok\n3;ok\n", false, 2, []any{"2", "ok"}, 1, 3},
		{"unterminated quote with lazy quotes", "a;b\n1;\"x\n2;ok\n3;ok\n", true, 2, []any{"2", "ok"}, 1, 3},
		{"crlf line endings", "a;b\r\n1;\"x\r\n2;ok\r\n", false, 1, []any{"2", "ok"}, 1, 2},
		{"resync before a quoted row", "a;b\n1;\"x\n2;\"ok\"\n3;ok\n", false, 2, []any{"2", "ok"}, 1, 3},
		{"multi-line field is kept", "a;b\n1;\"linha um\nlinha dois\"\n2;ok\n", false, 2, []any{"1", "linha um\nlinha dois"}, 0, 2},
		{"escaped quotes across lines", "a;b\n1;\"diz \"\"sim\nou não\"\"\"\n", false, 1, []any{"1", "diz \"sim\nou não\""}, 0, 1},
		{"bare quote", "a;b\n1;x\"y\n2;ok\n", false, 1, []any{"2", "ok"}, 1, 2},
		{"text after closing quote", "a;b\n1;\"x\"y\n2;ok\n", false, 1, []any{"2", "ok"}, 1, 2},
		{"lookahead is bounded", long.String(), false, 600, []any{"0", "ok"}, 1, 601},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := pcsv.NewParser(pcsv.Options{Comma: ';', LazyQuotes: tt.lazy})
			ds, st, err := p.Parse(strings.NewReader(tt.in))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if ds.Len() != tt.wantRows {
				t.Fatalf("rows got %d want %d: %v", ds.Len(), tt.wantRows, ds.Rows)
			}
			if !reflect.DeepEqual(ds.Rows[0], tt.wantFirst) {
				t.Fatalf("first row got %q want %q", ds.Rows[0], tt.wantFirst)
			}
			if st.Skipped != tt.wantSkip || st.Extracted != tt.wantExtrac || st.Parsed+st.Skipped != st.Extracted {
				t.Fatalf("stats got %+v", st)
			}
		})
	}
}
