package probe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ecoetl/internal/config"
	"ecoetl/internal/etlerr"
)

const registryCSV = "CPF_CNPJ;NOME;DATA;VALOR;TAGS;Situação Cadastral\n" +
	"123.456.789-00;Ana;10/05/2019;1.234,50;a,b;ATIVA\n" +
	"12.345.678/0001-90;Bob;11/05/2019;99,90;c,d;ATIVA\n" +
	"broken;row\n"

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.csv")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func registryProfile(path string) config.Profile {
	return config.Profile{
		Job:    "probe_test",
		Source: config.Source{Kind: config.SourceLocal, Path: path},
		Parser: config.Parser{Delimiter: ";", Encoding: "utf-8"},
		Columns: []config.Column{
			{Source: "CPF_CNPJ", Field: "cpf_cnpj", Rule: &config.Rule{Kind: "digits_only"}},
			{Source: "DATA", Field: "data", Rule: &config.Rule{Kind: "date", Patterns: []string{"DMY"}}},
			{Source: "VALOR", Field: "valor", Rule: &config.Rule{Kind: "decimal", Separator: ",", Thousands: "."}},
			{Source: "NOME", Field: "nome"},
			{Source: "UF", Field: "uf"},
		},
	}
}

func TestRun_ReportsMappingAndSuggestions(t *testing.T) {
	t.Parallel()

	rep, err := Run(context.Background(), registryProfile(writeCSV(t, registryCSV)), Options{})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if rep.Truncated {
		t.Fatalf("small file reported as truncated")
	}
	if rep.Rows != 2 || rep.Skipped != 1 {
		t.Fatalf("rows=%d skipped=%d; want 2 and 1", rep.Rows, rep.Skipped)
	}
	if rep.Mapped() || strings.Join(rep.Missing, ",") != "UF" {
		t.Fatalf("missing=%v; want [UF]", rep.Missing)
	}
	if len(rep.Columns) != 6 {
		t.Fatalf("got %d columns; want 6", len(rep.Columns))
	}

	byHeader := map[string]Column{}
	for _, c := range rep.Columns {
		byHeader[c.Header] = c
	}

	tests := []struct {
		header    string
		field     string
		rule      string
		suggested string
		proposed  string
		samples   string
	}{
		{"CPF_CNPJ", "cpf_cnpj", "digits_only", "digits_only", "", "12345678900|12345678000190"},
		{"DATA", "data", "date", "date:DMY", "", "2019-05-10|2019-05-11"},
		{"VALOR", "valor", "decimal", "decimal", "", "1234.5|99.9"},
		{"NOME", "nome", "passthrough", "passthrough", "", "Ana|Bob"},
		{"TAGS", "", "", "split", "tags", "a,b|c,d"},
		{"Situação Cadastral", "", "", "passthrough", "situacao_cadastral", "ATIVA|ATIVA"},
	}
	for _, tt := range tests {
		c, ok := byHeader[tt.header]
		if !ok {
			t.Fatalf("column %q not reported", tt.header)
		}
		if c.Field != tt.field || c.Rule != tt.rule {
			t.Errorf("%s: field=%q rule=%q; want %q %q", tt.header, c.Field, c.Rule, tt.field, tt.rule)
		}
		if c.Suggested != tt.suggested {
			t.Errorf("%s: suggested=%q; want %q", tt.header, c.Suggested, tt.suggested)
		}
		if c.Proposed != tt.proposed {
			t.Errorf("%s: proposed=%q; want %q", tt.header, c.Proposed, tt.proposed)
		}
		if got := strings.Join(c.Samples, "|"); got != tt.samples {
			t.Errorf("%s: samples=%q; want %q", tt.header, got, tt.samples)
		}
		if c.Filled != 2 {
			t.Errorf("%s: filled=%d; want 2", tt.header, c.Filled)
		}
	}
}

func TestRun_TruncatesAtLastCompleteLine(t *testing.T) {
	t.Parallel()

	p := config.Profile{
		Job:     "probe_test",
		Source:  config.Source{Kind: config.SourceLocal, Path: writeCSV(t, "a;b\n1;2\n3;4\n5;6\n")},
		Parser:  config.Parser{Delimiter: ";"},
		Columns: []config.Column{{Source: "a", Field: "x"}, {Source: "b", Field: "y"}},
	}
	rep, err := Run(context.Background(), p, Options{MaxBytes: 10})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !rep.Truncated || rep.Rows != 1 || rep.Skipped != 0 {
		t.Fatalf("truncated=%v rows=%d skipped=%d; want true 1 0", rep.Truncated, rep.Rows, rep.Skipped)
	}
	if !rep.Mapped() {
		t.Fatalf("missing=%v; want none", rep.Missing)
	}
}

func TestRun_MissingSourceIsUnavailable(t *testing.T) {
	t.Parallel()

	p := registryProfile(filepath.Join(t.TempDir(), "absent.csv"))
	_, err := Run(context.Background(), p, Options{})
	if !errors.Is(err, etlerr.SourceUnavailable) {
		t.Fatalf("err=%v; want SourceUnavailable", err)
	}
}

func TestSuggest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"empty", nil, "passthrough"},
		{"iso dates", []string{"2019-05-10", "2020-01-31 10:00:00"}, "date:ISO"},
		{"dmy dates", []string{"31/01/2020", "1/2/2021"}, "date:DMY"},
		{"bare cnpj", []string{"12345678000190", "00012345000101"}, "digits_only"},
		{"short integers", []string{"12", "7"}, "passthrough"},
		{"comma decimals", []string{"10,5", "3"}, "decimal"},
		{"keyword lists", []string{"fauna, flora", "água"}, "passthrough"},
		{"all lists", []string{"fauna, flora", "água,solo"}, "split"},
		{"text", []string{"ATIVA", "SUSPENSA"}, "passthrough"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := suggest(tt.values); got != tt.want {
				t.Fatalf("suggest(%q)=%q; want %q", tt.values, got, tt.want)
			}
		})
	}
}

func TestFieldName(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 40) + strings.Repeat("b", 40)
	tests := []struct {
		in, want string
	}{
		{"Razão Social", "razao_social"},
		{"Última Atualização Relatório", "ultima_atualizacao_relatorio"},
		{"  DAT-HORA.AUTO ", "dat_hora_auto"},
		{"UF/Município", "uf_municipio"},
		{"***", "col"},
		{long, strings.Repeat("a", 10) + strings.Repeat("a", 13) + strings.Repeat("b", 40)},
	}
	for _, tt := range tests {
		if got := FieldName(tt.in); got != tt.want {
			t.Errorf("FieldName(%q)=%q; want %q", tt.in, got, tt.want)
		}
	}
}
