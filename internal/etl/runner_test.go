package etl

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"

	"ecoetl/internal/config"
	"ecoetl/internal/ddl"
	"ecoetl/internal/etlerr"
	"ecoetl/internal/storage"
	_ "ecoetl/internal/storage/sqlite"
	"ecoetl/pkg/records"
)

type memSink struct {
	mu        sync.Mutex
	rows      []records.Record
	inserts   int
	deletes   int
	created   []ddl.TableDef
	closed    bool
	failBatch func(call int) error
	deleteErr error
}

func (s *memSink) Insert(_ context.Context, _ string, recs []records.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.failBatch != nil {
		if err := s.failBatch(s.inserts); err != nil {
			return err
		}
	}
	s.rows = append(s.rows, recs...)
	return nil
}

func (s *memSink) DeleteAll(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletes++
	s.rows = nil
	return nil
}

func (s *memSink) CreateTable(_ context.Context, def ddl.TableDef) error {
	s.created = append(s.created, def)
	return nil
}

func (s *memSink) Close() error { s.closed = true; return nil }

func (s *memSink) byField(field string) map[any]records.Record {
	out := map[any]records.Record{}
	for _, r := range s.rows {
		out[r[field]] = r
	}
	return out
}

const autuacoesCSV = "NUM_CPF_CNPJ;NOME_INFRATOR;DAT_HORA_AUTO_INFRACAO;VAL_AUTO_INFRACAO;DES_STATUS\n" +
	"123.456.789-00;José;01/02/2020;1.234,56;ATIVO\n" +
	"987.654.321-00;Ana;15/03/2021 10:30:00;10,00;ATIVO\n" +
	"bad;row\n" +
	";Sem CPF;01/01/2020;5,00;ATIVO\n" +
	"123.456.789-00;José Dup;02/02/2020;1,00;ATIVO\n"

func writeLatin1(t testing.TB, path, s string) {
	t.Helper()
	b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func autuacoesProfile(path string) config.Profile {
	p := config.Profile{
		Job:    "ibama_autuacoes",
		Source: config.Source{Kind: config.SourceLocal, Path: path},
		Parser: config.Parser{Delimiter: ";", Encoding: "latin-1"},
		Columns: []config.Column{
			{Source: "NUM_CPF_CNPJ", Field: "cpf_cnpj", Rule: &config.Rule{Kind: "digits_only"}},
			{Source: "NOME_INFRATOR", Field: "nome_infrator"},
			{Source: "DAT_HORA_AUTO_INFRACAO", Field: "data_auto", Rule: &config.Rule{Kind: "date", Patterns: []string{"DMY"}}},
			{Source: "VAL_AUTO_INFRACAO", Field: "valor", Rule: &config.Rule{Kind: "decimal", Separator: ",", Thousands: "."}},
		},
		Mandatory: []string{"cpf_cnpj"},
		Dedupe:    &config.Dedupe{Keys: []string{"cpf_cnpj"}, Policy: "keep-last"},
		Storage:   config.Storage{Kind: "mem", Table: "autuacoes"},
	}
	p.Runtime.BatchSize = 1
	p.Defaults()
	return p
}

func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func states(tr []Transition) []State {
	out := make([]State, len(tr))
	for i, x := range tr {
		out[i] = x.To
	}
	return out
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRun_LocalLatin1EndToEnd(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "autos.csv")
	writeLatin1(t, path, autuacoesCSV)

	sink := &memSink{}
	r := &Runner{Sink: sink, Clock: steppingClock()}
	res, err := r.Run(context.Background(), autuacoesProfile(path))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != Completed {
		t.Fatalf("state got %v want completed", res.State)
	}
	if want := []State{Transforming, Loading, Completed}; !equalStates(states(res.Transitions), want) {
		t.Fatalf("transitions got %v want %v", states(res.Transitions), want)
	}

	o := res.Outcome
	want := Outcome{Extracted: 5, Skipped: 1, Parsed: 4, Filtered: 1, Deduplicated: 1, Ready: 2}
	if o.Extracted != want.Extracted || o.Skipped != want.Skipped || o.Parsed != want.Parsed ||
		o.Filtered != want.Filtered || o.Deduplicated != want.Deduplicated || o.Ready != want.Ready {
		t.Fatalf("outcome got %+v want %+v", o, want)
	}
	if o.Persisted() != 2 || o.Load.Batches != 2 || o.Load.Failed != 0 {
		t.Fatalf("load got %+v", o.Load)
	}
	if !o.Balanced(false) {
		t.Fatalf("accounting not balanced: %+v", o)
	}

	got := sink.byField("cpf_cnpj")
	jose, ok := got["12345678900"]
	if !ok {
		t.Fatalf("missing deduplicated record, got %v", sink.rows)
	}
	if jose["nome_infrator"] != "José Dup" || jose["data_auto"] != "2020-02-02" || jose["valor"] != 1.0 {
		t.Fatalf("keep-last winner got %v", jose)
	}
	ana := got["98765432100"]
	if ana["data_auto"] != "2021-03-15" || ana["valor"] != 10.0 {
		t.Fatalf("ana got %v", ana)
	}
	if _, ok := jose["DES_STATUS"]; ok {
		t.Fatalf("unmapped column leaked: %v", jose)
	}
	if sink.closed {
		t.Fatalf("runner closed an injected sink")
	}
}

func TestRun_FailuresBeforeLoading(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "autos.csv")
	writeLatin1(t, good, autuacoesCSV)
	empty := filepath.Join(dir, "empty.csv")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		mutate   func(p *config.Profile)
		sink     *memSink
		wantKind etlerr.Kind
		wantPath []State
	}{
		{
			name:     "missing file",
			mutate:   func(p *config.Profile) { p.Source.Path = filepath.Join(dir, "nope.csv") },
			wantKind: etlerr.SourceUnavailable,
			wantPath: []State{Failed},
		},
		{
			name:     "no header",
			mutate:   func(p *config.Profile) { p.Source.Path = empty },
			wantKind: etlerr.SourceFormat,
			wantPath: []State{Failed},
		},
		{
			name: "schema mismatch",
			mutate: func(p *config.Profile) {
				p.Columns = append(p.Columns, config.Column{Source: "COD_MUNICIPIO", Field: "municipio"})
				p.Storage.Replace = true
			},
			wantKind: etlerr.SchemaMismatch,
			wantPath: []State{Transforming, Failed},
		},
		{
			name:     "delete_all unavailable",
			mutate:   func(p *config.Profile) { p.Storage.Replace = true },
			sink:     &memSink{deleteErr: errors.New("connection refused")},
			wantKind: etlerr.SinkUnavailable,
			wantPath: []State{Transforming, Failed},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := autuacoesProfile(good)
			tt.mutate(&p)
			sink := tt.sink
			if sink == nil {
				sink = &memSink{}
			}

			res, err := (&Runner{Sink: sink}).Run(context.Background(), p)
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("err got %v want kind %v", err, tt.wantKind)
			}
			if res.State != Failed || res.Err != err {
				t.Fatalf("result got state=%v err=%v", res.State, res.Err)
			}
			if !equalStates(states(res.Transitions), tt.wantPath) {
				t.Fatalf("transitions got %v want %v", states(res.Transitions), tt.wantPath)
			}
			if sink.inserts != 0 || sink.deletes != 0 {
				t.Fatalf("sink touched: inserts=%d deletes=%d", sink.inserts, sink.deletes)
			}
		})
	}
}

func TestRun_SchemaMismatchNamesMissingColumns(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "autos.csv")
	writeLatin1(t, path, autuacoesCSV)
	p := autuacoesProfile(path)
	p.Columns = append(p.Columns,
		config.Column{Source: "COD_MUNICIPIO", Field: "municipio"},
		config.Column{Source: "UF", Field: "uf"},
	)

	_, err := (&Runner{Sink: &memSink{}}).Run(context.Background(), p)
	var e *etlerr.Error
	if !errors.As(err, &e) {
		t.Fatalf("got %v", err)
	}
	if len(e.Missing) != 2 || e.Missing[0] != "COD_MUNICIPIO" || e.Missing[1] != "UF" {
		t.Fatalf("missing got %v", e.Missing)
	}
}

func TestRun_BatchFailureStillCompletes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "autos.csv")
	writeLatin1(t, path, autuacoesCSV)

	sink := &memSink{failBatch: func(call int) error {
		if call == 2 {
			return etlerr.New(etlerr.SinkRejected, "insert", "autuacoes", errors.New("value too long"))
		}
		return nil
	}}
	var seen []storage.BatchResult
	r := &Runner{Sink: sink, OnBatch: func(b storage.BatchResult) { seen = append(seen, b) }}

	res, err := r.Run(context.Background(), autuacoesProfile(path))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != Completed {
		t.Fatalf("state got %v", res.State)
	}
	lo := res.Outcome.Load
	if lo.Batches != 2 || lo.Failed != 1 || lo.Persisted != 1 {
		t.Fatalf("load got %+v", lo)
	}
	if lo.Failures[0].Kind != etlerr.SinkRejected {
		t.Fatalf("failure kind got %v", lo.Failures[0].Kind)
	}
	if len(seen) != 2 {
		t.Fatalf("OnBatch calls got %d want 2", len(seen))
	}
	if !res.Outcome.Balanced(false) {
		t.Fatalf("accounting not balanced: %+v", res.Outcome)
	}
}

func TestRun_ReplaceAndAutoCreate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "autos.csv")
	writeLatin1(t, path, autuacoesCSV)
	p := autuacoesProfile(path)
	p.Storage.Replace = true
	p.Storage.AutoCreateTable = true

	sink := &memSink{rows: []records.Record{{"cpf_cnpj": "stale"}}}
	res, err := (&Runner{Sink: sink}).Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Outcome.Replaced || sink.deletes != 1 {
		t.Fatalf("replace not applied: replaced=%v deletes=%d", res.Outcome.Replaced, sink.deletes)
	}
	if _, stale := sink.byField("cpf_cnpj")["stale"]; stale {
		t.Fatalf("stale row survived replace")
	}
	if len(sink.created) != 1 || sink.created[0].FQN != "autuacoes" || len(sink.created[0].Columns) != 4 {
		t.Fatalf("created got %+v", sink.created)
	}
}

func TestRun_DryRunLeavesSinkUntouched(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "autos.csv")
	writeLatin1(t, path, autuacoesCSV)
	p := autuacoesProfile(path)
	p.Storage.Replace = true

	sink := &memSink{}
	res, err := (&Runner{Sink: sink, DryRun: true}).Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != Completed || res.Outcome.Ready != 2 {
		t.Fatalf("got state=%v ready=%d", res.State, res.Outcome.Ready)
	}
	if sink.inserts != 0 || sink.deletes != 0 {
		t.Fatalf("dry run wrote: inserts=%d deletes=%d", sink.inserts, sink.deletes)
	}
	if !res.Outcome.Balanced(true) {
		t.Fatalf("accounting not balanced: %+v", res.Outcome)
	}
}

func TestRun_RunID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "autos.csv")
	writeLatin1(t, path, autuacoesCSV)

	id := uuid.MustParse("5f1c2e0a-9b7d-4c3e-8a21-6d4f0e9b1c77")
	res, err := (&Runner{Sink: &memSink{}, RunID: id}).Run(context.Background(), autuacoesProfile(path))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ID != id {
		t.Fatalf("run id got %v want %v", res.ID, id)
	}

	res, err = (&Runner{Sink: &memSink{}}).Run(context.Background(), autuacoesProfile(path))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ID == uuid.Nil || res.ID == id {
		t.Fatalf("expected a fresh run id, got %v", res.ID)
	}
}

func TestRun_CanceledBeforeLoadFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "autos.csv")
	writeLatin1(t, path, autuacoesCSV)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &memSink{}
	res, err := (&Runner{Sink: sink}).Run(ctx, autuacoesProfile(path))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err got %v", err)
	}
	if res.State != Failed || sink.inserts != 0 {
		t.Fatalf("got state=%v inserts=%d", res.State, sink.inserts)
	}
}

func TestRun_GlobConcatenatesFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeLatin1(t, filepath.Join(dir, "a.csv"), "NUM_CPF_CNPJ;NOME_INFRATOR;DAT_HORA_AUTO_INFRACAO;VAL_AUTO_INFRACAO\n111;A;01/01/2020;1,00\n")
	writeLatin1(t, filepath.Join(dir, "b.csv"), "NUM_CPF_CNPJ;NOME_INFRATOR;DAT_HORA_AUTO_INFRACAO;VAL_AUTO_INFRACAO;EXTRA\n222;B;02/01/2020;2,00;x\n")
	writeLatin1(t, filepath.Join(dir, "notes.txt"), "ignored")

	p := autuacoesProfile(dir)
	p.Source.Pattern = "*.csv"
	p.Runtime.BatchSize = 500

	sink := &memSink{}
	res, err := (&Runner{Sink: sink}).Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome.Extracted != 2 || res.Outcome.Persisted() != 2 || res.Outcome.Load.Batches != 1 {
		t.Fatalf("outcome got %+v", res.Outcome)
	}
	got := sink.byField("cpf_cnpj")
	if got["111"]["nome_infrator"] != "A" || got["222"]["nome_infrator"] != "B" {
		t.Fatalf("rows got %v", sink.rows)
	}
}

func TestRun_RemoteArchive(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("termos_embargo.CSV")
	if err != nil {
		t.Fatal(err)
	}
	latin, _ := charmap.ISO8859_1.NewEncoder().Bytes([]byte(autuacoesCSV))
	if _, err := w.Write(latin); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/termos_embargo.zip":
			_, _ = w.Write(buf.Bytes())
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := autuacoesProfile("")
	p.Source = config.Source{Kind: config.SourceArchive, URL: srv.URL + "/termos_embargo.zip"}
	p.Defaults()

	sink := &memSink{}
	res, err := (&Runner{Sink: sink}).Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome.Persisted() != 2 {
		t.Fatalf("persisted got %d", res.Outcome.Persisted())
	}

	p.Source.URL = srv.URL + "/gone.zip"
	_, err = (&Runner{Sink: sink}).Run(context.Background(), p)
	var e *etlerr.Error
	if !errors.As(err, &e) || e.Kind != etlerr.SourceUnavailable || e.Status != http.StatusNotFound {
		t.Fatalf("err got %v", err)
	}
}

func TestRun_EmbeddingWithHashProvider(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "leis.csv")
	if err := os.WriteFile(path, []byte("id;titulo;ementa\n1;Lei 9.605;Crimes ambientais\n2;Lei 12.651;\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := config.Profile{
		Job:    "legislacao_ambiental",
		Source: config.Source{Kind: config.SourceLocal, Path: path},
		Parser: config.Parser{Delimiter: ";", Encoding: "utf-8"},
		Columns: []config.Column{
			{Source: "titulo", Field: "titulo"},
			{Source: "ementa", Field: "ementa"},
		},
		Mandatory: []string{"titulo"},
		Embedding: &config.Embedding{Provider: "hash", Fields: []string{"titulo", "ementa"}, Target: "embedding", Dimensions: 8},
		Storage:   config.Storage{Kind: "mem", Table: "legislacao", Replace: true},
	}
	p.Defaults()

	sink := &memSink{}
	res, err := (&Runner{Sink: sink}).Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome.Persisted() != 2 || sink.deletes != 1 {
		t.Fatalf("got persisted=%d deletes=%d", res.Outcome.Persisted(), sink.deletes)
	}
	for _, rec := range sink.rows {
		v, ok := rec["embedding"].([]float32)
		if !ok || len(v) != 8 {
			t.Fatalf("embedding got %#v", rec["embedding"])
		}
	}
}

func TestRun_SQLiteSinkFromProfile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "autos.csv")
	writeLatin1(t, path, autuacoesCSV)
	dsn := filepath.Join(dir, "ecoetl.db")

	p := autuacoesProfile(path)
	p.Storage = config.Storage{Kind: "sqlite", DSN: dsn, Table: "autuacoes", AutoCreateTable: true, Replace: true}
	p.Defaults()

	for run := 0; run < 2; run++ {
		res, err := (&Runner{}).Run(context.Background(), p)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if res.Outcome.Persisted() != 2 {
			t.Fatalf("run %d persisted got %d", run, res.Outcome.Persisted())
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM autuacoes`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows after two replacing runs got %d want 2", n)
	}
	var nome string
	if err := db.QueryRow(`SELECT nome_infrator FROM autuacoes WHERE cpf_cnpj = '12345678900'`).Scan(&nome); err != nil {
		t.Fatalf("select: %v", err)
	}
	if nome != "José Dup" {
		t.Fatalf("nome got %q", nome)
	}
}

func TestRun_UnknownStorageKindFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "autos.csv")
	writeLatin1(t, path, autuacoesCSV)
	p := autuacoesProfile(path)
	p.Storage.Kind = "nosuch"

	res, err := (&Runner{}).Run(context.Background(), p)
	if !errors.Is(err, etlerr.SinkUnavailable) || res.State != Failed {
		t.Fatalf("got state=%v err=%v", res.State, err)
	}
}
