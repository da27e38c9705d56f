package config

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"ecoetl/internal/textenc"
	"ecoetl/internal/transformer/builtin"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Profile.
//
// Path is a dotted path into the profile (e.g. "storage.kind",
// "columns[2].rule.patterns"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue blocks execution.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// KnownStorageKinds are the sink kinds shipped with the binary. Unknown kinds
// are a warning because a backend may be registered out of tree.
var KnownStorageKinds = []string{"postgres", "sqlite", "mssql", "mysql", "duckdb", "rest"}

// Spec converts the profile form of a rule into the rule compiler's input.
func (r *Rule) Spec() builtin.Spec {
	if r == nil {
		return builtin.Spec{Kind: builtin.KindPassthrough}
	}
	return builtin.Spec{
		Kind:      r.Kind,
		Separator: r.Separator,
		Thousands: r.Thousands,
		Patterns:  r.Patterns,
		From:      r.From,
	}
}

// ValidateProfile performs static validation of a Profile. It does not
// mutate the profile; callers decide whether warnings are fatal.
func ValidateProfile(p Profile) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, errIssue("job", "job must not be empty; it labels logs, metrics and runs"))
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateParser(p.Parser)...)

	fields, colIssues := validateColumns(p.Columns)
	issues = append(issues, colIssues...)

	for i, f := range p.Mandatory {
		if !fields[f] {
			issues = append(issues, errIssue(fmt.Sprintf("mandatory[%d]", i),
				fmt.Sprintf("mandatory field %q is not produced by any column", f)))
		}
	}
	if len(p.Mandatory) == 0 {
		issues = append(issues, warnIssue("mandatory", "no mandatory fields; rows are never filtered"))
	}

	if p.Dedupe != nil {
		issues = append(issues, validateDedupe(*p.Dedupe, fields)...)
	}
	if p.Embedding != nil {
		issues = append(issues, validateEmbedding(*p.Embedding, fields)...)
	}
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue
	switch s.Kind {
	case "":
		issues = append(issues, errIssue("source.kind", "source.kind must not be empty"))
	case SourceLocal:
		if strings.TrimSpace(s.Path) == "" {
			issues = append(issues, errIssue("source.path", "local source requires a non-empty path"))
		}
	case SourceRemote, SourceArchive:
		if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
			issues = append(issues, errIssue("source.url",
				fmt.Sprintf("%s source requires an http(s) url, got %q", s.Kind, s.URL)))
		}
	case SourceS3:
		if s.S3.Bucket == "" {
			issues = append(issues, errIssue("source.s3.bucket", "s3 source requires a bucket"))
		}
		if s.S3.Key == "" {
			issues = append(issues, errIssue("source.s3.key", "s3 source requires a key"))
		}
	default:
		issues = append(issues, errIssue("source.kind", fmt.Sprintf("unknown source kind %q", s.Kind)))
	}
	if s.MaxArchiveBytes < 0 {
		issues = append(issues, errIssue("source.max_archive_bytes", "must not be negative"))
	}
	if s.InsecureSkipVerify {
		issues = append(issues, warnIssue("source.insecure_skip_verify", "TLS verification is disabled"))
	}
	return issues
}

func validateParser(p Parser) []Issue {
	var issues []Issue
	if p.Delimiter != "" && p.Delimiter != `\t` && utf8.RuneCountInString(p.Delimiter) != 1 {
		issues = append(issues, errIssue("parser.delimiter",
			fmt.Sprintf("delimiter must be a single character, got %q", p.Delimiter)))
	}
	if c := p.Comma(); c == '"' || c == '\r' || c == '\n' || c == utf8.RuneError {
		issues = append(issues, errIssue("parser.delimiter", fmt.Sprintf("invalid delimiter %q", c)))
	}
	for i, r := range p.Scrub {
		if r.From == "" {
			issues = append(issues, errIssue(fmt.Sprintf("parser.scrub[%d].from", i), "must not be empty"))
		}
	}
	if _, err := textenc.Lookup(p.Encoding); err != nil {
		issues = append(issues, errIssue("parser.encoding", err.Error()))
	}
	return issues
}

func validateColumns(cols []Column) (map[string]bool, []Issue) {
	var issues []Issue
	fields := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		issues = append(issues, errIssue("columns", "at least one column mapping is required"))
	}
	for i, c := range cols {
		path := fmt.Sprintf("columns[%d]", i)
		if strings.TrimSpace(c.Source) == "" {
			issues = append(issues, errIssue(path+".source", "source column must not be empty"))
		}
		if strings.TrimSpace(c.Field) == "" {
			issues = append(issues, errIssue(path+".field", "field must not be empty"))
			continue
		}
		if fields[c.Field] {
			issues = append(issues, errIssue(path+".field", fmt.Sprintf("duplicate field %q", c.Field)))
		}
		fields[c.Field] = true
		if _, err := builtin.Compile(c.Rule.Spec()); err != nil {
			issues = append(issues, errIssue(path+".rule", err.Error()))
		}
	}
	return fields, issues
}

func validateDedupe(d Dedupe, fields map[string]bool) []Issue {
	var issues []Issue
	if len(d.Keys) == 0 {
		issues = append(issues, errIssue("dedupe.keys", "dedupe requires at least one key"))
	}
	for i, k := range d.Keys {
		if !fields[k] {
			issues = append(issues, errIssue(fmt.Sprintf("dedupe.keys[%d]", i),
				fmt.Sprintf("key %q is not produced by any column", k)))
		}
	}
	if d.Policy != "" && !slices.Contains(builtin.Policies, strings.ToLower(d.Policy)) {
		issues = append(issues, errIssue("dedupe.policy",
			fmt.Sprintf("unknown policy %q; want one of %s", d.Policy, strings.Join(builtin.Policies, ", "))))
	}
	return issues
}

func validateEmbedding(e Embedding, fields map[string]bool) []Issue {
	var issues []Issue
	switch e.Provider {
	case "openai":
		if e.Model == "" {
			issues = append(issues, warnIssue("embedding.model", "no model set; the provider default is used"))
		}
	case "hash":
	default:
		issues = append(issues, errIssue("embedding.provider",
			fmt.Sprintf("unknown provider %q; want openai or hash", e.Provider)))
	}
	if len(e.Fields) == 0 {
		issues = append(issues, errIssue("embedding.fields", "at least one text field is required"))
	}
	for i, f := range e.Fields {
		if !fields[f] {
			issues = append(issues, errIssue(fmt.Sprintf("embedding.fields[%d]", i),
				fmt.Sprintf("field %q is not produced by any column", f)))
		}
	}
	switch {
	case e.Target == "":
		issues = append(issues, errIssue("embedding.target", "target field must not be empty"))
	case fields[e.Target]:
		issues = append(issues, errIssue("embedding.target",
			fmt.Sprintf("target %q collides with a mapped field", e.Target)))
	}
	if e.Dimensions <= 0 {
		issues = append(issues, errIssue("embedding.dimensions", "dimensions must be positive"))
	}
	if e.ChunkSize < 0 || e.Workers < 0 {
		issues = append(issues, errIssue("embedding", "chunk_size and workers must not be negative"))
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue
	if s.Kind == "" {
		issues = append(issues, errIssue("storage.kind", "storage.kind must not be empty"))
	} else if !slices.Contains(KnownStorageKinds, s.Kind) {
		issues = append(issues, warnIssue("storage.kind",
			fmt.Sprintf("unknown storage kind %q; ensure a matching backend is registered", s.Kind)))
	}
	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, errIssue("storage.dsn", "storage.dsn must not be empty"))
	}
	if strings.TrimSpace(s.Table) == "" {
		issues = append(issues, errIssue("storage.table", "storage.table must not be empty"))
	}
	if s.AutoCreateTable && s.Kind == "rest" {
		issues = append(issues, warnIssue("storage.auto_create_table", "rest sinks cannot create tables; ignored"))
	}
	return issues
}

func validateRuntime(r Runtime) []Issue {
	var issues []Issue
	if r.BatchSize <= 0 {
		issues = append(issues, errIssue("runtime.batch_size", fmt.Sprintf("batch_size=%d; must be positive", r.BatchSize)))
	}
	if r.LoaderWorkers < 1 {
		issues = append(issues, errIssue("runtime.loader_workers", "loader_workers must be at least 1"))
	}
	if r.FetchTimeout < 0 || r.WriteTimeout < 0 {
		issues = append(issues, errIssue("runtime", "timeouts must not be negative"))
	}
	if r.FetchRetries < 0 {
		issues = append(issues, errIssue("runtime.fetch_retries", "fetch_retries must not be negative"))
	}
	return issues
}

func errIssue(path, msg string) Issue  { return Issue{Severity: SeverityError, Path: path, Message: msg} }
func warnIssue(path, msg string) Issue { return Issue{Severity: SeverityWarning, Path: path, Message: msg} }
