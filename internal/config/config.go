// Package config defines the Dataset Profile: the static, per-run description
// of where a dataset comes from, how its columns map and normalize, and where
// the records land. Profiles live under configs/profiles/ as YAML or JSON.
//
// Example (trimmed):
//
//	job: termos_embargo
//	source:  { kind: archive, url: "${EMBARGO_URL}" }
//	parser:  { delimiter: ";", encoding: latin-1 }
//	columns:
//	  - { source: CPF_CNPJ_EMBARGADO, field: cpf_cnpj, rule: { kind: digits_only } }
//	  - { source: DAT_EMBARGO, field: data_embargo, rule: { kind: date, patterns: [DMY] } }
//	mandatory: [cpf_cnpj, data_embargo]
//	storage: { kind: postgres, dsn: "${DATABASE_URL}", table: public.termos_embargo }
//
// A profile is read once at run start and is immutable for the run.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceLocal   = "local"   // LocalFile(path) or a directory + pattern
	SourceRemote  = "remote"  // RemoteFile(url)
	SourceArchive = "archive" // RemoteArchive(url)
	SourceS3      = "s3"      // object in an S3-compatible bucket
)

// Defaults applied by Profile.Defaults.
const (
	DefaultBatchSize    = 500
	DefaultFetchTimeout = 120 * time.Second
	DefaultWriteTimeout = 60 * time.Second
	DefaultMemberExt    = ".csv"
)

// Profile is the top-level object decoded from a profile file.
type Profile struct {
	// Job names the dataset; it labels logs, metrics and traces.
	Job         string `json:"job" yaml:"job"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Source    Source     `json:"source" yaml:"source"`
	Parser    Parser     `json:"parser" yaml:"parser"`
	Columns   []Column   `json:"columns" yaml:"columns"`
	Mandatory []string   `json:"mandatory" yaml:"mandatory"`
	Dedupe    *Dedupe    `json:"dedupe,omitempty" yaml:"dedupe,omitempty"`
	Embedding *Embedding `json:"embedding,omitempty" yaml:"embedding,omitempty"`
	Storage   Storage    `json:"storage" yaml:"storage"`
	Runtime   Runtime    `json:"runtime" yaml:"runtime"`
}

// Source selects the Source Adapter variant.
type Source struct {
	Kind string `json:"kind" yaml:"kind"`

	// Path is a file for "local", or a directory when Pattern is set.
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// URL is used by "remote" and "archive".
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Archive wraps any source kind in zip member selection. It is implied
	// for kind "archive".
	Archive bool `json:"archive,omitempty" yaml:"archive,omitempty"`
	// MemberExt is the extension of the archive member to select.
	MemberExt string `json:"member_ext,omitempty" yaml:"member_ext,omitempty"`
	// MaxArchiveBytes caps the in-memory archive size. Zero means 1 GiB.
	MaxArchiveBytes int64 `json:"max_archive_bytes,omitempty" yaml:"max_archive_bytes,omitempty"`

	// Headers are added to remote fetches (e.g. a User-Agent some portals require).
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// InsecureSkipVerify disables TLS verification for remote fetches.
	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"`

	S3 S3Source `json:"s3,omitempty" yaml:"s3,omitempty"`
}

// S3Source locates an object for kind "s3".
type S3Source struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Key          string `json:"key" yaml:"key"`
	Region       string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint     string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	UsePathStyle bool   `json:"use_path_style,omitempty" yaml:"use_path_style,omitempty"`

	// Static credentials; when empty the default AWS chain is used.
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty" yaml:"session_token,omitempty"`
}

// Parser holds the text decoding parameters.
type Parser struct {
	Delimiter string `json:"delimiter" yaml:"delimiter"`
	Encoding  string `json:"encoding" yaml:"encoding"`
	// TrimSpace trims cells; nil means true.
	TrimSpace *bool `json:"trim_space,omitempty" yaml:"trim_space,omitempty"`
	// LazyQuotes tolerates stray quotes inside unquoted fields.
	LazyQuotes bool `json:"lazy_quotes,omitempty" yaml:"lazy_quotes,omitempty"`
	// Scrub rewrites known-bad byte sequences before CSV tokenization.
	Scrub []Replacement `json:"scrub,omitempty" yaml:"scrub,omitempty"`
}

// Replacement is one literal byte rewrite applied to the decoded stream.
type Replacement struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Comma returns the delimiter rune, defaulting to ','.
func (p Parser) Comma() rune {
	if p.Delimiter == "" {
		return ','
	}
	if p.Delimiter == `\t` {
		return '\t'
	}
	return []rune(p.Delimiter)[0]
}

// Trim reports whether cells should be trimmed.
func (p Parser) Trim() bool { return p.TrimSpace == nil || *p.TrimSpace }

// Column maps one source column onto a canonical field with an optional rule.
type Column struct {
	Source string `json:"source" yaml:"source"`
	Field  string `json:"field" yaml:"field"`
	Rule   *Rule  `json:"rule,omitempty" yaml:"rule,omitempty"`
}

// Rule is a field normalization rule.
type Rule struct {
	// Kind is digits_only | decimal | date | reencode | passthrough | split.
	Kind string `json:"kind" yaml:"kind"`

	Separator string   `json:"separator,omitempty" yaml:"separator,omitempty"`
	Thousands string   `json:"thousands,omitempty" yaml:"thousands,omitempty"`
	Patterns  []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	From      string   `json:"from,omitempty" yaml:"from,omitempty"`
}

// Dedupe configures the optional key-based de-duplication step.
type Dedupe struct {
	Keys   []string `json:"keys" yaml:"keys"`
	Policy string   `json:"policy,omitempty" yaml:"policy,omitempty"`
}

// Embedding configures vector enrichment of legal-text records.
type Embedding struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "hash".
	Provider   string   `json:"provider" yaml:"provider"`
	Fields     []string `json:"fields" yaml:"fields"`
	Target     string   `json:"target" yaml:"target"`
	Model      string   `json:"model,omitempty" yaml:"model,omitempty"`
	BaseURL    string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Token      string   `json:"token,omitempty" yaml:"token,omitempty"`
	Dimensions int      `json:"dimensions" yaml:"dimensions"`
	ChunkSize  int      `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	Workers    int      `json:"workers,omitempty" yaml:"workers,omitempty"`
}

// Storage selects the sink and destination table.
type Storage struct {
	Kind  string `json:"kind" yaml:"kind"`
	DSN   string `json:"dsn" yaml:"dsn"`
	Table string `json:"table" yaml:"table"`

	// Replace deletes every row of Table before loading.
	Replace bool `json:"replace,omitempty" yaml:"replace,omitempty"`
	// AutoCreateTable creates Table from the profile's fields when missing.
	AutoCreateTable bool `json:"auto_create_table,omitempty" yaml:"auto_create_table,omitempty"`

	// Options carries backend-specific settings (e.g. api_key for rest).
	Options Options `json:"options,omitempty" yaml:"options,omitempty"`
}

// Runtime controls batching, concurrency and timeouts.
type Runtime struct {
	BatchSize     int      `json:"batch_size" yaml:"batch_size"`
	LoaderWorkers int      `json:"loader_workers" yaml:"loader_workers"`
	FetchTimeout  Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
	WriteTimeout  Duration `json:"write_timeout" yaml:"write_timeout"`
	FetchRetries  int      `json:"fetch_retries" yaml:"fetch_retries"`
}

// Defaults fills zero values.
func (p *Profile) Defaults() {
	if p.Runtime.BatchSize == 0 {
		p.Runtime.BatchSize = DefaultBatchSize
	}
	if p.Runtime.LoaderWorkers == 0 {
		p.Runtime.LoaderWorkers = 1
	}
	if p.Runtime.FetchTimeout == 0 {
		p.Runtime.FetchTimeout = Duration(DefaultFetchTimeout)
	}
	if p.Runtime.WriteTimeout == 0 {
		p.Runtime.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if p.Source.MemberExt == "" {
		p.Source.MemberExt = DefaultMemberExt
	}
	if p.Storage.Options == nil {
		p.Storage.Options = Options{}
	}
}

// Fields returns the canonical field names in mapping order.
func (p Profile) Fields() []string {
	out := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		out[i] = c.Field
	}
	return out
}

// Duration is a time.Duration that decodes from "90s"-style strings or from a
// number of seconds.
type Duration time.Duration

// D returns the value as time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) set(v any) error {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("duration %q: %w", t, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(t * float64(time.Second))
	case int:
		*d = Duration(time.Duration(t) * time.Second)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("duration: unsupported value %v", v)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var v any
	if err := n.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

// Options is a small helper to fetch typed values from free-form maps
// decoded from JSON or YAML. It performs minimal coercion and returns the
// provided default when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers arrive as float64,
// YAML numbers as int; both are accepted.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// whose values are strings. Non-string values are ignored.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}

// UnmarshalJSON decodes a missing or null object into an empty, non-nil map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
