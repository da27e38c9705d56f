// Package rest implements a sink over a PostgREST-compatible HTTP API, such
// as the one Supabase exposes in front of Postgres.
//
// Each batch is one POST of a JSON array, which PostgREST applies in a single
// statement. DeleteAll issues a filtered DELETE because PostgREST refuses
// unfiltered deletes.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ecoetl/internal/datasource/httpds"
	"ecoetl/internal/etlerr"
	"ecoetl/internal/storage"
	"ecoetl/pkg/records"
)

// DefaultDeleteFilter matches every row that has a primary key.
const DefaultDeleteFilter = "id=not.is.null"

// Config configures the sink.
type Config struct {
	// BaseURL is the API root, e.g. https://<project>.supabase.co/rest/v1.
	BaseURL string
	// APIKey is sent as the apikey header and as a bearer token.
	APIKey string
	// DeleteFilter is the query string DeleteAll uses to match rows.
	DeleteFilter string
	Timeout      time.Duration
}

// Sink is the PostgREST-backed storage.Sink.
type Sink struct {
	cfg    Config
	client *httpds.Client
}

// New returns a Sink. Batch writes are never retried at this layer.
func New(cfg Config) (*Sink, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("rest: invalid base url %q", cfg.BaseURL)
	}
	if cfg.DeleteFilter == "" {
		cfg.DeleteFilter = DefaultDeleteFilter
	}
	headers := http.Header{}
	if cfg.APIKey != "" {
		headers.Set("apikey", cfg.APIKey)
		headers.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return &Sink{
		cfg:    cfg,
		client: httpds.NewClient(httpds.Config{Timeout: cfg.Timeout, BaseHeaders: headers}),
	}, nil
}

// Insert posts recs as one JSON array.
func (s *Sink) Insert(ctx context.Context, table string, recs []records.Record) error {
	if len(recs) == 0 {
		return nil
	}
	body, err := json.Marshal(recs)
	if err != nil {
		return etlerr.New(etlerr.SinkRejected, "insert", table, fmt.Errorf("encode batch: %w", err))
	}
	h := s.headers(table)
	h.Set("Content-Type", "application/json")
	h.Set("Prefer", "return=minimal")

	resp, err := s.client.Post(ctx, s.endpoint(table, ""), body, h)
	return s.check("insert", table, resp, err)
}

// DeleteAll removes every row matched by the configured filter.
func (s *Sink) DeleteAll(ctx context.Context, table string) error {
	h := s.headers(table)
	h.Set("Prefer", "return=minimal")
	resp, err := s.client.Delete(ctx, s.endpoint(table, s.cfg.DeleteFilter), h)
	return s.check("delete_all", table, resp, err)
}

// Close is a no-op; the HTTP client holds no exclusive resources.
func (s *Sink) Close() error { return nil }

// endpoint maps "schema.table" to {base}/table; the schema travels in the
// Content-Profile header.
func (s *Sink) endpoint(table, query string) string {
	_, name := splitTable(table)
	u := strings.TrimRight(s.cfg.BaseURL, "/") + "/" + url.PathEscape(name)
	if query != "" {
		u += "?" + query
	}
	return u
}

func (s *Sink) headers(table string) http.Header {
	h := http.Header{}
	if schema, _ := splitTable(table); schema != "" {
		h.Set("Content-Profile", schema)
	}
	return h
}

func splitTable(table string) (schema, name string) {
	if i := strings.LastIndex(table, "."); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

// check classifies the exchange. Client errors other than 408 and 429 are
// rejections of the batch; server errors, throttling and transport failures
// mean the sink was unavailable.
func (s *Sink) check(op, table string, resp *http.Response, err error) error {
	if err != nil {
		e := etlerr.New(etlerr.SinkUnavailable, op, table, err)
		var se *httpds.StatusError
		if errors.As(err, &se) {
			e.Status = se.Code
		}
		return e
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	kind := etlerr.SinkUnavailable
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		kind = etlerr.SinkRejected
	}
	e := etlerr.New(kind, op, table, fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(msg)))
	e.Status = resp.StatusCode
	return e
}

func init() {
	storage.Register("rest", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return New(Config{
			BaseURL:      cfg.DSN,
			APIKey:       cfg.Options.String("api_key", ""),
			DeleteFilter: cfg.Options.String("delete_filter", ""),
			Timeout:      time.Duration(cfg.Options.Int("timeout_seconds", 300)) * time.Second,
		})
	})
}
