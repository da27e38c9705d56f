package httpds

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func quietClient(cfg Config) *Client {
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(cfg)
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{InsecureSkipVerify: true})

	if c.httpClient.Timeout != 30*time.Second {
		t.Fatalf("timeout=%v; want 30s", c.httpClient.Timeout)
	}
	if got := c.baseHeaders.Get("User-Agent"); got != DefaultUserAgent {
		t.Fatalf("User-Agent=%q; want %q", got, DefaultUserAgent)
	}
	tp, ok := c.httpClient.Transport.(*http.Transport)
	if !ok || tp.TLSClientConfig == nil || !tp.TLSClientConfig.InsecureSkipVerify {
		t.Fatalf("transport %T does not skip TLS verification", c.httpClient.Transport)
	}
}

func TestNewClient_CustomTransportIsUsedAsIs(t *testing.T) {
	t.Parallel()

	custom := &http.Transport{TLSClientConfig: &tls.Config{}}
	c := NewClient(Config{Transport: custom, InsecureSkipVerify: true})
	if c.httpClient.Transport != custom {
		t.Fatalf("custom transport replaced")
	}
	if custom.TLSClientConfig.InsecureSkipVerify {
		t.Fatalf("InsecureSkipVerify applied on top of a custom transport")
	}
}

func TestDo_Headers(t *testing.T) {
	t.Parallel()

	var gotUA, gotKey, gotPrefer atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		gotKey.Store(r.Header.Get("apikey"))
		gotPrefer.Store(r.Header.Get("Prefer"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := quietClient(Config{BaseHeaders: http.Header{"Apikey": {"base"}, "Prefer": {"return=representation"}}})
	resp, err := c.Post(context.Background(), srv.URL, []byte(`[]`), http.Header{"Prefer": {"return=minimal"}})
	if err != nil {
		t.Fatalf("Post error: %v", err)
	}
	resp.Body.Close()

	if gotUA.Load() != DefaultUserAgent || gotKey.Load() != "base" || gotPrefer.Load() != "return=minimal" {
		t.Fatalf("ua=%v apikey=%v prefer=%v", gotUA.Load(), gotKey.Load(), gotPrefer.Load())
	}
}

func TestDo_SendsOnceAndClassifiesStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantStatus int // response status, 0 when an error is expected
		wantErr    int // StatusError code
		wantWait   time.Duration
	}{
		{"success", 200, "", 200, 0, 0},
		{"4xx is returned to the caller", 404, "", 404, 0, 0},
		{"5xx is transient", 503, "", 0, 503, 0},
		{"429 carries Retry-After seconds", 429, "7", 0, 429, 7 * time.Second},
		{"unparseable Retry-After is ignored", 502, "later", 0, 502, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			resp, err := quietClient(Config{}).Get(context.Background(), srv.URL, nil)
			if got := hits.Load(); got != 1 {
				t.Fatalf("hits=%d; want 1", got)
			}
			if tt.wantErr != 0 {
				var se *StatusError
				if !errors.As(err, &se) || se.Code != tt.wantErr || se.Method != http.MethodGet {
					t.Fatalf("err=%v; want StatusError %d", err, tt.wantErr)
				}
				if se.RetryAfter != tt.wantWait {
					t.Fatalf("RetryAfter=%v; want %v", se.RetryAfter, tt.wantWait)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get error: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status=%d; want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestDo_RetryAfterHTTPDate(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", now.Add(45*time.Second).Format(http.TimeFormat))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := quietClient(Config{})
	c.now = func() time.Time { return now }
	_, err := c.Get(context.Background(), srv.URL, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.RetryAfter != 45*time.Second {
		t.Fatalf("err=%v; want StatusError with 45s Retry-After", err)
	}
}

func TestDo_CanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := quietClient(Config{}).Get(ctx, srv.URL, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v; want context.Canceled", err)
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in     string
		want   time.Duration
		wantOK bool
	}{
		{"", 0, false},
		{"30", 30 * time.Second, true},
		{"-1", 0, false},
		{"soon", 0, false},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second, true},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
	}
	for _, tt := range tests {
		got, ok := retryAfter(tt.in, now)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("retryAfter(%q)=(%v,%v); want (%v,%v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
