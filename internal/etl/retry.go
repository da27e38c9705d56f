package etl

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ecoetl/internal/config"
	"ecoetl/internal/datasource"
	"ecoetl/internal/datasource/httpds"
	"ecoetl/internal/etlerr"
	"ecoetl/internal/parser/csv"
	"ecoetl/pkg/records"
)

// Fetch retry backoff. The wait doubles per attempt up to MaxRetryBackoff.
const (
	DefaultRetryBackoff = time.Second
	MaxRetryBackoff     = 30 * time.Second
)

// fetch parses src, opening it again after a retryable SourceUnavailable
// failure up to runtime.fetch_retries times. Stats come from the successful
// attempt only.
func (r *Runner) fetch(
	ctx context.Context,
	log *slog.Logger,
	p config.Profile,
	src datasource.Source,
	opt csv.Options,
) (*records.Dataset, csv.Stats, error) {
	initial := r.RetryBackoff
	if initial <= 0 {
		initial = DefaultRetryBackoff
	}
	for attempt := 0; ; attempt++ {
		ds, st, err := parseOne(ctx, p, src.Name(), src.Open, opt)
		if err == nil || attempt >= p.Runtime.FetchRetries || !retryable(err) || ctx.Err() != nil {
			return ds, st, err
		}

		wait := backoffDuration(initial, attempt, MaxRetryBackoff)
		var se *httpds.StatusError
		if errors.As(err, &se) && se.RetryAfter > 0 {
			wait = min(se.RetryAfter, MaxRetryBackoff)
		}
		log.Warn("source unavailable, retrying",
			"source", src.Name(),
			"attempt", attempt+1,
			"of", p.Runtime.FetchRetries,
			"wait", wait,
			"err", err,
		)
		if serr := sleepContext(ctx, wait); serr != nil {
			return nil, csv.Stats{}, err
		}
	}
}

// retryable reports whether another attempt could succeed: SourceUnavailable
// without a definitive client-error status.
func retryable(err error) bool {
	if !errors.Is(err, etlerr.SourceUnavailable) {
		return false
	}
	var e *etlerr.Error
	if errors.As(err, &e) && e.Status >= 400 && e.Status < 500 {
		return e.Status == http.StatusRequestTimeout || e.Status == http.StatusTooManyRequests
	}
	return true
}

// backoffDuration returns initial doubled attempt times, clamped to max.
func backoffDuration(initial time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt <= 0 {
		if initial > max {
			return max
		}
		return initial
	}
	d := initial << attempt
	if d > max || d <= 0 {
		return max
	}
	return d
}

// sleepContext waits for d but aborts early if ctx is canceled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
