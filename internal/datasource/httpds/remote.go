package httpds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"ecoetl/internal/etlerr"
)

// Remote streams a dataset file from a URL.
type Remote struct {
	URL     string
	Headers http.Header
	Client  *Client
}

// NewRemote returns a Remote source fetched through c.
func NewRemote(url string, headers http.Header, c *Client) *Remote {
	return &Remote{URL: url, Headers: headers, Client: c}
}

// Name is the file-name hint derived from the URL.
func (r *Remote) Name() string { return FilenameFromURL(r.URL) }

// Open issues the GET and returns the response body. Any failure to obtain a
// 2xx response is a SourceUnavailable error; its Status carries the last HTTP
// status seen, or zero for transport failures.
func (r *Remote) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := r.Client.Get(ctx, r.URL, r.Headers)
	if err != nil {
		e := etlerr.New(etlerr.SourceUnavailable, "fetch", r.URL, err)
		var se *StatusError
		if errors.As(err, &se) {
			e.Status = se.Code
		}
		return nil, e
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		e := etlerr.New(etlerr.SourceUnavailable, "fetch", r.URL,
			fmt.Errorf("unexpected status %s", resp.Status))
		e.Status = resp.StatusCode
		return nil, e
	}
	return resp.Body, nil
}
