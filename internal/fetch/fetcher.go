// Package fetch downloads tabular resources by URL. Every failure maps to a
// *fetch.Error so the orchestrator can short-circuit the run with a precise
// failure kind; fetch failures are always permanent for the run, because
// redelivery cannot fix an unreachable or missing resource.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// Kind classifies a fetch failure.
type Kind string

const (
	KindUnreachable Kind = "unreachable"
	KindForbidden   Kind = "forbidden"
	KindNotFound    Kind = "not_found"
	KindTimeout     Kind = "timeout"
	KindTooLarge    Kind = "too_large"
)

// Error is a failed resource download.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Fetcher downloads a resource over HTTP with a bounded timeout and a cap
// on the response size.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher creates a Fetcher. maxBytes <= 0 means no size cap.
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch downloads the resource at rawURL and returns its bytes.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, URL: rawURL, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		kind := KindUnreachable
		if ctx.Err() == context.DeadlineExceeded {
			kind = KindTimeout
		}
		return nil, &Error{Kind: kind, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return nil, &Error{Kind: KindNotFound, URL: rawURL}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: KindForbidden, URL: rawURL}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &Error{
			Kind: KindUnreachable,
			URL:  rawURL,
			Err:  fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var reader io.Reader = resp.Body
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, URL: rawURL, Err: err}
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, &Error{Kind: KindTooLarge, URL: rawURL}
	}
	return data, nil
}

// FileName derives a best-effort file name from the URL path, falling back
// to "unknown_dataset.csv" when the URL carries none.
func FileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown_dataset.csv"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "unknown_dataset.csv"
	}
	return name
}
