package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DefaultMaxDocumentBytes bounds a single downloaded document.
const DefaultMaxDocumentBytes = 50 << 20

// Document is a downloaded source.
type Document struct {
	URL         string
	ContentType string
	Body        []byte
}

// Fetcher downloads documents, retrying network errors and 5xx/429 responses with
// exponential backoff. Other 4xx responses fail immediately.
type Fetcher struct {
	client     *http.Client
	maxElapsed time.Duration
	maxBytes   int64
	logger     *zap.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxElapsed bounds the total time spent retrying one URL.
func WithMaxElapsed(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.maxElapsed = d }
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(l *zap.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher returns a Fetcher.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:     &http.Client{Timeout: 30 * time.Second},
		maxElapsed: time.Minute,
		maxBytes:   DefaultMaxDocumentBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	return f
}

type statusError struct {
	url  string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.url, e.code)
}

// Fetch downloads url.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Document, error) {
	var doc *Document
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", "nutrirag-ingest/1.0")
		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			err := &statusError{url: url, code: resp.StatusCode}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return err
			}
			return backoff.Permanent(err)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
		if err != nil {
			return err
		}
		if int64(len(body)) > f.maxBytes {
			return backoff.Permanent(fmt.Errorf("GET %s: document exceeds %d bytes", url, f.maxBytes))
		}
		doc = &Document{URL: url, ContentType: resp.Header.Get("Content-Type"), Body: body}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = f.maxElapsed
	notify := func(err error, wait time.Duration) {
		f.logger.Warn("fetch failed, retrying", zap.String("url", url), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	return doc, nil
}
