// Package fetch retrieves remote resources over HTTP and exposes each
// response body as a lazy, single-pass sequence of byte chunks.
//
// Ranging over Body.Chunks is the only thing that drives the network read
// forward. Chunks arrive in network order and each one is only valid until
// the next iteration step.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"time"

	"github.com/pithecene-io/zipline/iox"
)

// DefaultChunkSize is the default maximum size of a yielded chunk.
const DefaultChunkSize = 32 * 1024

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "zipline"

// ErrConsumed is yielded when a body's chunk sequence is ranged over a second time.
var ErrConsumed = errors.New("fetch: body already consumed")

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return "unexpected status " + e.Status
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// FetchError reports a failed GET or a failed read of its body.
//
//nolint:revive // fetch.FetchError reads better at call sites than fetch.Error
type FetchError struct {
	URL string
	// StatusCode is the HTTP status when the server answered, zero otherwise.
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client used for requests.
func WithClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers http.Header) Option {
	return func(f *Fetcher) {
		if headers == nil {
			return
		}
		f.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(f *Fetcher) {
		if f.headers == nil {
			f.headers = make(http.Header)
		}
		f.headers.Set(key, value)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithChunkSize sets the maximum size of a yielded chunk.
// Non-positive values keep the default.
func WithChunkSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.chunkSize = n
		}
	}
}

// WithTimeout bounds each request, including reading its body.
// Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.timeout = d
	}
}

// WithProxy routes requests through the proxy chosen by proxyFunc, as
// http.Transport.Proxy does. The transport of the configured client is
// cloned, never modified in place.
func WithProxy(proxyFunc func(*http.Request) (*url.URL, error)) Option {
	return func(f *Fetcher) {
		f.proxy = proxyFunc
	}
}

// Fetcher issues GET requests.
type Fetcher struct {
	client    *http.Client
	proxy     func(*http.Request) (*url.URL, error)
	headers   http.Header
	userAgent string
	chunkSize int
	timeout   time.Duration
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    http.DefaultClient,
		userAgent: DefaultUserAgent,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = http.DefaultClient
	}
	if f.proxy != nil {
		f.client = withProxyTransport(f.client, f.proxy)
	}
	return f
}

// withProxyTransport returns a copy of client whose transport uses proxyFunc.
func withProxyTransport(client *http.Client, proxyFunc func(*http.Request) (*url.URL, error)) *http.Client {
	base, ok := client.Transport.(*http.Transport)
	if !ok || base == nil {
		base = http.DefaultTransport.(*http.Transport)
	}
	transport := base.Clone()
	transport.Proxy = proxyFunc

	c := *client
	c.Transport = transport
	return &c
}

// Fetch issues a single GET for url. A transport failure or non-2xx status
// returns a *FetchError. On success the caller must Close the body.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Body, error) {
	cancel := context.CancelFunc(func() {})
	if f.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, &FetchError{URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	for k, vs := range f.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, &FetchError{URL: url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		iox.DiscardClose(resp.Body)
		cancel()
		return nil, &FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        &StatusError{Code: resp.StatusCode, Status: resp.Status},
		}
	}

	body := NewBody(url, resp.Body, f.chunkSize)
	body.size = resp.ContentLength
	body.cancel = cancel
	return body, nil
}

// Body is a fetched response body.
type Body struct {
	url       string
	rc        io.ReadCloser
	chunkSize int
	size      int64
	cancel    context.CancelFunc
	consumed  bool
}

// NewBody wraps r as a Body for url. Fetch uses it for response bodies; it is
// exported so other byte sources can feed the same pipeline.
func NewBody(url string, r io.ReadCloser, chunkSize int) *Body {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Body{
		url:       url,
		rc:        r,
		chunkSize: chunkSize,
		size:      -1,
	}
}

// URL returns the source URL.
func (b *Body) URL() string { return b.url }

// Size returns the advertised content length, or -1 if unknown.
func (b *Body) Size() int64 { return b.size }

// Chunks returns the body as a sequence of chunks. The sequence is
// single-pass: ranging over it again yields ErrConsumed. A read failure is
// yielded as a *FetchError at the point it happens and ends the sequence.
// A yielded slice is reused by the next step and must not be retained.
func (b *Body) Chunks() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if b.consumed {
			yield(nil, ErrConsumed)
			return
		}
		b.consumed = true

		buf := make([]byte, b.chunkSize)
		for {
			n, err := b.rc.Read(buf)
			if n > 0 && !yield(buf[:n], nil) {
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, &FetchError{URL: b.url, Err: err})
				return
			}
		}
	}
}

// Close releases the underlying connection.
func (b *Body) Close() error {
	err := b.rc.Close()
	if b.cancel != nil {
		b.cancel()
	}
	return err
}
