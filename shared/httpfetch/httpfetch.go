// Package httpfetch performs plain GET requests and reads the whole body,
// mapping client failures onto the catalog error taxonomy.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dfryer1193/digidex/catalog/domain"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxBytes = 20 << 20
	userAgent       = "digidex/1.0"
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is in the 2xx class.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

type Client struct {
	doer     Doer
	maxBytes int64
}

type Option func(*Client)

// WithDoer replaces the underlying HTTP client.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

// WithMaxBytes caps how much of a body is read before giving up.
func WithMaxBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		doer:     &http.Client{Timeout: defaultTimeout},
		maxBytes: defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParseURL accepts only absolute http(s) URLs.
func ParseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute http url", domain.ErrInvalidRequest, rawURL)
	}
	return u, nil
}

// Get issues a GET and reads the body. Status codes are not checked here;
// only failures to complete the exchange are returned as errors.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Err: err}
	}
	if resp == nil {
		return nil, domain.ErrInvalidResponse
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, &domain.TransportError{Err: fmt.Errorf("reading body: %w", err)}
	}
	if int64(len(body)) > c.maxBytes {
		return nil, &domain.TransportError{Err: fmt.Errorf("body exceeds %d bytes", c.maxBytes)}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Image downloads rawURL and checks that it is a 2xx response carrying a
// decodable image. Any validation failure is a TransportError.
func (c *Client) Image(ctx context.Context, rawURL string) (*domain.Image, *Response, error) {
	resp, err := c.Get(ctx, rawURL, http.Header{"Accept": []string{"image/*"}})
	if err != nil {
		return nil, nil, err
	}
	if !resp.OK() {
		return nil, resp, &domain.TransportError{Err: &domain.HTTPStatusError{Code: resp.StatusCode}}
	}

	img, err := domain.DecodeImage(resp.Body)
	if err != nil {
		return nil, resp, &domain.TransportError{Err: err}
	}
	return img, resp, nil
}

// DownloadImage is Image without the raw response.
func (c *Client) DownloadImage(ctx context.Context, rawURL string) (*domain.Image, error) {
	img, _, err := c.Image(ctx, rawURL)
	return img, err
}
