// Package harvest pulls STAC items from a STAC API, converts them to
// catalogue records and writes them into a store.
package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/planetlabs/go-stac"
)

// Middleware manipulates an outgoing *http.Request before it is executed.
type Middleware func(context.Context, *http.Request) error

// NextHandler determines the next-page URL from a list of STAC links.
// It returns nil when there is no next page.
type NextHandler func([]*stac.Link) (*url.URL, error)

// ClientOption configures the Client.
type ClientOption func(*Client)

// Client reads item pages from a STAC API.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	nextHandler NextHandler
	middleware  []Middleware
	retryPolicy RetryPolicy
	maxRetries  int
	logger      *slog.Logger
}

// WithHTTPClient sets a custom HTTP client. A nil client keeps the default.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = d
	}
}

// WithNextHandler configures a custom NextHandler for pagination.
func WithNextHandler(h NextHandler) ClientOption {
	return func(c *Client) { c.nextHandler = h }
}

// WithMiddleware registers one or more request-middleware functions.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) { c.middleware = append(c.middleware, mw...) }
}

// WithRetryPolicy sets the retry policy. A nil policy disables retries.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.retryPolicy = p }
}

// WithMaxRetries bounds the number of retries of a single request.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxRetries = n }
}

// WithClientLogger sets the logger used for retry diagnostics.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the STAC API rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", baseURL)
	}

	if u.Path != "" && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if u.RawPath != "" && !strings.HasSuffix(u.RawPath, "/") {
		u.RawPath += "/"
	}
	c := &Client{
		baseURL:     u,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		nextHandler: DefaultNextHandler,
		retryPolicy: DefaultRetryPolicy,
		maxRetries:  3,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the API root the client resolves paths against.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// DefaultNextHandler returns the href of the first rel="next" link.
func DefaultNextHandler(links []*stac.Link) (*url.URL, error) {
	nl := findLinkByRel(links, "next")
	if nl == nil {
		return nil, nil
	}
	if nl.Href == "" {
		return nil, fmt.Errorf("found 'next' link with empty href")
	}
	next, err := url.Parse(nl.Href)
	if err != nil {
		return nil, fmt.Errorf("invalid 'next' link URL %q: %w", nl.Href, err)
	}
	return next, nil
}

func findLinkByRel(links []*stac.Link, rel string) *stac.Link {
	for _, l := range links {
		if l != nil && l.Rel == rel {
			return l
		}
	}
	return nil
}

type itemPage struct {
	Features []*stac.Item `json:"features"`
	Links    []*stac.Link `json:"links"`
}

func decodeItemPage(r io.Reader) (*itemPage, error) {
	var page itemPage
	if err := json.NewDecoder(r).Decode(&page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Items iterates the items of a collection, following next links until the
// server stops handing them out. Iteration ends after the first error.
func (c *Client) Items(ctx context.Context, collectionID string) iter.Seq2[*stac.Item, error] {
	return c.iterate(ctx, itemsPath(collectionID))
}

// ItemsURL is the first page URL of a collection's items.
func (c *Client) ItemsURL(collectionID string) string {
	ref, err := url.Parse(itemsPath(collectionID))
	if err != nil {
		return c.baseURL.String() + itemsPath(collectionID)
	}
	return c.baseURL.ResolveReference(ref).String()
}

func itemsPath(collectionID string) string {
	return fmt.Sprintf("collections/%s/items", url.PathEscape(collectionID))
}

func (c *Client) iterate(ctx context.Context, startPath string) iter.Seq2[*stac.Item, error] {
	return func(yield func(*stac.Item, error) bool) {
		startURL, err := url.Parse(startPath)
		if err != nil {
			yield(nil, fmt.Errorf("invalid start path %q: %w", startPath, err))
			return
		}
		current := c.baseURL.ResolveReference(startURL)
		seen := map[string]bool{}

		for {
			seen[current.String()] = true

			resp, err := c.retry(ctx, func() (*http.Response, error) {
				return c.doRequest(ctx, http.MethodGet, current.String(), nil)
			})
			if err != nil {
				yield(nil, err)
				return
			}
			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				yield(nil, &StatusError{StatusCode: resp.StatusCode, URL: current.String()})
				return
			}

			page, err := decodeItemPage(resp.Body)
			resp.Body.Close()
			if err != nil {
				yield(nil, fmt.Errorf("error decoding response from %s: %w", current, err))
				return
			}

			for _, item := range page.Features {
				if item == nil {
					continue
				}
				if !yield(item, nil) {
					return
				}
			}

			next, err := c.nextHandler(page.Links)
			if err != nil {
				yield(nil, fmt.Errorf("error determining next page from %s: %w", current, err))
				return
			}
			if next == nil {
				return
			}
			current = current.ResolveReference(next)
			if seen[current.String()] {
				return
			}
		}
	}
}

// doRequest builds a request, runs the middleware chain and executes it.
func (c *Client) doRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request for %s: %w", rawURL, err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	for _, mw := range c.middleware {
		if err := mw(ctx, req); err != nil {
			return nil, fmt.Errorf("error applying middleware for %s: %w", rawURL, err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", rawURL, err)
	}
	return resp, nil
}

// StatusError reports a non-200 response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d on %s", e.StatusCode, e.URL)
}
