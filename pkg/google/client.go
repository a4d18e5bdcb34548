// Package google holds the wire types and request builders for the Google
// Places web service and the Custom Search JSON API.
package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultPlacesBaseURL = "https://maps.googleapis.com/maps/api/place"
	defaultSearchBaseURL = "https://www.googleapis.com/customsearch/v1"
)

// Getter performs a GET and returns the body of a successful response.
// Callers plug in their own rate-limited, retrying fetcher.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// GetterFunc adapts a function to Getter.
type GetterFunc func(ctx context.Context, url string) ([]byte, error)

// Get implements Getter.
func (f GetterFunc) Get(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

// Option configures a client.
type Option func(*options)

type options struct {
	baseURL string
	getter  Getter
}

// WithBaseURL overrides the default API base URL. An empty u keeps the default.
func WithBaseURL(u string) Option {
	return func(o *options) {
		if u != "" {
			o.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithGetter routes every request through g.
func WithGetter(g Getter) Option {
	return func(o *options) {
		o.getter = g
	}
}

// WithHTTPClient uses hc directly, with no rate limiting or retries.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.getter = &httpGetter{http: hc}
	}
}

func buildOptions(defaultBase string, opts []Option) options {
	o := options{
		baseURL: defaultBase,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.getter == nil {
		o.getter = &httpGetter{http: &http.Client{Timeout: 10 * time.Second}}
	}
	return o
}

type httpGetter struct {
	http *http.Client
}

func (g *httpGetter) Get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "google: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("google: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func getJSON(ctx context.Context, g Getter, u string, out any) ([]byte, error) {
	body, err := g.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return body, eris.Wrap(err, "google: unmarshal response")
	}
	return body, nil
}

// RedactKey removes the key parameter so a request URL can be logged or
// stored as provenance.
func RedactKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if !q.Has("key") {
		return raw
	}
	q.Del("key")
	u.RawQuery = q.Encode()
	return u.String()
}
