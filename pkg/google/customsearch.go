package google

import (
	"context"
	"net/url"
	"strconv"
)

// SearchClient runs Custom Search queries.
type SearchClient interface {
	Search(ctx context.Context, query string, num int) (*CustomSearchResponse, error)
}

// SearchItem is one web result.
type SearchItem struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	DisplayLink string `json:"displayLink"`
	Snippet     string `json:"snippet"`
}

// CustomSearchResponse is a page of web results.
type CustomSearchResponse struct {
	Items []SearchItem `json:"items"`

	Raw        []byte `json:"-"`
	RequestURL string `json:"-"`
}

type searchClient struct {
	apiKey   string
	engineID string
	opts     options
}

// NewSearchClient creates a Custom Search client for one engine.
func NewSearchClient(apiKey, engineID string, opts ...Option) SearchClient {
	return &searchClient{apiKey: apiKey, engineID: engineID, opts: buildOptions(defaultSearchBaseURL, opts)}
}

// CustomSearchURL builds a Custom Search request URL. The API caps num at 10.
func CustomSearchURL(baseURL, apiKey, engineID, query string, num int) string {
	if num <= 0 || num > 10 {
		num = 10
	}
	q := url.Values{}
	q.Set("key", apiKey)
	q.Set("cx", engineID)
	q.Set("q", query)
	q.Set("num", strconv.Itoa(num))
	return baseURL + "?" + q.Encode()
}

func (c *searchClient) Search(ctx context.Context, query string, num int) (*CustomSearchResponse, error) {
	u := CustomSearchURL(c.opts.baseURL, c.apiKey, c.engineID, query, num)
	var resp CustomSearchResponse
	raw, err := getJSON(ctx, c.opts.getter, u, &resp)
	if err != nil {
		return nil, err
	}
	resp.Raw = raw
	resp.RequestURL = RedactKey(u)
	return &resp, nil
}
