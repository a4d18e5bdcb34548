package fetcher

import (
	"context"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sells-group/provider-scraper/internal/model"
)

// Fetcher downloads a URL on behalf of a source kind.
type Fetcher interface {
	Get(ctx context.Context, url string, kind model.SourceKind) (*Response, error)
}

// Limiter paces requests per domain and tracks their outcomes.
type Limiter interface {
	Acquire(ctx context.Context, kind model.SourceKind, domain string) error
	RecordSuccess(domain string)
	RecordFailure(domain string)
}

// Response is a fully read HTTP response. Text bodies are transcoded to
// UTF-8; Raw keeps the bytes as the server sent them.
type Response struct {
	URL         string
	StatusCode  int
	Body        []byte
	Raw         []byte
	Header      http.Header
	ContentType string
	Elapsed     time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// MediaType returns the lowercased media type without parameters.
func (r *Response) MediaType() string {
	mt, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(r.ContentType, ";")[0]))
	}
	return mt
}

// IsHTML reports an HTML content type.
func (r *Response) IsHTML() bool {
	mt := r.MediaType()
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// IsJSON reports a JSON content type.
func (r *Response) IsJSON() bool {
	mt := r.MediaType()
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// RawBody returns the undecoded body, or Body when Raw was not kept.
func (r *Response) RawBody() []byte {
	if r.Raw != nil {
		return r.Raw
	}
	return r.Body
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}
