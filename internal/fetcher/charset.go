package fetcher

import (
	"bytes"
	"io"
	"mime"
	"strings"

	"golang.org/x/net/html/charset"
)

// decodeBody transcodes textual bodies to UTF-8 using the Content-Type
// charset, falling back to meta tags and content sniffing. Non-text bodies
// and bodies that fail to decode are returned unchanged.
func decodeBody(body []byte, contentType string) []byte {
	if len(body) == 0 || !isText(contentType) {
		return body
	}
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return body
	}
	return out
}

func isText(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if strings.HasPrefix(mt, "text/") || mt == "application/xhtml+xml" || mt == "application/xml" {
		return true
	}
	// JSON is UTF-8 unless a charset says otherwise.
	_, hasCharset := params["charset"]
	return hasCharset && (mt == "application/json" || strings.HasSuffix(mt, "+json"))
}
