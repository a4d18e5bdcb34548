package source

import (
	"bytes"
	"net/http"

	"github.com/sells-group/provider-scraper/internal/fetcher"
)

// BlockType describes the kind of anti-bot page a site served instead of
// its content.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// Contact forms often embed a captcha widget, so captcha markers only count
// on pages too small to hold real content.
const shellPageBytes = 5000

// DetectBlock checks a response for signs of anti-bot protection.
func DetectBlock(resp *fetcher.Response) BlockType {
	if resp == nil {
		return BlockNone
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("server") == "cloudflare" {
			return BlockCloudflare
		}
	}

	lower := bytes.ToLower(resp.Body)

	if bytes.Contains(lower, []byte("checking your browser")) ||
		bytes.Contains(lower, []byte("cf-browser-verification")) ||
		bytes.Contains(lower, []byte("cf-challenge")) {
		return BlockCloudflare
	}

	if len(resp.Body) >= shellPageBytes {
		return BlockNone
	}

	if bytes.Contains(lower, []byte("captcha")) {
		return BlockCaptcha
	}
	if bytes.Contains(lower, []byte("<noscript")) && bytes.Contains(lower, []byte("enable javascript")) {
		return BlockJSShell
	}
	if bytes.Contains(lower, []byte(`http-equiv="refresh"`)) {
		return BlockJSShell
	}

	return BlockNone
}
