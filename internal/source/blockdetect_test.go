package source

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/provider-scraper/internal/fetcher"
)

func TestDetectBlock(t *testing.T) {
	longPage := "<html><body>" + strings.Repeat("<p>Swedish massage, deep tissue.</p>", 200) +
		`<form><div class="g-recaptcha"></div></form></body></html>`

	tests := []struct {
		name string
		resp *fetcher.Response
		want BlockType
	}{
		{"nil", nil, BlockNone},
		{"normal page", &fetcher.Response{StatusCode: 200, Body: []byte("<html><body>Zen Massage</body></html>")}, BlockNone},
		{"cloudflare header", &fetcher.Response{
			StatusCode: 503,
			Header:     http.Header{"Cf-Ray": []string{"abc123"}},
		}, BlockCloudflare},
		{"cloudflare challenge body", &fetcher.Response{
			StatusCode: 200,
			Body:       []byte("<html><title>Just a moment...</title>Checking your browser before accessing</html>"),
		}, BlockCloudflare},
		{"captcha interstitial", &fetcher.Response{
			StatusCode: 200,
			Body:       []byte("<html><body>Please complete the CAPTCHA to continue</body></html>"),
		}, BlockCaptcha},
		{"contact form captcha on a full page", &fetcher.Response{StatusCode: 200, Body: []byte(longPage)}, BlockNone},
		{"js shell", &fetcher.Response{
			StatusCode: 200,
			Body:       []byte(`<html><noscript>Please enable JavaScript to view this site.</noscript></html>`),
		}, BlockJSShell},
		{"meta refresh", &fetcher.Response{
			StatusCode: 200,
			Body:       []byte(`<html><head><meta http-equiv="refresh" content="0;url=/app"></head></html>`),
		}, BlockJSShell},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectBlock(tt.resp))
		})
	}
}
