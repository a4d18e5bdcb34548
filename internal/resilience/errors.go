package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-scraper/internal/model"
)

// Sentinel errors matched with errors.Is.
var (
	// ErrQuotaExceeded is fatal for the source kind that hit it for the rest
	// of the run. It is never retried.
	ErrQuotaExceeded = eris.New("daily quota exceeded")
	// ErrAccessDenied means robots.txt disallows the URL. The item is skipped.
	ErrAccessDenied = eris.New("access denied by robots policy")
	// ErrNotConfigured means a source is missing the credentials it needs.
	ErrNotConfigured = eris.New("source not configured")
)

// QuotaExceededError reports which source kind ran out of daily quota.
type QuotaExceededError struct {
	Kind  model.SourceKind
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: daily limit of %d requests reached", e.Kind, e.Limit)
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// AccessDeniedError names the URL robots.txt refused.
type AccessDeniedError struct {
	URL string
}

func (e *AccessDeniedError) Error() string {
	return "robots.txt disallows " + e.URL
}

func (e *AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }

// FetchError is returned once every fetch attempt for a URL has failed.
type FetchError struct {
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempts", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %v after %d attempts", e.URL, e.Err, e.Attempts)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError means a response arrived but its body could not be turned into
// a record.
type ParseError struct {
	Source model.SourceKind
	URL    string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s response from %s: %v", e.Source, e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError lists the required fields a record is missing.
type ValidationError struct {
	Name   string
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %q missing required fields: %s", e.Name, strings.Join(e.Fields, ", "))
}

// Classify names the error kind for run statistics.
func Classify(err error) string {
	var (
		fe *FetchError
		pe *ParseError
		ve *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.As(err, &fe):
		return "fetch"
	case errors.As(err, &pe):
		return "parse"
	case errors.As(err, &ve):
		return "validation"
	default:
		return "other"
	}
}

// TransientError wraps an error that is safe to retry (429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
}

// IsTransient reports whether err is a TransientError or looks like a
// network-level failure worth another attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrAccessDenied) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether a status code is a server-side or
// throttling failure that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
