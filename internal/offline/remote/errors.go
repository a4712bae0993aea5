package remote

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/lib/pq"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Kind classifies a remote write failure. Only KindNetwork failures are
// worth retrying later; every other kind means the write was rejected on
// its merits.
type Kind int

const (
	// KindUnknown is an unclassified failure. It is not retried.
	KindUnknown Kind = iota
	// KindNetwork is a transport or availability failure.
	KindNetwork
	// KindValidation means the store rejected the field values.
	KindValidation
	// KindConflict means the row collides with an existing one.
	KindConflict
	// KindPermission means the caller is not allowed to write the row.
	KindPermission
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindPermission:
		return "permission"
	default:
		return "unknown"
	}
}

// Error is a classified failure from the remote store. The underlying
// transport or store error is preserved and reachable through errors.As.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err and annotates it with op. It returns nil for a nil err.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

// HTTPError is a non-2xx response from the REST gateway. Code carries the
// gateway's error code, which for database errors is the SQLSTATE.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// IsNetwork reports whether err is a network-classified failure, i.e. one
// that retrying later can plausibly fix.
func IsNetwork(err error) bool {
	return err != nil && Classify(err) == KindNetwork
}

// Classify determines the Kind of err by inspecting typed errors first
// (classified errors, net and syscall errors, Postgres SQLSTATEs, HTTP
// statuses, breaker rejections) and falling back to well-known message
// fragments for errors that carry no type information.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}

	// Caller cancellation is not a connectivity signal.
	if errors.Is(err, context.Canceled) {
		return KindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return KindNetwork
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(string(pqErr.Code))
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if kind := classifySQLState(httpErr.Code); kind != KindUnknown {
			return kind
		}
		return classifyStatus(httpErr.StatusCode)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	return classifyMessage(err.Error())
}

// classifySQLState maps a Postgres SQLSTATE onto a Kind.
func classifySQLState(code string) Kind {
	if len(code) != 5 {
		return KindUnknown
	}
	switch code {
	case "23505":
		return KindConflict
	case "42501":
		return KindPermission
	}
	switch code[:2] {
	case "08", "53", "57":
		return KindNetwork
	case "28":
		return KindPermission
	case "22", "23":
		return KindValidation
	}
	return KindUnknown
}

// classifyStatus maps an HTTP status code onto a Kind.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return KindNetwork
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindPermission
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return KindValidation
	}
	return KindUnknown
}

// networkFragments are message fragments produced by clients that only
// report failures as text.
var networkFragments = []string{
	"failed to fetch",
	"networkerror",
	"network error",
	"network request failed",
	"err_name_not_resolved",
	"enotfound",
	"no such host",
	"connection refused",
	"connection reset",
}

func classifyMessage(msg string) Kind {
	msg = strings.ToLower(msg)
	for _, fragment := range networkFragments {
		if strings.Contains(msg, fragment) {
			return KindNetwork
		}
	}
	switch {
	case strings.Contains(msg, "duplicate key"):
		return KindConflict
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "row-level security"):
		return KindPermission
	case strings.Contains(msg, "violates"), strings.Contains(msg, "invalid input"):
		return KindValidation
	}
	return KindUnknown
}
