package errclass

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Kind is the closed set of failure categories.
type Kind string

const (
	KindRateLimit           Kind = "RATE_LIMIT"
	KindNetwork             Kind = "NETWORK"
	KindTimeout             Kind = "TIMEOUT"
	KindProviderUnavailable Kind = "PROVIDER_UNAVAILABLE"
	KindAPIError            Kind = "API_ERROR"
	KindUnknown             Kind = "UNKNOWN"
)

// ErrorInfo is a classified failure record. Records are immutable after
// creation; consumers receive them by value or as read-only pointers.
type ErrorInfo struct {
	Kind        Kind
	Code        string
	Message     string
	UserMessage string
	Status      int // HTTP status when applicable, 0 otherwise
	Timestamp   time.Time
	Context     map[string]any
	Suggestions []string
}

// Error implements the error interface so classified records can flow
// through ordinary error returns.
func (e *ErrorInfo) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// statusCarrier is implemented by transport errors that know their HTTP
// status (see request.HTTPError). Declared here so the classifier does
// not depend on the transport packages.
type statusCarrier interface {
	HTTPStatus() int
}

var (
	suggestRateLimit = []string{
		"Wait a moment before sending more requests",
		"Reduce the dashboard polling frequency in settings",
		"Check the rate limits of your provider plan",
	}
	suggestNetwork = []string{
		"Check your network connection",
		"Verify the server address is reachable",
		"Retry once connectivity is restored",
	}
	suggestTimeout = []string{
		"Retry the request",
		"Increase the configured request timeout",
		"Check whether the server is under heavy load",
	}
	suggestProviderUnavailable = []string{
		"Retry in a few minutes",
		"Check the provider status page",
		"Switch to a fallback AI provider in settings",
	}

	statusSuggestions = map[int][]string{
		400: {
			"Check the request parameters",
			"Update the app if the problem persists",
		},
		401: {
			"Verify your API key in settings",
			"Sign in again to refresh your session",
		},
		403: {
			"Verify your account has access to this feature",
			"Check your subscription tier",
		},
		404: {
			"Check that the resource still exists",
			"Refresh the page and try again",
		},
		409: {
			"Refresh to pick up the latest state",
			"Retry the operation",
		},
		422: {
			"Check the submitted values for invalid fields",
			"Correct the highlighted inputs and resubmit",
		},
	}

	genericAPISuggestions = []string{
		"Retry the request",
		"Contact support if the problem persists",
	}
)

// Classify maps any failure to a stable ErrorInfo record. It is total:
// every input, including nil, produces a record, with KindUnknown as the
// fallback. Classification is pure apart from the timestamp.
func Classify(err error) *ErrorInfo {
	info := &ErrorInfo{
		Kind:        KindUnknown,
		Code:        "UNKNOWN",
		Message:     "unknown error",
		UserMessage: "Something went wrong. Please try again.",
		Timestamp:   time.Now(),
	}
	if err == nil {
		return info
	}
	info.Message = err.Error()

	// Already classified: pass through unchanged.
	var classified *ErrorInfo
	if errors.As(err, &classified) {
		return classified
	}

	// Failures carrying an HTTP status.
	var sc statusCarrier
	if errors.As(err, &sc) {
		return classifyStatus(sc.HTTPStatus(), err)
	}

	// Timeouts: context deadlines and timing-out network errors.
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		info.Kind = KindTimeout
		info.Code = "TIMEOUT"
		info.UserMessage = "The operation took too long to complete."
		info.Suggestions = suggestTimeout
		return info
	}

	// Connection-level failures with no response.
	var opErr *net.OpError
	var closeErr *websocket.CloseError
	if errors.As(err, &opErr) || errors.As(err, &closeErr) ||
		errors.Is(err, net.ErrClosed) || isConnectFailure(err) {
		info.Kind = KindNetwork
		info.Code = "NETWORK_ERROR"
		info.UserMessage = "Unable to reach the server."
		info.Suggestions = suggestNetwork
		return info
	}

	return info
}

// classifyStatus builds the record for an HTTP-status-bearing failure.
func classifyStatus(status int, err error) *ErrorInfo {
	info := &ErrorInfo{
		Status:    status,
		Message:   err.Error(),
		Timestamp: time.Now(),
	}

	switch {
	case status == 429:
		info.Kind = KindRateLimit
		info.Code = "RATE_LIMIT"
		info.UserMessage = "Too many requests. Please slow down."
		info.Suggestions = suggestRateLimit

	case status == 502 || status == 503 || status == 504:
		info.Kind = KindProviderUnavailable
		info.Code = "PROVIDER_UNAVAILABLE"
		info.UserMessage = "The service is temporarily unavailable."
		info.Suggestions = suggestProviderUnavailable

	default:
		info.Kind = KindAPIError
		info.Code = "API_" + strconv.Itoa(status)
		if status >= 500 {
			info.UserMessage = "The server encountered an error."
		} else {
			info.UserMessage = "The request could not be completed."
		}
		if s, ok := statusSuggestions[status]; ok {
			info.Suggestions = s
		} else {
			info.Suggestions = genericAPISuggestions
		}
	}

	return info
}

// isConnectFailure catches dial errors that arrive as plain wrapped
// strings (gorilla surfaces "bad handshake" this way).
func isConnectFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "bad handshake") ||
		strings.Contains(msg, "no such host")
}
