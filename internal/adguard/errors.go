package adguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// ErrorCode buckets a failure into one of a fixed set of kinds
type ErrorCode string

const (
	CodeNetwork  ErrorCode = "NETWORK_ERROR"
	CodeCORS     ErrorCode = "CORS_ERROR"
	CodeParse    ErrorCode = "PARSE_ERROR"
	CodeAuth     ErrorCode = "AUTH_ERROR"
	CodeNotFound ErrorCode = "NOT_FOUND"
	CodeAPI      ErrorCode = "API_ERROR"
)

// Error is a classified failure of an API operation
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Operation string    `json:"operation"`
	Status    int       `json:"status,omitempty"`
	Details   string    `json:"details,omitempty"`
	Hints     []string  `json:"hints,omitempty"`

	Err error `json:"-"`
}

func (e *Error) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Operation, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatusError is returned for any non-2xx response
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP error! Status: %d", e.StatusCode)
}

// DecodeError wraps a response body that could not be decoded as JSON
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid JSON response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var hints = map[ErrorCode][]string{
	CodeNetwork: {
		"Check that the AdGuard Home server is running",
		"Verify the server URL and port",
		"Make sure this machine can reach the server",
	},
	CodeCORS: {
		"The server rejected a cross-origin request",
		"Access AdGuard Home directly rather than through a proxy that strips headers",
	},
	CodeParse: {
		"The server answered with something other than JSON",
		"Verify that the URL points at AdGuard Home and not another web service",
	},
	CodeAuth: {
		"Check the username and password",
		"Make sure the account can access the AdGuard Home web interface",
	},
	CodeNotFound: {
		"Verify the server URL, the control path is added automatically",
		"Make sure the AdGuard Home version supports this endpoint",
	},
	CodeAPI: {
		"Check the AdGuard Home logs for details",
	},
}

// Hints returns the troubleshooting hints for a code
func Hints(code ErrorCode) []string {
	h := hints[code]
	out := make([]string, len(h))
	copy(out, h)
	return out
}

// Classify buckets err into an *Error for operation op. It has no side effects
// and returns the same classification for the same input. A nil err yields nil.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		out := *classified
		if out.Operation == "" {
			out.Operation = op
		}
		out.Hints = Hints(out.Code)
		return &out
	}

	e := &Error{Operation: op, Err: err, Details: err.Error()}

	var (
		decodeErr *DecodeError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		statusErr *HTTPStatusError
		netErr    net.Error
		urlErr    *url.Error
	)

	switch {
	case errors.As(err, &decodeErr), errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		e.Code = CodeParse
		e.Message = "Invalid response from server"
	case errors.As(err, &statusErr):
		e.Status = statusErr.StatusCode
		switch statusErr.StatusCode {
		case http.StatusUnauthorized:
			e.Code = CodeAuth
			e.Message = "Authentication failed"
		case http.StatusNotFound:
			e.Code = CodeNotFound
			e.Message = "API endpoint not found"
		default:
			e.Code = CodeAPI
			e.Message = fmt.Sprintf("Server returned status %d", statusErr.StatusCode)
		}
	case strings.Contains(strings.ToLower(err.Error()), "cors"):
		e.Code = CodeCORS
		e.Message = "Cross-origin request blocked"
	case errors.As(err, &netErr), errors.As(err, &urlErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		e.Code = CodeNetwork
		e.Message = "Unable to connect to server"
	default:
		e.Code = CodeAPI
		e.Message = err.Error()
	}

	e.Hints = Hints(e.Code)
	return e
}

// IsAuthError reports whether err classifies as AUTH_ERROR
func IsAuthError(err error) bool {
	return CodeOf(err) == CodeAuth
}

// CodeOf returns the classified code of err, or "" for nil
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return Classify("", err).Code
}
