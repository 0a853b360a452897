package broker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from the broker.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstox api error %d: %s", e.StatusCode, e.Message)
}

// AuthError means the code exchange or profile fetch failed. Every cause,
// transient or not, is treated as "log in again".
type AuthError struct {
	Op     string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "auth " + e.Op + " failed"
	}
	return "auth " + e.Op + " failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError means a market data call failed. Callers skip the update.
type FetchError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("fetch %s %s: %v", e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func newAPIError(status int, body []byte) *APIError {
	return &APIError{StatusCode: status, Message: errorMessage(status, body), Body: body}
}

// errorMessage pulls a human message out of either error envelope the
// broker uses, falling back to the status text.
func errorMessage(status int, body []byte) string {
	var env struct {
		Message string `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if msg := strings.TrimSpace(env.Message); msg != "" {
			return msg
		}
		for _, e := range env.Errors {
			if msg := strings.TrimSpace(e.Message); msg != "" {
				return msg
			}
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "unexpected status"
}
