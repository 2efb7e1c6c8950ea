package skinapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Generic messages used when an error response carries no detail.
const (
	MsgRegisterFailed = "Registration failed. Please try again."
	MsgLoginFailed    = "Login failed. Please check your credentials."
	MsgAnalysisFailed = "Analysis failed"
	MsgHistoryFailed  = "Failed to load analysis history"
	MsgDeleteFailed   = "Failed to delete analysis"
	MsgNetworkFailed  = "Could not reach the analysis service. Please check your connection and try again."
)

// ValidationError is returned when registration input is rejected, either
// locally or by the API.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return e.Detail }

// AuthError is returned for bad credentials and for expired or invalid tokens.
type AuthError struct {
	Status int
	Detail string
}

func (e *AuthError) Error() string { return e.Detail }

// AnalysisError is returned when the API rejects an image.
type AnalysisError struct {
	Status int
	Detail string
}

func (e *AnalysisError) Error() string { return e.Detail }

// RequestError is a non-2xx response that doesn't fit a more specific kind.
type RequestError struct {
	Status int
	Detail string
}

func (e *RequestError) Error() string { return e.Detail }

// NetworkError wraps transport failures (connection refused, timeouts, ...).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// UserMessage returns the text to show a user for an error returned by Client.
func UserMessage(err error) string {
	var (
		validationErr *ValidationError
		authErr       *AuthError
		analysisErr   *AnalysisError
		requestErr    *RequestError
		networkErr    *NetworkError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		return validationErr.Detail
	case errors.As(err, &authErr):
		return authErr.Detail
	case errors.As(err, &analysisErr):
		return analysisErr.Detail
	case errors.As(err, &requestErr):
		return requestErr.Detail
	case errors.As(err, &networkErr):
		return MsgNetworkFailed
	default:
		return err.Error()
	}
}

// parseDetail extracts the "detail" field of an error body. FastAPI sends
// either a string or a list of {"msg": ...} objects for validation errors.
func parseDetail(body []byte, fallback string) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return fallback
	}

	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return fallback
		}
		return s
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil {
		var msgs []string
		for _, item := range items {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}

	return fallback
}
