package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

type ProviderErrorKind string

const (
	KindRateLimit   ProviderErrorKind = "rate_limit"
	KindTimeout     ProviderErrorKind = "timeout"
	KindConnection  ProviderErrorKind = "connection"
	KindServer      ProviderErrorKind = "server"
	KindUnsupported ProviderErrorKind = "unsupported"
	KindBadRequest  ProviderErrorKind = "bad_request"
	KindAuth        ProviderErrorKind = "auth"
	KindOther       ProviderErrorKind = "other"
)

// ProviderError carries the classified outcome of a provider call.
// Callers branch on Kind, never on message text.
type ProviderError struct {
	Kind       ProviderErrorKind
	StatusCode int
	Code       string
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error (%s, http %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error (%s): %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *ProviderError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// Retryable reports whether the queue should re-run the operation.
func (e *ProviderError) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindRateLimit, KindTimeout, KindConnection, KindServer:
		return true
	default:
		return false
	}
}

type apiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func classifyHTTPStatus(status int, body []byte) *ProviderError {
	var env apiErrorEnvelope
	_ = json.Unmarshal(body, &env)

	pe := &ProviderError{
		StatusCode: status,
		Code:       env.Error.Code,
		Message:    strings.TrimSpace(env.Error.Message),
	}
	if pe.Message == "" {
		pe.Message = strings.TrimSpace(string(body))
	}

	switch {
	case status == 429:
		pe.Kind = KindRateLimit
	case status == 408:
		pe.Kind = KindTimeout
	case status == 401:
		pe.Kind = KindAuth
	case status == 403:
		pe.Kind = KindUnsupported
	case status == 400 || status == 404 || status == 409 || status == 422:
		pe.Kind = KindBadRequest
	case status >= 500:
		pe.Kind = KindServer
	default:
		pe.Kind = KindOther
	}
	return pe
}

func classifyTransportError(err error) *ProviderError {
	pe := &ProviderError{Message: err.Error(), Cause: err}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		pe.Kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		pe.Kind = KindTimeout
	case errors.As(err, &netErr):
		pe.Kind = KindConnection
	default:
		pe.Kind = KindConnection
	}
	return pe
}
