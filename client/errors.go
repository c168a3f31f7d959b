package client

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/InsulaLabs/skiff/models"
)

/*
	Error envelopes coming back from the service are translated into
	the sentinels below so callers classify with errors.Is instead of
	matching messages. The server message rides along as detail.

	Rate limiting is the exception: it carries data (how long to
	wait), so it is a struct type matched with errors.As.
*/

var (
	ErrSyntax          = errors.New("syntax error")
	ErrUnboundVariable = errors.New("unbound variable")
	ErrApplication     = errors.New("application error")
	ErrArithmetic      = errors.New("arithmetic error")
	ErrBadRequest      = errors.New("bad request")
	ErrSnippetNotFound = errors.New("snippet not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrServer          = errors.New("server error")
)

// ErrRateLimited reports a 429 along with the server's advice on when
// to retry, taken from the Retry-After and X-RateLimit-* headers.
type ErrRateLimited struct {
	Message    string
	RetryAfter time.Duration
	Limit      float64
	Burst      int
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %v, limit: %v, burst: %d)",
		e.Message, e.RetryAfter, e.Limit, e.Burst)
}

// rateLimitedFromResponse builds the rate limit error from a 429
// response. RetryAfter defaults to one second when the header is
// absent or unreadable.
func rateLimitedFromResponse(resp *http.Response, rsp models.ErrorResponse) *ErrRateLimited {
	e := &ErrRateLimited{
		Message:    rsp.Message,
		RetryAfter: time.Second,
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	if limit, err := strconv.ParseFloat(resp.Header.Get("X-RateLimit-Limit"), 64); err == nil {
		e.Limit = limit
	}
	if burst, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Burst")); err == nil {
		e.Burst = burst
	}
	return e
}

func translateError(statusCode int, rsp models.ErrorResponse) error {
	var sentinel error
	switch rsp.ErrorType {
	case models.ErrorTypeSyntax:
		sentinel = ErrSyntax
	case models.ErrorTypeUnbound:
		sentinel = ErrUnboundVariable
	case models.ErrorTypeApplication:
		sentinel = ErrApplication
	case models.ErrorTypeArithmetic:
		sentinel = ErrArithmetic
	case models.ErrorTypeBadRequest:
		if statusCode == http.StatusUnauthorized {
			sentinel = ErrUnauthorized
		} else {
			sentinel = ErrBadRequest
		}
	case models.ErrorTypeNotFound:
		sentinel = ErrSnippetNotFound
	case models.ErrorTypeRateLimited:
		// Reached without response headers, so there is no retry hint.
		return &ErrRateLimited{Message: rsp.Message}
	default:
		sentinel = ErrServer
	}
	if rsp.Message == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, rsp.Message)
}
