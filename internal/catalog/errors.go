// Package catalog implements the HTTP client for the remote marketplace
// catalog API. It fetches one item's metadata per request and classifies
// every outcome into the failure taxonomy the rest of the pipeline branches
// on; batching and retry scheduling live with the callers.
package catalog

import (
	"errors"
	"fmt"
)

// FailureKind classifies a failed fetch.
type FailureKind string

const (
	// KindNotFound is a 404: the item does not exist. Permanent.
	KindNotFound FailureKind = "not_found"
	// KindRateLimited is a 429 or 503: the remote is throttling us. Retryable
	// with backoff.
	KindRateLimited FailureKind = "rate_limited"
	// KindMalformed is a 200 whose body failed to parse or had an unexpected
	// shape. Retryable up to a cap, then treated as permanent.
	KindMalformed FailureKind = "malformed"
	// KindNetworkError is a transport failure or request timeout. Retryable.
	KindNetworkError FailureKind = "network_error"
)

// FetchError is the typed outcome of a failed fetch.
type FetchError struct {
	WorkID     string
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.WorkID, e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.WorkID, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.WorkID, e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may succeed on a later attempt.
// Malformed counts as retryable here; the retry loop enforces its cap.
func (e *FetchError) Retryable() bool {
	return e.Kind != KindNotFound
}

// AsFetchError unwraps err into a *FetchError when possible.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
