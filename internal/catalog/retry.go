package catalog

import (
	"context"
	"time"

	"github.com/mkaneko/worksync/internal/work"
)

// FetchState is one node of the per-item retry state machine:
// Idle -> Fetching -> Backoff(n) -> Fetching -> Succeeded | PermanentlyFailed.
type FetchState string

const (
	StateIdle              FetchState = "idle"
	StateFetching          FetchState = "fetching"
	StateBackoff           FetchState = "backoff"
	StateSucceeded         FetchState = "succeeded"
	StatePermanentlyFailed FetchState = "permanently_failed"
)

// Fetcher fetches one item. *Client implements it; tests substitute fakes.
type Fetcher interface {
	FetchWork(ctx context.Context, workID string) (*work.Record, error)
}

const (
	// DefaultRateLimitRetries bounds backoff rounds for 429/503 per item.
	DefaultRateLimitRetries = 3
	// DefaultMalformedRetryCap bounds re-fetches of a malformed payload before
	// the failure turns permanent.
	DefaultMalformedRetryCap = 2
	defaultBaseBackoff       = time.Second
)

// RetryPolicy tunes the retrying fetcher. The sleep function is injectable so
// tests drive backoff timing deterministically.
type RetryPolicy struct {
	RateLimitRetries  int
	MalformedRetryCap int
	BaseBackoff       time.Duration
	Sleep             func(context.Context, time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RateLimitRetries:  DefaultRateLimitRetries,
		MalformedRetryCap: DefaultMalformedRetryCap,
		BaseBackoff:       defaultBaseBackoff,
		Sleep:             sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryingFetcher wraps a Fetcher with the explicit backoff state machine.
// One instance tracks one item's attempt sequence; construct a fresh one per
// item.
type RetryingFetcher struct {
	fetcher Fetcher
	policy  RetryPolicy

	state       FetchState
	transitions []FetchState
	backoffs    int
	malformed   int
}

func NewRetryingFetcher(fetcher Fetcher, policy RetryPolicy) *RetryingFetcher {
	if policy.Sleep == nil {
		policy.Sleep = sleepContext
	}
	if policy.BaseBackoff <= 0 {
		policy.BaseBackoff = defaultBaseBackoff
	}
	return &RetryingFetcher{
		fetcher: fetcher,
		policy:  policy,
		state:   StateIdle,
	}
}

// State returns the machine's current state.
func (r *RetryingFetcher) State() FetchState {
	return r.state
}

// Transitions returns every state entered so far, in order.
func (r *RetryingFetcher) Transitions() []FetchState {
	return r.transitions
}

func (r *RetryingFetcher) enter(s FetchState) {
	r.state = s
	r.transitions = append(r.transitions, s)
}

// Fetch runs the state machine to completion for one item. The returned
// error, when non-nil, is the final *FetchError after retries are exhausted
// or the failure is permanent.
func (r *RetryingFetcher) Fetch(ctx context.Context, workID string) (*work.Record, error) {
	for {
		r.enter(StateFetching)

		rec, err := r.fetcher.FetchWork(ctx, workID)
		if err == nil {
			r.enter(StateSucceeded)
			return rec, nil
		}

		fe, ok := AsFetchError(err)
		if !ok {
			r.enter(StatePermanentlyFailed)
			return nil, err
		}

		switch fe.Kind {
		case KindNotFound:
			r.enter(StatePermanentlyFailed)
			return nil, fe
		case KindRateLimited:
			if r.backoffs >= r.policy.RateLimitRetries {
				r.enter(StatePermanentlyFailed)
				return nil, fe
			}
			r.backoffs++
			r.enter(StateBackoff)
			// Exponential: base, 2*base, 4*base, ...
			delay := r.policy.BaseBackoff << (r.backoffs - 1)
			if sleepErr := r.policy.Sleep(ctx, delay); sleepErr != nil {
				r.enter(StatePermanentlyFailed)
				return nil, &FetchError{WorkID: workID, Kind: KindNetworkError, Err: sleepErr}
			}
		case KindMalformed:
			if r.malformed >= r.policy.MalformedRetryCap {
				r.enter(StatePermanentlyFailed)
				return nil, fe
			}
			r.malformed++
		default: // KindNetworkError: single immediate retry via backoff path
			if r.backoffs >= r.policy.RateLimitRetries {
				r.enter(StatePermanentlyFailed)
				return nil, fe
			}
			r.backoffs++
			r.enter(StateBackoff)
			if sleepErr := r.policy.Sleep(ctx, r.policy.BaseBackoff); sleepErr != nil {
				r.enter(StatePermanentlyFailed)
				return nil, &FetchError{WorkID: workID, Kind: KindNetworkError, Err: sleepErr}
			}
		}
	}
}

// RateLimitBreaker aborts a run after too many consecutive rate-limited
// results across items. Sustained 429s mean the whole run is being throttled
// and continuing only digs the hole deeper.
type RateLimitBreaker struct {
	threshold   int
	consecutive int
}

// DefaultRateLimitBreakerThreshold is the consecutive rate-limited result
// count that trips the breaker.
const DefaultRateLimitBreakerThreshold = 5

func NewRateLimitBreaker(threshold int) *RateLimitBreaker {
	if threshold <= 0 {
		threshold = DefaultRateLimitBreakerThreshold
	}
	return &RateLimitBreaker{threshold: threshold}
}

// Observe records one fetch outcome and reports whether the breaker tripped.
func (b *RateLimitBreaker) Observe(err error) bool {
	if fe, ok := AsFetchError(err); ok && fe.Kind == KindRateLimited {
		b.consecutive++
	} else {
		b.consecutive = 0
	}
	return b.consecutive >= b.threshold
}

// Tripped reports whether the threshold has been reached.
func (b *RateLimitBreaker) Tripped() bool {
	return b.consecutive >= b.threshold
}
