package modelgateway

import (
	"errors"
	"fmt"

	"github.com/corvid-labs/model-gateway/providers"
)

// ErrAggregationDisabled is returned by ProcessAggregatedRequest when the
// middleware was built without response aggregation enabled.
var ErrAggregationDisabled = errors.New("Response aggregation is not enabled")

// NoSuitableModelError is returned by GetOptimalModel when no candidate
// survives requirement filtering.
type NoSuitableModelError struct {
	Requirements ModelRequirements
	Considered   int
}

func (e *NoSuitableModelError) Error() string {
	return fmt.Sprintf("no suitable model found: %d candidate(s) considered, none satisfy capabilities=%v maxCost=%g maxLatency=%s",
		e.Considered, e.Requirements.Capabilities, e.Requirements.MaxCostPerToken, e.Requirements.MaxLatency)
}

// IsNoSuitableModel reports whether err is a NoSuitableModelError.
func IsNoSuitableModel(err error) bool {
	var target *NoSuitableModelError
	return errors.As(err, &target)
}

// AllProvidersFailedError is returned by ExecuteWithFailover after every
// target in the failover sequence has failed. It wraps the last underlying
// error.
type AllProvidersFailedError struct {
	Attempts int
	Tried    []string // provider/model keys in attempt order
	LastErr  error
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("All models failed after %d attempt(s) (%v): %v", e.Attempts, e.Tried, e.LastErr)
}

func (e *AllProvidersFailedError) Unwrap() error {
	return e.LastErr
}

// IsAllProvidersFailed reports whether err is an AllProvidersFailedError.
func IsAllProvidersFailed(err error) bool {
	var target *AllProvidersFailedError
	return errors.As(err, &target)
}

// attemptError annotates a handle key so failover can attribute failures.
type attemptError struct {
	handle providers.ModelHandle
	err    error
}

func (e *attemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.handle.Key(), e.err)
}

func (e *attemptError) Unwrap() error { return e.err }
