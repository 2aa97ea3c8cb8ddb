// Package stochastic implements the stochastic Connection-Scan journey
// planning engine: delay distributions, the empirical distribution store,
// topological preprocessing of a connection graph, the backward label sweep
// and decision-graph extraction for realtime re-queries.
package stochastic

// Mtime is a signed integer minute offset from a per-request epoch.
type Mtime int32

// DelayRange is a half-open bucket [Start, End) in minutes. The zero value
// (0, 0) is the sentinel for "no prior information" used throughout the
// store and by from_buckets' cancellation-sample encoding.
type DelayRange struct {
	Start int16
	End   int16
}

// Empty reports whether r is the zero-width (0,0) sentinel, or any other
// zero-width range; zero-width buckets never contribute histogram mass.
func (r DelayRange) Empty() bool {
	return r.Start == r.End
}
