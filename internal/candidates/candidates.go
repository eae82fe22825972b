// Package candidates defines the candidate-selection collaborator interface.
//
// Selecting which profiles feed a flamegraph is the job of an external
// analytics subsystem; this proxy only consumes its output and forwards it as
// the upstream request body. Deployments plug their implementation in at
// process start.
package candidates

import (
	"context"
	"time"

	"profiling-proxy-go/internal/search"
)

// FlamegraphQuery describes a flamegraph candidate-selection request.
type FlamegraphQuery struct {
	OrganizationID string
	ProjectIDs     []string
	Dataset        string
	Fingerprint    *uint32
	Filters        search.FilterSet
	Start          time.Time
	End            time.Time
}

// ChunkQuery describes a continuous-profiling chunk lookup.
type ChunkQuery struct {
	OrganizationID string
	ProjectID      string
	ProfilerID     string
	Start          time.Time
	End            time.Time
}

// SpanGroupQuery describes a chunk lookup driven by a span group.
type SpanGroupQuery struct {
	OrganizationID string
	ProjectID      string
	SpanGroup      string
	Start          time.Time
	End            time.Time
}

// ProfileCandidates is the upstream flamegraph request body: the transaction
// and continuous profiles selected for aggregation.
type ProfileCandidates struct {
	Transaction []TransactionProfileCandidate `json:"transaction"`
	Continuous  []ContinuousProfileCandidate  `json:"continuous"`
}

// TransactionProfileCandidate identifies one transaction-based profile.
type TransactionProfileCandidate struct {
	ProjectID string `json:"project_id"`
	ProfileID string `json:"profile_id"`
}

// ContinuousProfileCandidate identifies one slice of a continuous profile.
type ContinuousProfileCandidate struct {
	ProjectID  string `json:"project_id"`
	ProfilerID string `json:"profiler_id"`
	ChunkID    string `json:"chunk_id"`
	Start      string `json:"start,omitempty"`
	End        string `json:"end,omitempty"`
}

// ChunkMetadata identifies one chunk plus the span intervals inside it.
type ChunkMetadata struct {
	ProfilerID    string         `json:"profiler_id"`
	ChunkID       string         `json:"chunk_id"`
	SpanIntervals []SpanInterval `json:"span_intervals,omitempty"`
}

// SpanInterval is a nanosecond-epoch time interval, serialized as strings to
// avoid JSON number precision loss.
type SpanInterval struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Finder selects profiling candidates for the proxy to forward upstream.
type Finder interface {
	// FlamegraphCandidates returns the profiles matching a flamegraph query.
	FlamegraphCandidates(ctx context.Context, q FlamegraphQuery) (*ProfileCandidates, error)
	// ChunkIDs returns the chunk identifiers recorded by a profiler within
	// the query's time range.
	ChunkIDs(ctx context.Context, q ChunkQuery) ([]string, error)
	// ChunksFromSpanGroup returns chunk metadata covering the spans of a
	// span group.
	ChunksFromSpanGroup(ctx context.Context, q SpanGroupQuery) ([]ChunkMetadata, error)
}

// Empty is a Finder that selects no candidates. It stands in where no
// analytics backend is wired; the upstream renders an empty flamegraph.
type Empty struct{}

var _ Finder = Empty{}

func (Empty) FlamegraphCandidates(context.Context, FlamegraphQuery) (*ProfileCandidates, error) {
	return &ProfileCandidates{
		Transaction: []TransactionProfileCandidate{},
		Continuous:  []ContinuousProfileCandidate{},
	}, nil
}

func (Empty) ChunkIDs(context.Context, ChunkQuery) ([]string, error) {
	return []string{}, nil
}

func (Empty) ChunksFromSpanGroup(context.Context, SpanGroupQuery) ([]ChunkMetadata, error) {
	return []ChunkMetadata{}, nil
}
