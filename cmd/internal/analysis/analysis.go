// Package analysis runs the compatibility analysis for a completed pair of
// questionnaires and hands the result back to the session store.
//
// The analyzer itself is a pluggable collaborator; the Dispatcher owns the
// fire-and-forget invocation, bounded retries and the final write.
package analysis

import (
	"context"
	"errors"
)

// ErrTransientUpstream marks a failure of the analysis collaborator that is worth retrying.
var ErrTransientUpstream = errors.New("transient upstream failure")

// Participant is one side of a session as seen by the analyzer.
type Participant struct {
	Name    string            `json:"name"`
	Answers map[string]string `json:"answers"`
}

// Input is everything an analyzer receives for one session.
type Input struct {
	SessionID string
	Initiator Participant
	Partner   Participant
}

// Result is the structured payload stored verbatim on the session.
type Result struct {
	Score      int            `json:"score"`
	Title      string         `json:"title"`
	Analysis   string         `json:"analysis"`
	Tags       []string       `json:"tags"`
	Dimensions map[string]int `json:"dimensions,omitempty"`
	Card       string         `json:"card,omitempty"`
}

// Analyzer produces a Result from both answer sets.
// Implementations must be safe for concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, in Input) (Result, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, in Input) (Result, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, in Input) (Result, error) { return f(ctx, in) }
