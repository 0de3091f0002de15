package analyzer

import (
	"context"
	"time"
)

// Context carries the auxiliary signals handed to the external analyzer
// alongside the summary text. It is rebuilt for every invocation and never
// persisted.
type Context struct {
	IsSynthetic         bool   `json:"is_synthetic"`
	IsEdit              bool   `json:"is_edit"`
	TimeOfDay           string `json:"time_of_day"`
	HasPreviousAnalysis bool   `json:"has_previous_analysis"`
}

// Result is the fixed-shape analysis attached to a daily summary. Every
// field carries a defined default so a Result is always safe to display.
type Result struct {
	Summary        string    `json:"summary"`
	MoodIndicators string    `json:"mood_indicators"`
	Patterns       string    `json:"patterns"`
	Insights       string    `json:"insights"`
	Suggestions    string    `json:"suggestions"`
	Timestamp      time.Time `json:"timestamp"`
}

// Analyzer converts free text plus context into a structured analysis. An
// implementation never reports an error: any failure mode resolves to a
// clearly-labeled fallback Result, because analysis availability must not
// affect whether the underlying text save succeeds.
type Analyzer interface {
	Analyze(ctx context.Context, text string, analysisContext Context) Result
}

// Outcome classifies a single analyzer process run.
type Outcome struct {
	// Completed reports that the process ran to completion with exit status 0.
	Completed   bool
	ExitCode    int
	Output      string
	ErrorOutput string
}
