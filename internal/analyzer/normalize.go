package analyzer

import (
	"encoding/json"
	"time"
)

const (
	defaultSummary        = "Analysis completed"
	defaultMoodIndicators = "Not available"
	defaultPatterns       = "Not available"
	defaultInsights       = "Please try again later"
	defaultSuggestions    = "Continue journaling"

	parseFailureSummary = "Analysis completed but format unclear"
	parseFailureField   = "Unable to parse"

	executionFailureSummary = "Analysis failed"
)

// parsedResult mirrors the analyzer's stdout shape. The timestamp is
// deliberately absent: it is always assigned at normalization time.
type parsedResult struct {
	Summary        string `json:"summary"`
	MoodIndicators string `json:"mood_indicators"`
	Patterns       string `json:"patterns"`
	Insights       string `json:"insights"`
	Suggestions    string `json:"suggestions"`
}

// Normalize converts an invocation outcome into a well-formed Result. It
// never fails: unparseable output and process failures each map to a fixed
// fallback, and missing fields take their individual defaults.
func Normalize(outcome Outcome, now time.Time) Result {
	if !outcome.Completed {
		return executionFailureResult(now)
	}

	var parsed parsedResult
	if err := json.Unmarshal([]byte(outcome.Output), &parsed); err != nil {
		return parseFailureResult(now)
	}

	return Result{
		Summary:        fieldOrDefault(parsed.Summary, defaultSummary),
		MoodIndicators: fieldOrDefault(parsed.MoodIndicators, defaultMoodIndicators),
		Patterns:       fieldOrDefault(parsed.Patterns, defaultPatterns),
		Insights:       fieldOrDefault(parsed.Insights, defaultInsights),
		Suggestions:    fieldOrDefault(parsed.Suggestions, defaultSuggestions),
		Timestamp:      now,
	}
}

func parseFailureResult(now time.Time) Result {
	return Result{
		Summary:        parseFailureSummary,
		MoodIndicators: parseFailureField,
		Patterns:       parseFailureField,
		Insights:       defaultInsights,
		Suggestions:    defaultSuggestions,
		Timestamp:      now,
	}
}

func executionFailureResult(now time.Time) Result {
	return Result{
		Summary:        executionFailureSummary,
		MoodIndicators: defaultMoodIndicators,
		Patterns:       defaultPatterns,
		Insights:       defaultInsights,
		Suggestions:    defaultSuggestions,
		Timestamp:      now,
	}
}

func fieldOrDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
