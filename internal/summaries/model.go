package summaries

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daybook-labs/daybook/backend/internal/analyzer"
)

const maxIdentifierLength = 190

// dayKeyLayout is the canonical calendar-day key, matching the store's day
// boundary. One summary exists per (user, day).
const dayKeyLayout = "2006-01-02"

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("summaries: invalid user id")
	// ErrInvalidSummaryID indicates that a summary identifier is empty or exceeds storage bounds.
	ErrInvalidSummaryID = errors.New("summaries: invalid summary id")
	// ErrEmptySummaryText indicates that the submitted text is empty after trimming.
	ErrEmptySummaryText = errors.New("summaries: summary text is required")
	// ErrSummaryNotFound indicates that no summary matches the id and owner.
	ErrSummaryNotFound = errors.New("summaries: summary not found")
	// ErrInvalidPagination indicates a negative limit or offset.
	ErrInvalidPagination = errors.New("summaries: invalid pagination bounds")
)

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// SummaryID represents a validated summary identifier.
type SummaryID string

// NewSummaryID validates raw input and returns a SummaryID.
func NewSummaryID(rawInput string) (SummaryID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSummaryID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSummaryID, maxIdentifierLength)
	}
	return SummaryID(trimmed), nil
}

// String returns the underlying string identifier.
func (id SummaryID) String() string {
	return string(id)
}

// Summary models the persisted daily summary record. The unique index on
// (user_id, day) enforces the one-record-per-user-per-day invariant at the
// store level, backstopping the read-then-write check in the service.
type Summary struct {
	SummaryID        string `gorm:"column:summary_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_summaries_user_day,priority:1"`
	Day              string `gorm:"column:day;size:10;not null;uniqueIndex:idx_summaries_user_day,priority:2"`
	Text             string `gorm:"column:summary_text;type:text;not null"`
	IsSynthetic      bool   `gorm:"column:is_synthetic;not null;default:false"`
	AnalysisJSON     string `gorm:"column:analysis_json;type:text;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Summary) TableName() string {
	return "daily_summaries"
}

// DayKey formats a point in time as the canonical calendar-day key.
func DayKey(t time.Time) string {
	return t.Format(dayKeyLayout)
}

// HasAnalysis reports whether the record carries a stored analysis.
func (s *Summary) HasAnalysis() bool {
	return strings.TrimSpace(s.AnalysisJSON) != ""
}

// Analysis decodes the stored analysis. The second return value is false
// when no analysis is stored or the stored payload cannot be decoded.
func (s *Summary) Analysis() (analyzer.Result, bool) {
	if !s.HasAnalysis() {
		return analyzer.Result{}, false
	}
	var result analyzer.Result
	if err := json.Unmarshal([]byte(s.AnalysisJSON), &result); err != nil {
		return analyzer.Result{}, false
	}
	return result, true
}

// SetAnalysis replaces the stored analysis wholesale.
func (s *Summary) SetAnalysis(result analyzer.Result) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return err
	}
	s.AnalysisJSON = string(encoded)
	return nil
}
