package summaries

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daybook-labs/daybook/backend/internal/analyzer"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingAnalyzer   = errors.New("analyzer is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a dotted operation code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "summaries.service.new"
	opUpsertToday    = "summaries.upsert_today"
	opEditSummary    = "summaries.edit_summary"
	opListSummaries  = "summaries.list_summaries"
	opTodaySummary   = "summaries.today_summary"
	opDeleteSummary  = "summaries.delete_summary"
	defaultListLimit = 30
	maximumListLimit = 100
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues store-assigned summary identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the summaries service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Analyzer   analyzer.Analyzer
	Logger     *zap.Logger
}

// Service coordinates daily summary persistence and analysis. Each request
// runs on its own goroutine; the only shared state is the database, whose
// own concurrency control governs the per-key writes.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	analyzer   analyzer.Analyzer
	logger     *zap.Logger
}

// NewService constructs the summaries service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Analyzer == nil {
		return nil, newServiceError(opServiceNew, "missing_analyzer", errMissingAnalyzer)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		analyzer:   cfg.Analyzer,
		logger:     logger,
	}, nil
}

// UpsertOutcome bundles the persisted record with the analysis produced for
// immediate display and whether the record was created by this call.
type UpsertOutcome struct {
	Summary  Summary
	Analysis analyzer.Result
	Created  bool
}

// UpsertToday records the user's summary for the current calendar day,
// creating the record on first write and mutating it in place afterwards,
// then runs the analyzer and attaches the normalized result. The text save
// succeeds regardless of analysis availability: analyzer faults resolve to
// a fallback analysis, never to an error.
func (s *Service) UpsertToday(ctx context.Context, userID UserID, text string, isSynthetic bool) (UpsertOutcome, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return UpsertOutcome{}, ErrEmptySummaryText
	}
	if s.db == nil {
		s.logError(opUpsertToday, "missing_database", errMissingDatabase)
		return UpsertOutcome{}, newServiceError(opUpsertToday, "missing_database", errMissingDatabase)
	}

	now := s.clock()
	day := DayKey(now)

	var existing Summary
	var existingPtr *Summary
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID.String(), day).
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		existingPtr = nil
	} else if err != nil {
		s.logError(opUpsertToday, "lookup_failed", err, zap.String("user_id", userID.String()))
		return UpsertOutcome{}, newServiceError(opUpsertToday, "lookup_failed", err)
	} else {
		existingPtr = &existing
	}

	existed := existingPtr != nil

	var record Summary
	if existed {
		existing.Text = trimmed
		existing.UpdatedAtSeconds = now.Unix()
		if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
			s.logError(opUpsertToday, "update_failed", err, zap.String("user_id", userID.String()))
			return UpsertOutcome{}, newServiceError(opUpsertToday, "update_failed", err)
		}
		record = existing
	} else {
		summaryID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opUpsertToday, "id_generation_failed", err, zap.String("user_id", userID.String()))
			return UpsertOutcome{}, newServiceError(opUpsertToday, "id_generation_failed", err)
		}
		record = Summary{
			SummaryID:        summaryID,
			UserID:           userID.String(),
			Day:              day,
			Text:             trimmed,
			IsSynthetic:      isSynthetic,
			CreatedAtSeconds: now.Unix(),
			UpdatedAtSeconds: now.Unix(),
		}
		if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
			s.logError(opUpsertToday, "insert_failed", err, zap.String("user_id", userID.String()))
			return UpsertOutcome{}, newServiceError(opUpsertToday, "insert_failed", err)
		}
	}

	analysisContext := buildAnalysisContext(existingPtr, isSynthetic, existed, now)
	result := s.analyzer.Analyze(ctx, trimmed, analysisContext)

	if err := s.attachAnalysis(ctx, &record, result, opUpsertToday); err != nil {
		return UpsertOutcome{}, err
	}

	return UpsertOutcome{Summary: record, Analysis: result, Created: !existed}, nil
}

// EditByID rewrites the text of an existing summary owned by the user and
// re-analyzes it. Ownership is part of the update predicate: a mismatched
// owner is indistinguishable from an absent record.
func (s *Service) EditByID(ctx context.Context, userID UserID, summaryID SummaryID, text string) (UpsertOutcome, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return UpsertOutcome{}, ErrEmptySummaryText
	}
	if s.db == nil {
		s.logError(opEditSummary, "missing_database", errMissingDatabase)
		return UpsertOutcome{}, newServiceError(opEditSummary, "missing_database", errMissingDatabase)
	}

	now := s.clock()

	update := s.db.WithContext(ctx).Model(&Summary{}).
		Where("summary_id = ? AND user_id = ?", summaryID.String(), userID.String()).
		Updates(map[string]interface{}{
			"summary_text": trimmed,
			"updated_at_s": now.Unix(),
		})
	if update.Error != nil {
		s.logError(opEditSummary, "update_failed", update.Error,
			zap.String("user_id", userID.String()),
			zap.String("summary_id", summaryID.String()))
		return UpsertOutcome{}, newServiceError(opEditSummary, "update_failed", update.Error)
	}
	if update.RowsAffected == 0 {
		return UpsertOutcome{}, ErrSummaryNotFound
	}

	var record Summary
	if err := s.db.WithContext(ctx).
		Where("summary_id = ? AND user_id = ?", summaryID.String(), userID.String()).
		Take(&record).Error; err != nil {
		s.logError(opEditSummary, "reload_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("summary_id", summaryID.String()))
		return UpsertOutcome{}, newServiceError(opEditSummary, "reload_failed", err)
	}

	// The text update leaves the analysis column untouched, so the record
	// still reflects the pre-edit analysis presence here.
	analysisContext := buildAnalysisContext(&record, record.IsSynthetic, true, now)
	result := s.analyzer.Analyze(ctx, trimmed, analysisContext)

	if err := s.attachAnalysis(ctx, &record, result, opEditSummary); err != nil {
		return UpsertOutcome{}, err
	}

	return UpsertOutcome{Summary: record, Analysis: result, Created: false}, nil
}

// List returns the user's summaries ordered by day descending.
func (s *Service) List(ctx context.Context, userID UserID, limit, offset int) ([]Summary, error) {
	if limit < 0 || offset < 0 {
		return nil, ErrInvalidPagination
	}
	if s.db == nil {
		s.logError(opListSummaries, "missing_database", errMissingDatabase)
		return nil, newServiceError(opListSummaries, "missing_database", errMissingDatabase)
	}
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit > maximumListLimit {
		limit = maximumListLimit
	}

	var records []Summary
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("day DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error; err != nil {
		s.logError(opListSummaries, "query_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opListSummaries, "query_failed", err)
	}

	return records, nil
}

// Today returns the user's summary for the current calendar day.
func (s *Service) Today(ctx context.Context, userID UserID) (Summary, error) {
	if s.db == nil {
		s.logError(opTodaySummary, "missing_database", errMissingDatabase)
		return Summary{}, newServiceError(opTodaySummary, "missing_database", errMissingDatabase)
	}

	day := DayKey(s.clock())

	var record Summary
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID.String(), day).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Summary{}, ErrSummaryNotFound
	}
	if err != nil {
		s.logError(opTodaySummary, "query_failed", err, zap.String("user_id", userID.String()))
		return Summary{}, newServiceError(opTodaySummary, "query_failed", err)
	}

	return record, nil
}

// Delete removes the summary matched by id and owner. No analysis side
// effects.
func (s *Service) Delete(ctx context.Context, userID UserID, summaryID SummaryID) error {
	if s.db == nil {
		s.logError(opDeleteSummary, "missing_database", errMissingDatabase)
		return newServiceError(opDeleteSummary, "missing_database", errMissingDatabase)
	}

	result := s.db.WithContext(ctx).
		Where("summary_id = ? AND user_id = ?", summaryID.String(), userID.String()).
		Delete(&Summary{})
	if result.Error != nil {
		s.logError(opDeleteSummary, "delete_failed", result.Error,
			zap.String("user_id", userID.String()),
			zap.String("summary_id", summaryID.String()))
		return newServiceError(opDeleteSummary, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSummaryNotFound
	}
	return nil
}

func (s *Service) attachAnalysis(ctx context.Context, record *Summary, result analyzer.Result, operation string) error {
	if err := record.SetAnalysis(result); err != nil {
		s.logError(operation, "analysis_encode_failed", err, zap.String("summary_id", record.SummaryID))
		return newServiceError(operation, "analysis_encode_failed", err)
	}
	if err := s.db.WithContext(ctx).Save(record).Error; err != nil {
		s.logError(operation, "analysis_save_failed", err, zap.String("summary_id", record.SummaryID))
		return newServiceError(operation, "analysis_save_failed", err)
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("summaries service error", attrs...)
}
