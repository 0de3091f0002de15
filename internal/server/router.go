package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/daybook-labs/daybook/backend/internal/analyzer"
	"github.com/daybook-labs/daybook/backend/internal/auth"
	"github.com/daybook-labs/daybook/backend/internal/summaries"
	"github.com/daybook-labs/daybook/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "daybook_user_id"

var (
	errMissingIdentityVerifier = errors.New("identity verifier dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingUsersService     = errors.New("users service dependency required")
	errMissingSummariesService = errors.New("summaries service dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// IdentityVerifier validates an upstream identity provider token.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (auth.IdentityClaims, error)
}

// BackendTokenManager issues and validates backend session tokens.
type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies bundles the collaborators required by the HTTP handler.
type Dependencies struct {
	IdentityVerifier IdentityVerifier
	TokenManager     BackendTokenManager
	UsersService     *users.Service
	SummariesService *summaries.Service
	Logger           *zap.Logger
}

// NewHTTPHandler wires the router with validated dependencies.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.IdentityVerifier == nil {
		return nil, errMissingIdentityVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.SummariesService == nil {
		return nil, errMissingSummariesService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:  deps.IdentityVerifier,
		tokens:    deps.TokenManager,
		users:     deps.UsersService,
		summaries: deps.SummariesService,
		logger:    logger,
	}

	router.POST("/auth/token", handler.handleTokenExchange)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/summaries", handler.handleUpsertToday)
	protected.GET("/summaries", handler.handleListSummaries)
	protected.GET("/summaries/today", handler.handleTodaySummary)
	protected.PUT("/summaries/:id", handler.handleEditSummary)
	protected.DELETE("/summaries/:id", handler.handleDeleteSummary)
	protected.GET("/users/me", handler.handleGetProfile)
	protected.PUT("/users/me", handler.handleUpdateProfile)

	return router, nil
}

type httpHandler struct {
	verifier  IdentityVerifier
	tokens    BackendTokenManager
	users     *users.Service
	summaries *summaries.Service
	logger    *zap.Logger
}

type tokenRequestPayload struct {
	IDToken string `json:"id_token"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("identity token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := h.users.ResolveCanonicalUserID(claims)
	if err != nil {
		h.logger.Error("failed to resolve canonical user id", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_resolution_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type summaryRequestPayload struct {
	Text        string `json:"text"`
	IsSynthetic bool   `json:"is_synthetic"`
}

type analysisPayload struct {
	Summary        string    `json:"summary"`
	MoodIndicators string    `json:"mood_indicators"`
	Patterns       string    `json:"patterns"`
	Insights       string    `json:"insights"`
	Suggestions    string    `json:"suggestions"`
	Timestamp      time.Time `json:"timestamp"`
}

type summaryResponsePayload struct {
	SummaryID        string           `json:"summary_id"`
	Day              string           `json:"day"`
	Text             string           `json:"text"`
	IsSynthetic      bool             `json:"is_synthetic"`
	Analysis         *analysisPayload `json:"analysis,omitempty"`
	CreatedAtSeconds int64            `json:"created_at_s"`
	UpdatedAtSeconds int64            `json:"updated_at_s"`
}

type upsertResponsePayload struct {
	Summary  summaryResponsePayload `json:"summary"`
	Analysis analysisPayload        `json:"analysis"`
}

func (h *httpHandler) handleUpsertToday(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	var request summaryRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	outcome, err := h.summaries.UpsertToday(c.Request.Context(), userID, request.Text, request.IsSynthetic)
	if err != nil {
		h.respondSummariesError(c, err)
		return
	}

	status := http.StatusOK
	if outcome.Created {
		status = http.StatusCreated
	}
	c.JSON(status, upsertResponsePayload{
		Summary:  toSummaryPayload(outcome.Summary),
		Analysis: toAnalysisPayload(outcome.Analysis),
	})
}

func (h *httpHandler) handleEditSummary(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	summaryID, err := summaries.NewSummaryID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_summary_id"})
		return
	}

	var request summaryRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	outcome, err := h.summaries.EditByID(c.Request.Context(), userID, summaryID, request.Text)
	if err != nil {
		h.respondSummariesError(c, err)
		return
	}

	c.JSON(http.StatusOK, upsertResponsePayload{
		Summary:  toSummaryPayload(outcome.Summary),
		Analysis: toAnalysisPayload(outcome.Analysis),
	})
}

type listResponsePayload struct {
	Summaries []summaryResponsePayload `json:"summaries"`
}

func (h *httpHandler) handleListSummaries(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	limit, limitErr := parseQueryInt(c, "limit", 0)
	offset, offsetErr := parseQueryInt(c, "offset", 0)
	if limitErr != nil || offsetErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_pagination"})
		return
	}

	records, err := h.summaries.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.respondSummariesError(c, err)
		return
	}

	response := listResponsePayload{Summaries: make([]summaryResponsePayload, 0, len(records))}
	for _, record := range records {
		response.Summaries = append(response.Summaries, toSummaryPayload(record))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleTodaySummary(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	record, err := h.summaries.Today(c.Request.Context(), userID)
	if err != nil {
		h.respondSummariesError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": toSummaryPayload(record)})
}

func (h *httpHandler) handleDeleteSummary(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	summaryID, err := summaries.NewSummaryID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_summary_id"})
		return
	}

	if err := h.summaries.Delete(c.Request.Context(), userID, summaryID); err != nil {
		h.respondSummariesError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	profile, err := h.users.GetProfile(userID)
	if errors.Is(err, users.ErrProfileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

type profileRequestPayload struct {
	DisplayName string `json:"display_name"`
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request profileRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.DisplayName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile, err := h.users.UpdateProfile(userID, request.DisplayName)
	if errors.Is(err, users.ErrProfileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to update profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) requestUserID(c *gin.Context) (summaries.UserID, bool) {
	raw := c.GetString(userIDContextKey)
	userID, err := summaries.NewUserID(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

func (h *httpHandler) respondSummariesError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, summaries.ErrEmptySummaryText):
		c.JSON(http.StatusBadRequest, gin.H{"error": "summary_required"})
	case errors.Is(err, summaries.ErrSummaryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "summary_not_found"})
	case errors.Is(err, summaries.ErrInvalidPagination):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_pagination"})
	default:
		h.logger.Error("summaries request failed", zap.Error(err))
		var serviceErr *summaries.ServiceError
		if errors.As(err, &serviceErr) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": serviceErr.Code()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func parseQueryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func toSummaryPayload(record summaries.Summary) summaryResponsePayload {
	payload := summaryResponsePayload{
		SummaryID:        record.SummaryID,
		Day:              record.Day,
		Text:             record.Text,
		IsSynthetic:      record.IsSynthetic,
		CreatedAtSeconds: record.CreatedAtSeconds,
		UpdatedAtSeconds: record.UpdatedAtSeconds,
	}
	if result, ok := record.Analysis(); ok {
		analysis := toAnalysisPayload(result)
		payload.Analysis = &analysis
	}
	return payload
}

func toAnalysisPayload(result analyzer.Result) analysisPayload {
	return analysisPayload{
		Summary:        result.Summary,
		MoodIndicators: result.MoodIndicators,
		Patterns:       result.Patterns,
		Insights:       result.Insights,
		Suggestions:    result.Suggestions,
		Timestamp:      result.Timestamp,
	}
}
