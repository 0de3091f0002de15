package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/daybook-labs/daybook/backend/internal/analyzer"
	"github.com/daybook-labs/daybook/backend/internal/auth"
	"github.com/daybook-labs/daybook/backend/internal/server"
	"github.com/daybook-labs/daybook/backend/internal/summaries"
	"github.com/daybook-labs/daybook/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var integrationNow = time.Date(2026, time.August, 12, 9, 41, 0, 0, time.UTC)

type staticVerifier struct {
	claims auth.IdentityClaims
}

func (v staticVerifier) Verify(context.Context, string) (auth.IdentityClaims, error) {
	return v.claims, nil
}

type staticAnalyzer struct {
	result analyzer.Result
}

func (a staticAnalyzer) Analyze(context.Context, string, analyzer.Context) analyzer.Result {
	return a.result
}

func newTestServer(testContext *testing.T) http.Handler {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.ReplaceAll(testContext.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&summaries.Summary{}, &users.Identity{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("integration-secret"),
		Issuer:        "daybook-auth",
		Audience:      "daybook-api",
		TokenTTL:      30 * time.Minute,
	})
	if err != nil {
		testContext.Fatalf("failed to construct token issuer: %v", err)
	}

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to construct users service: %v", err)
	}

	summariesService, err := summaries.NewService(summaries.ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return integrationNow },
		IDProvider: summaries.NewUUIDProvider(),
		Analyzer: staticAnalyzer{result: analyzer.Result{
			Summary:        "Steady mood",
			MoodIndicators: "content",
			Patterns:       "Not available",
			Insights:       "Please try again later",
			Suggestions:    "Continue journaling",
			Timestamp:      integrationNow,
		}},
		Logger: zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to construct summaries service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		IdentityVerifier: staticVerifier{claims: auth.IdentityClaims{
			Subject:     "google-user-1",
			Issuer:      "https://accounts.google.com",
			Email:       "pat@example.com",
			DisplayName: "Pat Example",
		}},
		TokenManager:     tokenIssuer,
		UsersService:     usersService,
		SummariesService: summariesService,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to construct http handler: %v", err)
	}
	return handler
}

func performRequest(testContext *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	testContext.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBuffer(nil)
	} else {
		reader = bytes.NewBufferString(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(testContext *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	testContext.Helper()
	payload := map[string]any{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		testContext.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func exchangeToken(testContext *testing.T, handler http.Handler) string {
	testContext.Helper()
	recorder := performRequest(testContext, handler, http.MethodPost, "/auth/token", "", `{"id_token":"upstream"}`)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("token exchange failed: %d %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(testContext, recorder)
	token, _ := payload["access_token"].(string)
	if token == "" {
		testContext.Fatalf("missing access token in %v", payload)
	}
	if payload["token_type"] != "Bearer" {
		testContext.Fatalf("unexpected token type %v", payload["token_type"])
	}
	return token
}

func TestSummariesLifecycleOverHTTP(testContext *testing.T) {
	handler := newTestServer(testContext)
	token := exchangeToken(testContext, handler)

	created := performRequest(testContext, handler, http.MethodPost, "/summaries", token, `{"text":"Felt okay today"}`)
	if created.Code != http.StatusCreated {
		testContext.Fatalf("expected 201 on first write, got %d %s", created.Code, created.Body.String())
	}
	createdPayload := decodeBody(testContext, created)
	summaryPayload, _ := createdPayload["summary"].(map[string]any)
	if summaryPayload == nil {
		testContext.Fatalf("missing summary in %v", createdPayload)
	}
	summaryID, _ := summaryPayload["summary_id"].(string)
	if summaryID == "" {
		testContext.Fatalf("missing summary id in %v", summaryPayload)
	}
	if summaryPayload["day"] != "2026-08-12" {
		testContext.Fatalf("unexpected day %v", summaryPayload["day"])
	}
	analysisPayload, _ := createdPayload["analysis"].(map[string]any)
	if analysisPayload["summary"] != "Steady mood" {
		testContext.Fatalf("unexpected analysis %v", analysisPayload)
	}

	rewritten := performRequest(testContext, handler, http.MethodPost, "/summaries", token, `{"text":"Felt okay today, update"}`)
	if rewritten.Code != http.StatusOK {
		testContext.Fatalf("expected 200 on same-day rewrite, got %d %s", rewritten.Code, rewritten.Body.String())
	}
	rewrittenSummary, _ := decodeBody(testContext, rewritten)["summary"].(map[string]any)
	if rewrittenSummary["summary_id"] != summaryID {
		testContext.Fatalf("rewrite must keep the record id, got %v", rewrittenSummary["summary_id"])
	}

	today := performRequest(testContext, handler, http.MethodGet, "/summaries/today", token, "")
	if today.Code != http.StatusOK {
		testContext.Fatalf("expected 200 from today, got %d %s", today.Code, today.Body.String())
	}
	todaySummary, _ := decodeBody(testContext, today)["summary"].(map[string]any)
	if todaySummary["text"] != "Felt okay today, update" {
		testContext.Fatalf("unexpected today text %v", todaySummary["text"])
	}

	listed := performRequest(testContext, handler, http.MethodGet, "/summaries?limit=2", token, "")
	if listed.Code != http.StatusOK {
		testContext.Fatalf("expected 200 from list, got %d %s", listed.Code, listed.Body.String())
	}
	listedSummaries, _ := decodeBody(testContext, listed)["summaries"].([]any)
	if len(listedSummaries) != 1 {
		testContext.Fatalf("expected a single record, got %d", len(listedSummaries))
	}

	edited := performRequest(testContext, handler, http.MethodPut, "/summaries/"+summaryID, token, `{"text":"Rewritten later"}`)
	if edited.Code != http.StatusOK {
		testContext.Fatalf("expected 200 from edit, got %d %s", edited.Code, edited.Body.String())
	}
	editedSummary, _ := decodeBody(testContext, edited)["summary"].(map[string]any)
	if editedSummary["text"] != "Rewritten later" {
		testContext.Fatalf("unexpected edited text %v", editedSummary["text"])
	}

	deleted := performRequest(testContext, handler, http.MethodDelete, "/summaries/"+summaryID, token, "")
	if deleted.Code != http.StatusNoContent {
		testContext.Fatalf("expected 204 from delete, got %d %s", deleted.Code, deleted.Body.String())
	}

	missing := performRequest(testContext, handler, http.MethodGet, "/summaries/today", token, "")
	if missing.Code != http.StatusNotFound {
		testContext.Fatalf("expected 404 after delete, got %d %s", missing.Code, missing.Body.String())
	}
	if payload := decodeBody(testContext, missing); payload["error"] != "summary_not_found" {
		testContext.Fatalf("unexpected error payload %v", payload)
	}
}

func TestProfileRoundTripOverHTTP(testContext *testing.T) {
	handler := newTestServer(testContext)
	token := exchangeToken(testContext, handler)

	me := performRequest(testContext, handler, http.MethodGet, "/users/me", token, "")
	if me.Code != http.StatusOK {
		testContext.Fatalf("expected 200 from profile, got %d %s", me.Code, me.Body.String())
	}
	profile, _ := decodeBody(testContext, me)["profile"].(map[string]any)
	if profile["user_id"] != "google-user-1" || profile["email"] != "pat@example.com" {
		testContext.Fatalf("unexpected profile %v", profile)
	}

	renamed := performRequest(testContext, handler, http.MethodPut, "/users/me", token, `{"display_name":"New Name"}`)
	if renamed.Code != http.StatusOK {
		testContext.Fatalf("expected 200 from profile update, got %d %s", renamed.Code, renamed.Body.String())
	}
	renamedProfile, _ := decodeBody(testContext, renamed)["profile"].(map[string]any)
	if renamedProfile["display_name"] != "New Name" {
		testContext.Fatalf("unexpected display name %v", renamedProfile["display_name"])
	}
}

func TestProtectedRoutesRequireBearerToken(testContext *testing.T) {
	handler := newTestServer(testContext)

	unauthorized := performRequest(testContext, handler, http.MethodGet, "/summaries", "", "")
	if unauthorized.Code != http.StatusUnauthorized {
		testContext.Fatalf("expected 401 without a token, got %d", unauthorized.Code)
	}

	forged := performRequest(testContext, handler, http.MethodGet, "/summaries", "not-a-real-token", "")
	if forged.Code != http.StatusUnauthorized {
		testContext.Fatalf("expected 401 for a forged token, got %d", forged.Code)
	}
}
