package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/koi/internal/auth"
	"github.com/MarcoPoloResearchLab/koi/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubSessions struct {
	claims auth.SessionClaims
	err    error
}

func (s stubSessions) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}

type stubAccounts struct {
	err error
}

func (s stubAccounts) Resolve(_ context.Context, claims auth.SessionClaims) (users.Account, error) {
	if s.err != nil {
		return users.Account{}, s.err
	}
	return users.Account{UserID: claims.Subject}, nil
}

func runAuthorize(t *testing.T, handler *httpHandler) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/profile", http.NoBody)
	handler.authorizeRequest(ctx)
	return recorder
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessions{err: auth.ErrExpiredSessionToken},
		accounts: stubAccounts{},
		logger:   zap.New(core),
	}

	recorder := runAuthorize(t, handler)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entries[0].Level)
	}
	if entries[0].Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entries[0].Message)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessions{err: auth.ErrInvalidSessionToken},
		accounts: stubAccounts{},
		logger:   zap.New(core),
	}

	recorder := runAuthorize(t, handler)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %+v", entries)
	}
}

func TestAuthorizeRequestSurfacesResolutionFailure(t *testing.T) {
	handler := &httpHandler{
		sessions: stubSessions{claims: auth.SessionClaims{UserID: "user-1"}},
		accounts: stubAccounts{err: errors.New("database offline")},
		logger:   zap.NewNop(),
	}
	recorder := runAuthorize(t, handler)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}

	handler.accounts = stubAccounts{err: users.ErrInvalidIdentity}
	recorder = runAuthorize(t, handler)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid identity, got %d", recorder.Code)
	}
}

func TestCORSMiddlewareAllowsCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware([]string{"https://app.example.com"}))
	router.OPTIONS("/profile", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/profile", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPut)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), "authorization") {
		t.Fatalf("expected Access-Control-Allow-Headers to include Authorization, got %q", allowHeaders)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("unexpected allowed origin %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
}
