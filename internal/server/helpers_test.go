package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/koi/internal/auth"
	"github.com/MarcoPoloResearchLab/koi/internal/profiles"
	"github.com/MarcoPoloResearchLab/koi/internal/realtime"
	"github.com/MarcoPoloResearchLab/koi/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "koi_session"
	testAdminEmail    = "admin@example.com"
)

type testPlatform struct {
	server     *httptest.Server
	issuer     *auth.TokenIssuer
	dispatcher *realtime.Dispatcher
	profiles   *profiles.Service
}

func newTestPlatform(t *testing.T) testPlatform {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	schema := append(profiles.Models(), &users.Identity{})
	if err := db.AutoMigrate(schema...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	if err := profiles.SeedBadges(context.Background(), db, profiles.DefaultBadgeCatalog()); err != nil {
		t.Fatalf("failed to seed badges: %v", err)
	}

	dispatcher := realtime.NewDispatcher()
	profileService, err := profiles.NewService(profiles.ServiceConfig{
		Database:    db,
		Publisher:   dispatcher,
		AdminEmails: []string{testAdminEmail},
	})
	if err != nil {
		t.Fatalf("failed to create profile service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, Provisioner: profileService})
	if err != nil {
		t.Fatalf("failed to create user service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions: validator,
		Accounts: userService,
		Profiles: profileService,
		Stream:   dispatcher,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return testPlatform{server: server, issuer: issuer, dispatcher: dispatcher, profiles: profileService}
}

func (p testPlatform) token(t *testing.T, subject, email string) string {
	t.Helper()
	token, _, err := p.issuer.IssueSessionToken(context.Background(), auth.Principal{
		Subject:     subject,
		Email:       email,
		DisplayName: "Player " + subject,
	})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (p testPlatform) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, p.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return response.StatusCode, payload
}

func decode[T any](t *testing.T, payload []byte) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(payload, &value); err != nil {
		t.Fatalf("failed to decode %s: %v", string(payload), err)
	}
	return value
}
