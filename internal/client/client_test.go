package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/koi/internal/auth"
	"github.com/MarcoPoloResearchLab/koi/internal/gamification"
	"github.com/MarcoPoloResearchLab/koi/internal/profiles"
	"github.com/MarcoPoloResearchLab/koi/internal/realtime"
	"github.com/MarcoPoloResearchLab/koi/internal/rewards"
	"github.com/MarcoPoloResearchLab/koi/internal/server"
	"github.com/MarcoPoloResearchLab/koi/internal/toast"
	"github.com/MarcoPoloResearchLab/koi/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "client-test-secret"

type platform struct {
	server     *httptest.Server
	db         *gorm.DB
	issuer     *auth.TokenIssuer
	dispatcher *realtime.Dispatcher
	profiles   *profiles.Service
}

func newPlatform(t *testing.T) platform {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "client.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(append(profiles.Models(), &users.Identity{})...))
	require.NoError(t, profiles.SeedBadges(context.Background(), db, profiles.DefaultBadgeCatalog()))

	dispatcher := realtime.NewDispatcher()
	profileService, err := profiles.NewService(profiles.ServiceConfig{Database: db, Publisher: dispatcher})
	require.NoError(t, err)
	userService, err := users.NewService(users.ServiceConfig{Database: db, Provisioner: profileService})
	require.NoError(t, err)
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSecret),
		CookieName:    "koi_session",
	})
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSecret)})
	require.NoError(t, err)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions: validator,
		Accounts: userService,
		Profiles: profileService,
		Stream:   dispatcher,
	})
	require.NoError(t, err)

	httpServer := httptest.NewServer(handler)
	t.Cleanup(httpServer.Close)
	return platform{server: httpServer, db: db, issuer: issuer, dispatcher: dispatcher, profiles: profileService}
}

func (p platform) client(t *testing.T, subject string) *Client {
	t.Helper()
	token, _, err := p.issuer.IssueSessionToken(context.Background(), auth.Principal{
		Subject:     subject,
		DisplayName: "Player " + subject,
	})
	require.NoError(t, err)
	apiClient, err := New(Config{BaseURL: p.server.URL + "/", Token: token, Logger: zap.NewNop()})
	require.NoError(t, err)
	return apiClient
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Token: "token"})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "ftp://example.com", Token: "token"})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://example.com"})
	assert.Error(t, err)
}

func TestCurrentIdentity(t *testing.T) {
	p := newPlatform(t)

	identity, err := p.client(t, "user-1").CurrentIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.ID)
	assert.Equal(t, "Player user-1", identity.DisplayName)

	anonymous, err := New(Config{BaseURL: p.server.URL, Token: "bogus"})
	require.NoError(t, err)
	_, err = anonymous.CurrentIdentity(context.Background())
	assert.ErrorIs(t, err, gamification.ErrNoIdentity)
}

func TestBackendOperations(t *testing.T) {
	p := newPlatform(t)
	apiClient := p.client(t, "user-1")
	ctx := context.Background()

	_, err := apiClient.CurrentIdentity(ctx)
	require.NoError(t, err)

	record, err := apiClient.FetchProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, gamification.ProfileRecord{ID: "user-1", Level: 1, XP: 0, FullName: "Player user-1"}, record)

	checkedIn, err := apiClient.HasCheckedInToday(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, checkedIn)

	result, err := apiClient.PerformCheckin(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, result.Success)

	result, err = apiClient.PerformCheckin(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Message)

	badges, err := apiClient.FetchAwardedBadges(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, badges, 1)
	assert.Equal(t, profiles.FirstCheckinBadgeID, badges[0].ID)
	assert.False(t, badges[0].AwardedAt.IsZero())
	assert.True(t, badges[0].Unlocked)

	grant, err := apiClient.RecordAction(ctx, string(rewards.ActionReceiveShare))
	require.NoError(t, err)
	assert.Equal(t, int64(6), grant.Profile.XP)
}

func TestFetchProfileMapsNotFound(t *testing.T) {
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"profiles.fetch.not_found"}`))
	}))
	t.Cleanup(stub.Close)

	apiClient, err := New(Config{BaseURL: stub.URL, Token: "token"})
	require.NoError(t, err)
	_, err = apiClient.FetchProfile(context.Background(), "user-1")
	assert.ErrorIs(t, err, gamification.ErrProfileNotFound)
}

func TestStatusErrorCarriesCode(t *testing.T) {
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"profiles.checkin.transaction_failed"}`))
	}))
	t.Cleanup(stub.Close)

	apiClient, err := New(Config{BaseURL: stub.URL, Token: "token"})
	require.NoError(t, err)
	_, err = apiClient.PerformCheckin(context.Background(), "user-1")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, "profiles.checkin.transaction_failed", statusErr.Code)
}

func TestSubscribeProfileStreamsChanges(t *testing.T) {
	p := newPlatform(t)
	apiClient := p.client(t, "user-1")
	ctx := context.Background()
	_, err := apiClient.CurrentIdentity(ctx)
	require.NoError(t, err)

	records, cleanup, err := apiClient.SubscribeProfile(ctx, "user-1")
	require.NoError(t, err)

	_, err = p.profiles.RecordAction(ctx, "user-1", rewards.ActionCreatePost)
	require.NoError(t, err)

	select {
	case record := <-records:
		assert.Equal(t, int64(5), record.XP)
		assert.Equal(t, 1, record.Level)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a pushed record")
	}

	cleanup()
	cleanup()
	select {
	case _, ok := <-records:
		assert.False(t, ok, "expected stream to close after cleanup")
	case <-time.After(2 * time.Second):
		t.Fatal("expected stream to close after cleanup")
	}
	require.Eventually(t, func() bool {
		return p.dispatcher.SubscriberCount("user-1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeProfileClosesOnContextCancel(t *testing.T) {
	p := newPlatform(t)
	apiClient := p.client(t, "user-1")
	ctx, cancel := context.WithCancel(context.Background())

	records, _, err := apiClient.SubscribeProfile(ctx, "user-1")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-records:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("expected stream to close after cancel")
	}
}

func TestSubscribeProfileRejectedSession(t *testing.T) {
	p := newPlatform(t)
	apiClient, err := New(Config{BaseURL: p.server.URL, Token: "bogus"})
	require.NoError(t, err)

	_, _, err = apiClient.SubscribeProfile(context.Background(), "user-1")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

type shownLog struct {
	mu    sync.Mutex
	shown []toast.Notification
}

func (l *shownLog) record(notification toast.Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shown = append(l.shown, notification)
}

func (l *shownLog) find(kind toast.Kind) (toast.Notification, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, notification := range l.shown {
		if notification.Kind == kind {
			return notification, true
		}
	}
	return toast.Notification{}, false
}

func TestStoreAgainstLivePlatform(t *testing.T) {
	p := newPlatform(t)
	apiClient := p.client(t, "user-1")
	shown := &shownLog{}

	store, err := gamification.NewStore(gamification.StoreConfig{
		Backend:      apiClient,
		Identity:     apiClient,
		Notifier:     toast.NewEmitter(toast.Config{OnShow: shown.record}),
		LevelUpDelay: -1,
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	ctx := context.Background()
	require.NoError(t, store.Start(ctx))

	state := store.State()
	assert.Equal(t, "user-1", state.IdentityID)
	assert.Equal(t, "Player user-1", state.ProfileName)
	assert.Equal(t, 1, state.Level)
	require.Eventually(t, func() bool {
		return p.dispatcher.SubscriberCount("user-1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	result, err := store.PerformDailyCheckin(ctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, store.State().HasCheckedInToday)
	require.Eventually(t, func() bool {
		return store.State().XP == 3
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, p.db.Model(&profiles.Profile{}).Where("user_id = ?", "user-1").Update("xp", 497).Error)
	_, err = p.profiles.RecordAction(ctx, "user-1", rewards.ActionCreatePost)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state := store.State()
		return state.Level == 2 && state.XP == 552
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		notification, ok := shown.find(toast.KindLevelUp)
		return ok && notification.Level == 2
	}, 2*time.Second, 10*time.Millisecond)

	gain, ok := shown.find(toast.KindXPGain)
	require.True(t, ok)
	assert.Equal(t, rewards.ReasonCheckin, gain.Reason)
}
