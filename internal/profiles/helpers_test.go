package profiles

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/koi/internal/realtime"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []realtime.Message
}

func (p *recordingPublisher) Publish(message realtime.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
}

func (p *recordingPublisher) snapshot() []realtime.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.Message(nil), p.messages...)
}

type fixedLock struct {
	acquired bool
	err      error
	calls    int
}

func (l *fixedLock) Acquire(context.Context, string, string) (bool, error) {
	l.calls++
	return l.acquired, l.err
}

type serviceFixture struct {
	db        *gorm.DB
	service   *Service
	clock     *testClock
	publisher *recordingPublisher
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "profiles.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	if err := SeedBadges(context.Background(), db, DefaultBadgeCatalog()); err != nil {
		t.Fatalf("failed to seed badges: %v", err)
	}
	return db
}

func newServiceFixture(t *testing.T, mutate func(*ServiceConfig)) serviceFixture {
	t.Helper()
	db := openTestDatabase(t)
	clock := &testClock{now: time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)}
	publisher := &recordingPublisher{}
	cfg := ServiceConfig{
		Database:    db,
		Clock:       clock.Now,
		Publisher:   publisher,
		AdminEmails: []string{"Admin@Example.com"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return serviceFixture{db: db, service: service, clock: clock, publisher: publisher}
}

func (f serviceFixture) mustEnsure(t *testing.T, userID string) Profile {
	t.Helper()
	profile, err := f.service.EnsureProfile(context.Background(), Seed{UserID: userID, FullName: "Tester " + userID})
	if err != nil {
		t.Fatalf("ensure profile failed: %v", err)
	}
	return profile
}

func (f serviceFixture) setProgress(t *testing.T, userID string, level int, xp int64) {
	t.Helper()
	err := f.db.Model(&Profile{}).Where("user_id = ?", userID).
		Updates(map[string]any{"level": level, "xp": xp}).Error
	if err != nil {
		t.Fatalf("failed to set progress: %v", err)
	}
}
