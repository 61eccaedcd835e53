package gamification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/koi/internal/toast"
	"go.uber.org/zap"
)

var errBackendDown = errors.New("backend unavailable")

type fakeBackend struct {
	mu sync.Mutex

	profiles       map[string]ProfileRecord
	profileErr     error
	profileFetched bool
	badges         map[string][]Badge
	badgeErr       error
	checkedIn      map[string]bool
	statusErr      error
	statusHold     *statusHold
	checkinReplies []CheckinResult
	checkinErr     error
	checkinCalls   int

	subscribeErr          error
	subscribedBeforeFetch bool
	subscriptions         []*fakeSubscription
}

type fakeSubscription struct {
	identityID string
	stream     chan ProfileRecord
	closeOnce  sync.Once
	released   chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		profiles:  make(map[string]ProfileRecord),
		badges:    make(map[string][]Badge),
		checkedIn: make(map[string]bool),
	}
}

func (f *fakeBackend) FetchProfile(_ context.Context, identityID string) (ProfileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileFetched = true
	if f.profileErr != nil {
		return ProfileRecord{}, f.profileErr
	}
	record, ok := f.profiles[identityID]
	if !ok {
		return ProfileRecord{}, ErrProfileNotFound
	}
	return record, nil
}

func (f *fakeBackend) SubscribeProfile(_ context.Context, identityID string) (<-chan ProfileRecord, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.profileFetched {
		f.subscribedBeforeFetch = true
	}
	if f.subscribeErr != nil {
		return nil, nil, f.subscribeErr
	}
	sub := &fakeSubscription{
		identityID: identityID,
		stream:     make(chan ProfileRecord, 8),
		released:   make(chan struct{}),
	}
	f.subscriptions = append(f.subscriptions, sub)
	return sub.stream, func() {
		sub.closeOnce.Do(func() { close(sub.released) })
	}, nil
}

func (f *fakeBackend) FetchAwardedBadges(_ context.Context, identityID string) ([]Badge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.badgeErr != nil {
		return nil, f.badgeErr
	}
	badges := f.badges[identityID]
	out := make([]Badge, len(badges))
	copy(out, badges)
	return out, nil
}

func (f *fakeBackend) PerformCheckin(_ context.Context, identityID string) (CheckinResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkinCalls++
	if f.checkinErr != nil {
		return CheckinResult{}, f.checkinErr
	}
	if len(f.checkinReplies) == 0 {
		return CheckinResult{Success: false, Message: "no reply configured"}, nil
	}
	reply := f.checkinReplies[0]
	f.checkinReplies = f.checkinReplies[1:]
	if reply.Success {
		f.checkedIn[identityID] = true
	}
	return reply, nil
}

// statusHold keeps the next status read open after it has sampled its answer.
type statusHold struct {
	started chan struct{}
	release chan struct{}
}

func (f *fakeBackend) holdNextStatus() *statusHold {
	f.mu.Lock()
	defer f.mu.Unlock()
	hold := &statusHold{started: make(chan struct{}), release: make(chan struct{})}
	f.statusHold = hold
	return hold
}

func (f *fakeBackend) HasCheckedInToday(_ context.Context, identityID string) (bool, error) {
	f.mu.Lock()
	err := f.statusErr
	checkedIn := f.checkedIn[identityID]
	hold := f.statusHold
	f.statusHold = nil
	f.mu.Unlock()
	if hold != nil {
		close(hold.started)
		<-hold.release
	}
	if err != nil {
		return false, err
	}
	return checkedIn, nil
}

func (f *fakeBackend) subscription(t *testing.T, index int) *fakeSubscription {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if index >= len(f.subscriptions) {
		t.Fatalf("expected subscription %d, have %d", index, len(f.subscriptions))
	}
	return f.subscriptions[index]
}

func (f *fakeBackend) subscriptionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscriptions)
}

func (s *fakeSubscription) isReleased() bool {
	select {
	case <-s.released:
		return true
	default:
		return false
	}
}

type staticIdentity struct {
	identity Identity
	err      error
}

func (r staticIdentity) CurrentIdentity(context.Context) (Identity, error) {
	return r.identity, r.err
}

type heldTimer struct {
	mu      sync.Mutex
	fn      func()
	delay   time.Duration
	stopped bool
}

func (h *heldTimer) Stop() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	active := !h.stopped
	h.stopped = true
	return active
}

// heldScheduler keeps scheduled toasts until the test releases them.
type heldScheduler struct {
	mu     sync.Mutex
	timers []*heldTimer
}

func (s *heldScheduler) AfterFunc(d time.Duration, fn func()) toast.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer := &heldTimer{fn: fn, delay: d}
	s.timers = append(s.timers, timer)
	return timer
}

func (s *heldScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *heldScheduler) release() {
	s.mu.Lock()
	timers := append([]*heldTimer(nil), s.timers...)
	s.mu.Unlock()
	for _, timer := range timers {
		timer.mu.Lock()
		stopped := timer.stopped
		timer.stopped = true
		timer.mu.Unlock()
		if !stopped {
			timer.fn()
		}
	}
}

type storeHarness struct {
	store     *Store
	backend   *fakeBackend
	scheduler *heldScheduler
	emitter   *toast.Emitter
}

func newHarness(t *testing.T, backend *fakeBackend, resolver IdentityResolver) storeHarness {
	t.Helper()
	scheduler := &heldScheduler{}
	emitter := toast.NewEmitter(toast.Config{AfterFunc: scheduler.AfterFunc})
	store, err := NewStore(StoreConfig{
		Backend:  backend,
		Identity: resolver,
		Notifier: emitter,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	t.Cleanup(store.Close)
	return storeHarness{store: store, backend: backend, scheduler: scheduler, emitter: emitter}
}
