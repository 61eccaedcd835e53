// Package toast implements the single-slot transient notification used to
// announce XP gains and level ups.
package toast

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind distinguishes the notification flavours.
type Kind string

const (
	KindXPGain  Kind = "xp_gain"
	KindLevelUp Kind = "level_up"
)

// Notification is the payload occupying the display slot.
type Notification struct {
	ID      uint64
	Kind    Kind
	Amount  int64
	Reason  string
	Level   int
	Message string
	ShownAt time.Time
}

// Timer is the cancellation handle of a scheduled notification.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules fn after d. time.AfterFunc satisfies it through the default adapter.
type AfterFunc func(d time.Duration, fn func()) Timer

// Config wires the emitter's collaborators.
type Config struct {
	Clock     func() time.Time
	AfterFunc AfterFunc
	// OnShow is called outside the emitter lock every time the slot is replaced.
	OnShow func(Notification)
	Logger *zap.Logger
}

// Emitter holds at most one current notification; every show replaces it.
type Emitter struct {
	mu        sync.Mutex
	current   *Notification
	nextID    uint64
	epoch     uint64
	pending   map[uint64]Timer
	nextTimer uint64

	clock     func() time.Time
	afterFunc AfterFunc
	onShow    func(Notification)
	logger    *zap.Logger
}

// NewEmitter constructs an emitter with wall-clock scheduling by default.
func NewEmitter(cfg Config) *Emitter {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	afterFunc := cfg.AfterFunc
	if afterFunc == nil {
		afterFunc = func(d time.Duration, fn func()) Timer {
			return time.AfterFunc(d, fn)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		pending:   make(map[uint64]Timer),
		clock:     clock,
		afterFunc: afterFunc,
		onShow:    cfg.OnShow,
		logger:    logger,
	}
}

// ShowXPGain replaces the current notification with an XP gain.
func (e *Emitter) ShowXPGain(amount int64, reason string) Notification {
	notification, _ := e.show(xpGainNotification(amount, reason), 0, false)
	return notification
}

// ShowXPGainIn shows an XP gain only while epoch is still the emitter's epoch.
func (e *Emitter) ShowXPGainIn(epoch uint64, amount int64, reason string) (Notification, bool) {
	return e.show(xpGainNotification(amount, reason), epoch, true)
}

// ShowLevelUp replaces the current notification with a level-up celebration.
func (e *Emitter) ShowLevelUp(level int) Notification {
	notification, _ := e.show(levelUpNotification(level), 0, false)
	return notification
}

// Epoch identifies the current reset cycle. Reset advances it.
func (e *Emitter) Epoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch
}

// ScheduleLevelUp shows a level-up notification after delay unless Reset runs first.
func (e *Emitter) ScheduleLevelUp(delay time.Duration, level int) {
	e.schedule(delay, level, 0, false)
}

// ScheduleLevelUpIn schedules like ScheduleLevelUp, but only while epoch is current.
func (e *Emitter) ScheduleLevelUpIn(epoch uint64, delay time.Duration, level int) bool {
	return e.schedule(delay, level, epoch, true)
}

func (e *Emitter) schedule(delay time.Duration, level int, epoch uint64, checkEpoch bool) bool {
	e.mu.Lock()
	if checkEpoch && epoch != e.epoch {
		e.mu.Unlock()
		return false
	}
	epoch = e.epoch
	e.nextTimer++
	timerID := e.nextTimer
	// nil placeholder until the timer handle exists; the callback may run first.
	e.pending[timerID] = nil
	e.mu.Unlock()

	timer := e.afterFunc(delay, func() {
		e.mu.Lock()
		delete(e.pending, timerID)
		e.mu.Unlock()
		e.show(levelUpNotification(level), epoch, true)
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch {
		timer.Stop()
		return true
	}
	if _, waiting := e.pending[timerID]; waiting {
		e.pending[timerID] = timer
	}
	return true
}

// Pending returns the number of scheduled notifications that have not fired.
func (e *Emitter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Current returns the notification occupying the slot, if any.
func (e *Emitter) Current() (Notification, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return Notification{}, false
	}
	return *e.current, true
}

// Complete is the display layer's callback once a notification finished presenting.
// It clears the slot only while id is still the current notification.
func (e *Emitter) Complete(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.current.ID != id {
		return false
	}
	e.current = nil
	return true
}

// Reset clears the slot and cancels every scheduled notification.
func (e *Emitter) Reset() {
	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[uint64]Timer)
	e.epoch++
	e.current = nil
	e.mu.Unlock()

	for _, timer := range pending {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (e *Emitter) show(notification Notification, epoch uint64, checkEpoch bool) (Notification, bool) {
	e.mu.Lock()
	if checkEpoch && epoch != e.epoch {
		e.mu.Unlock()
		return Notification{}, false
	}
	e.nextID++
	notification.ID = e.nextID
	notification.ShownAt = e.clock().UTC()
	if e.current != nil {
		e.logger.Debug("toast replaced",
			zap.Uint64("replaced_id", e.current.ID),
			zap.Uint64("toast_id", notification.ID))
	}
	current := notification
	e.current = &current
	onShow := e.onShow
	e.mu.Unlock()

	if onShow != nil {
		onShow(notification)
	}
	return notification, true
}

func xpGainNotification(amount int64, reason string) Notification {
	return Notification{
		Kind:    KindXPGain,
		Amount:  amount,
		Reason:  reason,
		Message: fmt.Sprintf("+%d XP (%s)", amount, reason),
	}
}

func levelUpNotification(level int) Notification {
	return Notification{
		Kind:    KindLevelUp,
		Level:   level,
		Reason:  "level up",
		Message: fmt.Sprintf("Level Up! You're now Level %d!", level),
	}
}
