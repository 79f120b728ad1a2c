// Package pickup drives a guest through a key pickup at a kiosk:
//
//	welcome -> confirm -> openDoor -> releaseKey -> closeDoor -> success
//
// with expired and error as terminal states reachable when the link is
// loaded. Only forward transitions talk to the machine; repeating a step
// after a failure simply sends the same command again.
package pickup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/patrickmn/go-cache"

	"keymatic-backend/internal/apperr"
	"keymatic-backend/internal/model"
	"keymatic-backend/internal/notification"
	"keymatic-backend/internal/parse"
	"keymatic-backend/internal/presence"
)

// Device is the machine the guest stands at.
type Device interface {
	OpenDoor(ctx context.Context, machineID string) (parse.Signal, error)
	Status(ctx context.Context, machineID string) (parse.Signal, error)
	ReleaseKey(ctx context.Context, machineID string, slot int) (parse.Signal, error)
}

// Store is the persistence the flow reads from.
type Store interface {
	GetPickupSession(ctx context.Context, token string) (*model.PickupSession, error)
	FindSlotByUID(ctx context.Context, machineID, uid string) (*model.KeySlot, error)
}

// Invalidator records the completed pickup.
type Invalidator interface {
	Invalidate(ctx context.Context, token, uid, machineID, roomNo string) (presence.Result, error)
}

// Announcer queues the pickup notification.
type Announcer interface {
	Dispatch(job notification.Job) bool
}

// Timing holds the hardware waits of the flow.
type Timing struct {
	// Settle is how long the release mechanism needs before its switch is read.
	Settle time.Duration
	// Dwell is how long closeDoor is shown before success.
	Dwell time.Duration
	// SessionTTL bounds how long an idle kiosk session stays in memory.
	SessionTTL time.Duration
}

// Flow owns the live kiosk sessions.
type Flow struct {
	store       Store
	device      Device
	invalidator Invalidator
	announcer   Announcer
	timing      Timing
	sessions    *cache.Cache

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// NewFlow creates a Flow.
func NewFlow(store Store, device Device, invalidator Invalidator, announcer Announcer, timing Timing) *Flow {
	if timing.SessionTTL <= 0 {
		timing.SessionTTL = 30 * time.Minute
	}
	return &Flow{
		store:       store,
		device:      device,
		invalidator: invalidator,
		announcer:   announcer,
		timing:      timing,
		sessions:    cache.New(timing.SessionTTL, 2*timing.SessionTTL),
		now:         time.Now,
		afterFunc:   time.AfterFunc,
	}
}

// Session returns the live session for token, loading it on first use.
func (f *Flow) Session(ctx context.Context, token string) (*Session, error) {
	if v, found := f.sessions.Get(token); found {
		s := v.(*Session)
		f.sessions.Set(token, s, cache.DefaultExpiration)
		return s, nil
	}
	return f.Load(ctx, token)
}

// Load reads the pickup link and decides the initial state. A failed lookup
// yields a session in the error state together with the error.
func (f *Flow) Load(ctx context.Context, token string) (*Session, error) {
	record, err := f.store.GetPickupSession(ctx, token)
	if err != nil {
		log.Printf("Pickup %s could not be loaded: %v", shortToken(token), err)
		return &Session{flow: f, token: token, state: StateError, err: err}, err
	}

	s := &Session{flow: f, token: token, record: *record, state: StateWelcome}
	if reasons := f.expiryReasons(record); len(reasons) > 0 {
		s.state = StateExpired
		s.reasons = reasons
	}

	if err := f.sessions.Add(token, s, cache.DefaultExpiration); err != nil {
		// Another request loaded it first; share that instance.
		if v, found := f.sessions.Get(token); found {
			return v.(*Session), nil
		}
	}
	return s, nil
}

// Forget drops a live session so the next request reloads it.
func (f *Flow) Forget(token string) {
	f.sessions.Delete(token)
}

func (f *Flow) expiryReasons(record *model.PickupSession) []ExpiryReason {
	var reasons []ExpiryReason
	if !record.CheckOut.IsZero() && f.now().After(record.CheckOut) {
		reasons = append(reasons, ReasonTime)
	}
	if !record.Valid {
		reasons = append(reasons, ReasonInvalid)
	}
	return reasons
}

func (f *Flow) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", apperr.ErrTransportTimeout, ctx.Err())
	}
}

func shortToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "…"
}

func classify(err error) string {
	switch {
	case errors.Is(err, apperr.ErrTransportTimeout):
		return "offline"
	case errors.Is(err, apperr.ErrDeviceRejection):
		return "rejected"
	case errors.Is(err, apperr.ErrConfiguration):
		return "configuration"
	default:
		return "error"
	}
}
