package presence

import (
	"context"
	"fmt"
	"log"
	"time"

	"keymatic-backend/internal/apperr"
	"keymatic-backend/internal/store"
)

// DefaultStrategies is the order slot rows are matched in, strict first.
var DefaultStrategies = []store.SlotMatch{
	store.MatchScoped,
	store.MatchUnscoped,
	store.MatchUnguarded,
	store.MatchCaseFolded,
}

// Store is the persistence the Invalidator writes through.
type Store interface {
	ConsumePickupSession(ctx context.Context, token string, at time.Time) (int64, error)
	MarkKeyRemoved(ctx context.Context, uid string, at time.Time) (int64, error)
	MarkRoomKeyRemoved(ctx context.Context, machineID, roomNo string, at time.Time) (int64, error)
	ClearSlot(ctx context.Context, match store.SlotMatch, machineID, uid string, at time.Time) (int64, error)
}

// Result reports what an invalidation changed.
type Result struct {
	LinkUpdated  bool            `json:"linkUpdated"`
	KeyUpdated   bool            `json:"keyUpdated"`
	SlotsCleared int64           `json:"slotsCleared"`
	Strategy     store.SlotMatch `json:"strategy,omitempty"`
}

// Invalidator records a completed pickup.
type Invalidator struct {
	store      Store
	strategies []store.SlotMatch
	now        func() time.Time
}

// New creates an Invalidator using DefaultStrategies.
func New(s Store) *Invalidator {
	return &Invalidator{store: s, strategies: DefaultStrategies, now: time.Now}
}

// Invalidate consumes the pickup link, then marks the key removed and frees
// its slot. Only the link write can fail the call; the physical cleanup is
// best effort and must never undo the consumption.
func (inv *Invalidator) Invalidate(ctx context.Context, token, uid, machineID, roomNo string) (Result, error) {
	var res Result
	at := inv.now()

	n, err := inv.store.ConsumePickupSession(ctx, token, at)
	if err != nil {
		return res, err
	}
	if n == 0 {
		return res, fmt.Errorf("consume pickup session: %w", apperr.ErrNotFound)
	}
	res.LinkUpdated = true

	if uid == "" {
		log.Printf("Pickup %s has no key UID; skipping key and slot cleanup", shortToken(token))
		return res, nil
	}

	res.KeyUpdated = inv.markKey(ctx, uid, machineID, roomNo, at)

	for _, match := range inv.strategies {
		cleared, err := inv.store.ClearSlot(ctx, match, machineID, uid, at)
		if err != nil {
			log.Printf("Slot clear (%s) for uid %s failed: %v", match, uid, err)
			continue
		}
		if cleared > 0 {
			res.SlotsCleared = cleared
			res.Strategy = match
			break
		}
	}
	if res.SlotsCleared == 0 {
		log.Printf("No slot row matched uid %s on machine %s", uid, machineID)
	}

	return res, nil
}

func (inv *Invalidator) markKey(ctx context.Context, uid, machineID, roomNo string, at time.Time) bool {
	n, err := inv.store.MarkKeyRemoved(ctx, uid, at)
	if err != nil {
		log.Printf("Marking key %s removed failed: %v", uid, err)
	}
	if n > 0 {
		return true
	}
	if roomNo == "" {
		return false
	}

	n, err = inv.store.MarkRoomKeyRemoved(ctx, machineID, roomNo, at)
	if err != nil {
		log.Printf("Marking key of room %s removed failed: %v", roomNo, err)
		return false
	}
	return n > 0
}

func shortToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "…"
}
