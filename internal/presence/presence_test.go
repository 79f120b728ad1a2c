package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymatic-backend/internal/apperr"
	"keymatic-backend/internal/store"
)

// mockStore records calls and answers from per-strategy tables.
type mockStore struct {
	consumeErr   error
	consumed     int
	keyRows      int64
	roomRows     int64
	keyErr       error
	slotRows     map[store.SlotMatch]int64
	slotErrs     map[store.SlotMatch]error
	slotCalls    []store.SlotMatch
	roomFallback bool
}

func (m *mockStore) ConsumePickupSession(ctx context.Context, token string, at time.Time) (int64, error) {
	if m.consumeErr != nil {
		return 0, m.consumeErr
	}
	m.consumed++
	return 1, nil
}

func (m *mockStore) MarkKeyRemoved(ctx context.Context, uid string, at time.Time) (int64, error) {
	return m.keyRows, m.keyErr
}

func (m *mockStore) MarkRoomKeyRemoved(ctx context.Context, machineID, roomNo string, at time.Time) (int64, error) {
	m.roomFallback = true
	return m.roomRows, nil
}

func (m *mockStore) ClearSlot(ctx context.Context, match store.SlotMatch, machineID, uid string, at time.Time) (int64, error) {
	m.slotCalls = append(m.slotCalls, match)
	return m.slotRows[match], m.slotErrs[match]
}

func TestInvalidate_StopsAtFirstMatchingStrategy(t *testing.T) {
	testCases := []struct {
		name      string
		rows      map[store.SlotMatch]int64
		errs      map[store.SlotMatch]error
		wantCalls []store.SlotMatch
		wantMatch store.SlotMatch
		cleared   int64
	}{
		{
			name:      "scoped exact",
			rows:      map[store.SlotMatch]int64{store.MatchScoped: 1},
			wantCalls: []store.SlotMatch{store.MatchScoped},
			wantMatch: store.MatchScoped,
			cleared:   1,
		},
		{
			name:      "unscoped exact",
			rows:      map[store.SlotMatch]int64{store.MatchUnscoped: 1},
			wantCalls: []store.SlotMatch{store.MatchScoped, store.MatchUnscoped},
			wantMatch: store.MatchUnscoped,
			cleared:   1,
		},
		{
			name:      "unscoped without guard",
			rows:      map[store.SlotMatch]int64{store.MatchUnguarded: 1},
			wantCalls: []store.SlotMatch{store.MatchScoped, store.MatchUnscoped, store.MatchUnguarded},
			wantMatch: store.MatchUnguarded,
			cleared:   1,
		},
		{
			name:      "case folded after an error",
			rows:      map[store.SlotMatch]int64{store.MatchCaseFolded: 2},
			errs:      map[store.SlotMatch]error{store.MatchUnscoped: errors.New("deadlock")},
			wantCalls: DefaultStrategies,
			wantMatch: store.MatchCaseFolded,
			cleared:   2,
		},
		{
			name:      "nothing matches",
			wantCalls: DefaultStrategies,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ms := &mockStore{keyRows: 1, slotRows: tc.rows, slotErrs: tc.errs}
			res, err := New(ms).Invalidate(context.Background(), "token-1", "AB12CD", "111", "204")
			require.NoError(t, err)

			assert.True(t, res.LinkUpdated)
			assert.True(t, res.KeyUpdated)
			assert.Equal(t, tc.cleared, res.SlotsCleared)
			assert.Equal(t, tc.wantMatch, res.Strategy)
			assert.Equal(t, tc.wantCalls, ms.slotCalls)
		})
	}
}

func TestInvalidate_LinkFailureIsFatal(t *testing.T) {
	ms := &mockStore{consumeErr: errors.New("db down")}
	_, err := New(ms).Invalidate(context.Background(), "token-1", "AB12CD", "111", "204")
	assert.Error(t, err)
	assert.Empty(t, ms.slotCalls)
}

func TestInvalidate_UnknownToken(t *testing.T) {
	ms := &unknownTokenStore{}
	_, err := New(ms).Invalidate(context.Background(), "nope", "AB12CD", "111", "204")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

type unknownTokenStore struct{ mockStore }

func (u *unknownTokenStore) ConsumePickupSession(ctx context.Context, token string, at time.Time) (int64, error) {
	return 0, nil
}

func TestInvalidate_NoUIDSkipsCleanup(t *testing.T) {
	ms := &mockStore{}
	res, err := New(ms).Invalidate(context.Background(), "token-1", "", "111", "204")
	require.NoError(t, err)
	assert.True(t, res.LinkUpdated)
	assert.False(t, res.KeyUpdated)
	assert.Empty(t, ms.slotCalls)
}

func TestInvalidate_KeyFailureIsSwallowed(t *testing.T) {
	ms := &mockStore{keyErr: errors.New("timeout"), roomRows: 1, slotRows: map[store.SlotMatch]int64{store.MatchScoped: 1}}
	res, err := New(ms).Invalidate(context.Background(), "token-1", "AB12CD", "111", "204")
	require.NoError(t, err)
	assert.True(t, ms.roomFallback)
	assert.True(t, res.KeyUpdated)
	assert.Equal(t, int64(1), res.SlotsCleared)
}

func TestInvalidate_TwiceIsHarmless(t *testing.T) {
	ms := &mockStore{keyRows: 1, slotRows: map[store.SlotMatch]int64{store.MatchScoped: 1}}
	inv := New(ms)

	_, err := inv.Invalidate(context.Background(), "token-1", "AB12CD", "111", "204")
	require.NoError(t, err)
	res, err := inv.Invalidate(context.Background(), "token-1", "AB12CD", "111", "204")
	require.NoError(t, err)
	assert.True(t, res.LinkUpdated)
	assert.Equal(t, 2, ms.consumed)
}
