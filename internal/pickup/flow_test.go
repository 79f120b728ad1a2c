package pickup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymatic-backend/internal/apperr"
	"keymatic-backend/internal/model"
	"keymatic-backend/internal/notification"
	"keymatic-backend/internal/parse"
	"keymatic-backend/internal/presence"
)

type fakeDevice struct {
	mu       sync.Mutex
	door     []parse.Signal
	doorErr  error
	statuses []parse.Signal
	released []int
	calls    []string
}

func (d *fakeDevice) OpenDoor(ctx context.Context, machineID string) (parse.Signal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "door:"+machineID)
	if d.doorErr != nil {
		return parse.Signal{}, d.doorErr
	}
	sig := d.door[0]
	if len(d.door) > 1 {
		d.door = d.door[1:]
	}
	return sig, nil
}

func (d *fakeDevice) Status(ctx context.Context, machineID string) (parse.Signal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "status:"+machineID)
	sig := d.statuses[0]
	if len(d.statuses) > 1 {
		d.statuses = d.statuses[1:]
	}
	return sig, nil
}

func (d *fakeDevice) ReleaseKey(ctx context.Context, machineID string, slot int) (parse.Signal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "release:"+machineID)
	d.released = append(d.released, slot)
	return parse.Signal{Kind: parse.KindRelayOn, Activated: true}, nil
}

type fakeStore struct {
	sessions map[string]*model.PickupSession
	slots    map[string]int
}

func (s *fakeStore) GetPickupSession(ctx context.Context, token string) (*model.PickupSession, error) {
	ps, ok := s.sessions[token]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *ps
	return &cp, nil
}

func (s *fakeStore) FindSlotByUID(ctx context.Context, machineID, uid string) (*model.KeySlot, error) {
	n, ok := s.slots[machineID+"/"+uid]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &model.KeySlot{MachineID: machineID, SlotNumber: n}, nil
}

type fakeInvalidator struct {
	calls []string
	err   error
}

func (i *fakeInvalidator) Invalidate(ctx context.Context, token, uid, machineID, roomNo string) (presence.Result, error) {
	i.calls = append(i.calls, token+"|"+uid+"|"+machineID+"|"+roomNo)
	if i.err != nil {
		return presence.Result{}, i.err
	}
	return presence.Result{LinkUpdated: true, KeyUpdated: true, SlotsCleared: 1, Strategy: "scoped-exact"}, nil
}

type fakeAnnouncer struct {
	jobs []notification.Job
}

func (a *fakeAnnouncer) Dispatch(job notification.Job) bool {
	a.jobs = append(a.jobs, job)
	return true
}

var (
	relayOK  = parse.Signal{Kind: parse.KindRelayOn, Activated: true, Text: "RELAY ACTIVATED"}
	limitOff = parse.Signal{Kind: parse.KindLimitOff, Text: "LIMIT SWITCH IS OFF"}
	limitOn  = parse.Signal{Kind: parse.KindLimitOn, Text: "LIMIT SWITCH IS ON"}
)

type harness struct {
	flow        *Flow
	device      *fakeDevice
	store       *fakeStore
	invalidator *fakeInvalidator
	announcer   *fakeAnnouncer
	pending     []func()
	now         time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	now := time.Date(2025, 10, 18, 10, 0, 0, 0, time.UTC)
	h := &harness{
		device:      &fakeDevice{door: []parse.Signal{relayOK}, statuses: []parse.Signal{limitOff}},
		invalidator: &fakeInvalidator{},
		announcer:   &fakeAnnouncer{},
		now:         now,
		store: &fakeStore{
			sessions: map[string]*model.PickupSession{
				"tok-valid": {
					Token:     "tok-valid",
					ClientID:  7,
					KeyID:     42,
					MachineID: "111",
					RoomNo:    "204",
					KeyUID:    "04A1B2C3",
					CheckIn:   now.Add(-time.Hour),
					CheckOut:  now.Add(2 * time.Hour),
					Valid:     true,
					Client:    model.Client{ID: 7, FirstName: "Nour", LastName: "Samahy", Email: "nour@example.com"},
					Key:       model.Key{ID: 42, UID: "04A1B2C3", OwnerID: "owner-1"},
				},
			},
			slots: map[string]int{"111/04A1B2C3": 3},
		},
	}
	h.flow = NewFlow(h.store, h.device, h.invalidator, h.announcer, Timing{})
	h.flow.now = func() time.Time { return h.now }
	h.flow.afterFunc = func(d time.Duration, f func()) *time.Timer {
		h.pending = append(h.pending, f)
		return nil
	}
	return h
}

func (h *harness) session(t *testing.T, token string) *Session {
	t.Helper()
	s, err := h.flow.Session(context.Background(), token)
	require.NoError(t, err)
	return s
}

func TestFlow_HappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.session(t, "tok-valid")

	assert.Equal(t, StateWelcome, s.State())
	assert.Equal(t, "Nour", s.View().GuestName)

	require.NoError(t, s.Start())
	assert.Equal(t, StateConfirm, s.State())

	require.NoError(t, s.Confirm("  samahy ", "111"))
	assert.Equal(t, StateOpenDoor, s.State())

	require.NoError(t, s.OpenDoor(ctx))
	assert.Equal(t, StateReleaseKey, s.State())

	require.NoError(t, s.ReleaseKey(ctx))
	assert.Equal(t, StateCloseDoor, s.State())
	assert.Equal(t, []int{3}, h.device.released)
	assert.Equal(t, []string{"tok-valid|04A1B2C3|111|204"}, h.invalidator.calls)

	require.Len(t, h.announcer.jobs, 1)
	job := h.announcer.jobs[0]
	assert.Equal(t, "owner-1", job.OwnerID)
	assert.Equal(t, "Nour Samahy", job.Notice.ClientName)
	assert.Equal(t, "204", job.Notice.RoomNo)
	require.NotNil(t, job.Notice.SlotNumber)
	assert.Equal(t, 3, *job.Notice.SlotNumber)

	require.Len(t, h.pending, 1)
	h.pending[0]()
	assert.Equal(t, StateSuccess, s.State())
	require.NotNil(t, s.Result())
	assert.True(t, s.Result().LinkUpdated)

	assert.Equal(t, []string{"door:111", "status:111", "release:111", "status:111"}, h.device.calls)
}

func TestFlow_SessionIsShared(t *testing.T) {
	h := newHarness(t)
	a := h.session(t, "tok-valid")
	b := h.session(t, "tok-valid")
	assert.Same(t, a, b)

	h.flow.Forget("tok-valid")
	c := h.session(t, "tok-valid")
	assert.NotSame(t, a, c)
}

func TestFlow_LoadExpired(t *testing.T) {
	testCases := []struct {
		name     string
		valid    bool
		past     bool
		primary  ExpiryReason
		expected []ExpiryReason
	}{
		{name: "consumed link", valid: false, past: false, primary: ReasonInvalid, expected: []ExpiryReason{ReasonInvalid}},
		{name: "check-out passed", valid: true, past: true, primary: ReasonTime, expected: []ExpiryReason{ReasonTime}},
		{name: "both, time wins", valid: false, past: true, primary: ReasonTime, expected: []ExpiryReason{ReasonTime, ReasonInvalid}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ps := h.store.sessions["tok-valid"]
			ps.Valid = tc.valid
			if tc.past {
				ps.CheckOut = h.now.Add(-time.Minute)
			}

			s := h.session(t, "tok-valid")
			v := s.View()
			assert.Equal(t, StateExpired, v.State)
			assert.Equal(t, tc.primary, v.ExpiredReason)
			assert.Equal(t, tc.expected, v.ExpiredReasons)

			assert.ErrorIs(t, s.Start(), apperr.ErrInvalidState)
			assert.Empty(t, h.device.calls)
		})
	}
}

func TestFlow_LoadUnknownToken(t *testing.T) {
	h := newHarness(t)
	s, err := h.flow.Session(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NotNil(t, s)
	assert.Equal(t, StateError, s.View().State)
	assert.NotEmpty(t, s.View().Error)
}

func TestFlow_ExpiresMidFlow(t *testing.T) {
	h := newHarness(t)
	s := h.session(t, "tok-valid")
	require.NoError(t, s.Start())

	h.now = h.now.Add(3 * time.Hour)
	err := s.Confirm("Samahy", "111")
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, StateExpired, s.State())
	assert.Equal(t, ReasonTime, s.View().ExpiredReason)
}

func TestSession_ConfirmMismatch(t *testing.T) {
	testCases := []struct {
		name      string
		lastName  string
		machineID string
		expected  MismatchError
	}{
		{name: "wrong last name", lastName: "Smith", machineID: "111", expected: MismatchError{LastName: true}},
		{name: "wrong machine", lastName: "Samahy", machineID: "112", expected: MismatchError{Machine: true}},
		{name: "both wrong", lastName: "Smith", machineID: "999", expected: MismatchError{LastName: true, Machine: true}},
		{name: "machine too short", lastName: "Samahy", machineID: "11", expected: MismatchError{Machine: true, BadFormat: true}},
		{name: "machine too long", lastName: "Samahy", machineID: "1111", expected: MismatchError{Machine: true, BadFormat: true}},
		{name: "wrong last name and short machine", lastName: "Smith", machineID: "11", expected: MismatchError{LastName: true, Machine: true, BadFormat: true}},
		{name: "empty fields", lastName: "", machineID: "", expected: MismatchError{LastName: true, Machine: true, BadFormat: true}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			s := h.session(t, "tok-valid")
			require.NoError(t, s.Start())

			err := s.Confirm(tc.lastName, tc.machineID)
			assert.ErrorIs(t, err, apperr.ErrValidationMismatch)

			var mismatch *MismatchError
			require.True(t, errors.As(err, &mismatch))
			assert.Equal(t, tc.expected, *mismatch)
			assert.Equal(t, StateConfirm, s.State())
			assert.Equal(t, mismatch.Message(), s.View().Error)
		})
	}
}

func TestSession_MismatchMessagesDiffer(t *testing.T) {
	msgs := map[string]bool{}
	for _, m := range []MismatchError{{LastName: true}, {Machine: true}, {LastName: true, Machine: true}, {Machine: true, BadFormat: true}, {LastName: true, Machine: true, BadFormat: true}} {
		msgs[m.Message()] = true
	}
	assert.Len(t, msgs, 5)
}

func TestSession_OpenDoorNotActivatedIsOffline(t *testing.T) {
	h := newHarness(t)
	h.device.door = []parse.Signal{{Kind: parse.KindUnknown, Text: "BUSY"}, relayOK}
	s := h.session(t, "tok-valid")
	require.NoError(t, s.Start())
	require.NoError(t, s.Confirm("Samahy", "111"))

	err := s.OpenDoor(context.Background())
	assert.ErrorIs(t, err, apperr.ErrTransportTimeout)
	assert.Equal(t, StateOpenDoor, s.State())
	assert.Equal(t, []string{"door:111"}, h.device.calls)

	require.NoError(t, s.OpenDoor(context.Background()))
	assert.Equal(t, StateReleaseKey, s.State())
	assert.Empty(t, s.View().Error)
}

func TestSession_OpenDoorFailures(t *testing.T) {
	testCases := []struct {
		name     string
		doorErr  error
		status   parse.Signal
		expected error
	}{
		{name: "obstructed", status: limitOn, expected: ErrDoorObstructed},
		{name: "ambiguous status", status: parse.Signal{Kind: parse.KindUnknown, Text: "??"}, expected: apperr.ErrAmbiguousResponse},
		{name: "offline", doorErr: apperr.ErrTransportTimeout, expected: apperr.ErrTransportTimeout},
		{name: "rejected", doorErr: &apperr.RejectionError{Status: 401, Detail: "bad signature"}, expected: apperr.ErrDeviceRejection},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.device.doorErr = tc.doorErr
			h.device.statuses = []parse.Signal{tc.status}
			s := h.session(t, "tok-valid")
			require.NoError(t, s.Start())
			require.NoError(t, s.Confirm("Samahy", "111"))

			assert.ErrorIs(t, s.OpenDoor(context.Background()), tc.expected)
			assert.Equal(t, StateOpenDoor, s.State())
			assert.NotEmpty(t, s.View().Error)
		})
	}
}

func TestSession_ReleaseKeyNotTaken(t *testing.T) {
	h := newHarness(t)
	h.device.statuses = []parse.Signal{limitOff, limitOn, limitOff}
	s := h.session(t, "tok-valid")
	require.NoError(t, s.Start())
	require.NoError(t, s.Confirm("Samahy", "111"))
	require.NoError(t, s.OpenDoor(context.Background()))

	assert.ErrorIs(t, s.ReleaseKey(context.Background()), ErrKeyNotTaken)
	assert.Equal(t, StateReleaseKey, s.State())
	assert.Empty(t, h.invalidator.calls)
	assert.Empty(t, h.announcer.jobs)

	require.NoError(t, s.ReleaseKey(context.Background()))
	assert.Equal(t, StateCloseDoor, s.State())
	assert.Len(t, h.invalidator.calls, 1)
}

func TestSession_ReleaseKeyUnknownSlot(t *testing.T) {
	h := newHarness(t)
	h.store.slots = map[string]int{}
	s := h.session(t, "tok-valid")
	require.NoError(t, s.Start())
	require.NoError(t, s.Confirm("Samahy", "111"))
	require.NoError(t, s.OpenDoor(context.Background()))

	assert.ErrorIs(t, s.ReleaseKey(context.Background()), ErrSlotUnknown)
	assert.Empty(t, h.device.released)
}

func TestSession_ReleaseKeyInvalidationFails(t *testing.T) {
	h := newHarness(t)
	h.device.statuses = []parse.Signal{limitOff}
	h.invalidator.err = apperr.ErrNotFound
	s := h.session(t, "tok-valid")
	require.NoError(t, s.Start())
	require.NoError(t, s.Confirm("Samahy", "111"))
	require.NoError(t, s.OpenDoor(context.Background()))

	assert.Error(t, s.ReleaseKey(context.Background()))
	assert.Equal(t, StateReleaseKey, s.State())
	assert.Empty(t, h.announcer.jobs)
	assert.Empty(t, h.pending)
}

func TestSession_SettleHonoursContext(t *testing.T) {
	h := newHarness(t)
	h.flow.timing.Settle = time.Hour
	s := h.session(t, "tok-valid")
	require.NoError(t, s.Start())
	require.NoError(t, s.Confirm("Samahy", "111"))
	require.NoError(t, s.OpenDoor(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.ReleaseKey(ctx), apperr.ErrTransportTimeout)
	assert.Equal(t, StateReleaseKey, s.State())
}

func TestSession_OutOfOrder(t *testing.T) {
	h := newHarness(t)
	s := h.session(t, "tok-valid")

	assert.ErrorIs(t, s.OpenDoor(context.Background()), apperr.ErrInvalidState)
	assert.ErrorIs(t, s.ReleaseKey(context.Background()), apperr.ErrInvalidState)
	assert.ErrorIs(t, s.Confirm("Samahy", "111"), apperr.ErrInvalidState)
	assert.Empty(t, h.device.calls)
	assert.Equal(t, StateWelcome, s.State())
}
