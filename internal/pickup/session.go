package pickup

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"keymatic-backend/internal/apperr"
	"keymatic-backend/internal/model"
	"keymatic-backend/internal/notification"
	"keymatic-backend/internal/parse"
	"keymatic-backend/internal/presence"
)

// Session is one guest's pass through the flow. All transitions are
// serialized; a kiosk has one guest at a time.
type Session struct {
	mu      sync.Mutex
	flow    *Flow
	token   string
	record  model.PickupSession
	state   State
	reasons []ExpiryReason
	err     error
	result  *presence.Result
}

// View is what the kiosk renders.
type View struct {
	State          State          `json:"state"`
	ExpiredReason  ExpiryReason   `json:"expiredReason,omitempty"`
	ExpiredReasons []ExpiryReason `json:"expiredReasons,omitempty"`
	GuestName      string         `json:"guestName,omitempty"`
	RoomNo         string         `json:"roomNo,omitempty"`
	CheckIn        *time.Time     `json:"checkIn,omitempty"`
	CheckOut       *time.Time     `json:"checkOut,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// View returns a snapshot for rendering.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{State: s.state, Error: userMessage(s.err)}
	if s.state == StateError {
		return v
	}

	v.GuestName = s.record.Client.FirstName
	v.RoomNo = s.record.RoomNo
	if !s.record.CheckIn.IsZero() {
		checkIn := s.record.CheckIn
		v.CheckIn = &checkIn
	}
	if !s.record.CheckOut.IsZero() {
		checkOut := s.record.CheckOut
		v.CheckOut = &checkOut
	}
	if s.state == StateExpired {
		v.ExpiredReasons = append([]ExpiryReason(nil), s.reasons...)
		v.ExpiredReason = primaryReason(s.reasons)
	}
	return v
}

// Result returns what the invalidation changed, once the key was released.
func (s *Session) Result() *presence.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func primaryReason(reasons []ExpiryReason) ExpiryReason {
	for _, r := range reasons {
		if r == ReasonTime {
			return ReasonTime
		}
	}
	if len(reasons) > 0 {
		return reasons[0]
	}
	return ""
}

// expect checks the current state; s.mu must be held.
func (s *Session) expect(want State) error {
	if s.state != want {
		return fmt.Errorf("%w: in %s, expected %s", apperr.ErrInvalidState, s.state, want)
	}
	return nil
}

// fail records err as the visible error and returns it; s.mu must be held.
func (s *Session) fail(err error) error {
	s.err = err
	return err
}

// checkExpiry moves the session to expired when check-out passed mid-flow.
func (s *Session) checkExpiry() error {
	if s.record.CheckOut.IsZero() || !s.flow.now().After(s.record.CheckOut) {
		return nil
	}
	s.state = StateExpired
	s.reasons = []ExpiryReason{ReasonTime}
	return s.fail(ErrExpired)
}

// Start moves from welcome to confirm.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(StateWelcome); err != nil {
		return err
	}
	s.state = StateConfirm
	s.err = nil
	return nil
}

// Confirm checks the guest's last name and the machine id typed on the keypad.
func (s *Session) Confirm(lastName, machineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(StateConfirm); err != nil {
		return err
	}
	if err := s.checkExpiry(); err != nil {
		return err
	}

	machineID = strings.TrimSpace(machineID)
	badFormat := len([]rune(machineID)) != 3
	mismatch := &MismatchError{
		LastName:  !strings.EqualFold(strings.TrimSpace(lastName), strings.TrimSpace(s.record.Client.LastName)),
		Machine:   badFormat || !strings.EqualFold(machineID, strings.TrimSpace(s.record.MachineID)),
		BadFormat: badFormat,
	}
	if mismatch.LastName || mismatch.Machine {
		return s.fail(mismatch)
	}

	s.state = StateOpenDoor
	s.err = nil
	return nil
}

// OpenDoor fires the door relay and, once the machine confirms activation,
// reads the limit switch. OFF means the door is open.
func (s *Session) OpenDoor(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(StateOpenDoor); err != nil {
		return err
	}
	if err := s.checkExpiry(); err != nil {
		return err
	}

	machineID := s.record.MachineID
	sig, err := s.flow.device.OpenDoor(ctx, machineID)
	if err != nil {
		log.Printf("Pickup %s: door open on %s failed (%s): %v", shortToken(s.token), machineID, classify(err), err)
		return s.fail(err)
	}
	if !sig.Activated {
		log.Printf("Pickup %s: door open on %s not confirmed: %q", shortToken(s.token), machineID, sig.Text)
		return s.fail(fmt.Errorf("%w: door relay not confirmed", apperr.ErrTransportTimeout))
	}

	status, err := s.flow.device.Status(ctx, machineID)
	if err != nil {
		return s.fail(err)
	}

	switch status.Kind {
	case parse.KindLimitOff:
		s.state = StateReleaseKey
		s.err = nil
		return nil
	case parse.KindLimitOn:
		return s.fail(ErrDoorObstructed)
	default:
		return s.fail(fmt.Errorf("%w: door status %q", apperr.ErrAmbiguousResponse, status.Text))
	}
}

// ReleaseKey fires the slot relay, lets the mechanism settle and reads the
// limit switch. OFF means the key left the slot: the link is consumed, the
// owner is notified and the door closes.
func (s *Session) ReleaseKey(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(StateReleaseKey); err != nil {
		return err
	}
	if err := s.checkExpiry(); err != nil {
		return err
	}

	machineID := s.record.MachineID
	uid := s.keyUID()

	slot, err := s.slotNumber(ctx, machineID, uid)
	if err != nil {
		return s.fail(err)
	}

	if _, err := s.flow.device.ReleaseKey(ctx, machineID, slot); err != nil {
		log.Printf("Pickup %s: release of slot %d on %s failed (%s): %v", shortToken(s.token), slot, machineID, classify(err), err)
		return s.fail(err)
	}

	if err := s.flow.wait(ctx, s.flow.timing.Settle); err != nil {
		return s.fail(err)
	}

	status, err := s.flow.device.Status(ctx, machineID)
	if err != nil {
		return s.fail(err)
	}

	switch status.Kind {
	case parse.KindLimitOn:
		return s.fail(ErrKeyNotTaken)
	case parse.KindLimitOff:
	default:
		return s.fail(fmt.Errorf("%w: release status %q", apperr.ErrAmbiguousResponse, status.Text))
	}

	res, err := s.flow.invalidator.Invalidate(ctx, s.token, uid, machineID, s.record.RoomNo)
	if err != nil {
		log.Printf("Pickup %s: recording pickup failed: %v", shortToken(s.token), err)
		return s.fail(err)
	}
	s.result = &res
	s.record.Valid = false
	log.Printf("Pickup %s complete: link=%t key=%t slots=%d (%s)", shortToken(s.token), res.LinkUpdated, res.KeyUpdated, res.SlotsCleared, res.Strategy)

	s.announce(slot)

	s.state = StateCloseDoor
	s.err = nil
	s.flow.afterFunc(s.flow.timing.Dwell, s.finish)
	return nil
}

// finish is the optimistic closeDoor -> success step.
func (s *Session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCloseDoor {
		s.state = StateSuccess
	}
}

func (s *Session) keyUID() string {
	if s.record.KeyUID != "" {
		return s.record.KeyUID
	}
	return s.record.Key.UID
}

func (s *Session) slotNumber(ctx context.Context, machineID, uid string) (int, error) {
	if uid == "" {
		return 0, fmt.Errorf("%w: pickup has no key uid", ErrSlotUnknown)
	}
	slot, err := s.flow.store.FindSlotByUID(ctx, machineID, uid)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSlotUnknown, err)
	}
	return slot.SlotNumber, nil
}

func (s *Session) announce(slot int) {
	if s.flow.announcer == nil {
		return
	}
	client := s.record.Client
	s.flow.announcer.Dispatch(notification.Job{
		OwnerID: s.record.Key.OwnerID,
		Notice: notification.Notice{
			ClientID:        s.record.ClientID,
			ClientEmail:     client.Email,
			ClientFirstName: client.FirstName,
			ClientLastName:  client.LastName,
			ClientName:      client.FullName(),
			KeyID:           s.record.KeyID,
			MachineID:       s.record.MachineID,
			RoomNo:          s.record.RoomNo,
			CheckIn:         s.record.CheckIn,
			CheckOut:        s.record.CheckOut,
			UID:             s.keyUID(),
			SlotNumber:      &slot,
		},
	})
}
