// Package command builds the canonical command strings understood by the
// vending machine firmware. The firmware recomputes the signature over the
// exact bytes produced here, so the layout is a compatibility contract.
package command

import (
	"strconv"
	"strings"
	"time"
)

// DeviceClass identifies which controller on the machine receives a command.
type DeviceClass string

const (
	DevicePI  DeviceClass = "PI"
	DeviceESP DeviceClass = "ESP"
)

// Command types and actions spoken by the firmware.
const (
	TypeDoor      = "DOOR"
	TypeStatus    = "STATUS"
	TypeRelay     = "RELAY"
	TypeUID       = "UID"
	TypeWhitelist = "WHITELIST"

	ActionOpen    = "OPEN"
	ActionRead    = "READ"
	ActionOn      = "ON"
	ActionRefresh = "REFRESH"
)

// Command is a single instruction for a machine.
type Command struct {
	Device DeviceClass
	Type   string
	// Target is the slot number; nil omits the segment entirely.
	Target   *int
	Action   string
	IssuedAt time.Time
	// ValidFrom and ValidUntil are set for windowed commands only.
	ValidFrom  time.Time
	ValidUntil time.Time
}

// New returns a stamped command without a slot target.
func New(device DeviceClass, typ, action string, now time.Time) Command {
	return Command{Device: device, Type: typ, Action: action, IssuedAt: now}
}

// ForSlot returns a stamped command addressed to a slot.
func ForSlot(device DeviceClass, typ string, slot int, action string, now time.Time) Command {
	c := New(device, typ, action, now)
	c.Target = &slot
	return c
}

// Windowed returns a command valid between from and until.
func Windowed(device DeviceClass, typ, action string, from, until time.Time) Command {
	return Command{Device: device, Type: typ, Action: action, IssuedAt: from, ValidFrom: from, ValidUntil: until}
}

// IsWindowed reports whether the command carries a validity window instead of a stamp.
func (c Command) IsWindowed() bool {
	return !c.ValidUntil.IsZero()
}

// Encode serializes the command using enc for every timestamp.
//
//	DEVICE:TYPE[TARGET]:ACTION|ts=<stamp>
//	DEVICE:TYPE[TARGET]:ACTION|start=<stamp>|exp=<stamp>
func (c Command) Encode(enc TimeEncoder) string {
	var b strings.Builder
	b.WriteString(string(c.Device))
	b.WriteByte(':')
	b.WriteString(c.Type)
	if c.Target != nil {
		b.WriteString(strconv.Itoa(*c.Target))
	}
	b.WriteByte(':')
	b.WriteString(c.Action)

	if c.IsWindowed() {
		b.WriteString("|start=")
		b.WriteString(enc.Encode(c.ValidFrom))
		b.WriteString("|exp=")
		b.WriteString(enc.Encode(c.ValidUntil))
		return b.String()
	}

	b.WriteString("|ts=")
	b.WriteString(enc.Encode(c.IssuedAt))
	return b.String()
}
