package device

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"keymatic-backend/internal/apperr"
	"keymatic-backend/internal/command"
	"keymatic-backend/internal/dispatch"
	"keymatic-backend/internal/parse"
	"keymatic-backend/internal/signing"
	"keymatic-backend/internal/timesrc"
)

// Sender delivers a signed command to a machine.
type Sender interface {
	Dispatch(ctx context.Context, machineID, cmd, sig string) (*dispatch.Reply, error)
}

// Controller builds, signs and sends commands and interprets the replies.
type Controller struct {
	signer *signing.Signer
	sender Sender
	clock  timesrc.Source
	local  command.LocalISO
}

// NewController creates a Controller. loc is used for windowed commands.
func NewController(signer *signing.Signer, sender Sender, clock timesrc.Source, loc *time.Location) *Controller {
	return &Controller{
		signer: signer,
		sender: sender,
		clock:  clock,
		local:  command.LocalISO{Location: loc},
	}
}

// Signed is a command string with its signature.
type Signed struct {
	Cmd string `json:"cmd"`
	Sig string `json:"sig"`
}

// Sign encodes and signs cmd. Windowed commands use the local layout, all
// others epoch seconds.
func (c *Controller) Sign(cmd command.Command) (Signed, error) {
	var enc command.TimeEncoder = command.EpochSeconds{}
	if cmd.IsWindowed() {
		enc = c.local
	}
	encoded := cmd.Encode(enc)
	sig, err := c.signer.Sign(encoded)
	if err != nil {
		return Signed{}, err
	}
	return Signed{Cmd: encoded, Sig: sig}, nil
}

// Send signs and dispatches cmd and returns the raw reply.
func (c *Controller) Send(ctx context.Context, machineID string, cmd command.Command) (*dispatch.Reply, error) {
	signed, err := c.Sign(cmd)
	if err != nil {
		return nil, err
	}
	log.Printf("Dispatching %s:%s%s:%s to machine %s", cmd.Device, cmd.Type, targetLabel(cmd), cmd.Action, machineID)
	return c.sender.Dispatch(ctx, machineID, signed.Cmd, signed.Sig)
}

func (c *Controller) exchange(ctx context.Context, machineID string, cmd command.Command) (parse.Signal, error) {
	reply, err := c.Send(ctx, machineID, cmd)
	if err != nil {
		return parse.Signal{}, err
	}
	return parse.Reply(reply.Body), nil
}

// OpenDoor triggers the door relay.
func (c *Controller) OpenDoor(ctx context.Context, machineID string) (parse.Signal, error) {
	return c.exchange(ctx, machineID, command.New(command.DevicePI, command.TypeDoor, command.ActionOpen, c.clock.Now(ctx)))
}

// Status reads the limit switch.
func (c *Controller) Status(ctx context.Context, machineID string) (parse.Signal, error) {
	return c.exchange(ctx, machineID, command.New(command.DevicePI, command.TypeStatus, command.ActionRead, c.clock.Now(ctx)))
}

// ReleaseKey fires the key-release relay of slot.
func (c *Controller) ReleaseKey(ctx context.Context, machineID string, slot int) (parse.Signal, error) {
	return c.exchange(ctx, machineID, command.ForSlot(command.DeviceESP, command.TypeRelay, slot, command.ActionOn, c.clock.Now(ctx)))
}

// ReadSlot asks which tag occupies slot.
func (c *Controller) ReadSlot(ctx context.Context, machineID string, slot int) (parse.SlotUID, error) {
	cmd := command.ForSlot(command.DeviceESP, command.TypeUID, slot, command.ActionRead, c.clock.Now(ctx))
	reply, err := c.Send(ctx, machineID, cmd)
	if err != nil {
		return parse.SlotUID{}, err
	}

	text := parse.Text(reply.Body)
	res, ok := parse.ParseSlotUID(text)
	if !ok {
		return parse.SlotUID{}, fmt.Errorf("%w: slot %d replied %q", apperr.ErrAmbiguousResponse, slot, text)
	}
	if res.Slot != strconv.Itoa(slot) {
		return parse.SlotUID{}, fmt.Errorf("%w: asked slot %d, device answered slot %s", apperr.ErrAmbiguousResponse, slot, res.Slot)
	}
	return res, nil
}

// RefreshResult is the machine's answer to a whitelist refresh.
type RefreshResult struct {
	Status int
	Reply  string
}

// RefreshWhitelist sends a windowed refresh valid from now for window.
func (c *Controller) RefreshWhitelist(ctx context.Context, machineID string, window time.Duration) (*RefreshResult, error) {
	now := time.Now()
	cmd := command.Windowed(command.DevicePI, command.TypeWhitelist, command.ActionRefresh, now, now.Add(window))
	reply, err := c.Send(ctx, machineID, cmd)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{Status: reply.Status, Reply: parse.Text(reply.Body)}, nil
}

func targetLabel(cmd command.Command) string {
	if cmd.Target == nil {
		return ""
	}
	return strconv.Itoa(*cmd.Target)
}
