package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"keymatic-backend/internal/command"
	"keymatic-backend/internal/model"
)

type createPickupRequest struct {
	ClientID  int64     `json:"clientId" binding:"required"`
	KeyID     int64     `json:"keyId" binding:"required"`
	MachineID string    `json:"machineId"`
	CheckIn   time.Time `json:"checkIn"`
	CheckOut  time.Time `json:"checkOut" binding:"required"`
}

// CreatePickup issues a single-use pickup link for a client and key.
func (h *Handler) CreatePickup(c *gin.Context) {
	var req createPickupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !req.CheckIn.IsZero() && !req.CheckOut.After(req.CheckIn) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "checkOut must be after checkIn"})
		return
	}

	ctx := c.Request.Context()
	client, err := h.store.GetClient(ctx, req.ClientID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	key, err := h.store.GetKey(ctx, req.KeyID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	machineID := strings.TrimSpace(req.MachineID)
	if machineID == "" {
		machineID = key.MachineID
	}
	if machineID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is not assigned to a machine"})
		return
	}

	session := model.PickupSession{
		Token:     h.newToken(),
		ClientID:  client.ID,
		KeyID:     key.ID,
		MachineID: machineID,
		RoomNo:    key.RoomNo,
		KeyUID:    key.UID,
		CheckIn:   req.CheckIn,
		CheckOut:  req.CheckOut,
		Valid:     true,
	}
	if err := h.store.CreatePickupSession(ctx, &session); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token": session.Token,
		"path":  "/pickup/" + session.Token,
	})
}

type signRequest struct {
	Device        string `json:"device" binding:"required"`
	Type          string `json:"type" binding:"required"`
	Target        *int   `json:"target"`
	Action        string `json:"action" binding:"required"`
	WindowMinutes int    `json:"windowMinutes"`
}

// SignCommand builds and signs a command for test tooling. The shared
// secret never leaves the server.
func (h *Handler) SignCommand(c *gin.Context) {
	var req signRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	dev := command.DeviceClass(strings.ToUpper(req.Device))
	if dev != command.DevicePI && dev != command.DeviceESP {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device must be PI or ESP"})
		return
	}
	typ, action := strings.ToUpper(req.Type), strings.ToUpper(req.Action)

	now := h.now()
	var cmd command.Command
	switch {
	case req.WindowMinutes > 0:
		cmd = command.Windowed(dev, typ, action, now, now.Add(time.Duration(req.WindowMinutes)*time.Minute))
	case req.Target != nil:
		cmd = command.ForSlot(dev, typ, *req.Target, action, now)
	default:
		cmd = command.New(dev, typ, action, now)
	}

	signed, err := h.signer.Sign(cmd)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, signed)
}
