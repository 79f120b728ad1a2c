package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"keymatic-backend/internal/pickup"
)

// GetPickup returns the current screen for a pickup link.
func (h *Handler) GetPickup(c *gin.Context) {
	s, err := h.flow.Session(c.Request.Context(), c.Param("token"))
	if err != nil {
		c.JSON(statusFor(err), s.View())
		return
	}
	c.JSON(http.StatusOK, s.View())
}

// StartPickup moves welcome -> confirm.
func (h *Handler) StartPickup(c *gin.Context) {
	h.transition(c, func(s *pickup.Session) error {
		return s.Start()
	})
}

type confirmRequest struct {
	LastName  string `json:"lastName"`
	MachineID string `json:"machineId"`
}

// ConfirmPickup checks the guest's last name and machine id.
func (h *Handler) ConfirmPickup(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	h.transition(c, func(s *pickup.Session) error {
		return s.Confirm(req.LastName, req.MachineID)
	})
}

// OpenDoor opens the machine door.
func (h *Handler) OpenDoor(c *gin.Context) {
	h.transition(c, func(s *pickup.Session) error {
		return s.OpenDoor(c.Request.Context())
	})
}

// ReleaseKey releases the guest's key.
func (h *Handler) ReleaseKey(c *gin.Context) {
	h.transition(c, func(s *pickup.Session) error {
		return s.ReleaseKey(c.Request.Context())
	})
}

func (h *Handler) transition(c *gin.Context, step func(s *pickup.Session) error) {
	s, err := h.flow.Session(c.Request.Context(), c.Param("token"))
	if err != nil {
		c.JSON(statusFor(err), s.View())
		return
	}

	err = step(s)
	view := s.View()
	if err != nil && view.Error == "" {
		view.Error = err.Error()
	}
	c.JSON(kioskStatus(err), view)
}
