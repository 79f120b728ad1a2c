package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"keymatic-backend/internal/apperr"
	"keymatic-backend/internal/mw"
	"keymatic-backend/internal/scanner"
)

const machinesCachePrefix = "machines:"

// RefreshMachine sends a whitelist refresh to a statically configured machine.
func (h *Handler) RefreshMachine(c *gin.Context) {
	machine := c.Param("machine")

	res, err := h.refresher.RefreshWhitelist(c.Request.Context(), machine, h.whitelist)
	if err != nil {
		log.Printf("Whitelist refresh of %s failed: %v", machine, err)

		var rejection *apperr.RejectionError
		switch {
		case errors.Is(err, apperr.ErrConfiguration):
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "machine not configured", "detail": err.Error()})
		case errors.As(err, &rejection):
			c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "machine rejected command", "detail": rejection.Detail})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": "machine unreachable", "detail": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"machine":  machine,
		"piStatus": res.Status,
		"piReply":  res.Reply,
	})
}

// ScanMachine inventories every slot of one machine.
func (h *Handler) ScanMachine(c *gin.Context) {
	machine := c.Param("machine")

	targets, err := h.scanner.Targets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var target *scanner.Target
	for i := range targets {
		if targets[i].MachineID == machine {
			target = &targets[i]
			break
		}
	}
	if target == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "machine not found"})
		return
	}

	report := h.scanner.ScanMachine(c.Request.Context(), *target)
	mw.Purge(h.cache, machinesCachePrefix)
	c.JSON(http.StatusOK, report)
}

// ListMachines returns every registered machine with its slot occupancy.
func (h *Handler) ListMachines(c *gin.Context) {
	machines, err := h.store.ListMachines(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve machines"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"machines": machines})
}
