package api

import (
	"context"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"keymatic-backend/internal/command"
	"keymatic-backend/internal/device"
	"keymatic-backend/internal/pickup"
	"keymatic-backend/internal/scanner"
	"keymatic-backend/internal/store"
)

// Refresher pushes a fresh whitelist window to a machine.
type Refresher interface {
	RefreshWhitelist(ctx context.Context, machineID string, window time.Duration) (*device.RefreshResult, error)
}

// CommandSigner signs a command on behalf of test tooling.
type CommandSigner interface {
	Sign(cmd command.Command) (device.Signed, error)
}

// SlotScanner inventories a single machine.
type SlotScanner interface {
	Targets(ctx context.Context) ([]scanner.Target, error)
	ScanMachine(ctx context.Context, target scanner.Target) scanner.Report
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	flow      *pickup.Flow
	refresher Refresher
	signer    CommandSigner
	scanner   SlotScanner
	webpush   *webpush.Options
	whitelist time.Duration
	cache     *cache.Cache
	newToken  func() string
	now       func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		store:     deps.Store,
		flow:      deps.Flow,
		refresher: deps.Refresher,
		signer:    deps.Signer,
		scanner:   deps.Scanner,
		webpush:   deps.Webpush,
		whitelist: deps.WhitelistWindow,
		cache:     cache.New(deps.CacheTTL, 2*deps.CacheTTL),
		newToken:  uuid.NewString,
		now:       time.Now,
	}
}
