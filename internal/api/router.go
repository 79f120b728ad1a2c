package api

import (
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"keymatic-backend/internal/auth"
	"keymatic-backend/internal/mw"
	"keymatic-backend/internal/pickup"
	"keymatic-backend/internal/store"
)

// Deps is everything the router wires into its handlers.
type Deps struct {
	Store     store.Store
	Flow      *pickup.Flow
	Refresher Refresher
	Signer    CommandSigner
	Scanner   SlotScanner
	Webpush   *webpush.Options

	Auth      auth.TokenConfig
	AdminRole string

	RateLimit       rate.Limit
	RateBurst       int
	CacheTTL        time.Duration
	WhitelistWindow time.Duration
}

// NewRouter creates and configures a new Gin router.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.Default()
	handler := NewHandler(deps)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	// Kiosk: one bucket per client and token.
	kiosk := api.Group("/pickup/:token")
	kiosk.Use(mw.RateLimiter(deps.RateLimit, deps.RateBurst, mw.ByParam("token")))
	{
		kiosk.GET("", handler.GetPickup)
		kiosk.POST("/start", handler.StartPickup)
		kiosk.POST("/confirm", handler.ConfirmPickup)
		kiosk.POST("/open-door", handler.OpenDoor)
		kiosk.POST("/release-key", handler.ReleaseKey)
	}

	api.GET("/vapid_public_key", mw.RateLimiter(deps.RateLimit, deps.RateBurst, mw.ByClientIP), handler.GetVAPIDPublicKey)

	owner := api.Group("/owner")
	owner.Use(mw.RequireAuth(deps.Auth))
	{
		owner.GET("/subscriptions", handler.GetSubscriptions)
		owner.PUT("/subscriptions", handler.PutSubscription)
		owner.DELETE("/subscriptions", handler.DeleteSubscription)
	}

	admin := api.Group("/admin")
	admin.Use(mw.RequireAuth(deps.Auth), mw.RequireRole(deps.AdminRole))
	{
		admin.GET("/machines", mw.Cache(handler.cache, deps.CacheTTL, machinesCachePrefix), handler.ListMachines)
		admin.POST("/machines/:machine/refresh", handler.RefreshMachine)
		admin.POST("/machines/:machine/scan", handler.ScanMachine)
		admin.POST("/pickups", handler.CreatePickup)
		admin.POST("/sign", handler.SignCommand)
	}

	return r
}
