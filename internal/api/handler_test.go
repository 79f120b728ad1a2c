package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"keymatic-backend/internal/apperr"
	"keymatic-backend/internal/auth"
	"keymatic-backend/internal/db"
	"keymatic-backend/internal/device"
	"keymatic-backend/internal/notification"
	"keymatic-backend/internal/parse"
	"keymatic-backend/internal/pickup"
	"keymatic-backend/internal/presence"
	"keymatic-backend/internal/scanner"
	"keymatic-backend/internal/signing"
	"keymatic-backend/internal/store"
	"keymatic-backend/internal/timesrc"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "jwt-secret"

// kioskDevice answers like a healthy machine unless told otherwise.
type kioskDevice struct {
	mu       sync.Mutex
	offline  bool
	status   []parse.Signal
	released []int
}

func (d *kioskDevice) OpenDoor(ctx context.Context, machineID string) (parse.Signal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.offline {
		return parse.Signal{}, fmt.Errorf("%w: dial timeout", apperr.ErrTransportTimeout)
	}
	return parse.Reply([]byte(`{"text":"RELAY ACTIVATED"}`)), nil
}

func (d *kioskDevice) Status(ctx context.Context, machineID string) (parse.Signal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.status) == 0 {
		return parse.Reply([]byte("LIMIT SWITCH IS OFF")), nil
	}
	sig := d.status[0]
	d.status = d.status[1:]
	return sig, nil
}

func (d *kioskDevice) ReleaseKey(ctx context.Context, machineID string, slot int) (parse.Signal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = append(d.released, slot)
	return parse.Reply([]byte("RELAY ACTIVATED")), nil
}

type recordingAnnouncer struct {
	mu   sync.Mutex
	jobs []notification.Job
}

func (a *recordingAnnouncer) Dispatch(job notification.Job) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs = append(a.jobs, job)
	return true
}

type fakeRefresher struct {
	result *device.RefreshResult
	err    error
}

func (f *fakeRefresher) RefreshWhitelist(ctx context.Context, machineID string, window time.Duration) (*device.RefreshResult, error) {
	return f.result, f.err
}

type fakeScanner struct {
	targets []scanner.Target
	scanned []string
}

func (f *fakeScanner) Targets(ctx context.Context) ([]scanner.Target, error) {
	return f.targets, nil
}

func (f *fakeScanner) ScanMachine(ctx context.Context, target scanner.Target) scanner.Report {
	f.scanned = append(f.scanned, target.MachineID)
	return scanner.Report{MachineID: target.MachineID, Scanned: target.Slots, Occupied: map[int]string{1: "04A1B2C3"}}
}

type testServer struct {
	router    *gin.Engine
	db        *gorm.DB
	store     store.Store
	device    *kioskDevice
	announcer *recordingAnnouncer
	refresher *fakeRefresher
	scanner   *fakeScanner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gormDB))

	ts := &testServer{
		db:        gormDB,
		store:     store.NewGormStore(gormDB),
		device:    &kioskDevice{},
		announcer: &recordingAnnouncer{},
		refresher: &fakeRefresher{},
		scanner:   &fakeScanner{targets: []scanner.Target{{MachineID: "111", Slots: 4}}},
	}

	flow := pickup.NewFlow(ts.store, ts.device, presence.New(ts.store), ts.announcer, pickup.Timing{})
	controller := device.NewController(signing.NewSigner("kiosk-secret"), nil, timesrc.Local{}, time.UTC)

	ts.router = NewRouter(Deps{
		Store:           ts.store,
		Flow:            flow,
		Refresher:       ts.refresher,
		Signer:          controller,
		Scanner:         ts.scanner,
		Auth:            auth.TokenConfig{Secret: testSecret, Expiry: time.Hour},
		AdminRole:       "admin",
		RateLimit:       rate.Limit(100),
		RateBurst:       100,
		CacheTTL:        time.Minute,
		WhitelistWindow: 10 * time.Minute,
	})
	return ts
}

func bearer(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := auth.CreateToken(subject, role, auth.TokenConfig{Secret: testSecret, Expiry: time.Hour})
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
