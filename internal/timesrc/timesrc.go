// Package timesrc provides the timestamps stamped into kiosk commands.
// Machines reject commands whose stamp drifts from their own clock, so the
// server aligns itself with the same time service the firmware uses.
package timesrc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	offsetKey = "offset"
	// failureBackoff bounds how long the local clock is trusted after the
	// time service failed.
	failureBackoff = 30 * time.Second
)

// Source returns the current time.
type Source interface {
	Now(ctx context.Context) time.Time
}

// Local is the host clock.
type Local struct{}

func (Local) Now(context.Context) time.Time { return time.Now() }

type timeResponse struct {
	UnixTime int64 `json:"unixtime"`
}

// Trusted follows an HTTP time service answering {"unixtime": <seconds>}.
// The offset to the local clock is cached; on failure the local clock is used
// and a zero offset is cached for a short backoff.
type Trusted struct {
	url    string
	client *http.Client
	cache  *cache.Cache
	ttl    time.Duration
	retry  time.Duration
	now    func() time.Time
}

// NewTrusted creates a Trusted source.
func NewTrusted(url string, timeout, ttl time.Duration) *Trusted {
	retry := failureBackoff
	if ttl < retry {
		retry = ttl
	}
	return &Trusted{
		url:    url,
		client: &http.Client{Timeout: timeout},
		cache:  cache.New(ttl, 2*ttl),
		ttl:    ttl,
		retry:  retry,
		now:    time.Now,
	}
}

func (t *Trusted) Now(ctx context.Context) time.Time {
	local := t.now()
	if v, found := t.cache.Get(offsetKey); found {
		return local.Add(v.(time.Duration))
	}

	remote, err := t.fetch(ctx)
	if err != nil {
		log.Printf("Warning: trusted time unavailable, using local clock for %s: %v", t.retry, err)
		t.cache.Set(offsetKey, time.Duration(0), t.retry)
		return local
	}

	offset := remote.Sub(local).Truncate(time.Second)
	t.cache.Set(offsetKey, offset, t.ttl)
	return local.Add(offset)
}

func (t *Trusted) fetch(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	var tr timeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode time response: %w", err)
	}
	if tr.UnixTime <= 0 {
		return time.Time{}, fmt.Errorf("time response has no unixtime")
	}
	return time.Unix(tr.UnixTime, 0), nil
}
