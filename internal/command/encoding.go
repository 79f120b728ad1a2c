package command

import (
	"strconv"
	"time"
)

// LocalLayout is the offset-free layout the whitelist firmware expects.
const LocalLayout = "2006-01-02T15:04:05"

// TimeEncoder renders a timestamp inside a command string.
type TimeEncoder interface {
	Encode(t time.Time) string
}

// EpochSeconds renders Unix seconds. Used by the kiosk flows.
type EpochSeconds struct{}

func (EpochSeconds) Encode(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// LocalISO renders wall-clock time in Location without any offset suffix.
// Used by the admin whitelist refresh.
type LocalISO struct {
	Location *time.Location
}

func (e LocalISO) Encode(t time.Time) string {
	loc := e.Location
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(LocalLayout)
}
