package store

// SlotMatch selects which key slot rows a slot-clearing update may touch.
// The variants go from strict to relaxed; UID casing and machine scoping are
// inconsistent across firmware versions and manually entered data.
type SlotMatch string

const (
	// MatchScoped: same machine, exact UID, not yet removed.
	MatchScoped SlotMatch = "scoped-exact"
	// MatchUnscoped: any machine, exact UID, not yet removed.
	MatchUnscoped SlotMatch = "unscoped-exact"
	// MatchUnguarded: any machine, exact UID, removal stamp ignored.
	MatchUnguarded SlotMatch = "unscoped-no-guard"
	// MatchCaseFolded: any machine, upper- or lower-cased UID.
	MatchCaseFolded SlotMatch = "case-folded"
)

// MachineSlots is a machine with its current slot occupancy.
type MachineSlots struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	BaseURL     string     `json:"baseUrl,omitempty"`
	Capacity    int        `json:"capacity"`
	Slots       []SlotView `json:"slots"`
}

// SlotView is a single slot in MachineSlots.
type SlotView struct {
	Number int     `json:"number"`
	UID    *string `json:"uid"`
}
