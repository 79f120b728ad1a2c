package parse

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Firmware vocabulary. Matching is case-insensitive on the extracted text.
const (
	PhraseRelayActivated = "RELAY ACTIVATED"
	PhraseLimitOff       = "LIMIT SWITCH IS OFF"
	PhraseLimitOn        = "LIMIT SWITCH IS ON"
	shortLimitOff        = "LIMIT:OFF"
	shortLimitOn         = "LIMIT:ON"
)

var (
	// UID3:NONE, uid 2 = AB12CD
	slotUIDRe = regexp.MustCompile(`(?i)UID\s*(\d+)\s*[:=]\s*([A-Za-z0-9_-]+)`)

	// Fields a device may wrap its answer in, in lookup order.
	textFields = []string{"text", "status", "message", "reply", "data"}
)

// Kind is the normalized meaning of a device reply.
type Kind string

const (
	KindRelayOn  Kind = "relay_on"
	KindLimitOn  Kind = "limit_on"
	KindLimitOff Kind = "limit_off"
	KindUnknown  Kind = "unknown"
)

// Signal is a parsed device reply. Text keeps the extracted raw text for
// logging and for Unknown replies.
type Signal struct {
	Kind Kind
	// Activated is true whenever the relay confirmation phrase was present,
	// even if the reply also reported a limit switch state.
	Activated bool
	Text      string
}

// Reply turns a raw device body into a Signal.
func Reply(raw []byte) Signal {
	text := Text(raw)
	upper := strings.ToUpper(text)

	sig := Signal{
		Kind:      KindUnknown,
		Activated: strings.Contains(upper, PhraseRelayActivated),
		Text:      text,
	}

	switch {
	case strings.Contains(upper, PhraseLimitOff) || strings.Contains(upper, shortLimitOff):
		sig.Kind = KindLimitOff
	case strings.Contains(upper, PhraseLimitOn) || strings.Contains(upper, shortLimitOn):
		sig.Kind = KindLimitOn
	case sig.Activated:
		sig.Kind = KindRelayOn
	}
	return sig
}

// Text extracts the human-readable part of a reply. Devices answer with a JSON
// object carrying text/status/message, a JSON string, an object whose field is
// itself JSON-encoded, or plain text. Anything else is returned verbatim.
func Text(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return ""
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return trimmed
	}
	return textOf(v, trimmed, 0)
}

func textOf(v any, fallback string, depth int) string {
	if depth > 3 {
		return fallback
	}

	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "\"") {
			var nested any
			if err := json.Unmarshal([]byte(s), &nested); err == nil {
				return textOf(nested, s, depth+1)
			}
		}
		return s
	case map[string]any:
		// A field carrying device vocabulary wins over one that merely comes
		// first, so {"status":200,"message":"RELAY ACTIVATED"} reads as the relay.
		var first, firstString string
		found, foundString := false, false
		for _, field := range textFields {
			fv, ok := t[field]
			if !ok || fv == nil {
				continue
			}
			text := textOf(fv, fallback, depth+1)
			if recognized(text) {
				return text
			}
			if !found {
				first, found = text, true
			}
			if _, isString := fv.(string); isString && !foundString {
				firstString, foundString = text, true
			}
		}
		switch {
		case foundString:
			return firstString
		case found:
			return first
		}
		b, err := json.Marshal(t)
		if err != nil {
			return fallback
		}
		return string(b)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fallback
		}
		return string(b)
	}
}

// recognized reports whether text carries any firmware phrase.
func recognized(text string) bool {
	upper := strings.ToUpper(text)
	for _, phrase := range []string{PhraseRelayActivated, PhraseLimitOff, PhraseLimitOn, shortLimitOff, shortLimitOn} {
		if strings.Contains(upper, phrase) {
			return true
		}
	}
	return slotUIDRe.MatchString(text)
}

// SlotUID is the tag a slot reported. UID is nil when the slot is empty or
// the device could not read a tag.
type SlotUID struct {
	Slot string
	UID  *string
}

// ParseSlotUID extracts "UID<n>:<token>" from a slot scan reply.
func ParseSlotUID(text string) (SlotUID, bool) {
	m := slotUIDRe.FindStringSubmatch(text)
	if m == nil {
		return SlotUID{}, false
	}

	res := SlotUID{Slot: m[1]}
	switch strings.ToUpper(m[2]) {
	case "NONE", "UNKNOWN", "NULL":
	default:
		uid := m[2]
		res.UID = &uid
	}
	return res, true
}
