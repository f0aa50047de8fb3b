package coordinator

import (
	"fmt"
	"strings"
	"time"

	"github.com/windowpet/companiond/api/types"
)

// systemInstruction is the personality prompt sent with every generate call.
// The exact wording is not load-bearing; the JSON shape request is what the
// reply parser keys on.
const systemInstruction = `You are a small desktop pet companion. You watch the user's day ` +
	`through tiny signals and react with one short, friendly thought. ` +
	`Answer with a single JSON object of the form {"icon": "<one emoji>", "message": "<one sentence>"} ` +
	`and nothing else. Keep the message under 120 characters.`

const maxDerivedFieldLen = 48

// PromptContext is the lightweight, size-bounded context forwarded to the
// generate call. Raw payload blobs (clipboard text, window titles and the
// like) never leave the process; only derived fields do.
type PromptContext struct {
	SignalType     types.SignalType
	Classification string
	TimeOfDay      string
	City           string
}

// BuildPromptContext derives the bounded context for one signal.
func BuildPromptContext(sig types.Signal, city string, now time.Time) PromptContext {
	return PromptContext{
		SignalType:     sig.Type,
		Classification: classify(sig),
		TimeOfDay:      timeOfDay(now),
		City:           truncateField(city),
	}
}

// UserQuery renders the context into the user prompt.
func (pc PromptContext) UserQuery() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Signal: %s.", pc.SignalType)
	if pc.Classification != "" {
		fmt.Fprintf(&b, " About: %s.", pc.Classification)
	}
	fmt.Fprintf(&b, " Time of day: %s.", pc.TimeOfDay)
	if pc.City != "" {
		fmt.Fprintf(&b, " City: %s.", pc.City)
	}
	b.WriteString(" React with one short thought.")
	return b.String()
}

// classify reduces an opaque payload to one short label. Collaborators may
// attach anything; only a handful of well-known small fields are considered,
// and whatever is found is truncated.
func classify(sig types.Signal) string {
	for _, field := range []string{"category", "kind", "app", "summary"} {
		if v, ok := sig.Payload[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				return truncateField(s)
			}
		}
	}
	return ""
}

func timeOfDay(now time.Time) string {
	switch hour := now.Hour(); {
	case hour < 5:
		return "late night"
	case hour < 12:
		return "morning"
	case hour < 18:
		return "afternoon"
	default:
		return "evening"
	}
}

func truncateField(s string) string {
	if len(s) <= maxDerivedFieldLen {
		return s
	}
	return s[:maxDerivedFieldLen]
}
