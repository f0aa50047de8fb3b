package coordinator

import (
	"math/rand"

	"golang.org/x/exp/slices"

	"github.com/windowpet/companiond/api/types"
)

// Canned offline messages, served when every generate attempt failed. Two
// pools: ordinary signals get generic company, idle/activity signals imply a
// long session and get a break-flavored nudge.
var (
	fallbackMessages = []struct {
		icon string
		text string
	}{
		{"🐾", "Still here, keeping you company."},
		{"💤", "My thoughts are offline, but I'm not going anywhere."},
		{"🌟", "No clever words right now, just good vibes."},
		{"🎈", "Quiet up here in my head. Carry on!"},
	}

	longSessionFallbacks = []struct {
		icon string
		text string
	}{
		{"☕", "That was a long stretch. Stretch?"},
		{"🌿", "You've been at it a while. A tiny break wouldn't hurt."},
		{"👀", "I lost my train of thought, but you deserve a pause."},
	}
)

// fallbackFor synthesizes an offline OutcomeMessage body for the signal that
// triggered the failed cycle.
func fallbackFor(sig types.Signal) (icon, text string) {
	pool := fallbackMessages
	if slices.Contains(prioritySignalTypes, sig.Type) {
		pool = longSessionFallbacks
	}
	pick := pool[rand.Intn(len(pool))]
	return pick.icon, pick.text
}
