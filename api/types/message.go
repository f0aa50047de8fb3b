package types

import "time"

// MessageFormat records which code path produced an OutcomeMessage.
type MessageFormat string

const (
	// FormatStructured means the generate call returned a parseable
	// {icon, message} payload.
	FormatStructured MessageFormat = "structured"
	// FormatPlainText means the generate call succeeded but the body was
	// treated as raw text with a default icon.
	FormatPlainText MessageFormat = "plain_text"
	// FormatFallback means every attempt failed and a canned offline
	// message was served instead.
	FormatFallback MessageFormat = "fallback"
)

// MessageContext describes the cycle that produced an OutcomeMessage.
type MessageContext struct {
	SignalType SignalType    `json:"signal_type"`
	Source     string        `json:"source"`
	Format     MessageFormat `json:"format"`
}

// OutcomeMessage is the user-visible result of one coordinator cycle. It is
// pushed to every registered listener; the coordinator itself only retains it
// in the bounded history cache.
type OutcomeMessage struct {
	ID        string         `json:"id"`
	Icon      string         `json:"icon"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
	Context   MessageContext `json:"context"`
}
