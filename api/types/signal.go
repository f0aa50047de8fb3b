package types

import "time"

// SignalType identifies the kind of trigger event a collaborator observed.
type SignalType string

const (
	SignalWindowChange    SignalType = "window_change"
	SignalClipboardUpdate SignalType = "clipboard_update"
	SignalIdleDetected    SignalType = "idle_detected"
	SignalActivitySpike   SignalType = "activity_spike"
	SignalWeatherUpdate   SignalType = "weather_update"
)

// ValidSignalTypes lists every signal type the coordinator accepts.
var ValidSignalTypes = []SignalType{
	SignalWindowChange,
	SignalClipboardUpdate,
	SignalIdleDetected,
	SignalActivitySpike,
	SignalWeatherUpdate,
}

// IsValid reports whether st is one of the known signal types.
func (st SignalType) IsValid() bool {
	for _, t := range ValidSignalTypes {
		if st == t {
			return true
		}
	}
	return false
}

// SignalPayload is opaque collaborator-defined data attached to a signal.
// The coordinator never forwards it verbatim to the generate call.
type SignalPayload map[string]interface{}

// Signal is one externally observed trigger event. Signals are immutable
// after creation.
type Signal struct {
	ID        string        `json:"id"`
	Type      SignalType    `json:"type"`
	Payload   SignalPayload `json:"payload,omitempty"`
	Source    string        `json:"source"`
	Timestamp time.Time     `json:"timestamp"`
}

// SignalRequest is the wire form accepted by POST /signal.
type SignalRequest struct {
	Type    SignalType    `json:"type"`
	Payload SignalPayload `json:"payload,omitempty"`
	Source  string        `json:"source"`
}

// SignalResponse acknowledges an accepted signal.
type SignalResponse struct {
	Accepted   bool `json:"accepted"`
	QueueDepth int  `json:"queue_depth"`
}

// SignalError is returned when a signal request cannot be processed.
type SignalError struct {
	Error string `json:"error"`
}
