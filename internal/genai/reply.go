package genai

import (
	"encoding/json"
	"strings"
)

// DefaultIcon is used whenever the model did not supply a structured icon.
const DefaultIcon = "💭"

// ReplyKind tags which parse path produced a Reply.
type ReplyKind string

const (
	// ReplyStructured means the model returned a parseable {icon, message} object.
	ReplyStructured ReplyKind = "structured"
	// ReplyPlainText means the raw model text is used as the message.
	ReplyPlainText ReplyKind = "plain_text"
)

// Reply is the normalized result of one successful generate call.
type Reply struct {
	Kind    ReplyKind
	Icon    string
	Message string
}

type structuredReply struct {
	Icon    string `json:"icon"`
	Message string `json:"message"`
}

// ParseReply normalizes raw model text into a Reply. Models are asked for a
// JSON {icon, message} object but frequently wrap it in markdown fences or
// answer in prose; both degrade to the plain-text variant. A parse failure is
// not a call failure.
func ParseReply(raw string) Reply {
	trimmed := stripFences(strings.TrimSpace(raw))

	var structured structuredReply
	if err := json.Unmarshal([]byte(trimmed), &structured); err == nil && structured.Message != "" {
		icon := structured.Icon
		if icon == "" {
			icon = DefaultIcon
		}
		return Reply{Kind: ReplyStructured, Icon: icon, Message: structured.Message}
	}

	return Reply{Kind: ReplyPlainText, Icon: DefaultIcon, Message: strings.TrimSpace(raw)}
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 && !strings.HasPrefix(s, "{") {
		// Drop the language tag line (e.g. ```json).
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
