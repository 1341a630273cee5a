package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

type ReplyKind int

const (
	ReplyRaw ReplyKind = iota
	ReplyParsed
)

// replyTextFields are checked in order on structured replies.
var replyTextFields = []string{"response", "text", "answer"}

// Reply is the decoded model output. Parsed is set only for ReplyParsed.
type Reply struct {
	Kind   ReplyKind
	Parsed map[string]any
	Raw    string
}

// Text returns the user-facing text carried by the reply.
func (r Reply) Text() string {
	if r.Kind == ReplyParsed {
		if text, ok := structuredText(r.Parsed); ok {
			return text
		}
	}
	return r.Raw
}

func structuredText(obj map[string]any) (string, bool) {
	for _, field := range replyTextFields {
		if s, ok := obj[field].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

// DecodeReply interprets raw model output. A single JSON object carrying a
// non-empty response, text or answer string decodes as ReplyParsed; anything
// else is kept verbatim (trimmed) as ReplyRaw.
func DecodeReply(raw string) Reply {
	trimmed := strings.TrimSpace(raw)
	fallback := Reply{Kind: ReplyRaw, Raw: trimmed}
	if !strings.HasPrefix(trimmed, "{") {
		return fallback
	}

	obj, ok := decodeSingleObject(trimmed)
	if !ok {
		return fallback
	}
	if _, ok := structuredText(obj); !ok {
		return fallback
	}
	return Reply{Kind: ReplyParsed, Parsed: obj, Raw: trimmed}
}

func decodeSingleObject(s string) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewBufferString(s))
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return obj, true
}
