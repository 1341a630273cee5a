// Package sse renders a reply as server-sent events in fixed word groups.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode"
)

const (
	ContentType = "text/event-stream"
	ChunkWords  = 3
)

var doneEvent = []byte("data: {\"done\": true}\n\n")

// Chunk splits text into groups of size words. Each word carries the
// whitespace that follows it, and leading whitespace rides on the first
// word, so joining the chunks yields text unchanged. Whitespace-only text
// yields no chunks.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = ChunkWords
	}
	words := splitWords(text)
	chunks := make([]string, 0, (len(words)+size-1)/size)
	for start := 0; start < len(words); start += size {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], ""))
	}
	return chunks
}

// splitWords cuts text where a word begins after whitespace that itself
// follows an earlier word.
func splitWords(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var words []string
	start := 0
	seenWord, prevSpace := false, false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space {
			if seenWord && prevSpace {
				words = append(words, text[start:i])
				start = i
			}
			seenWord = true
		}
		prevSpace = space
	}
	return append(words, text[start:])
}

// SetHeaders prepares h for an event stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
}

// Write streams text to w as data events followed by the done event.
// flush, when non-nil, runs after every event.
func Write(w io.Writer, flush func(), text string) error {
	for _, chunk := range Chunk(text, ChunkWords) {
		data, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("sse: marshal chunk: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: {\"text\": %s}\n\n", data); err != nil {
			return fmt.Errorf("sse: write chunk: %w", err)
		}
		if flush != nil {
			flush()
		}
	}
	if _, err := w.Write(doneEvent); err != nil {
		return fmt.Errorf("sse: write done: %w", err)
	}
	if flush != nil {
		flush()
	}
	return nil
}

// Body returns the whole event stream for text as one string, for
// transports that cannot flush incrementally.
func Body(text string) string {
	var buf bytes.Buffer
	_ = Write(&buf, nil, text)
	return buf.String()
}
