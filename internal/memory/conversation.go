package memory

import (
	"time"

	"github.com/nrlabs/ashleyd/internal/jsonfile"
)

// ConversationRingSize is the bound named in spec.md §3.
const ConversationRingSize = 20

// ConversationTruncate is the per-entry text truncation length.
const ConversationTruncate = 500

// ConversationEntry is one turn of the bounded conversation ring.
type ConversationEntry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type conversationFile struct {
	Entries []ConversationEntry `json:"entries"`
}

// ConversationRing persists a bounded FIFO of recent chat turns to a single
// JSON file, per spec.md §3/§6.7 (.conversation-buffer.json).
type ConversationRing struct {
	store *jsonfile.Store
}

// NewConversationRing returns a ring persisted at path.
func NewConversationRing(path string) *ConversationRing {
	return &ConversationRing{store: jsonfile.Open(path)}
}

// Append adds an entry, truncating text and trimming from the head once
// the ring exceeds ConversationRingSize.
func (r *ConversationRing) Append(role, text string, at time.Time) error {
	if len(text) > ConversationTruncate {
		text = text[:ConversationTruncate]
	}
	var f conversationFile
	return r.store.Update(&f, func() error {
		f.Entries = append(f.Entries, ConversationEntry{Role: role, Text: text, Timestamp: at})
		if len(f.Entries) > ConversationRingSize {
			f.Entries = f.Entries[len(f.Entries)-ConversationRingSize:]
		}
		return nil
	})
}

// Last returns the most recent n entries (fewer if the ring has less).
func (r *ConversationRing) Last(n int) ([]ConversationEntry, error) {
	var f conversationFile
	if err := r.store.Read(&f); err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(f.Entries) {
		return f.Entries, nil
	}
	return f.Entries[len(f.Entries)-n:], nil
}
