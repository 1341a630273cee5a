package domain

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is a single persisted message in a conversation.
// Turns are immutable once written and ordered by Timestamp ascending.
type ConversationTurn struct {
	SubjectID      string
	ConversationID string
	Role           Role
	Content        string
	Timestamp      time.Time
	Metadata       map[string]string
}

// ChatRecord is one entry of the subject-wide chat log kept in the document store.
type ChatRecord struct {
	Role      Role
	Content   string
	Timestamp time.Time
}
