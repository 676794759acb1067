package session

import "time"

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultTitle is the placeholder title of a session without user messages
const DefaultTitle = "New Chat"

// Message represents a single chat message
type Message struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	Role        Role   `json:"role"`
	Timestamp   int64  `json:"timestamp"`
	IsStreaming bool   `json:"isStreaming,omitempty"`
}

// ChatSession represents a chat session
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
}

// New creates an empty session stamped with now
func New(now time.Time) ChatSession {
	ts := Millis(now)
	return ChatSession{
		ID:        NewChatID(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// Clone returns a deep copy of the session
func (s ChatSession) Clone() ChatSession {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// Last returns the final message of the session, if any
func (s ChatSession) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// IndexOf returns the position of the message with the given id or -1
func (s ChatSession) IndexOf(messageID string) int {
	for i, msg := range s.Messages {
		if msg.ID == messageID {
			return i
		}
	}
	return -1
}

// Millis converts t to epoch milliseconds
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// CloneAll deep copies a slice of sessions
func CloneAll(sessions []ChatSession) []ChatSession {
	out := make([]ChatSession, len(sessions))
	for i, s := range sessions {
		out[i] = s.Clone()
	}
	return out
}
