package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status tracks the lifecycle of a message. User messages are always resolved;
// assistant placeholders start pending and settle exactly once.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusErrored  Status = "errored"
)

// Settled reports whether the status is terminal.
func (s Status) Settled() bool {
	return s == StatusResolved || s == StatusErrored
}

// Message is a single entry of the conversation log.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	out := m
	out.Attachments = append([]string{}, m.Attachments...)
	return out
}
