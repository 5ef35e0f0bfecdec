package chat

import (
	"time"

	"github.com/zhouzirui/chatty/backend/internal/contract"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Attachment is a file submitted with a user message, kept in data URI form.
type Attachment struct {
	Name    string `json:"name"`
	DataURI string `json:"dataUri"`
}

// Message is one turn of a conversation.
type Message struct {
	ID         string             `json:"id"`
	Role       Role               `json:"role"`
	Content    string             `json:"content"`
	Sentiment  contract.Sentiment `json:"sentiment,omitempty"`
	Attachment *Attachment        `json:"attachment,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// Annotated reports whether a sentiment label has been attached.
func (m Message) Annotated() bool {
	return m.Sentiment != ""
}
