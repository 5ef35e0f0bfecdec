package chat

import (
	"strings"
	"time"
)

const (
	titleLimit   = 40
	DefaultTitle = "New Chat"
)

// Conversation is an ordered, append-only sequence of messages.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary is the listing view of a conversation.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Summary returns the listing view.
func (c Conversation) Summary() Summary {
	return Summary{
		ID:           c.ID,
		Title:        c.Title,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt,
	}
}

// Clone returns a deep copy safe to hand out of a lock.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		if msg.Attachment != nil {
			att := *msg.Attachment
			msg.Attachment = &att
		}
		out.Messages[i] = msg
	}
	return out
}

// Last returns the trailing message, if any.
func (c Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// DeriveTitle builds a conversation title from its first user message.
func DeriveTitle(content string, attachment *Attachment) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		if attachment != nil && strings.TrimSpace(attachment.Name) != "" {
			trimmed = strings.TrimSpace(attachment.Name)
		} else {
			return DefaultTitle
		}
	}

	runes := []rune(trimmed)
	if len(runes) > titleLimit {
		return strings.TrimSpace(string(runes[:titleLimit]))
	}
	return trimmed
}
