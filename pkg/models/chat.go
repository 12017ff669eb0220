package models

import (
	"time"

	"github.com/google/uuid"
)

// Role tags the sender of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ChatSession is an ordered list of messages between the user and a character.
type ChatSession struct {
	ID        string        `json:"id"`
	Title     string        `json:"title,omitempty"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"createdAt"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewChatSession returns an empty session stamped with now.
func NewChatSession(now time.Time) ChatSession {
	return ChatSession{
		ID:        uuid.NewString(),
		Messages:  []ChatMessage{},
		CreatedAt: now,
	}
}

// NewChatMessage returns a message from role stamped with now.
func NewChatMessage(role Role, text string, now time.Time) ChatMessage {
	return ChatMessage{ID: uuid.NewString(), Role: role, Text: text, CreatedAt: now}
}

func (s ChatSession) Clone() ChatSession {
	out := s
	out.Messages = append([]ChatMessage{}, s.Messages...)
	return out
}
