package models

import "time"

// Character is an AI-generated persona with a profile and its chat history.
type Character struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	PhotoURL     string  `json:"photoUrl"`
	Instructions string  `json:"instructions,omitempty"`
	Profile      Profile `json:"profile"`

	ChatSessions        []ChatSession `json:"chatSessions"`
	ActiveChatSessionID string        `json:"activeChatSessionId"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Profile is the generated personality of a character.
type Profile struct {
	Biography   string   `json:"biography"`
	Traits      string   `json:"traits"`
	Hobbies     string   `json:"hobbies"`
	Motivations string   `json:"motivations"`
	Likes       []string `json:"likes"`
	Dislikes    []string `json:"dislikes"`
}

// Session returns the chat session with id, or nil.
func (c *Character) Session(id string) *ChatSession {
	for i := range c.ChatSessions {
		if c.ChatSessions[i].ID == id {
			return &c.ChatSessions[i]
		}
	}
	return nil
}

// ActiveSession returns the active chat session, or nil when none is set.
func (c *Character) ActiveSession() *ChatSession {
	return c.Session(c.ActiveChatSessionID)
}

// Clone returns a deep copy so owners can mutate without aliasing snapshot data.
func (c Character) Clone() Character {
	out := c
	out.Profile.Likes = append([]string(nil), c.Profile.Likes...)
	out.Profile.Dislikes = append([]string(nil), c.Profile.Dislikes...)
	if c.ChatSessions != nil {
		out.ChatSessions = make([]ChatSession, len(c.ChatSessions))
		for i, s := range c.ChatSessions {
			out.ChatSessions[i] = s.Clone()
		}
	}
	return out
}
