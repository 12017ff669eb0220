package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThemeToggle(t *testing.T) {
	assert.Equal(t, ThemeDark, ThemeLight.Toggle())
	assert.Equal(t, ThemeLight, ThemeDark.Toggle())
	assert.Equal(t, ThemeDark, Theme("").Toggle())
}

func TestCharacterCloneDoesNotAlias(t *testing.T) {
	now := time.Now()
	s := NewChatSession(now)
	s.Messages = append(s.Messages, NewChatMessage(RoleUser, "hi", now))
	c := Character{
		ID:                  "c1",
		Profile:             Profile{Likes: []string{"a"}},
		ChatSessions:        []ChatSession{s},
		ActiveChatSessionID: s.ID,
	}

	cp := c.Clone()
	cp.Profile.Likes[0] = "b"
	cp.ChatSessions[0].Messages[0].Text = "changed"

	assert.Equal(t, "a", c.Profile.Likes[0])
	assert.Equal(t, "hi", c.ChatSessions[0].Messages[0].Text)
	assert.Equal(t, s.ID, c.ActiveSession().ID)
	assert.Nil(t, c.Session("missing"))
}
