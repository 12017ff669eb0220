package workspace

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"charhub/pkg/llm"
	"charhub/pkg/logger"
	"charhub/pkg/models"
	"charhub/pkg/timeutil"
)

// NewChatSession starts an empty session and makes it active.
func (w *Workspace) NewChatSession(ctx context.Context, characterID string) (models.ChatSession, error) {
	if err := w.requireUser(); err != nil {
		return models.ChatSession{}, err
	}
	var out models.ChatSession
	err := w.do(ctx, func() error {
		_, err := w.mutateCharacter(characterID, func(c *models.Character) error {
			out = models.NewChatSession(timeutil.Now())
			c.ChatSessions = append(c.ChatSessions, out)
			c.ActiveChatSessionID = out.ID
			return nil
		})
		return err
	})
	return out, err
}

func (w *Workspace) SelectChatSession(ctx context.Context, characterID, sessionID string) error {
	if err := w.requireUser(); err != nil {
		return err
	}
	return w.do(ctx, func() error {
		_, err := w.mutateCharacter(characterID, func(c *models.Character) error {
			if c.Session(sessionID) == nil {
				return ErrNotFound
			}
			c.ActiveChatSessionID = sessionID
			return nil
		})
		return err
	})
}

// DeleteChatSession removes a session. A character never ends up without a
// session: deleting the last one starts a fresh empty session.
func (w *Workspace) DeleteChatSession(ctx context.Context, characterID, sessionID string) (models.Character, error) {
	if err := w.requireUser(); err != nil {
		return models.Character{}, err
	}
	var out models.Character
	err := w.do(ctx, func() error {
		c, err := w.mutateCharacter(characterID, func(c *models.Character) error {
			if c.Session(sessionID) == nil {
				return ErrNotFound
			}
			kept := c.ChatSessions[:0]
			for _, s := range c.ChatSessions {
				if s.ID != sessionID {
					kept = append(kept, s)
				}
			}
			c.ChatSessions = kept
			switch {
			case len(kept) == 0:
				s := models.NewChatSession(timeutil.Now())
				c.ChatSessions = []models.ChatSession{s}
				c.ActiveChatSessionID = s.ID
			case c.ActiveChatSessionID == sessionID:
				c.ActiveChatSessionID = mostRecent(kept).ID
			}
			return nil
		})
		out = c
		return err
	})
	return out, err
}

func mostRecent(ss []models.ChatSession) models.ChatSession {
	sorted := append([]models.ChatSession(nil), ss...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	return sorted[0]
}

// ClearChat empties the active session of a character.
func (w *Workspace) ClearChat(ctx context.Context, characterID string) error {
	if err := w.requireUser(); err != nil {
		return err
	}
	return w.do(ctx, func() error {
		_, err := w.mutateCharacter(characterID, func(c *models.Character) error {
			s := c.ActiveSession()
			if s == nil {
				return ErrNotFound
			}
			s.Messages = []models.ChatMessage{}
			return nil
		})
		return err
	})
}

// SendMessage appends the user's message to the active session, asks the
// character for a reply and appends it. When the reply fails the user's message
// stays and a notification is published.
func (w *Workspace) SendMessage(ctx context.Context, characterID, text string) (models.ChatMessage, error) {
	if err := w.requireUser(); err != nil {
		return models.ChatMessage{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatMessage{}, fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}

	var (
		req       llm.ReplyRequest
		sessionID string
	)
	err := w.do(ctx, func() error {
		persona := w.state.ActivePersona()
		c, err := w.mutateCharacter(characterID, func(c *models.Character) error {
			s := c.ActiveSession()
			if s == nil {
				ns := models.NewChatSession(timeutil.Now())
				c.ChatSessions = append(c.ChatSessions, ns)
				c.ActiveChatSessionID = ns.ID
				s = c.ActiveSession()
			}
			req.History = append([]models.ChatMessage(nil), s.Messages...)
			s.Messages = append(s.Messages, models.NewChatMessage(models.RoleUser, text, timeutil.Now()))
			sessionID = s.ID
			return nil
		})
		if err != nil {
			return err
		}
		req.Character = c
		req.Persona = persona
		req.Message = text
		return nil
	})
	if err != nil {
		return models.ChatMessage{}, err
	}

	reply, err := w.deps.Generator.Reply(ctx, req)
	if err != nil {
		logger.Warn("chat_reply_failed", "user", w.user, "character", characterID, "error", err)
		w.failGeneration(err)
		return models.ChatMessage{}, err
	}

	msg := models.NewChatMessage(models.RoleModel, reply, timeutil.Now())
	err = w.do(context.WithoutCancel(ctx), func() error {
		_, err := w.mutateCharacter(characterID, func(c *models.Character) error {
			s := c.Session(sessionID)
			if s == nil {
				// session deleted while the reply was generated
				return ErrNotFound
			}
			s.Messages = append(s.Messages, msg)
			return nil
		})
		return err
	})
	if err != nil {
		return models.ChatMessage{}, err
	}
	return msg, nil
}
