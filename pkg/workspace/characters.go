package workspace

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"charhub/pkg/llm"
	"charhub/pkg/logger"
	"charhub/pkg/models"
	"charhub/pkg/photo"
	"charhub/pkg/store/keys"
	"charhub/pkg/timeutil"
)

// CharacterForm is the creation input. Photo is a data URI.
type CharacterForm struct {
	Name         string      `json:"name"`
	Personality  string      `json:"personality"`
	Instructions string      `json:"instructions,omitempty"`
	Photo        string      `json:"photo"`
	Crop         *photo.Crop `json:"crop,omitempty"`
}

// CharacterPatch changes the editable fields of a character; nil fields are kept.
type CharacterPatch struct {
	Name         *string     `json:"name,omitempty"`
	Instructions *string     `json:"instructions,omitempty"`
	Photo        *string     `json:"photo,omitempty"`
	Crop         *photo.Crop `json:"crop,omitempty"`
}

func (w *Workspace) decodePhoto(uri string, crop *photo.Crop) (*photo.Image, error) {
	opts := w.deps.Photo
	opts.Crop = crop
	img, err := photo.Decode(uri, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: photo: %w", ErrInvalidInput, err)
	}
	return img, nil
}

// CreateCharacter generates a profile from the form and adds the character
// with one empty active chat session. Nothing is written when generation fails.
func (w *Workspace) CreateCharacter(ctx context.Context, form CharacterForm) (models.Character, error) {
	if err := w.requireUser(); err != nil {
		return models.Character{}, err
	}
	name := strings.TrimSpace(form.Name)
	if name == "" {
		return models.Character{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	img, err := w.decodePhoto(form.Photo, form.Crop)
	if err != nil {
		return models.Character{}, err
	}

	if err := w.do(ctx, func() error { w.dispatch(SetGenerating{On: true}); return nil }); err != nil {
		return models.Character{}, err
	}
	defer func() {
		_ = w.do(context.WithoutCancel(ctx), func() error { w.dispatch(SetGenerating{On: false}); return nil })
	}()

	profile, err := w.deps.Generator.GenerateProfile(ctx, llm.ProfileRequest{
		Name:         name,
		Personality:  strings.TrimSpace(form.Personality),
		Instructions: strings.TrimSpace(form.Instructions),
		Photo:        img.Bytes,
		PhotoMIME:    img.MIME,
	})
	if err != nil {
		logger.Warn("character_generation_failed", "user", w.user, "name", name, "error", err)
		w.failGeneration(err)
		return models.Character{}, err
	}

	now := timeutil.Now()
	session := models.NewChatSession(now)
	c := models.Character{
		ID:                  uuid.NewString(),
		Name:                name,
		PhotoURL:            img.DataURI(),
		Instructions:        strings.TrimSpace(form.Instructions),
		Profile:             *profile,
		ChatSessions:        []models.ChatSession{session},
		ActiveChatSessionID: session.ID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	err = w.do(ctx, func() error {
		w.dispatch(UpsertCharacter{Character: c})
		w.dispatch(SelectCharacter{ID: c.ID})
		w.deps.Writer.Set(w.user, keys.Characters, c.ID, c)
		return nil
	})
	if err != nil {
		return models.Character{}, err
	}
	logger.Info("character_created", "user", w.user, "id", c.ID)
	return c.Clone(), nil
}

// UpdateCharacter applies patch and merges the changed fields into the stored document.
func (w *Workspace) UpdateCharacter(ctx context.Context, id string, patch CharacterPatch) (models.Character, error) {
	if err := w.requireUser(); err != nil {
		return models.Character{}, err
	}
	var photoURL string
	if patch.Photo != nil {
		img, err := w.decodePhoto(*patch.Photo, patch.Crop)
		if err != nil {
			return models.Character{}, err
		}
		photoURL = img.DataURI()
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return models.Character{}, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
	}

	var out models.Character
	err := w.do(ctx, func() error {
		c, ok := w.state.Character(id)
		if !ok {
			return ErrNotFound
		}
		c = c.Clone()
		fields := map[string]any{}
		if patch.Name != nil {
			c.Name = strings.TrimSpace(*patch.Name)
			fields["name"] = c.Name
		}
		if patch.Instructions != nil {
			c.Instructions = strings.TrimSpace(*patch.Instructions)
			fields["instructions"] = c.Instructions
		}
		if photoURL != "" {
			c.PhotoURL = photoURL
			fields["photoUrl"] = c.PhotoURL
		}
		c.UpdatedAt = timeutil.Now()
		fields["updatedAt"] = c.UpdatedAt
		w.dispatch(UpsertCharacter{Character: c})
		w.deps.Writer.Update(w.user, keys.Characters, id, fields)
		out = c
		return nil
	})
	return out, err
}

func (w *Workspace) DeleteCharacter(ctx context.Context, id string) error {
	if err := w.requireUser(); err != nil {
		return err
	}
	return w.do(ctx, func() error {
		if _, ok := w.state.Character(id); !ok {
			return ErrNotFound
		}
		w.dispatch(RemoveCharacter{ID: id})
		w.deps.Writer.Delete(w.user, keys.Characters, id)
		return nil
	})
}

// SelectCharacter makes id the character shown in the chat view. Selection is not persisted.
func (w *Workspace) SelectCharacter(ctx context.Context, id string) error {
	if err := w.requireUser(); err != nil {
		return err
	}
	return w.do(ctx, func() error {
		if _, ok := w.state.Character(id); !ok {
			return ErrNotFound
		}
		w.dispatch(SelectCharacter{ID: id})
		return nil
	})
}

// Character returns one character from the current state.
func (w *Workspace) Character(ctx context.Context, id string) (models.Character, error) {
	var out models.Character
	err := w.do(ctx, func() error {
		c, ok := w.state.Character(id)
		if !ok {
			return ErrNotFound
		}
		out = c.Clone()
		return nil
	})
	return out, err
}

// mutateCharacter runs fn on a private copy of the character, then upserts it
// and writes the whole document. Must run on the owner goroutine.
func (w *Workspace) mutateCharacter(id string, fn func(c *models.Character) error) (models.Character, error) {
	c, ok := w.state.Character(id)
	if !ok {
		return models.Character{}, ErrNotFound
	}
	c = c.Clone()
	if err := fn(&c); err != nil {
		return models.Character{}, err
	}
	c.UpdatedAt = timeutil.Now()
	w.dispatch(UpsertCharacter{Character: c})
	w.deps.Writer.Set(w.user, keys.Characters, c.ID, c)
	return c.Clone(), nil
}
