package workspace

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"charhub/pkg/models"
	"charhub/pkg/photo"
	"charhub/pkg/store/keys"
	"charhub/pkg/timeutil"
)

// PersonaForm creates a persona. Photo is an optional data URI.
type PersonaForm struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Photo       string      `json:"photo,omitempty"`
	Crop        *photo.Crop `json:"crop,omitempty"`
}

type PersonaPatch struct {
	Name        *string     `json:"name,omitempty"`
	Description *string     `json:"description,omitempty"`
	Photo       *string     `json:"photo,omitempty"`
	Crop        *photo.Crop `json:"crop,omitempty"`
}

func (w *Workspace) CreatePersona(ctx context.Context, form PersonaForm) (models.UserPersona, error) {
	if err := w.requireUser(); err != nil {
		return models.UserPersona{}, err
	}
	name := strings.TrimSpace(form.Name)
	if name == "" {
		return models.UserPersona{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	now := timeutil.Now()
	p := models.UserPersona{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(form.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if form.Photo != "" {
		img, err := w.decodePhoto(form.Photo, form.Crop)
		if err != nil {
			return models.UserPersona{}, err
		}
		p.PhotoURL = img.DataURI()
	}
	err := w.do(ctx, func() error {
		w.dispatch(UpsertPersona{Persona: p})
		w.deps.Writer.Set(w.user, keys.Personas, p.ID, p)
		return nil
	})
	return p, err
}

func (w *Workspace) UpdatePersona(ctx context.Context, id string, patch PersonaPatch) (models.UserPersona, error) {
	if err := w.requireUser(); err != nil {
		return models.UserPersona{}, err
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return models.UserPersona{}, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
	}
	var photoURL string
	if patch.Photo != nil && *patch.Photo != "" {
		img, err := w.decodePhoto(*patch.Photo, patch.Crop)
		if err != nil {
			return models.UserPersona{}, err
		}
		photoURL = img.DataURI()
	}

	var out models.UserPersona
	err := w.do(ctx, func() error {
		p, ok := w.state.Persona(id)
		if !ok {
			return ErrNotFound
		}
		fields := map[string]any{}
		if patch.Name != nil {
			p.Name = strings.TrimSpace(*patch.Name)
			fields["name"] = p.Name
		}
		if patch.Description != nil {
			p.Description = strings.TrimSpace(*patch.Description)
			fields["description"] = p.Description
		}
		if patch.Photo != nil {
			// an empty photo removes it
			p.PhotoURL = photoURL
			fields["photoUrl"] = p.PhotoURL
		}
		p.UpdatedAt = timeutil.Now()
		fields["updatedAt"] = p.UpdatedAt
		w.dispatch(UpsertPersona{Persona: p})
		w.deps.Writer.Update(w.user, keys.Personas, id, fields)
		out = p
		return nil
	})
	return out, err
}

// DeletePersona removes a persona. Removing the active one leaves no persona active.
func (w *Workspace) DeletePersona(ctx context.Context, id string) error {
	if err := w.requireUser(); err != nil {
		return err
	}
	return w.do(ctx, func() error {
		if _, ok := w.state.Persona(id); !ok {
			return ErrNotFound
		}
		w.dispatch(RemovePersona{ID: id})
		w.deps.Writer.Delete(w.user, keys.Personas, id)
		return nil
	})
}

// SetActivePersona activates id and deactivates every other persona. An empty id clears it.
func (w *Workspace) SetActivePersona(ctx context.Context, id string) error {
	if err := w.requireUser(); err != nil {
		return err
	}
	return w.do(ctx, func() error {
		if id != "" {
			if _, ok := w.state.Persona(id); !ok {
				return ErrNotFound
			}
		}
		before := w.state.Personas
		w.dispatch(SetActivePersona{ID: id})
		now := timeutil.Now()
		for _, p := range before {
			want := p.ID == id
			if p.IsActive != want {
				w.deps.Writer.Update(w.user, keys.Personas, p.ID, map[string]any{"isActive": want, "updatedAt": now})
			}
		}
		return nil
	})
}
