package frontend

import (
	"strings"

	"github.com/valyala/fasthttp"

	"charhub/pkg/api/router"
	"charhub/pkg/models"
	"charhub/pkg/workspace"
)

func (h *Handlers) ListCharacters(ctx *fasthttp.RequestCtx) {
	st, ok := h.snapshot(ctx)
	if !ok {
		return
	}
	_ = router.WriteJSON(ctx, struct {
		Characters        []models.Character `json:"characters"`
		ActiveCharacterID string             `json:"activeCharacterId"`
		Generating        bool               `json:"generating"`
	}{st.Characters, st.ActiveCharacterID, st.Generating})
}

func validateCharacterForm(f workspace.CharacterForm) error {
	vr := &router.ValidationResult{Valid: true}
	if strings.TrimSpace(f.Name) == "" {
		vr.AddError("name", "required")
	}
	if strings.TrimSpace(f.Personality) == "" {
		vr.AddError("personality", "required")
	}
	if strings.TrimSpace(f.Photo) == "" {
		vr.AddError("photo", "required")
	}
	return vr.Err()
}

// CreateCharacter answers after profile generation; it is the only slow route.
func (h *Handlers) CreateCharacter(ctx *fasthttp.RequestCtx) {
	var form workspace.CharacterForm
	if !router.DecodeBodyOrFail(ctx, &form) {
		return
	}
	if err := validateCharacterForm(form); err != nil {
		router.WriteError(ctx, err)
		return
	}
	ws, ok := h.workspace(ctx)
	if !ok {
		return
	}
	c, err := ws.CreateCharacter(ctx, form)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	_ = router.WriteJSONStatus(ctx, fasthttp.StatusCreated, c)
}

func (h *Handlers) GetCharacter(ctx *fasthttp.RequestCtx) {
	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	ws, ok := h.workspace(ctx)
	if !ok {
		return
	}
	c, err := ws.Character(ctx, id)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, c)
}

func (h *Handlers) UpdateCharacter(ctx *fasthttp.RequestCtx) {
	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	var patch workspace.CharacterPatch
	if !router.DecodeBodyOrFail(ctx, &patch) {
		return
	}
	ws, ok := h.workspace(ctx)
	if !ok {
		return
	}
	c, err := ws.UpdateCharacter(ctx, id, patch)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteAccepted(ctx, c)
}

func (h *Handlers) DeleteCharacter(ctx *fasthttp.RequestCtx) {
	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	ws, ok := h.workspace(ctx)
	if !ok {
		return
	}
	if err := ws.DeleteCharacter(ctx, id); err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteAccepted(ctx, nil)
}

// SelectCharacter changes the local selection only; nothing is written.
func (h *Handlers) SelectCharacter(ctx *fasthttp.RequestCtx) {
	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	ws, ok := h.workspace(ctx)
	if !ok {
		return
	}
	if err := ws.SelectCharacter(ctx, id); err != nil {
		router.WriteError(ctx, err)
		return
	}
	_ = router.WriteJSON(ctx, map[string]string{"activeCharacterId": id})
}
