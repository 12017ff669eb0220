package frontend

import mux "charhub/pkg/router"

// Register wires the /v1 user routes.
func (h *Handlers) Register(r *mux.Router) {
	r.GET("/v1/state", h.State)
	r.GET("/v1/stream", h.Stream)

	r.GET("/v1/characters", h.ListCharacters)
	r.POST("/v1/characters", h.CreateCharacter)
	r.GET("/v1/characters/{id}", h.GetCharacter)
	r.PUT("/v1/characters/{id}", h.UpdateCharacter)
	r.DELETE("/v1/characters/{id}", h.DeleteCharacter)
	r.POST("/v1/characters/{id}/select", h.SelectCharacter)

	r.POST("/v1/characters/{id}/sessions", h.NewSession)
	r.POST("/v1/characters/{id}/sessions/{sid}/select", h.SelectSession)
	r.DELETE("/v1/characters/{id}/sessions/{sid}", h.DeleteSession)
	r.POST("/v1/characters/{id}/messages", h.SendMessage)
	r.DELETE("/v1/characters/{id}/messages", h.ClearChat)

	r.GET("/v1/personas", h.ListPersonas)
	r.POST("/v1/personas", h.CreatePersona)
	r.POST("/v1/personas/deactivate", h.DeactivatePersona)
	r.PUT("/v1/personas/{id}", h.UpdatePersona)
	r.DELETE("/v1/personas/{id}", h.DeletePersona)
	r.POST("/v1/personas/{id}/activate", h.ActivatePersona)

	r.GET("/v1/settings", h.GetSettings)
	r.POST("/v1/settings/theme/toggle", h.ToggleTheme)
}
