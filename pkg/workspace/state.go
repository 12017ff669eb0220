package workspace

import "charhub/pkg/models"

// State is everything a signed-in user sees. It is owned by one goroutine per
// user; callers only ever get copies.
type State struct {
	User              string               `json:"user"`
	Characters        []models.Character   `json:"characters"`
	Personas          []models.UserPersona `json:"personas"`
	ActiveCharacterID string               `json:"activeCharacterId"`
	// ActivePersonaID is empty when no persona is active.
	ActivePersonaID string          `json:"activePersonaId"`
	Settings        models.Settings `json:"settings"`
	Generating      bool            `json:"generating"`
	// Generations counts profile calls in flight; Generating is Generations > 0.
	Generations int    `json:"generations"`
	Loaded      Loaded `json:"loaded"`
}

// Loaded reports which collections have delivered their first snapshot.
type Loaded struct {
	Characters bool `json:"characters"`
	Personas   bool `json:"personas"`
	Settings   bool `json:"settings"`
}

func (s State) Character(id string) (models.Character, bool) {
	for _, c := range s.Characters {
		if c.ID == id {
			return c, true
		}
	}
	return models.Character{}, false
}

func (s State) Persona(id string) (models.UserPersona, bool) {
	for _, p := range s.Personas {
		if p.ID == id {
			return p, true
		}
	}
	return models.UserPersona{}, false
}

// ActivePersona returns the active persona, or nil.
func (s State) ActivePersona() *models.UserPersona {
	if s.ActivePersonaID == "" {
		return nil
	}
	if p, ok := s.Persona(s.ActivePersonaID); ok {
		return &p
	}
	return nil
}

// Clone deep-copies the state.
func (s State) Clone() State {
	out := s
	if s.Characters != nil {
		out.Characters = make([]models.Character, len(s.Characters))
		for i, c := range s.Characters {
			out.Characters[i] = c.Clone()
		}
	}
	if s.Personas != nil {
		out.Personas = append([]models.UserPersona(nil), s.Personas...)
	}
	return out
}
