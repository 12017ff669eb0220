package workspace

import (
	"sort"

	"charhub/pkg/models"
)

// Action is a state transition understood by Reduce.
type Action interface {
	action()
}

type (
	// CharactersSnapshot replaces every character with the collection's current contents.
	CharactersSnapshot struct{ Characters []models.Character }
	// PersonasSnapshot replaces every persona.
	PersonasSnapshot struct{ Personas []models.UserPersona }
	// SettingsSnapshot replaces settings; a missing document means defaults.
	SettingsSnapshot struct {
		Settings models.Settings
		Present  bool
	}

	UpsertCharacter  struct{ Character models.Character }
	RemoveCharacter  struct{ ID string }
	SelectCharacter  struct{ ID string }
	UpsertPersona    struct{ Persona models.UserPersona }
	RemovePersona    struct{ ID string }
	SetActivePersona struct{ ID string }
	SetGenerating    struct{ On bool }
	SetSettings      struct{ Settings models.Settings }
)

func (CharactersSnapshot) action() {}
func (PersonasSnapshot) action()   {}
func (SettingsSnapshot) action()   {}
func (UpsertCharacter) action()    {}
func (RemoveCharacter) action()    {}
func (SelectCharacter) action()    {}
func (UpsertPersona) action()      {}
func (RemovePersona) action()      {}
func (SetActivePersona) action()   {}
func (SetGenerating) action()      {}
func (SetSettings) action()        {}

// Reduce returns the state after a. It never mutates s.
func Reduce(s State, a Action) State {
	s = s.Clone()
	switch a := a.(type) {
	case CharactersSnapshot:
		s.Characters = sortCharacters(a.Characters)
		s.Loaded.Characters = true
		s.ActiveCharacterID = keepOrFirstCharacter(s.Characters, s.ActiveCharacterID)

	case PersonasSnapshot:
		s.Personas = sortPersonas(a.Personas)
		s.Loaded.Personas = true
		s.ActivePersonaID = ""
		for _, p := range s.Personas {
			if p.IsActive {
				s.ActivePersonaID = p.ID
				break
			}
		}

	case SettingsSnapshot:
		s.Settings = a.Settings
		if !a.Present {
			s.Settings = models.DefaultSettings()
		}
		s.Loaded.Settings = true

	case UpsertCharacter:
		replaced := false
		for i := range s.Characters {
			if s.Characters[i].ID == a.Character.ID {
				s.Characters[i] = a.Character.Clone()
				replaced = true
				break
			}
		}
		if !replaced {
			s.Characters = sortCharacters(append(s.Characters, a.Character.Clone()))
		}
		if s.ActiveCharacterID == "" {
			s.ActiveCharacterID = a.Character.ID
		}

	case RemoveCharacter:
		out := s.Characters[:0]
		for _, c := range s.Characters {
			if c.ID != a.ID {
				out = append(out, c)
			}
		}
		s.Characters = out
		s.ActiveCharacterID = keepOrFirstCharacter(s.Characters, s.ActiveCharacterID)

	case SelectCharacter:
		if _, ok := s.Character(a.ID); ok {
			s.ActiveCharacterID = a.ID
		}

	case UpsertPersona:
		p := a.Persona
		replaced := false
		for i := range s.Personas {
			if s.Personas[i].ID == p.ID {
				s.Personas[i] = p
				replaced = true
			} else if p.IsActive {
				s.Personas[i].IsActive = false
			}
		}
		if !replaced {
			s.Personas = sortPersonas(append(s.Personas, p))
		}
		switch {
		case p.IsActive:
			s.ActivePersonaID = p.ID
		case s.ActivePersonaID == p.ID:
			s.ActivePersonaID = ""
		}

	case RemovePersona:
		out := s.Personas[:0]
		for _, p := range s.Personas {
			if p.ID != a.ID {
				out = append(out, p)
			}
		}
		s.Personas = out
		if s.ActivePersonaID == a.ID || len(s.Personas) == 0 {
			s.ActivePersonaID = ""
		}

	case SetActivePersona:
		s.ActivePersonaID = ""
		for i := range s.Personas {
			s.Personas[i].IsActive = s.Personas[i].ID == a.ID
			if s.Personas[i].IsActive {
				s.ActivePersonaID = a.ID
			}
		}

	case SetGenerating:
		if a.On {
			s.Generations++
		} else if s.Generations > 0 {
			s.Generations--
		}
		s.Generating = s.Generations > 0

	case SetSettings:
		s.Settings = a.Settings
	}
	return s
}

func keepOrFirstCharacter(cs []models.Character, id string) string {
	for _, c := range cs {
		if c.ID == id {
			return id
		}
	}
	if len(cs) > 0 {
		return cs[0].ID
	}
	return ""
}

// sortCharacters orders newest first.
func sortCharacters(cs []models.Character) []models.Character {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.After(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
	return cs
}

func sortPersonas(ps []models.UserPersona) []models.UserPersona {
	sort.SliceStable(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
	return ps
}
