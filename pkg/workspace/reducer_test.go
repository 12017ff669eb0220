package workspace

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"charhub/pkg/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func persona(id string, active bool, age int) models.UserPersona {
	return models.UserPersona{ID: id, Name: id, IsActive: active, CreatedAt: t0.Add(time.Duration(age) * time.Minute)}
}

func character(id string, age int) models.Character {
	return models.Character{ID: id, Name: id, CreatedAt: t0.Add(time.Duration(age) * time.Minute)}
}

func TestReduce(t *testing.T) {
	tests := []struct {
		name   string
		start  State
		action Action
		want   State
	}{
		{
			name:   "personas snapshot picks the active persona",
			action: PersonasSnapshot{Personas: []models.UserPersona{persona("b", true, 2), persona("a", false, 1)}},
			want: State{
				Personas:        []models.UserPersona{persona("a", false, 1), persona("b", true, 2)},
				ActivePersonaID: "b",
				Loaded:          Loaded{Personas: true},
			},
		},
		{
			name:   "removing the only persona clears the active persona",
			start:  State{Personas: []models.UserPersona{persona("a", true, 1)}, ActivePersonaID: "a"},
			action: RemovePersona{ID: "a"},
			want:   State{Personas: []models.UserPersona{}},
		},
		{
			name:   "removing an inactive persona keeps the active one",
			start:  State{Personas: []models.UserPersona{persona("a", true, 1), persona("b", false, 2)}, ActivePersonaID: "a"},
			action: RemovePersona{ID: "b"},
			want:   State{Personas: []models.UserPersona{persona("a", true, 1)}, ActivePersonaID: "a"},
		},
		{
			name:   "set active persona deactivates the rest",
			start:  State{Personas: []models.UserPersona{persona("a", true, 1), persona("b", false, 2)}, ActivePersonaID: "a"},
			action: SetActivePersona{ID: "b"},
			want:   State{Personas: []models.UserPersona{persona("a", false, 1), persona("b", true, 2)}, ActivePersonaID: "b"},
		},
		{
			name:   "empty id clears the active persona",
			start:  State{Personas: []models.UserPersona{persona("a", true, 1)}, ActivePersonaID: "a"},
			action: SetActivePersona{},
			want:   State{Personas: []models.UserPersona{persona("a", false, 1)}},
		},
		{
			name:   "upserting an active persona deactivates the others",
			start:  State{Personas: []models.UserPersona{persona("a", true, 1)}, ActivePersonaID: "a"},
			action: UpsertPersona{Persona: persona("b", true, 2)},
			want:   State{Personas: []models.UserPersona{persona("a", false, 1), persona("b", true, 2)}, ActivePersonaID: "b"},
		},
		{
			name:   "characters snapshot keeps a valid selection",
			start:  State{ActiveCharacterID: "a"},
			action: CharactersSnapshot{Characters: []models.Character{character("a", 1), character("b", 2)}},
			want: State{
				Characters:        []models.Character{character("b", 2), character("a", 1)},
				ActiveCharacterID: "a",
				Loaded:            Loaded{Characters: true},
			},
		},
		{
			name:   "characters snapshot replaces a stale selection",
			start:  State{ActiveCharacterID: "gone"},
			action: CharactersSnapshot{Characters: []models.Character{character("a", 1), character("b", 2)}},
			want: State{
				Characters:        []models.Character{character("b", 2), character("a", 1)},
				ActiveCharacterID: "b",
				Loaded:            Loaded{Characters: true},
			},
		},
		{
			name:   "removing the selected character selects the next",
			start:  State{Characters: []models.Character{character("b", 2), character("a", 1)}, ActiveCharacterID: "b"},
			action: RemoveCharacter{ID: "b"},
			want:   State{Characters: []models.Character{character("a", 1)}, ActiveCharacterID: "a"},
		},
		{
			name:   "selecting an unknown character is ignored",
			start:  State{Characters: []models.Character{character("a", 1)}, ActiveCharacterID: "a"},
			action: SelectCharacter{ID: "zzz"},
			want:   State{Characters: []models.Character{character("a", 1)}, ActiveCharacterID: "a"},
		},
		{
			name:   "missing settings document means defaults",
			start:  State{Settings: models.Settings{Theme: models.ThemeDark}},
			action: SettingsSnapshot{},
			want:   State{Settings: models.DefaultSettings(), Loaded: Loaded{Settings: true}},
		},
		{
			name:   "generating flag",
			action: SetGenerating{On: true},
			want:   State{Generating: true, Generations: 1},
		},
		{
			name:   "generating stays on while another call is in flight",
			start:  State{Generating: true, Generations: 2},
			action: SetGenerating{On: false},
			want:   State{Generating: true, Generations: 1},
		},
		{
			name:   "last call clears generating",
			start:  State{Generating: true, Generations: 1},
			action: SetGenerating{On: false},
			want:   State{},
		},
		{
			name:   "unbalanced off is ignored",
			action: SetGenerating{On: false},
			want:   State{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reduce(tt.start, tt.action)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Reduce() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	start := State{Personas: []models.UserPersona{persona("a", true, 1), persona("b", false, 2)}, ActivePersonaID: "a"}
	before := start.Clone()
	_ = Reduce(start, SetActivePersona{ID: "b"})
	_ = Reduce(start, RemovePersona{ID: "a"})
	if diff := cmp.Diff(before, start); diff != "" {
		t.Errorf("input state changed (-before +after):\n%s", diff)
	}
}
