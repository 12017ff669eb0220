package llm

import (
	"fmt"
	"strings"

	"charhub/pkg/models"
)

// Template names.
const (
	TemplateCharacterProfile = "character_profile"
	TemplateCharacterChat    = "character_chat"
)

const defaultInstructions = "No extra instructions. Infer everything from the photo and the name."

// ProfileSystemInstruction frames the model as a character designer.
const ProfileSystemInstruction = `You are a character designer. Study the photo and invent a believable, vivid personality for the person or creature in it.
Always answer with JSON that matches the response schema. Never add commentary outside the JSON.`

// ProfilePrompt renders the character_profile template.
func ProfilePrompt(req ProfileRequest, minBio int) string {
	if minBio <= 0 {
		minBio = DefaultMinBiographyChars
	}
	instructions := strings.TrimSpace(req.Instructions)
	if instructions == "" {
		instructions = defaultInstructions
	}
	personality := strings.TrimSpace(req.Personality)
	if personality == "" {
		personality = "Not specified."
	}
	return fmt.Sprintf(`Create the profile of a character named %q.

Personality hints: %s
Creator instructions: %s

Requirements:
- biography: a detailed life story of at least %d characters, written in the third person.
- traits: the character's defining personality traits as one paragraph.
- hobbies: what the character does for fun as one paragraph.
- motivations: what drives the character as one paragraph.
- likes: exactly %d short items.
- dislikes: exactly %d short items.`,
		strings.TrimSpace(req.Name), personality, instructions, minBio, ProfileLikes, ProfileDislikes)
}

// ChatSystemPrompt renders the character_chat template. persona may be nil.
func ChatSystemPrompt(c models.Character, persona *models.UserPersona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. Stay in character and answer as %s would, in the first person.\n\n", c.Name, c.Name)
	fmt.Fprintf(&b, "Biography:\n%s\n\n", c.Profile.Biography)
	fmt.Fprintf(&b, "Traits: %s\nHobbies: %s\nMotivations: %s\n", c.Profile.Traits, c.Profile.Hobbies, c.Profile.Motivations)
	fmt.Fprintf(&b, "Likes: %s\nDislikes: %s\n", strings.Join(c.Profile.Likes, ", "), strings.Join(c.Profile.Dislikes, ", "))
	if s := strings.TrimSpace(c.Instructions); s != "" {
		fmt.Fprintf(&b, "Creator instructions: %s\n", s)
	}
	if persona != nil {
		fmt.Fprintf(&b, "\nYou are talking to %s. About them: %s\n", persona.Name, persona.Description)
	}
	b.WriteString("\nKeep replies conversational and under 200 words.")
	return b.String()
}
