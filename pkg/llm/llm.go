// Package llm defines the character generation and chat contract used by
// workspaces, plus the prompt templates and profile validation shared by
// every provider.
package llm

import (
	"context"
	"errors"

	"charhub/pkg/models"
)

const (
	ProfileLikes    = 5
	ProfileDislikes = 5

	DefaultMinBiographyChars = 3000
)

var (
	// ErrGenerationFailed wraps every provider failure; callers surface it as "Generation Failed".
	ErrGenerationFailed = errors.New("generation failed")
	ErrInvalidProfile   = errors.New("invalid profile")
)

// ProfileRequest is the structured input for profile generation.
type ProfileRequest struct {
	Name         string
	Personality  string
	Instructions string
	// Photo is JPEG bytes; PhotoMIME defaults to image/jpeg.
	Photo     []byte
	PhotoMIME string
}

// ReplyRequest asks a character to answer the last user message.
type ReplyRequest struct {
	Character models.Character
	Persona   *models.UserPersona
	// History excludes Message.
	History []models.ChatMessage
	Message string
}

type Generator interface {
	GenerateProfile(ctx context.Context, req ProfileRequest) (*models.Profile, error)
	Reply(ctx context.Context, req ReplyRequest) (string, error)
}
