// Package llmtest provides a deterministic llm.Generator for tests and offline runs.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"charhub/pkg/llm"
	"charhub/pkg/models"
)

// Fake answers from templates. Set ProfileErr or ReplyErr to simulate provider failures.
type Fake struct {
	mu sync.Mutex

	ProfileErr error
	ReplyErr   error
	// Block, when non-nil, is waited on before answering.
	Block chan struct{}

	ProfileCalls []llm.ProfileRequest
	ReplyCalls   []llm.ReplyRequest
}

func (f *Fake) GenerateProfile(ctx context.Context, req llm.ProfileRequest) (*models.Profile, error) {
	f.mu.Lock()
	f.ProfileCalls = append(f.ProfileCalls, req)
	err, block := f.ProfileErr, f.Block
	f.mu.Unlock()

	if err := wait(ctx, block); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrGenerationFailed, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrGenerationFailed, err)
	}
	p := Profile(req.Name)
	if err := llm.ValidateProfile(p, 0); err != nil {
		return nil, fmt.Errorf("%w: %w", llm.ErrGenerationFailed, err)
	}
	return p, nil
}

func (f *Fake) Reply(ctx context.Context, req llm.ReplyRequest) (string, error) {
	f.mu.Lock()
	f.ReplyCalls = append(f.ReplyCalls, req)
	err, block := f.ReplyErr, f.Block
	f.mu.Unlock()

	if err := wait(ctx, block); err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrGenerationFailed, err)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrGenerationFailed, err)
	}
	to := "friend"
	if req.Persona != nil {
		to = req.Persona.Name
	}
	return fmt.Sprintf("%s to %s: you said %q", req.Character.Name, to, req.Message), nil
}

func (f *Fake) Calls() (profiles, replies int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ProfileCalls), len(f.ReplyCalls)
}

func wait(ctx context.Context, block chan struct{}) error {
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Profile returns a valid profile for name.
func Profile(name string) *models.Profile {
	if name == "" {
		name = "The character"
	}
	sentence := fmt.Sprintf("%s was shaped by quiet mornings, loud cities and a stubborn curiosity about people. ", name)
	bio := strings.Repeat(sentence, llm.DefaultMinBiographyChars/len(sentence)+1)
	return &models.Profile{
		Biography:   strings.TrimSpace(bio),
		Traits:      "Warm, witty and a little reckless.",
		Hobbies:     "Street photography and late night cooking.",
		Motivations: "To understand why people choose what they choose.",
		Likes:       []string{"rainy days", "old maps", "spicy food", "jazz", "long walks"},
		Dislikes:    []string{"small talk", "cold coffee", "crowds", "deadlines", "mushrooms"},
	}
}
