package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"charhub/pkg/models"
)

// ValidateProfile enforces the response schema. minBio <= 0 uses the default.
func ValidateProfile(p *models.Profile, minBio int) error {
	if p == nil {
		return fmt.Errorf("%w: empty response", ErrInvalidProfile)
	}
	if minBio <= 0 {
		minBio = DefaultMinBiographyChars
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(p.Biography)); n < minBio {
		return fmt.Errorf("%w: biography has %d characters, want at least %d", ErrInvalidProfile, n, minBio)
	}
	for name, v := range map[string]string{"traits": p.Traits, "hobbies": p.Hobbies, "motivations": p.Motivations} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidProfile, name)
		}
	}
	if err := exactlyN("likes", p.Likes, ProfileLikes); err != nil {
		return err
	}
	return exactlyN("dislikes", p.Dislikes, ProfileDislikes)
}

func exactlyN(name string, items []string, n int) error {
	if len(items) != n {
		return fmt.Errorf("%w: %s has %d items, want exactly %d", ErrInvalidProfile, name, len(items), n)
	}
	for i, it := range items {
		if strings.TrimSpace(it) == "" {
			return fmt.Errorf("%w: %s[%d] is empty", ErrInvalidProfile, name, i)
		}
	}
	return nil
}
