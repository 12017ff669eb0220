// Package gemini implements llm.Generator on the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"charhub/pkg/llm"
	"charhub/pkg/logger"
	"charhub/pkg/models"
	"charhub/pkg/telemetry"

	"google.golang.org/genai"
)

type Options struct {
	APIKey            string
	Model             string
	Timeout           time.Duration
	MinBiographyChars int
	// BaseURL overrides the API endpoint. Empty uses the SDK default.
	BaseURL string
}

type Provider struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	minBio  int
}

func NewProvider(ctx context.Context, opts Options) (*Provider, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini: api key is empty")
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.5-flash"
	}
	if opts.MinBiographyChars <= 0 {
		opts.MinBiographyChars = llm.DefaultMinBiographyChars
	}
	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Provider{
		client:  client,
		model:   opts.Model,
		timeout: opts.Timeout,
		minBio:  opts.MinBiographyChars,
	}, nil
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// profileSchema pins the response shape; the array bounds make the model
// return exactly five likes and dislikes.
func (p *Provider) profileSchema() *genai.Schema {
	five := int64(llm.ProfileLikes)
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"biography":   {Type: genai.TypeString, MinLength: genai.Ptr(int64(p.minBio))},
			"traits":      {Type: genai.TypeString},
			"hobbies":     {Type: genai.TypeString},
			"motivations": {Type: genai.TypeString},
			"likes": {
				Type:     genai.TypeArray,
				Items:    &genai.Schema{Type: genai.TypeString},
				MinItems: genai.Ptr(five),
				MaxItems: genai.Ptr(five),
			},
			"dislikes": {
				Type:     genai.TypeArray,
				Items:    &genai.Schema{Type: genai.TypeString},
				MinItems: genai.Ptr(int64(llm.ProfileDislikes)),
				MaxItems: genai.Ptr(int64(llm.ProfileDislikes)),
			},
		},
		Required:         []string{"biography", "traits", "hobbies", "motivations", "likes", "dislikes"},
		PropertyOrdering: []string{"biography", "traits", "hobbies", "motivations", "likes", "dislikes"},
	}
}

func (p *Provider) GenerateProfile(ctx context.Context, req llm.ProfileRequest) (*models.Profile, error) {
	tr := telemetry.Track("llm.profile")
	defer tr.Finish()

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	config := &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(llm.ProfileSystemInstruction, genai.RoleUser),
		ResponseSchema:    p.profileSchema(),
	}

	parts := []*genai.Part{genai.NewPartFromText(llm.ProfilePrompt(req, p.minBio))}
	if len(req.Photo) > 0 {
		mime := req.PhotoMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, genai.NewPartFromBytes(req.Photo, mime))
	}
	tr.Mark("prompt")

	res, err := p.client.Models.GenerateContent(ctx, p.model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, config)
	tr.Mark("generate")
	if err != nil {
		logger.Error("llm_profile_failed", "model", p.model, "error", err)
		return nil, fmt.Errorf("%w: %v", llm.ErrGenerationFailed, err)
	}
	text, err := firstText(res)
	if err != nil {
		return nil, err
	}

	var profile models.Profile
	if err := json.Unmarshal([]byte(text), &profile); err != nil {
		return nil, fmt.Errorf("%w: decode profile: %v", llm.ErrGenerationFailed, err)
	}
	if err := llm.ValidateProfile(&profile, p.minBio); err != nil {
		logger.Warn("llm_profile_rejected", "model", p.model, "error", err)
		return nil, fmt.Errorf("%w: %w", llm.ErrGenerationFailed, err)
	}
	return &profile, nil
}

func (p *Provider) Reply(ctx context.Context, req llm.ReplyRequest) (string, error) {
	tr := telemetry.Track("llm.reply")
	defer tr.Finish()

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(llm.ChatSystemPrompt(req.Character, req.Persona), genai.RoleUser),
	}
	chat, err := p.client.Chats.Create(ctx, p.model, config, history(req.History))
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrGenerationFailed, err)
	}
	res, err := chat.SendMessage(ctx, genai.Part{Text: req.Message})
	tr.Mark("send")
	if err != nil {
		logger.Error("llm_reply_failed", "model", p.model, "character", req.Character.ID, "error", err)
		return "", fmt.Errorf("%w: %v", llm.ErrGenerationFailed, err)
	}
	text, err := firstText(res)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func history(msgs []models.ChatMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.Role(genai.RoleUser)
		if m.Role == models.RoleModel {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Text, role))
	}
	return out
}

func firstText(res *genai.GenerateContentResponse) (string, error) {
	// blocked or empty responses carry no candidates
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil || len(res.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty response", llm.ErrGenerationFailed)
	}
	var b strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: empty response", llm.ErrGenerationFailed)
	}
	return b.String(), nil
}
