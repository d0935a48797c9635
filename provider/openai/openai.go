// Package openai implements every clipvault enrichment capability against
// the OpenAI API: Whisper transcription, chat-based summaries, titles and
// tag suggestions, and text embeddings.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hupe1980/clipvault/model"
)

// Provider implements pipeline.Transcriber, Summarizer, Titler,
// TagSuggester and Embedder. All calls share one concurrency gate and one
// rate limiter so a burst of enrichment jobs cannot stampede the API.
type Provider struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger

	sem     *semaphore.Weighted
	limiter *rate.Limiter // nil if unlimited
}

// New creates a provider from the given config. The API key is required;
// everything else has a default.
func New(cfg Config, logger *slog.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = defaultTranscriptionModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	p := &Provider{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logger,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
	}
	if cfg.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return p, nil
}

// acquire blocks until a call slot and a rate token are available.
func (p *Provider) acquire(ctx context.Context) (release func(), err error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.sem.Release(1)
			return nil, err
		}
	}
	return func() { p.sem.Release(1) }, nil
}

// GenerateTranscript transcribes the media file with Whisper. A missing
// media file yields an empty transcript, not an error, so enrichment can
// continue with the remaining stages.
func (p *Provider) GenerateTranscript(ctx context.Context, mediaPath, language string) (string, error) {
	if _, err := os.Stat(mediaPath); err != nil {
		p.logger.Warn("media file not readable, skipping transcription", "path", mediaPath, "error", err)
		return "", nil
	}

	release, err := p.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	req := openai.AudioRequest{
		Model:    p.cfg.TranscriptionModel,
		FilePath: mediaPath,
	}
	// Whisper expects a bare ISO-639-1 code, not a BCP-47 tag.
	if code, _, ok := strings.Cut(language, "-"); ok {
		req.Language = code
	} else if language != "" {
		req.Language = language
	}

	resp, err := p.client.CreateTranscription(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai: transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Summarize produces a first-person diary description from the transcript.
func (p *Provider) Summarize(ctx context.Context, entry *model.VideoEntry, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", nil
	}

	prompt := fmt.Sprintf(
		"Summarize the following video diary transcript in two to four sentences. "+
			"Write in the first person, as the diary's author. Do not add commentary.\n\nTranscript:\n%s",
		transcript)

	return p.chat(ctx,
		"You summarize personal video diary entries. Keep the author's voice and tense.",
		prompt)
}

// GenerateTitle produces a short title from the entry's summary.
func (p *Provider) GenerateTitle(ctx context.Context, entry *model.VideoEntry, summary string) (string, error) {
	if strings.TrimSpace(summary) == "" {
		return "", nil
	}

	prompt := fmt.Sprintf(
		"Write a title of at most six words for a video diary entry with this description. "+
			"Return only the title, no quotes.\n\nDescription:\n%s",
		summary)

	title, err := p.chat(ctx,
		"You write short, concrete titles for personal video diary entries.",
		prompt)
	if err != nil {
		return "", err
	}
	return strings.Trim(title, `"' `), nil
}

// SuggestTags picks matching tags for the description from the user's
// favorite-tag vocabulary. Tags outside the vocabulary are discarded here
// and again by the caller.
func (p *Provider) SuggestTags(ctx context.Context, description string, favorites, existing []string) ([]string, error) {
	if strings.TrimSpace(description) == "" || len(favorites) == 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(
		"Pick the tags from the allowed list that fit this video diary description. "+
			"Only use tags from the allowed list, exactly as written. "+
			"Respond with a JSON object {\"tags\": [...]}.\n\n"+
			"Allowed tags: %s\nAlready assigned: %s\n\nDescription:\n%s",
		strings.Join(favorites, ", "), strings.Join(existing, ", "), description)

	release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.cfg.ChatModel,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You tag personal video diary entries using only the caller's allowed vocabulary.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: tag suggestion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}

	var parsed struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		p.logger.Warn("tag suggestion response not parseable", "error", err)
		return nil, nil
	}

	var tags []string
	for _, tag := range parsed.Tags {
		if model.ContainsTagFold(favorites, tag) {
			tags = append(tags, strings.TrimSpace(tag))
		}
	}
	return tags, nil
}

// Embed produces an embedding vector for the text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.cfg.EmbeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	return resp.Data[0].Embedding, nil
}

// chat issues a single-turn chat completion and returns the trimmed reply.
func (p *Provider) chat(ctx context.Context, system, prompt string) (string, error) {
	release, err := p.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.cfg.ChatModel,
		Temperature: 0.7,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
