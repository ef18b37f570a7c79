package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/garyjia/docledger/internal/application/port"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrEmptyTranscription is returned when the model answers without text
var ErrEmptyTranscription = errors.New("empty transcription")

// Config holds the client settings
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Transcriber implements port.Transcriber with a vision-capable chat model
type Transcriber struct {
	client    *openai.Client
	model     string
	maxTokens int
	prompts   *PromptConfig
	logger    *zap.Logger
}

// NewTranscriber creates a transcriber; nil prompts use the built-in ones
func NewTranscriber(cfg Config, prompts *PromptConfig, logger *zap.Logger) *Transcriber {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = prompts.Transcription.MaxTokens
	}
	return &Transcriber{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: maxTokens,
		prompts:   prompts,
		logger:    logger,
	}
}

// Transcribe sends all pages in one request and returns the plain text
func (t *Transcriber) Transcribe(ctx context.Context, pages []port.PageImage) (string, error) {
	if len(pages) == 0 {
		return "", fmt.Errorf("no pages to transcribe")
	}

	prompt, err := renderTemplate(t.prompts.Transcription.UserTemplate, promptData{Pages: len(pages)})
	if err != nil {
		return "", err
	}

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: prompt}}
	for _, p := range pages {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    fmt.Sprintf("data:%s;base64,%s", p.MimeType, base64.StdEncoding.EncodeToString(p.Data)),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}

	t.logger.Debug("Transcribing pages", zap.Int("pages", len(pages)), zap.String("model", t.model))

	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       t.model,
		MaxTokens:   t.maxTokens,
		Temperature: t.prompts.Transcription.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: t.prompts.Transcription.System},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	})
	if err != nil {
		t.logger.Error("Vision API call failed", zap.Error(err))
		return "", fmt.Errorf("vision API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from vision API")
	}

	text := stripFences(resp.Choices[0].Message.Content)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyTranscription
	}

	t.logger.Info("Pages transcribed",
		zap.Int("pages", len(pages)),
		zap.Int("text_length", len(text)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return text, nil
}

// stripFences removes a surrounding markdown code fence some models add despite the prompt
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

var _ port.Transcriber = (*Transcriber)(nil)
