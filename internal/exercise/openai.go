package exercise

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/audiolibrelab/fluentdrill/internal/errors"
)

const systemPrompt = "You are a helpful language teacher generating pronunciation exercises."

// OpenAIGenerator asks a chat model for a list of exercises.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// OpenAIOptions configures the generator. BaseURL is only needed for
// OpenAI-compatible gateways.
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

// NewOpenAIGenerator creates a generator backed by the chat completions API.
func NewOpenAIGenerator(opts OpenAIOptions) *OpenAIGenerator {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 800
	}

	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		maxTokens:   maxTokens,
		temperature: opts.Temperature,
	}
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (*Set, error) {
	req, lang, err := req.Normalize()
	if err != nil {
		return nil, err
	}

	slog.Debug("Requesting exercises", "topic", req.Topic, "difficulty", req.Difficulty, "language", lang.Code, "model", g.model)

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req, lang)},
		},
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, errors.Generation("exercise generation request failed", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, errors.Generation("model returned an empty response", nil)
	}

	exercises, err := parseExercises(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, errors.Generation("model returned unusable exercises", err)
	}

	slog.Info("Exercises generated", "topic", req.Topic, "count", len(exercises))

	return &Set{
		Topic:         req.Topic,
		Difficulty:    req.Difficulty,
		LanguageLabel: lang.Label,
		LanguageCode:  lang.Code,
		Exercises:     exercises,
	}, nil
}

// instructionFor returns the size/shape of the list for a level.
func instructionFor(d Difficulty) string {
	switch d {
	case DifficultyBeginner:
		return "Generate 8 single words suitable for beginner pronunciation practice."
	case DifficultyElementary:
		return "Generate 7 very short phrases (2-3 words each) suitable for elementary pronunciation practice."
	case DifficultyIntermediate:
		return "Generate 6 short phrases (2-4 words each) suitable for intermediate pronunciation practice."
	case DifficultyAdvanced:
		return "Generate 5 complete sentences, each 5-8 words long, suitable for advanced pronunciation practice."
	default:
		return "Generate 5 complete sentences, each 10-15 words long, suitable for fluent speakers."
	}
}

func buildPrompt(req Request, lang Language) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s The topic is %q and the language is %s.\n\n", instructionFor(req.Difficulty), req.Topic, lang.Label)
	b.WriteString("Rules:\n")
	b.WriteString("- Use clear, common vocabulary appropriate for language learning\n")
	b.WriteString("- \"native\" is the text in the language's own script\n")
	b.WriteString("- \"romanized\" is a Latin-script transliteration, identical to \"native\" for Latin-script languages\n")
	b.WriteString("- \"translation\" is the English meaning\n")
	b.WriteString("- Do not number the items or add punctuation decoration\n\n")
	b.WriteString(`Respond ONLY with JSON of the form {"exercises":[{"native":"...","romanized":"...","translation":"..."}]}`)
	return b.String()
}

// parseExercises accepts either {"exercises":[...]} or a bare array, with or
// without a markdown code fence around it.
func parseExercises(content string) ([]Exercise, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw []Exercise
	if strings.HasPrefix(content, "[") {
		if err := json.Unmarshal([]byte(content), &raw); err != nil {
			return nil, fmt.Errorf("decode exercise list: %w", err)
		}
	} else {
		var wrapped struct {
			Exercises []Exercise `json:"exercises"`
		}
		if err := json.Unmarshal([]byte(content), &wrapped); err != nil {
			return nil, fmt.Errorf("decode exercise object: %w", err)
		}
		raw = wrapped.Exercises
	}

	exercises := make([]Exercise, 0, len(raw))
	for _, ex := range raw {
		ex.Native = strings.TrimSpace(ex.Native)
		ex.Romanized = strings.TrimSpace(ex.Romanized)
		ex.Translation = strings.TrimSpace(ex.Translation)
		if ex.Native == "" {
			continue
		}
		exercises = append(exercises, ex)
	}

	if len(exercises) == 0 {
		return nil, fmt.Errorf("no exercises in response")
	}
	return exercises, nil
}
