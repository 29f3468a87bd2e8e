package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const (
	defaultChatModelName      = "gemini-1.5-flash-latest"
	defaultEmbeddingModelName = "text-embedding-004"

	tutorSystemInstruction = "You are Lexi, a warm, supportive tutor for students with dyslexia. " +
		"Be conversational and friendly, like a supportive teacher. " +
		"Celebrate small victories and give constructive feedback on errors without discouragement. " +
		"Keep responses to 2-4 sentences unless explaining a concept, and offer specific, actionable suggestions. " +
		"Use emojis occasionally (🌟, 📚, ✨, 💪, 🎉)."
)

var ErrEmptyCompletion = errors.New("model returned no text")

// Turn is one prior message handed to the model as context.
type Turn struct {
	Role string // "user" or "model"
	Text string
}

// Completer produces a tutor reply for prompt given the conversation so far.
type Completer interface {
	Complete(ctx context.Context, system string, history []Turn, prompt string) (string, error)
}

// Embedder turns text into a vector for tip retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type LLMService struct {
	client *genai.Client
	logger *zap.Logger
}

func NewLLMService(ctx context.Context, apiKey string, logger *zap.Logger) (*LLMService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &LLMService{client: client, logger: logger}, nil
}

func (s *LLMService) Close() {
	if s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		s.logger.Warn("error closing GenAI client", zap.Error(err))
		return
	}
	s.logger.Info("GenAI client closed")
}

func (s *LLMService) Embed(ctx context.Context, text string) ([]float32, error) {
	em := s.client.EmbeddingModel(defaultEmbeddingModelName)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// Complete sends prompt as the next user turn after history. An empty
// system string uses the default tutor instruction.
func (s *LLMService) Complete(ctx context.Context, system string, history []Turn, prompt string) (string, error) {
	if system == "" {
		system = tutorSystemInstruction
	}
	model := s.client.GenerativeModel(defaultChatModelName)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	temp := float32(0.8)
	maxTokens := int32(400)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	session := model.StartChat()
	session.History = toContents(history)

	resp, err := session.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	return responseText(resp, s.logger)
}

func toContents(history []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, t := range history {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		role := t.Role
		if role != "user" {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Text)}})
	}
	return contents
}

func responseText(resp *genai.GenerateContentResponse, logger *zap.Logger) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyCompletion
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		} else {
			logger.Debug("ignoring non-text response part", zap.String("type", fmt.Sprintf("%T", part)))
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
