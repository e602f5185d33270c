package embedding

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"evidence-rag/internal/config"
)

// LangchainEmbedder normalizes the output of a langchaingo embedder.
type LangchainEmbedder struct {
	impl    *embeddings.EmbedderImpl
	modelID string
}

const defaultOllamaURL = "http://localhost:11434"

// new ollama embedder
func NewOllamaEmbedder(cfg *config.LLMConfig) (*LangchainEmbedder, error) {
	serverURL := cfg.BaseURL
	if serverURL == "" {
		serverURL = defaultOllamaURL
	}
	llm, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, err
	}
	impl, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, err
	}
	return &LangchainEmbedder{impl: impl, modelID: "ollama/" + cfg.Model}, nil
}

// NewLangchainOpenAIEmbedder talks to any OpenAI-compatible endpoint (OpenRouter etc).
func NewLangchainOpenAIEmbedder(cfg *config.LLMConfig) (*LangchainEmbedder, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	impl, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, err
	}
	return &LangchainEmbedder{impl: impl, modelID: "openai/" + cfg.Model}, nil
}

func (e *LangchainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	for _, v := range vectors {
		Normalize(v)
	}
	return vectors, nil
}

func (e *LangchainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := e.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

func (e *LangchainEmbedder) ModelID() string { return e.modelID }
