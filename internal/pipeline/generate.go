package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/widget-forge/internal/llm"
	"github.com/JakeFAU/widget-forge/internal/metrics"
	"github.com/JakeFAU/widget-forge/internal/widget"
)

// Generator turns an extraction summary into an HTML document.
type Generator struct {
	model  llm.Model
	tokens *llm.TokenCounter
	logger *zap.Logger
}

// NewGenerator builds a Generator. tokens may be nil.
func NewGenerator(model llm.Model, tokens *llm.TokenCounter, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{model: model, tokens: tokens, logger: logger}
}

// Generate returns the raw model output for the widget.
func (g *Generator) Generate(ctx context.Context, summary, title, description string) (string, error) {
	start := time.Now()
	defer func() { metrics.ObserveStage(metrics.StageGeneration, time.Since(start)) }()

	messages := []llm.Message{
		llm.System(generationSystemPrompt),
		llm.User(generationPrompt(summary, title, description)),
	}
	metrics.ObservePromptTokens(metrics.StageGeneration, g.tokens.CountMessages(messages))

	raw, err := g.model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %w", widget.ErrGenerationFailed, err)
	}
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: empty output", widget.ErrGenerationFailed)
	}
	g.logger.Debug("generation finished", zap.Int("chars", len(raw)))
	return raw, nil
}
