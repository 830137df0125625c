package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/widget-forge/internal/llm"
	"github.com/JakeFAU/widget-forge/internal/metrics"
	"github.com/JakeFAU/widget-forge/internal/widget"
)

// DefaultMaxIterations caps the extraction conversation.
const DefaultMaxIterations = 5

// Extractor summarizes aggregated source content for a task using a bounded
// conversation with the extraction model.
type Extractor struct {
	model         llm.Model
	maxIterations int
	tokens        *llm.TokenCounter
	logger        *zap.Logger
}

// NewExtractor builds an Extractor. tokens may be nil.
func NewExtractor(model llm.Model, maxIterations int, tokens *llm.TokenCounter, logger *zap.Logger) *Extractor {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{model: model, maxIterations: maxIterations, tokens: tokens, logger: logger}
}

// Extract returns the summary of content relevant to task. The model sees only
// content and task.
func (e *Extractor) Extract(ctx context.Context, content, task string) (string, error) {
	start := time.Now()
	defer func() { metrics.ObserveStage(metrics.StageExtraction, time.Since(start)) }()

	messages := []llm.Message{
		llm.System(extractionSystemPrompt),
		llm.User(extractionPrompt(content, task)),
	}
	for step := 1; step <= e.maxIterations; step++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %w", widget.ErrExtractionFailed, err)
		}
		metrics.ObservePromptTokens(metrics.StageExtraction, e.tokens.CountMessages(messages))

		reply, err := e.model.Generate(ctx, messages)
		if err != nil {
			return "", fmt.Errorf("%w: step %d: %w", widget.ErrExtractionFailed, step, err)
		}
		if answer := finalAnswer(reply); answer != "" {
			e.logger.Debug("extraction answered", zap.Int("step", step), zap.Int("chars", len(answer)))
			return answer, nil
		}
		e.logger.Debug("extraction reply had no answer", zap.Int("step", step))
		messages = append(messages, llm.Assistant(reply), llm.User(extractionNudge))
	}
	return "", fmt.Errorf("%w: no answer after %d iterations", widget.ErrExtractionFailed, e.maxIterations)
}
