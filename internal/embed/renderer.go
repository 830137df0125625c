// Package embed renders the public iframe document for a mask.
package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/widget-forge/internal/widget"
)

// FallbackDocument is served while no completed widget exists. It reloads
// itself every five seconds.
const FallbackDocument = `<html>
    <body style="font-family: sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; background: #f8fafc;">
        <div style="text-align: center; color: #64748b;">
            <h2>Widget Generating...</h2>
            <p>Please check back in a moment.</p>
        </div>
        <script>setTimeout(function(){ location.reload(); }, 5000);</script>
    </body>
</html>
`

// InvalidDataDocument is served when the stored result has no html_code.
const InvalidDataDocument = "<h1>Error: Invalid Data</h1>"

const baseTarget = "<base target='_blank'>"

// LatestReader returns the newest completed job of a mask.
type LatestReader interface {
	LatestCompleted(ctx context.Context, maskID string) (widget.Job, error)
}

// Renderer turns the latest completed job into an HTML document.
type Renderer struct {
	jobs   LatestReader
	logger *zap.Logger
}

// NewRenderer builds a Renderer.
func NewRenderer(jobs LatestReader, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{jobs: jobs, logger: logger}
}

// Render always returns a document: the widget, the fallback, or an error page.
func (r *Renderer) Render(ctx context.Context, maskID string) string {
	job, err := r.jobs.LatestCompleted(ctx, maskID)
	if errors.Is(err, widget.ErrJobNotFound) {
		return FallbackDocument
	}
	if err != nil {
		r.logger.Error("load latest widget", zap.String("mask_id", maskID), zap.Error(err))
		return systemError(err)
	}

	code, err := htmlCode(job.Result)
	if err != nil {
		r.logger.Warn("decode widget result", zap.String("mask_id", maskID), zap.String("job_id", job.ID), zap.Error(err))
		return systemError(err)
	}
	return InjectBaseTarget(code)
}

// InjectBaseTarget makes links open outside the iframe by adding a base
// element right after the first <head>.
func InjectBaseTarget(doc string) string {
	return strings.Replace(doc, "<head>", "<head>"+baseTarget, 1)
}

func htmlCode(result json.RawMessage) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(result, &fields); err != nil {
		return "", fmt.Errorf("decode result: %w", err)
	}
	raw, ok := fields["html_code"]
	if !ok {
		return InvalidDataDocument, nil
	}
	var code string
	if err := json.Unmarshal(raw, &code); err != nil {
		return "", fmt.Errorf("decode html_code: %w", err)
	}
	return code, nil
}

func systemError(err error) string {
	return "<h1>System Error</h1><p>" + html.EscapeString(err.Error()) + "</p>"
}
