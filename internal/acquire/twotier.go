package acquire

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/widget-forge/internal/fetcher/pagetext"
	"github.com/JakeFAU/widget-forge/internal/metrics"
	"github.com/JakeFAU/widget-forge/internal/widget"
)

// DefaultMaxChars bounds the content kept per URL.
const DefaultMaxChars = 5000

// HostLimiter paces requests to the same host.
type HostLimiter interface {
	Wait(ctx context.Context, url string) error
}

// TwoTierConfig tunes a TwoTier fetcher. Limiter is optional.
type TwoTierConfig struct {
	MaxChars       int
	StaticTimeout  time.Duration
	DynamicTimeout time.Duration
	Limiter        HostLimiter
}

// TwoTier fetches a URL statically and falls back to a dynamic render when the
// gate rejects the static text.
type TwoTier struct {
	static  widget.Fetcher
	dynamic widget.Fetcher
	gate    widget.HeadlessDetector
	cfg     TwoTierConfig
	logger  *zap.Logger
}

// NewTwoTier wires a TwoTier fetcher. dynamic may be nil, in which case
// rejected static content is kept as is.
func NewTwoTier(
	static widget.Fetcher,
	dynamic widget.Fetcher,
	gate widget.HeadlessDetector,
	cfg TwoTierConfig,
	logger *zap.Logger,
) (*TwoTier, error) {
	if static == nil {
		return nil, fmt.Errorf("static fetcher is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("quality gate is required")
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TwoTier{
		static:  static,
		dynamic: dynamic,
		gate:    gate,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Fetch returns the content for one URL. Failures are reported in the result,
// never as an error.
func (t *TwoTier) Fetch(ctx context.Context, jobID, url string) widget.FetchResult {
	logger := t.logger.With(zap.String("job_id", jobID), zap.String("url", url))
	req := widget.FetchRequest{JobID: jobID, URL: url}

	resp, err := t.fetchTier(ctx, t.static, t.cfg.StaticTimeout, req)
	if err != nil {
		metrics.ObserveFetch(string(widget.TierStatic), "error")
		logger.Warn("static fetch failed", zap.Error(err))
		return failed(url, widget.TierStatic, err)
	}
	metrics.ObserveFetch(string(widget.TierStatic), "ok")

	if t.gate.ShouldPromote(resp) {
		if t.dynamic == nil {
			logger.Warn("static content rejected but dynamic tier is disabled",
				zap.Int("chars", len([]rune(resp.Body))))
		} else {
			logger.Debug("promoting to dynamic tier", zap.Int("chars", len([]rune(resp.Body))))
			resp, err = t.fetchTier(ctx, t.dynamic, t.cfg.DynamicTimeout, req)
			if err != nil {
				metrics.ObserveFetch(string(widget.TierDynamic), "error")
				logger.Warn("dynamic fetch failed", zap.Error(err))
				return failed(url, widget.TierDynamic, err)
			}
			metrics.ObserveFetch(string(widget.TierDynamic), "ok")
			resp.Tier = widget.TierDynamic
		}
	}
	if resp.Tier == "" {
		resp.Tier = widget.TierStatic
	}

	logger.Debug("fetched source",
		zap.String("tier", string(resp.Tier)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", resp.Duration),
	)
	return widget.FetchResult{
		URL:     url,
		Content: pagetext.Truncate(resp.Body, t.cfg.MaxChars),
		Tier:    resp.Tier,
	}
}

func (t *TwoTier) fetchTier(
	ctx context.Context,
	fetcher widget.Fetcher,
	timeout time.Duration,
	req widget.FetchRequest,
) (widget.FetchResponse, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if t.cfg.Limiter != nil {
		if err := t.cfg.Limiter.Wait(ctx, req.URL); err != nil {
			return widget.FetchResponse{}, err
		}
	}
	return fetcher.Fetch(ctx, req)
}

func failed(url string, tier widget.Tier, err error) widget.FetchResult {
	fetchErr := &widget.FetchError{URL: url, Err: err}
	return widget.FetchResult{URL: url, Err: fetchErr.Error(), Tier: tier}
}
