package acquire

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/widget-forge/internal/fetcher/colly"
	"github.com/JakeFAU/widget-forge/internal/headless/detector"
	"github.com/JakeFAU/widget-forge/internal/widget"
)

type stubFetcher struct {
	mu      sync.Mutex
	body    string
	err     error
	calls   int
	tier    widget.Tier
	delay   time.Duration
	sawDead bool
}

func (s *stubFetcher) Fetch(ctx context.Context, req widget.FetchRequest) (widget.FetchResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return widget.FetchResponse{}, ctx.Err()
		}
	}
	if _, ok := ctx.Deadline(); ok {
		s.mu.Lock()
		s.sawDead = true
		s.mu.Unlock()
	}
	if s.err != nil {
		return widget.FetchResponse{}, s.err
	}
	return widget.FetchResponse{URL: req.URL, StatusCode: 200, Body: s.body, Tier: s.tier}, nil
}

func (s *stubFetcher) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTwoTier(t *testing.T, static, dynamic widget.Fetcher, cfg TwoTierConfig) *TwoTier {
	t.Helper()
	gate := detector.NewQualityGate(detector.DefaultMinChars, detector.DefaultBlockedPhrases)
	tt, err := NewTwoTier(static, dynamic, gate, cfg, zap.NewNop())
	require.NoError(t, err)
	return tt
}

func TestTwoTierQualityGateBoundaries(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		static      string
		wantDynamic bool
	}{
		{name: "799 chars promotes", static: strings.Repeat("a", 799), wantDynamic: true},
		{name: "800 chars stays static", static: strings.Repeat("a", 800), wantDynamic: false},
		{name: "blocked phrase promotes", static: strings.Repeat("a", 900) + " Robot check", wantDynamic: true},
		{name: "empty promotes", static: "", wantDynamic: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			static := &stubFetcher{body: tc.static, tier: widget.TierStatic}
			dynamic := &stubFetcher{body: "rendered", tier: widget.TierDynamic}
			result := newTwoTier(t, static, dynamic, TwoTierConfig{}).Fetch(context.Background(), "job", "https://a.test")

			require.False(t, result.Failed())
			if tc.wantDynamic {
				require.Equal(t, 1, dynamic.Calls())
				require.Equal(t, "rendered", result.Content)
				require.Equal(t, widget.TierDynamic, result.Tier)
				return
			}
			require.Zero(t, dynamic.Calls())
			require.Equal(t, tc.static, result.Content)
			require.Equal(t, widget.TierStatic, result.Tier)
		})
	}
}

func TestTwoTierUsesDynamicContentRegardlessOfQuality(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{body: "tiny"}
	dynamic := &stubFetcher{body: "access denied"}
	result := newTwoTier(t, static, dynamic, TwoTierConfig{}).Fetch(context.Background(), "job", "https://a.test")
	require.Equal(t, "access denied", result.Content)
	require.Equal(t, 1, dynamic.Calls())
}

func TestTwoTierTruncatesContent(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{body: strings.Repeat("é", 6000)}
	result := newTwoTier(t, static, nil, TwoTierConfig{}).Fetch(context.Background(), "job", "https://a.test")
	require.Len(t, []rune(result.Content), DefaultMaxChars)

	result = newTwoTier(t, static, nil, TwoTierConfig{MaxChars: 900}).Fetch(context.Background(), "job", "https://a.test")
	require.Len(t, []rune(result.Content), 900)
}

func TestTwoTierKeepsStaticContentWhenDynamicDisabled(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{body: "short page"}
	result := newTwoTier(t, static, nil, TwoTierConfig{}).Fetch(context.Background(), "job", "https://a.test")
	require.False(t, result.Failed())
	require.Equal(t, "short page", result.Content)
	require.Equal(t, widget.TierStatic, result.Tier)
}

func TestTwoTierErrorsBecomeResults(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{err: errors.New("connection refused")}
	dynamic := &stubFetcher{body: "never"}
	result := newTwoTier(t, static, dynamic, TwoTierConfig{}).Fetch(context.Background(), "job", "https://down.test")
	require.True(t, result.Failed())
	require.Equal(t, "https://down.test", result.URL)
	require.Contains(t, result.Err, "connection refused")
	require.Contains(t, result.Err, "https://down.test")
	require.Zero(t, dynamic.Calls())

	static = &stubFetcher{body: ""}
	dynamic = &stubFetcher{err: errors.New("chrome crashed")}
	result = newTwoTier(t, static, dynamic, TwoTierConfig{}).Fetch(context.Background(), "job", "https://js.test")
	require.True(t, result.Failed())
	require.Equal(t, widget.TierDynamic, result.Tier)
	require.Contains(t, result.Err, "chrome crashed")
}

func TestTwoTierAppliesTierTimeouts(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{body: "", delay: time.Second}
	result := newTwoTier(t, static, nil, TwoTierConfig{StaticTimeout: 20 * time.Millisecond}).
		Fetch(context.Background(), "job", "https://slow.test")
	require.True(t, result.Failed())
	require.Contains(t, result.Err, context.DeadlineExceeded.Error())

	static = &stubFetcher{body: ""}
	dynamic := &stubFetcher{body: "ok"}
	newTwoTier(t, static, dynamic, TwoTierConfig{StaticTimeout: time.Second, DynamicTimeout: time.Second}).
		Fetch(context.Background(), "job", "https://a.test")
	require.True(t, static.sawDead)
	require.True(t, dynamic.sawDead)
}

func TestNewTwoTierValidation(t *testing.T) {
	t.Parallel()

	gate := detector.NewQualityGate(0, nil)
	_, err := NewTwoTier(nil, nil, gate, TwoTierConfig{}, nil)
	require.Error(t, err)
	_, err = NewTwoTier(&stubFetcher{}, nil, nil, TwoTierConfig{}, nil)
	require.Error(t, err)
}

type recordingLimiter struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (l *recordingLimiter) Wait(_ context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, url)
	return l.err
}

func TestTwoTierWaitsOnLimiterPerTier(t *testing.T) {
	t.Parallel()

	limiter := &recordingLimiter{}
	static := &stubFetcher{body: ""}
	dynamic := &stubFetcher{body: "rendered"}
	result := newTwoTier(t, static, dynamic, TwoTierConfig{Limiter: limiter}).
		Fetch(context.Background(), "job", "https://js.test")
	require.False(t, result.Failed())
	require.Equal(t, []string{"https://js.test", "https://js.test"}, limiter.urls)

	blocked := &recordingLimiter{err: errors.New("rate limit wait for js.test: context canceled")}
	static = &stubFetcher{body: "never"}
	result = newTwoTier(t, static, nil, TwoTierConfig{Limiter: blocked}).
		Fetch(context.Background(), "job", "https://js.test")
	require.True(t, result.Failed())
	require.Contains(t, result.Err, "rate limit wait")
	require.Zero(t, static.Calls())
}

func TestTwoTierPromotesBlockedErrorPages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<h1>Access Denied</h1><p>Are you a robot?</p>"))
	}))
	defer srv.Close()

	static := collyfetcher.New(collyfetcher.Config{Timeout: 2 * time.Second})
	dynamic := &stubFetcher{body: "Rendered specials", tier: widget.TierDynamic}
	result := newTwoTier(t, static, dynamic, TwoTierConfig{}).Fetch(context.Background(), "job", srv.URL)

	require.False(t, result.Failed(), result.Err)
	require.Equal(t, 1, dynamic.Calls())
	require.Equal(t, widget.TierDynamic, result.Tier)
	require.Equal(t, "Rendered specials", result.Content)
}
