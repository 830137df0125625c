package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	_, err = NewChromedp(Config{Settle: -time.Second})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)
	require.Equal(t, 2, cap(fetcher.limiter))
	require.Equal(t, defaultNavigationTimeout, fetcher.cfg.NavigationTimeout)
}

func TestFetcherTimeoutDefaults(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	require.Equal(t, 45*time.Second, fetcher.navTimeout())
	require.Equal(t, 500*time.Millisecond, fetcher.settle())

	fetcher.cfg.NavigationTimeout = time.Second
	fetcher.cfg.Settle = 10 * time.Millisecond
	require.Equal(t, time.Second, fetcher.navTimeout())
	require.Equal(t, 10*time.Millisecond, fetcher.settle())
}

func TestFetcherAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{limiter: make(chan struct{}, 1)}
	require.NoError(t, fetcher.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, fetcher.acquire(ctx), context.Canceled)

	fetcher.release()
	require.NoError(t, fetcher.acquire(context.Background()))
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := &responseMeta{}
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeImage,
		Response: &network.Response{
			Status: 404,
			URL:    "https://example.com/logo.png",
		},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 203,
			URL:    "https://example.com/rendered",
		},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 203, status)
	require.Equal(t, "https://example.com/rendered", url)

	meta = &responseMeta{}
	status, url = meta.snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)

	_, url = meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, "https://req", url)
}
