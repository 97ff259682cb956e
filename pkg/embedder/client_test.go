package embedder

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/vectormem/pkg/embedder/mocks"
	"github.com/oceanbase/vectormem/pkg/errs"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *sleepRecorder) total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum time.Duration
	for _, d := range r.delays {
		sum += d
	}
	return sum
}

func testRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		BaseDelay:    10 * time.Millisecond,
		MaxDelay:     time.Second,
		MaxTotalWait: 10 * time.Second,
		Jitter:       0.25,
		Seed:         42,
	}
}

func newMockProvider(t *testing.T) *mocks.MockProvider {
	ctrl := gomock.NewController(t)
	mock := mocks.NewMockProvider(ctrl)
	mock.EXPECT().Dimensions().AnyTimes().Return(3)
	return mock
}

func TestClient_RetriesThenSucceeds(t *testing.T) {
	provider := newMockProvider(t)
	calls := 0
	provider.EXPECT().Embed(gomock.Any(), "hello").Times(5).DoAndReturn(func(ctx context.Context, text string) ([]float64, error) {
		calls++
		if calls <= 4 {
			return nil, &StatusError{StatusCode: http.StatusServiceUnavailable, Body: "overloaded"}
		}
		return []float64{1, 0, 0}, nil
	})

	rec := &sleepRecorder{}
	client := NewClient(provider, testRetryConfig(), WithSleep(rec.sleep))

	vec, err := client.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0}, vec)

	var expected time.Duration
	for i := 0; i < 4; i++ {
		expected += client.Delay(i)
	}
	assert.Len(t, rec.delays, 4)
	assert.Equal(t, expected, rec.total())
}

func TestClient_ExhaustsAttempts(t *testing.T) {
	provider := newMockProvider(t)
	provider.EXPECT().Embed(gomock.Any(), gomock.Any()).Times(5).
		Return(nil, &StatusError{StatusCode: http.StatusTooManyRequests})

	rec := &sleepRecorder{}
	client := NewClient(provider, testRetryConfig(), WithSleep(rec.sleep))

	_, err := client.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, errs.ErrEmbeddingUnavailable)
	assert.Len(t, rec.delays, 4)
}

func TestClient_TotalWaitCap(t *testing.T) {
	cfg := testRetryConfig()
	cfg.Jitter = 0
	cfg.BaseDelay = 100 * time.Millisecond
	cfg.MaxTotalWait = 250 * time.Millisecond

	provider := newMockProvider(t)
	provider.EXPECT().Embed(gomock.Any(), gomock.Any()).Times(2).
		Return(nil, &StatusError{StatusCode: http.StatusBadGateway})

	rec := &sleepRecorder{}
	client := NewClient(provider, cfg, WithSleep(rec.sleep))

	_, err := client.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, errs.ErrEmbeddingUnavailable)
	// 100ms, then 200ms would exceed the 250ms budget.
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, rec.delays)
}

func TestClient_NonRetryable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"bad request", http.StatusBadRequest, errs.ErrInvalidInput},
		{"too large", http.StatusRequestEntityTooLarge, errs.ErrInvalidInput},
		{"unauthorized", http.StatusUnauthorized, errs.ErrAuthentication},
		{"forbidden", http.StatusForbidden, errs.ErrAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newMockProvider(t)
			provider.EXPECT().Embed(gomock.Any(), gomock.Any()).Times(1).
				Return(nil, &StatusError{StatusCode: tt.status})

			rec := &sleepRecorder{}
			client := NewClient(provider, testRetryConfig(), WithSleep(rec.sleep))

			_, err := client.Embed(context.Background(), "hello")
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, rec.delays)
		})
	}
}

func TestClient_ValidatesInput(t *testing.T) {
	provider := newMockProvider(t)
	cfg := testRetryConfig()
	cfg.MaxInputLength = 10
	client := NewClient(provider, cfg)

	_, err := client.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = client.Embed(context.Background(), strings.Repeat("x", 11))
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	assert.Contains(t, err.Error(), "exceeds maximum 10")
}

func TestClient_DimensionMismatch(t *testing.T) {
	provider := newMockProvider(t)
	provider.EXPECT().Embed(gomock.Any(), gomock.Any()).Times(1).Return([]float64{1, 2}, nil)

	client := NewClient(provider, testRetryConfig())
	_, err := client.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, errs.ErrDimensionMismatch)
}

func TestClient_CancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	provider := newMockProvider(t)
	provider.EXPECT().Embed(gomock.Any(), gomock.Any()).Times(1).DoAndReturn(func(ctx context.Context, text string) ([]float64, error) {
		cancel()
		return nil, &StatusError{StatusCode: http.StatusServiceUnavailable}
	})

	client := NewClient(provider, testRetryConfig())
	_, err := client.Embed(ctx, "hello")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClient_EmbedBatch(t *testing.T) {
	provider := newMockProvider(t)
	provider.EXPECT().EmbedBatch(gomock.Any(), []string{"a", "b"}).Times(1).
		Return([][]float64{{1, 0, 0}, {0, 1, 0}}, nil)

	client := NewClient(provider, testRetryConfig())
	vecs, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)

	_, err = client.EmbedBatch(context.Background(), []string{"a", ""})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestClient_DelayIsDeterministic(t *testing.T) {
	a := NewClient(newMockProvider(t), testRetryConfig())
	b := NewClient(newMockProvider(t), testRetryConfig())

	for attempt := 0; attempt < 6; attempt++ {
		d := a.Delay(attempt)
		assert.Equal(t, d, b.Delay(attempt))

		base := 10 * time.Millisecond << uint(attempt)
		assert.GreaterOrEqual(t, d, base-base/4)
		assert.LessOrEqual(t, d, base+base/4)
	}
}

func TestClient_DelayCapped(t *testing.T) {
	cfg := testRetryConfig()
	cfg.Jitter = 0
	client := NewClient(newMockProvider(t), cfg)

	assert.Equal(t, time.Second, client.Delay(20))
	assert.Equal(t, time.Second, client.Delay(200))
}

func TestClient_DelayJitterNeverExceedsMax(t *testing.T) {
	for seed := uint64(1); seed <= 50; seed++ {
		cfg := testRetryConfig()
		cfg.Seed = seed
		client := NewClient(newMockProvider(t), cfg)

		for _, attempt := range []int{7, 20, 200} {
			d := client.Delay(attempt)
			assert.LessOrEqual(t, d, time.Second)
			assert.GreaterOrEqual(t, d, time.Second-time.Second/4)
		}
	}
}

func TestClient_Validate(t *testing.T) {
	cfg := testRetryConfig()
	cfg.MaxInputLength = 10
	client := NewClient(newMockProvider(t), cfg)

	assert.NoError(t, client.Validate("short"))
	assert.ErrorIs(t, client.Validate("   "), errs.ErrInvalidInput)

	err := client.Validate(strings.Repeat("x", 11))
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	assert.ErrorContains(t, err, "exceeds maximum 10")
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&StatusError{StatusCode: 500}))
	assert.True(t, Retryable(&StatusError{StatusCode: 408}))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.False(t, Retryable(&StatusError{StatusCode: 404}))
	assert.False(t, Retryable(errors.New("boom")))
	assert.False(t, Retryable(nil))
}
