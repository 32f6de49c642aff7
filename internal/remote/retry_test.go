package remote

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/kilupskalvis/modsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient_NilError(t *testing.T) {
	assert.False(t, isTransient(nil))
}

func TestIsTransient_ServerError(t *testing.T) {
	err := &RemoteError{Status: 500, Code: "internal_error", Message: "server error"}
	assert.True(t, isTransient(err))
}

func TestIsTransient_TooManyRequests(t *testing.T) {
	err := &RemoteError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "too many"}
	assert.True(t, isTransient(err))
}

func TestIsTransient_ClientError(t *testing.T) {
	err := &RemoteError{Status: 404, Code: "not_found", Message: "not found"}
	assert.False(t, isTransient(err))
}

func TestIsTransient_NetworkError(t *testing.T) {
	err := &http.MaxBytesError{Limit: 100}
	assert.True(t, isTransient(err))
}

func TestRetryClient_Backoff(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.0, // no jitter for deterministic test
	})

	d0 := rc.backoff(0)
	d1 := rc.backoff(1)
	d2 := rc.backoff(2)

	assert.Equal(t, 100*time.Millisecond, d0)
	assert.Equal(t, 200*time.Millisecond, d1)
	assert.Equal(t, 400*time.Millisecond, d2)
}

func TestRetryClient_BackoffCapped(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		MaxRetries:     10,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     5 * time.Second,
		JitterFraction: 0.0,
	})

	d := rc.backoff(10)
	assert.Equal(t, 5*time.Second, d)
}

func TestRetryClient_RetrySuccess(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		JitterFraction: 0.0,
	})

	attempts := 0
	err := rc.retry(context.Background(), "test", func() error {
		attempts++
		if attempts < 3 {
			return &RemoteError{Status: 500, Code: "internal", Message: "fail"}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryClient_RetryExhausted(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		JitterFraction: 0.0,
	})

	attempts := 0
	err := rc.retry(context.Background(), "test", func() error {
		attempts++
		return &RemoteError{Status: 500, Code: "internal", Message: "fail"}
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts) // initial + 2 retries
}

func TestRetryClient_NoRetryOn4xx(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		JitterFraction: 0.0,
	})

	attempts := 0
	err := rc.retry(context.Background(), "test", func() error {
		attempts++
		return &RemoteError{Status: 404, Code: "not_found", Message: "not found"}
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts) // no retry
}

func TestRetryClient_ContextCancellation(t *testing.T) {
	rc := NewRetryClient(nil, &RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.0,
	})

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := rc.retry(ctx, "test", func() error {
		attempts++
		return &RemoteError{Status: 500, Code: "internal", Message: "fail"}
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
}

func TestSleep_ContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleep(ctx, 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleep_Normal(t *testing.T) {
	err := sleep(context.Background(), 1*time.Millisecond)
	assert.NoError(t, err)
}

// flakyClient fails every call with err until failures runs out.
type flakyClient struct {
	err      error
	failures int
	calls    map[string]int
}

func newFlakyClient(err error, failures int) *flakyClient {
	return &flakyClient{err: err, failures: failures, calls: map[string]int{}}
}

func (f *flakyClient) next(method string) error {
	f.calls[method]++
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return nil
}

func (f *flakyClient) Fetch(_ context.Context, courseID string) ([]models.Module, error) {
	if err := f.next("fetch"); err != nil {
		return nil, err
	}
	return []models.Module{{ID: "m1", CourseID: courseID, Position: 1}}, nil
}

func (f *flakyClient) Create(_ context.Context, courseID string, fields models.ModuleFields) (models.Module, error) {
	return models.Module{}, f.next("create")
}

func (f *flakyClient) Update(_ context.Context, id string, _ models.ModulePatch) (models.Module, error) {
	return models.Module{}, f.next("update")
}

func (f *flakyClient) Delete(_ context.Context, _ string) error { return f.next("delete") }

func (f *flakyClient) Reorder(_ context.Context, _ string, _ []models.PositionUpdate) error {
	return f.next("reorder")
}

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestRetryClient_FetchRetriesTransient(t *testing.T) {
	inner := newFlakyClient(&RemoteError{Status: 503, Code: "unavailable"}, 2)
	rc := NewRetryClient(inner, fastRetry())

	mods, err := rc.Fetch(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, mods, 1)
	assert.Equal(t, 3, inner.calls["fetch"])
}

func TestRetryClient_FetchNotFoundNotRetried(t *testing.T) {
	inner := newFlakyClient(&RemoteError{Status: 404, Code: CodeNotFound}, 5)
	rc := NewRetryClient(inner, fastRetry())

	_, err := rc.Fetch(context.Background(), "c1")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, 1, inner.calls["fetch"])
}

func TestRetryClient_MutationsNeverRetried(t *testing.T) {
	inner := newFlakyClient(&RemoteError{Status: 500, Code: CodeInternal}, 100)
	rc := NewRetryClient(inner, fastRetry())
	ctx := context.Background()

	_, err := rc.Create(ctx, "c1", models.ModuleFields{Title: "A"})
	assert.Error(t, err)
	_, err = rc.Update(ctx, "m1", models.ModulePatch{})
	assert.Error(t, err)
	assert.Error(t, rc.Delete(ctx, "m1"))
	assert.Error(t, rc.Reorder(ctx, "c1", nil))

	for _, method := range []string{"create", "update", "delete", "reorder"} {
		assert.Equal(t, 1, inner.calls[method], method)
	}
}

func TestRetryClient_WrapsLastError(t *testing.T) {
	cause := &RemoteError{Status: 502, Code: "bad_gateway", Message: "upstream down"}
	rc := NewRetryClient(newFlakyClient(cause, 100), fastRetry())

	_, err := rc.Fetch(context.Background(), "c1")
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "upstream down", re.UserMessage())
}
