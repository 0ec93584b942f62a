package otp

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator() *Authenticator {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewAuthenticator(NewMemoryStore(), logger)
}

func TestGenerateProducesNumericCode(t *testing.T) {
	code, err := Generate(6)
	require.NoError(t, err)
	require.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9')
	}

	fallback, err := Generate(0)
	require.NoError(t, err)
	assert.Len(t, fallback, 6)
}

func TestVerifySuccessConsumesCode(t *testing.T) {
	ctx := context.Background()
	auth := newTestAuthenticator()

	require.NoError(t, auth.Issue(ctx, "+911234567890", "482913", 5*time.Minute, 3))

	result, err := auth.Verify(ctx, "+911234567890", "482913")
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, ReasonOK, result.Reason)

	// A consumed code cannot be replayed.
	result, err = auth.Verify(ctx, "+911234567890", "482913")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, ReasonNotFound, result.Reason)
}

func TestVerifyUnknownDestination(t *testing.T) {
	auth := newTestAuthenticator()

	result, err := auth.Verify(context.Background(), "+910000000000", "123456")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, ReasonNotFound, result.Reason)
}

func TestVerifyExpiredCode(t *testing.T) {
	ctx := context.Background()
	auth := newTestAuthenticator()

	require.NoError(t, auth.Issue(ctx, "+911234567890", "482913", -time.Second, 3))

	result, err := auth.Verify(ctx, "+911234567890", "482913")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, ReasonExpired, result.Reason)

	// Expiry consumes the record.
	result, err = auth.Verify(ctx, "+911234567890", "482913")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, result.Reason)
}

func TestVerifyAttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	auth := newTestAuthenticator()

	require.NoError(t, auth.Issue(ctx, "+911234567890", "482913", 5*time.Minute, 3))

	result, err := auth.Verify(ctx, "+911234567890", "000001")
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalid, result.Reason)
	assert.Equal(t, 2, result.AttemptsRemaining)

	result, err = auth.Verify(ctx, "+911234567890", "000002")
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalid, result.Reason)
	assert.Equal(t, 1, result.AttemptsRemaining)

	result, err = auth.Verify(ctx, "+911234567890", "000003")
	require.NoError(t, err)
	assert.Equal(t, ReasonAttemptsExhausted, result.Reason)

	// The correct code no longer works after exhaustion.
	result, err = auth.Verify(ctx, "+911234567890", "482913")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, ReasonNotFound, result.Reason)
}

func TestReissueReplacesPriorCode(t *testing.T) {
	ctx := context.Background()
	auth := newTestAuthenticator()

	require.NoError(t, auth.Issue(ctx, "+911234567890", "111111", 5*time.Minute, 3))
	require.NoError(t, auth.Issue(ctx, "+911234567890", "222222", 5*time.Minute, 3))

	result, err := auth.Verify(ctx, "+911234567890", "111111")
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalid, result.Reason)

	result, err = auth.Verify(ctx, "+911234567890", "222222")
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestConcurrentVerifySingleSuccess(t *testing.T) {
	ctx := context.Background()
	auth := newTestAuthenticator()

	require.NoError(t, auth.Issue(ctx, "+911234567890", "482913", 5*time.Minute, 3))

	const attempts = 10
	var wg sync.WaitGroup
	results := make([]Result, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := auth.Verify(ctx, "+911234567890", "482913")
			require.NoError(t, err)
			results[i] = result
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, result := range results {
		if result.OK {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	auth := newTestAuthenticator()

	require.NoError(t, auth.Issue(ctx, "expired-1", "111111", -time.Second, 3))
	require.NoError(t, auth.Issue(ctx, "expired-2", "222222", -time.Second, 3))
	require.NoError(t, auth.Issue(ctx, "live", "333333", 5*time.Minute, 3))

	removed, err := auth.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	result, err := auth.Verify(ctx, "live", "333333")
	require.NoError(t, err)
	assert.True(t, result.OK)
}
