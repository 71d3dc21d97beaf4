package breaker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("test", nil)
	boom := errors.New("boom")

	for i := 0; i < 5; i++ {
		require.ErrorIs(t, b.Do(func() error { return boom }), boom)
	}

	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, called)
	assert.Equal(t, "open", b.State())
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	b := New("ok", nil)
	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, "closed", b.State())
}
