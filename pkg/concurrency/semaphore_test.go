package concurrency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerSemaphoreBoundsConcurrency(t *testing.T) {
	sem := NewHandlerSemaphore(2)

	require.NoError(t, sem.Acquire(context.Background()))
	require.NoError(t, sem.Acquire(context.Background()))

	assert.False(t, sem.TryAcquire())

	sem.Release()
	assert.True(t, sem.TryAcquire())
}

func TestHandlerSemaphoreDefaultsWhenNonPositive(t *testing.T) {
	sem := NewHandlerSemaphore(0)
	for i := 0; i < DefaultHandlerLimit; i++ {
		require.True(t, sem.TryAcquire())
	}
	assert.False(t, sem.TryAcquire())
}
