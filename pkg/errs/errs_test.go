package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidInput(t *testing.T) {
	err := InvalidInput("content exceeds %d characters", 10)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "content exceeds 10 characters")
}

func TestDimension(t *testing.T) {
	err := Dimension(3, 4)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, "vector dimension mismatch: expected 3, got 4", err.Error())
}

func TestStorage(t *testing.T) {
	assert.NoError(t, Storage("insert", nil))

	err := Storage("insert", errors.New("disk full"))
	assert.ErrorIs(t, err, ErrStorageOperation)
	assert.Contains(t, err.Error(), "insert")
}

func TestIsCanceled(t *testing.T) {
	assert.True(t, IsCanceled(context.Canceled))
	assert.True(t, IsCanceled(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.False(t, IsCanceled(ErrNotFound))
}
