package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Run("Typed errors keep their kind through wrapping", func(t *testing.T) {
		err := fmt.Errorf("create post: %w", NotFound("thread %s not found", "t1"))

		assert.Equal(t, KindNotFound, KindOf(err))
		assert.True(t, Is(err, KindNotFound))
		assert.False(t, Is(err, KindConflict))
		assert.Contains(t, err.Error(), "thread t1 not found")
	})

	t.Run("Plain errors are internal", func(t *testing.T) {
		assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
		assert.False(t, Is(nil, KindInternal))
	})

	t.Run("Wrap exposes the cause", func(t *testing.T) {
		cause := errors.New("duplicate key")
		err := Wrap(KindConflict, cause, "thread already exists")

		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "thread already exists: duplicate key", err.Error())
		assert.Equal(t, "conflict", err.Kind.String())
	})
}
