package cerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/opendxl/opendxl-streaming-client-go/cerr"
	"github.com/stretchr/testify/assert"
)

func TestPredicates(t *testing.T) {
	t.Run("temporary", func(t *testing.T) {
		err := cerr.Temporary("status %d", 500)
		assert.True(t, cerr.IsTemporary(err))
		assert.False(t, cerr.IsPermanent(err))
		assert.True(t, cerr.IsRetryable(err))
	})

	t.Run("permanent", func(t *testing.T) {
		err := cerr.Permanent("bad offset")
		assert.True(t, cerr.IsPermanent(err))
		assert.False(t, cerr.IsTemporary(err))
		assert.False(t, cerr.IsRetryable(err))
	})

	t.Run("consumer loss is temporary but not retryable", func(t *testing.T) {
		err := cerr.ConsumerLoss("consumer %q not found", "c1")
		assert.True(t, cerr.IsTemporary(err))
		assert.True(t, cerr.IsConsumerLoss(err))
		assert.False(t, cerr.IsRetryable(err))
	})

	t.Run("stop is permanent", func(t *testing.T) {
		err := cerr.Stop("stop requested")
		assert.True(t, cerr.IsStop(err))
		assert.True(t, cerr.IsPermanent(err))
		assert.False(t, cerr.IsRetryable(err))
	})

	t.Run("auth kinds", func(t *testing.T) {
		assert.True(t, cerr.IsPermanent(cerr.PermanentAuth("403")))
		assert.True(t, cerr.IsTemporary(cerr.TemporaryAuth("login unreachable")))
		assert.True(t, cerr.IsRetryable(cerr.TemporaryAuth("login unreachable")))
	})

	t.Run("untagged transport error stays retryable", func(t *testing.T) {
		err := errors.New("connection refused")
		assert.False(t, cerr.IsTemporary(err))
		assert.False(t, cerr.IsPermanent(err))
		assert.True(t, cerr.IsRetryable(err))
	})

	t.Run("nil is not retryable", func(t *testing.T) {
		assert.False(t, cerr.IsRetryable(nil))
	})
}

func TestWrapping(t *testing.T) {
	inner := errors.New("boom")
	err := fmt.Errorf("consume: %w", &cerr.ConsumerError{Err: inner})

	assert.True(t, cerr.IsConsumerLoss(err))
	assert.ErrorIs(t, err, inner)
}
