package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestKindOfTaggedError(t *testing.T) {
	err := New(KindConflict, "invitation already pending")
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "invitation already pending", Message(err))
}

func TestKindOfWrappedError(t *testing.T) {
	base := New(KindExpired, "invitation expired")
	wrapped := fmt.Errorf("resend: %w", base)

	assert.Equal(t, KindExpired, KindOf(wrapped))
	assert.Equal(t, "invitation expired", Message(wrapped))
	assert.True(t, errors.Is(wrapped, base))
}

func TestKindOfStorageSentinels(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(gorm.ErrRecordNotFound))
	assert.Equal(t, KindConflict, KindOf(gorm.ErrDuplicatedKey))
}

func TestKindOfUntaggedError(t *testing.T) {
	err := errors.New("dial tcp: connection refused")
	assert.Equal(t, KindInternal, KindOf(err))
	// Untagged internals never leak their message.
	assert.Equal(t, "internal error", Message(err))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("constraint violated")
	err := Wrap(KindConflict, "duplicate invitation", cause)

	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "duplicate invitation", Message(err))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "duplicate invitation: constraint violated", err.Error())
}

func TestKindOfNil(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, "", Message(nil))
}
