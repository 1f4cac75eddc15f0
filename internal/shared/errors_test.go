package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"not found", fmt.Errorf("job: %w", ErrNotFound), KindNotFound},
		{"validation", fmt.Errorf("time: %w", ErrValidation), KindValidation},
		{"unauthorized", ErrUnauthorized, KindUnauthorized},
		{"dependency", fmt.Errorf("ems api: %w", ErrDependencyFailure), KindDependencyFailure},
		{"canceled", context.Canceled, KindCanceled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindOf_TimeoutBeatsDependency(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrDependencyFailure, context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestMarkKind(t *testing.T) {
	base := errors.New("row missing")
	marked := MarkKind(base, KindNotFound)

	require.Error(t, marked)
	assert.True(t, errors.Is(marked, ErrNotFound))
	assert.True(t, errors.Is(marked, base))

	// idempotent
	again := MarkKind(marked, KindNotFound)
	assert.Equal(t, marked, again)
}

func TestMarkKind_NilError(t *testing.T) {
	assert.Equal(t, ErrValidation, MarkKind(nil, KindValidation))
	assert.Nil(t, MarkKind(nil, KindCanceled))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ctx"))

	base := ErrNotFound
	wrapped := Wrap(base, "lookup job")
	assert.EqualError(t, wrapped, "lookup job: not found")
	assert.True(t, errors.Is(wrapped, ErrNotFound))

	assert.Equal(t, base, Wrap(base, ""))
}

func TestWrapf(t *testing.T) {
	wrapped := Wrapf(ErrValidation, "field %q", "time")
	assert.EqualError(t, wrapped, `field "time": validation failed`)
	assert.True(t, IsValidation(wrapped))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "Validation", KindValidation.String())
	assert.Equal(t, "Unknown", Kind(99).String())
}
