package recerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil-adjacent plain error", errors.New("boom"), KindUnknown},
		{"direct", New(KindNotFound, "recording not found"), KindNotFound},
		{"wrapped once", fmt.Errorf("outer: %w", New(KindTransient, "timeout")), KindTransient},
		{"wrapped classified", Wrap(KindAuthExpired, errors.New("401"), "refreshing token"), KindAuthExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(KindTransient, "provider 503")))
	assert.True(t, Retryable(errors.New("unclassified")))
	assert.False(t, Retryable(New(KindAuthExpired, "token dead")))
	assert.False(t, Retryable(New(KindAdmission, "not allowed")))
	assert.False(t, Retryable(New(KindTerminal, "bad input")))
	assert.False(t, Retryable(New(KindRace, "state changed")))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindTransient, nil, "ignored"))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindTerminal, errors.New("no audio stream"), "probing input")
	assert.Equal(t, "probing input: no audio stream", err.Error())
	assert.Equal(t, "terminal", KindOf(err).String())

	bare := New(KindNotFound, "preset not found")
	assert.Equal(t, "preset not found", bare.Error())
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("cause")
	err := Wrap(KindTransient, cause, "fetching")
	assert.ErrorIs(t, err, cause)
}
