package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"nil", nil, ""},
		{"parse", ErrParse, "parse_error"},
		{"wrapped parse", fmt.Errorf("decode: %w", ErrParse), "parse_error"},
		{"unknown command", ErrUnknownCommand, "unknown_command"},
		{"transport", ErrTransportNotAllowed, "transport_not_allowed"},
		{"timeout", ErrTimeout, "timeout"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"queue full", ErrQueueFull, "queue_full"},
		{"anything else", fmt.Errorf("track index out of range"), "host_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, Kind(tt.err))
		})
	}
}

func TestClassification(t *testing.T) {
	assert.True(t, IsInvalid(ErrParse))
	assert.True(t, IsInvalid(ErrUnknownCommand))
	assert.True(t, IsInvalid(ErrTransportNotAllowed))
	assert.False(t, IsInvalid(ErrTimeout))

	assert.True(t, IsTransient(ErrQueueFull))
	assert.True(t, IsTransient(ErrTimeout))
	assert.True(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(ErrInvalidConfig))

	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(ErrMissingConfig))
	assert.False(t, IsFatal(ErrParse))
}

func TestWrapPreservesChain(t *testing.T) {
	err := Wrap(ErrUnknownCommand, "classifier", "Classify", "lookup")
	require.Error(t, err)
	assert.True(t, Is(err, ErrUnknownCommand))
	assert.Contains(t, err.Error(), "classifier.Classify: lookup failed")

	assert.NoError(t, Wrap(nil, "classifier", "Classify", "lookup"))
}

func TestWrapClassified(t *testing.T) {
	base := fmt.Errorf("bind: address already in use")

	transient := WrapTransient(base, "udp-input", "Start", "socket binding")
	assert.True(t, IsTransient(transient))
	assert.Equal(t, ErrorTransient, Classify(transient))

	invalid := WrapInvalid(base, "tcp-gateway", "handle", "decode")
	assert.True(t, IsInvalid(invalid))
	assert.Equal(t, ErrorInvalid, Classify(invalid))

	fatal := WrapFatal(base, "config", "Validate", "ports")
	assert.True(t, IsFatal(fatal))
	assert.Equal(t, ErrorFatal, Classify(fatal))

	var ce *ClassifiedError
	require.True(t, As(fatal, &ce))
	assert.Equal(t, "config", ce.Component)
	assert.True(t, Is(fatal, base))
}

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}
