package dbretry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robalyx/rewind/internal/database/dbretry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	dbretry.Configure(3, time.Millisecond, 5*time.Millisecond)
}

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"plain", errors.New("syntax error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, dbretry.IsRetryableError(tt.err))
		})
	}
}

func TestOperationRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	attempts := 0
	result, err := dbretry.Operation(t.Context(), func(context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("read: connection reset by peer")
		}

		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, attempts)
}

func TestNoResultStopsOnPermanentErrors(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("constraint violated")
	attempts := 0

	err := dbretry.NoResult(t.Context(), func(context.Context) error {
		attempts++
		return sentinel
	})

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}
