package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, KindUnknown},
		{ErrBadInput, KindValidation},
		{fmt.Errorf("lookup: %w", ErrNoAccount), KindValidation},
		{ErrBelowMinimum, KindValidation},
		{ErrInsufficientBalance, KindInsufficientBalance},
		{fmt.Errorf("%w: gateway said no", ErrTransferFailed), KindTerminalTransfer},
		{errors.New("connection reset"), KindTransient},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, KindOf(tc.err), "err=%v", tc.err)
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(errors.New("timeout")))
	assert.False(t, Retryable(ErrInsufficientBalance))
	assert.False(t, Retryable(ErrTransferFailed))
}

func TestDBWrap(t *testing.T) {
	cause := errors.New("conn closed")
	err := DB("insert redemption", cause)
	assert.True(t, IsDB(err))
	assert.ErrorIs(t, err, cause)

	// domain errors are not relabelled as storage failures
	assert.False(t, IsDB(DB("debit", ErrInsufficientBalance)))
	assert.Nil(t, DB("noop", nil))
}
