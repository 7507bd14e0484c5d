package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", transientFailure("refresh failed", cause))

	assert.ErrorIs(t, err, ErrTransientFailure)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrReauthRequired)
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "code only",
			err:  &Error{Code: CodeReauthRequired},
			want: "reauth_required",
		},
		{
			name: "with description and cause",
			err:  invalidGrant("state verification failed", errors.New("expired")),
			want: "invalid_grant: state verification failed: expired",
		},
		{
			name: "with missing scopes",
			err:  scopeMismatch([]string{"a", "b"}),
			want: "scope_mismatch: 2 required scope(s) not granted (missing a, b)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}
