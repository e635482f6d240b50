package errno

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"nil", nil, 0},
		{"plain errno", ErrInvalidState, ErrInvalidState.Code},
		{"wrapped errno", fmt.Errorf("confirm funding: %w", ErrValidation), ErrValidation.Code},
		{"unknown", errors.New("boom"), InternalServerError.Code},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := Decode(tt.err)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestWithMessageKeepsIdentity(t *testing.T) {
	err := ErrValidation.WithMessage("amount must be positive")

	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, "amount must be positive", err.Error())
}
