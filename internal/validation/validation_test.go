package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type child struct {
	Description string `json:"description" validate:"notblank"`
}

type parent struct {
	Title    string  `json:"title" validate:"notblank"`
	Target   int     `json:"targetValue" validate:"min=1,max=100"`
	Children []child `json:"keyActions" validate:"dive"`
}

func TestStructReportsJSONFieldPaths(t *testing.T) {
	err := Struct(parent{Title: "   ", Target: 101, Children: []child{{Description: "ok"}, {Description: "\t"}}})
	require.ErrorIs(t, err, ErrValidation)

	var validationErr *Error
	require.True(t, errors.As(err, &validationErr))
	fields := make([]string, 0, len(validationErr.Fields))
	for _, field := range validationErr.Fields {
		fields = append(fields, field.Field)
	}
	require.ElementsMatch(t, []string{"title", "targetValue", "keyActions[1].description"}, fields)
}

func TestStructAcceptsValidInput(t *testing.T) {
	require.NoError(t, Struct(parent{Title: "Run a marathon", Target: 100}))
}

func TestNewErrorMatchesSentinel(t *testing.T) {
	err := NewError("email", "email is required")
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "email is required")
}
