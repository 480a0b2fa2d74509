package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorTypesCarryMessage(t *testing.T) {
	assert.Equal(t, "bad input", ErrValidation("bad input").Error())
	assert.Equal(t, "already exists", ErrConflict("already exists").Error())
	assert.Equal(t, "no such tourist", ErrNotFound("no such tourist").Error())
}

func TestErrorTypesAreDistinguishableByType(t *testing.T) {
	var err error = ErrConflict("dup")
	var conflict ErrConflict
	assert.True(t, errors.As(err, &conflict))

	var validation ErrValidation
	assert.False(t, errors.As(err, &validation))
}
