package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsInsufficientSlots(t *testing.T) {
	base := &InsufficientSlotsError{Available: 2, Requested: 5}
	assert.True(t, IsInsufficientSlots(base))
	assert.True(t, IsInsufficientSlots(fmt.Errorf("debit slot account: %w", base)))

	assert.False(t, IsInsufficientSlots(nil))
	assert.False(t, IsInsufficientSlots(errors.New("something else")))
	assert.False(t, IsInsufficientSlots(ErrAccountNotInitialized))
}

func TestInsufficientSlotsErrorMessage(t *testing.T) {
	err := &InsufficientSlotsError{Available: 2, Requested: 5}
	assert.Equal(t, "insufficient slots: available 2, required 5", err.Error())
}
