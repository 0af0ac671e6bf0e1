package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderPlacedPayload struct {
	OrderID string `json:"orderId" validate:"required"`
	Total   int    `json:"total" validate:"gte=0"`
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register("order-placed", "1.0", func() any {
		return &orderPlacedPayload{}
	}))
	return reg
}

func TestRegistry_Supports(t *testing.T) {
	reg := newTestRegistry(t)

	assert.True(t, reg.Supports("order-placed", "1.0"))
	// Higher minor of the same major is additive-only and still supported.
	assert.True(t, reg.Supports("order-placed", "1.5"))

	assert.False(t, reg.Supports("order-placed", "2.0"))
	assert.False(t, reg.Supports("order-cancelled", "1.0"))
	assert.False(t, reg.Supports("order-placed", "not-a-version"))
}

func TestRegistry_ValidatePasses(t *testing.T) {
	reg := newTestRegistry(t)

	err := reg.Validate("order-placed", "1.0", []byte(`{"orderId":"o-1","total":100}`))
	assert.NoError(t, err)

	// Unknown fields from a newer minor are ignored.
	err = reg.Validate("order-placed", "1.2", []byte(`{"orderId":"o-1","total":100,"currency":"EUR"}`))
	assert.NoError(t, err)
}

func TestRegistry_ValidateRejectsBadPayload(t *testing.T) {
	reg := newTestRegistry(t)

	err := reg.Validate("order-placed", "1.0", []byte(`{"total":100}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	err = reg.Validate("order-placed", "1.0", []byte(`{"orderId":"o-1","total":"ten"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	err = reg.Validate("order-placed", "1.0", []byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestRegistry_ValidateUnknownTypeOrMajor(t *testing.T) {
	reg := newTestRegistry(t)

	err := reg.Validate("order-cancelled", "1.0", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	err = reg.Validate("order-placed", "2.0", []byte(`{"orderId":"o-1"}`))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	err = reg.Validate("order-placed", "garbage", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	reg := NewRegistry()

	assert.Error(t, reg.Register("", "1.0", func() any { return &orderPlacedPayload{} }))
	assert.Error(t, reg.Register("order-placed", "one", func() any { return &orderPlacedPayload{} }))
	assert.Error(t, reg.Register("order-placed", "1.0", nil))
}
