package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/ledgersync/internal/model"
)

func TestErrorHelpers(t *testing.T) {
	nf := fmt.Errorf("outer: %w", NewNotFound("get payment", "p1"))
	assert.True(t, IsNotFound(nf))
	assert.False(t, IsValidation(nf))
	assert.Equal(t, ErrCodeNotFound, CodeOf(nf))
	assert.Equal(t, "NOT_FOUND: get payment (key=p1): not found", errors.Unwrap(nf).Error())

	ve := NewValidation("upsert payment", "p1", &model.ValidationError{Field: "id", Reason: "bad"})
	assert.True(t, IsValidation(ve))
	assert.True(t, IsValidation(&model.ValidationError{Field: "x", Reason: "y"}))

	mig := NewMigration(errors.New("boom"))
	assert.True(t, IsMigration(mig))
	assert.Equal(t, "MIGRATION: migrate: boom", mig.Error())

	assert.True(t, IsRetryable(&Error{Code: ErrCodeConnection, Op: "x"}))
	assert.True(t, IsRetryable(&Error{Code: ErrCodeStorage, Op: "x", Retryable: true}))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestNewStorage_DoesNotDoubleWrap(t *testing.T) {
	inner := NewNotFound("get", "k")
	assert.Same(t, inner, NewStorage("outer", "k", inner).(*Error))

	cause := errors.New("disk full")
	err := NewStorage("set cache", "k", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeStorage, CodeOf(err))
}
