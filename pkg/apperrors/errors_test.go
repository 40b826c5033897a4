package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: entities.normalized_key (2067)")))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", errors.New(`ERROR: duplicate key value violates unique constraint "emails_pkey" (SQLSTATE 23505)`))))
	assert.False(t, IsUniqueViolation(errors.New("FOREIGN KEY constraint failed")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestValidationErrorUnwrapsToSentinel(t *testing.T) {
	err := Invalid("confidence", "must be within [0,1], got %v", 1.5)

	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "confidence: must be within [0,1], got 1.5", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(fmt.Errorf("email 3: %w", ErrNotFound)))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Invalid("x", "bad")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(ErrConflict))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(ErrUnavailable))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}
