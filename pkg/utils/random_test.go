package utils

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestGenerateShortCode(t *testing.T) {
	length := 8
	code := GenerateShortCode(length)

	assert.Equal(t, length, len(code))

	for _, char := range code {
		assert.True(t, strings.ContainsRune(charset, char))
	}
	assert.NotContains(t, code, "0")
	assert.NotContains(t, code, "O")
}

func TestGenerateShortCode_Distinct(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		seen[GenerateShortCode(10)] = true
	}
	assert.Len(t, seen, 200)
}

func TestNewID(t *testing.T) {
	id := NewID()

	assert.NotEmpty(t, id)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}
