package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"fenced", "Here you go:\n```json\n{\"a\":1}\n```", `{"a":1}`},
		{"think block", "<think>{not json}</think>{\"a\":2}", `{"a":2}`},
		{"chatter around", `Sure! {"a":"}"} hope that helps`, `{"a":"}"}`},
		{"array first", `result: [1,2] and {"b":1}`, `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSON_NoJSON(t *testing.T) {
	_, err := ExtractJSON("I cannot help with that.")
	assert.ErrorIs(t, err, errNoJSON)

	_, err = ExtractJSON(`{"a": 1`)
	assert.ErrorIs(t, err, errNoJSON)
}
