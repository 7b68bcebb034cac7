package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Alice", "Alice"},
		{"tags", "<b>Alice</b>", "Alice"},
		{"control", "Ali\x07ce\n", "Alice"},
		{"whitespace", "  Alice   Smith ", "Alice Smith"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayName(tt.input))
		})
	}
}

func TestDisplayName_Truncates(t *testing.T) {
	got := DisplayName(strings.Repeat("é", 100))

	assert.Equal(t, maxDisplayNameRunes+1, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, "room-1", Identifier(" room-1 "))
	assert.Equal(t, "abc", Identifier("a<b>c"))
	assert.Len(t, Identifier(strings.Repeat("x", 300)), maxIdentifierLen)
}

func TestAvatarURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/a.png", AvatarURL("https://cdn.example.com/a.png"))
	assert.Equal(t, "", AvatarURL("javascript:alert(1)"))
	assert.Equal(t, "", AvatarURL("/relative.png"))
	assert.Equal(t, "", AvatarURL(""))
}
