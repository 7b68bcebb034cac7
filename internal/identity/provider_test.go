package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard-calls/pkg/jwt"
)

func token(t *testing.T, ttl time.Duration, userID, username, name string) string {
	tok, err := jwt.NewManager("server-secret", ttl, "taskboard").Generate(userID, username, name, "https://cdn/me.png")
	require.NoError(t, err)
	return tok
}

func TestTokenProvider_ValidToken(t *testing.T) {
	p := NewTokenProvider(token(t, time.Hour, "user-1", "alice", "Alice <b>A</b>"))

	user, ok := p.CurrentUser()

	require.True(t, ok)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "Alice A", user.Name)
	assert.Equal(t, "https://cdn/me.png", user.AvatarURL)
}

func TestTokenProvider_FallsBackToUsername(t *testing.T) {
	p := NewTokenProvider(token(t, time.Hour, "user-1", "alice", ""))

	user, ok := p.CurrentUser()

	require.True(t, ok)
	assert.Equal(t, "alice", user.Name)
}

func TestTokenProvider_Unavailable(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"expired", token(t, -time.Hour, "user-1", "alice", "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := NewTokenProvider(tt.token).CurrentUser()
			assert.False(t, ok)
		})
	}
}

func TestTokenProvider_SetTokenNotifies(t *testing.T) {
	p := NewTokenProvider("")
	calls := 0
	remove := p.OnChange(func() { calls++ })

	tok := token(t, time.Hour, "user-2", "bob", "Bob")
	p.SetToken(tok)

	user, ok := p.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "user-2", user.ID)
	assert.Equal(t, tok, p.Token())
	assert.Equal(t, 1, calls)

	remove()
	p.SetToken("")
	assert.Equal(t, 1, calls)
	_, ok = p.CurrentUser()
	assert.False(t, ok)
}
