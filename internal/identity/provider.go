// Package identity supplies the authenticated local user.
package identity

import (
	"sync"

	"go.uber.org/zap"

	"taskboard-calls/internal/domain"
	"taskboard-calls/pkg/jwt"
	"taskboard-calls/pkg/logger"
	"taskboard-calls/pkg/sanitize"
)

// TokenProvider derives the local user from a session token
type TokenProvider struct {
	mu     sync.RWMutex
	token  string
	user   domain.User
	valid  bool
	fns    map[uint64]func()
	nextID uint64
}

// NewTokenProvider creates a provider. An empty or unreadable token leaves the identity unavailable.
func NewTokenProvider(token string) *TokenProvider {
	p := &TokenProvider{fns: make(map[uint64]func())}
	p.load(token)
	return p
}

// SetToken replaces the session token and notifies change listeners
func (p *TokenProvider) SetToken(token string) {
	p.mu.Lock()
	p.load(token)
	fns := make([]func(), 0, len(p.fns))
	for _, fn := range p.fns {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// load must be called with mu held or before the provider is shared
func (p *TokenProvider) load(token string) {
	p.token = token
	p.user = domain.User{}
	p.valid = false
	if token == "" {
		return
	}

	claims, err := jwt.ParseUnverified(token)
	if err != nil {
		logger.Warn("Session token is unreadable", zap.Error(err))
		return
	}
	if jwt.IsTokenExpired(token) {
		logger.Warn("Session token has expired", zap.String("user_id", claims.UserID))
		return
	}
	if claims.UserID == "" {
		logger.Warn("Session token has no user id")
		return
	}

	name := claims.DisplayName
	if name == "" {
		name = claims.Username
	}
	p.user = domain.User{
		ID:        claims.UserID,
		Name:      sanitize.DisplayName(name),
		AvatarURL: sanitize.AvatarURL(claims.AvatarURL),
	}
	p.valid = true
}

// CurrentUser returns the local user when a usable token is loaded
func (p *TokenProvider) CurrentUser() (domain.User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.user, p.valid
}

// Token returns the raw session token for the event channel handshake
func (p *TokenProvider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

// OnChange registers fn to run after every SetToken and returns a remover
func (p *TokenProvider) OnChange(fn func()) func() {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.fns[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.fns, id)
		p.mu.Unlock()
	}
}
