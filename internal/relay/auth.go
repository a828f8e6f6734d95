package relay

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TokenStore issues opaque bearer tokens and resolves them back to a
// username. The signaling endpoint only cares that a token is valid; who
// issued the identity behind it is someone else's problem.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]string)}
}

// Issue creates a fresh token for username.
func (s *TokenStore) Issue(username string) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = username
	s.mu.Unlock()
	log.Info().Str("module", "relay.auth").Str("user", username).Msg("token issued")
	return token
}

// Resolve maps a token back to its username.
func (s *TokenStore) Resolve(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	username, ok := s.tokens[token]
	return username, ok
}

// Revoke drops a token. No-op for unknown tokens.
func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}
