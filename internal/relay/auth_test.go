package relay

import "testing"

func TestTokenStoreIssueResolve(t *testing.T) {
	s := NewTokenStore()

	token := s.Issue("alice")
	if token == "" {
		t.Fatal("empty token")
	}
	username, ok := s.Resolve(token)
	if !ok || username != "alice" {
		t.Fatalf("resolve = %q/%v, want alice", username, ok)
	}

	if other := s.Issue("alice"); other == token {
		t.Fatal("tokens are not unique per issue")
	}
}

func TestTokenStoreResolveUnknown(t *testing.T) {
	s := NewTokenStore()
	if _, ok := s.Resolve("nope"); ok {
		t.Fatal("unknown token resolved")
	}
}

func TestTokenStoreRevoke(t *testing.T) {
	s := NewTokenStore()
	token := s.Issue("alice")

	s.Revoke(token)
	if _, ok := s.Resolve(token); ok {
		t.Fatal("revoked token still resolves")
	}

	// Revoking twice is fine.
	s.Revoke(token)
}
