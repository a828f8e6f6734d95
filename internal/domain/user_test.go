package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNewUserValidation(t *testing.T) {
	u, err := NewUser("alice")
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	if u.Username != "alice" || u.ID == "" {
		t.Fatalf("user = %+v", u)
	}

	if _, err := NewUser(""); !errors.Is(err, ErrUsernameEmpty) {
		t.Fatalf("empty username: %v", err)
	}
	if _, err := NewUser(strings.Repeat("x", MaxUsernameLen+1)); !errors.Is(err, ErrUsernameTooLong) {
		t.Fatalf("long username: %v", err)
	}
}

func TestSetUsername(t *testing.T) {
	u, _ := NewUser("alice")
	if err := u.SetUsername("bob"); err != nil || u.Username != "bob" {
		t.Fatalf("SetUsername: %v, username=%q", err, u.Username)
	}
	if err := u.SetUsername(""); !errors.Is(err, ErrUsernameEmpty) {
		t.Fatalf("empty rename: %v", err)
	}
}
