package auth

import (
	"context"
	"errors"
	"testing"

	"accord.org/internal/statelog"
)

func TestMemberRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	store := NewMemberStore(statelog.NewInMemory())

	member, err := store.Register(ctx, "alice", "Org2", "Technical Point of Contact", "s3cret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if member.PasswordHash != "" {
		t.Fatal("register leaked password hash")
	}

	got, err := store.Authenticate(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.Org != "Org2" || got.Role != "Technical Point of Contact" {
		t.Fatalf("member = %+v", got)
	}
	if got.PasswordHash != "" {
		t.Fatal("authenticate leaked password hash")
	}
}

func TestMemberRegisterRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewMemberStore(statelog.NewInMemory())

	if _, err := store.Register(ctx, "alice", "Org2", "Authorizing Official", "s3cret"); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := store.Register(ctx, "alice", "Org3", "Authorizing Official", "other")
	if !errors.Is(err, ErrMemberExists) {
		t.Fatalf("duplicate register: got %v", err)
	}
}

func TestMemberAuthenticateRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	store := NewMemberStore(statelog.NewInMemory())

	if _, err := store.Register(ctx, "alice", "Org2", "Authorizing Official", "s3cret"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := store.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v", err)
	}
	if _, err := store.Authenticate(ctx, "nobody", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: got %v", err)
	}
}

func TestMemberRegisterValidation(t *testing.T) {
	ctx := context.Background()
	store := NewMemberStore(statelog.NewInMemory())

	if _, err := store.Register(ctx, "", "Org2", "Authorizing Official", "s3cret"); err == nil {
		t.Fatal("expected error for empty user")
	}
	if _, err := store.Register(ctx, "alice", "Org2", "Authorizing Official", ""); err == nil {
		t.Fatal("expected error for empty password")
	}
}
