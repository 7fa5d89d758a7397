package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"accord.org/internal/statelog"
)

const memberPrefix = "member:"

func memberKey(user string) string { return memberPrefix + user }

var (
	ErrMemberExists = errors.New("member already exists")
	// ErrInvalidCredentials covers unknown users and password mismatches
	// alike, so the token endpoint never discloses which one failed.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Member is one registered credential: a user identity bound to an
// organization and a role, with a bcrypt hash of its password.
type Member struct {
	User         string    `json:"user"`
	Org          string    `json:"org"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"passwordHash"`
	Created      time.Time `json:"created"`
}

// MemberStore keeps member credentials in the shared ledger state log under
// member: keys.
type MemberStore struct {
	log statelog.Store
}

func NewMemberStore(log statelog.Store) *MemberStore {
	return &MemberStore{log: log}
}

// Register stores a new member. The returned Member carries no hash.
func (s *MemberStore) Register(ctx context.Context, user, org, role, password string) (Member, error) {
	user = strings.TrimSpace(user)
	org = strings.TrimSpace(org)
	role = strings.TrimSpace(role)
	if user == "" || org == "" || role == "" {
		return Member{}, errors.New("user, org and role are required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Member{}, err
	}
	var member Member
	_, err = s.log.Update(ctx, func(tx statelog.Tx) error {
		if _, err := tx.Get(memberKey(user)); err == nil {
			return fmt.Errorf("%w: %s", ErrMemberExists, user)
		} else if !errors.Is(err, statelog.ErrNotFound) {
			return err
		}
		member = Member{
			User:         user,
			Org:          org,
			Role:         role,
			PasswordHash: hash,
			Created:      tx.Timestamp(),
		}
		statelog.PutJSON(tx, memberKey(user), member)
		return nil
	})
	if err != nil {
		return Member{}, err
	}
	member.PasswordHash = ""
	return member, nil
}

// Authenticate verifies the password against the stored hash and returns the
// member's registered org and role. Any failure maps to
// ErrInvalidCredentials.
func (s *MemberStore) Authenticate(ctx context.Context, user, password string) (Member, error) {
	var member Member
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		if err := statelog.GetJSON(tx, memberKey(strings.TrimSpace(user)), &member); err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return ErrInvalidCredentials
			}
			return err
		}
		return nil
	})
	if err != nil {
		return Member{}, err
	}
	if err := VerifyPassword(member.PasswordHash, password); err != nil {
		return Member{}, ErrInvalidCredentials
	}
	member.PasswordHash = ""
	return member, nil
}

// HashPassword hashes a plaintext password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password against a stored bcrypt hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
