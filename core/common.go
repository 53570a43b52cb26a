package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BookID identifies a Book. It is assigned by the Document Store and never changes.
type BookID string

// MemberID identifies a Member for the lifetime of the account.
// Build it with BuildMemberID so that lending operations never see an empty id.
type MemberID string

// Role is the provenance/authorization tag of a member.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// BuildBookID validates raw and returns it as a BookID.
func BuildBookID(raw string) (BookID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.Join(ErrValidation, errors.New("book id must not be empty"))
	}

	return BookID(trimmed), nil
}

// BuildMemberID validates raw and returns it as a MemberID.
func BuildMemberID(raw string) (MemberID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.Join(ErrValidation, errors.New("member id must not be empty"))
	}

	return MemberID(trimmed), nil
}

// ParseRole maps raw onto a known Role.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleUser:
		return RoleUser, nil
	default:
		return "", errors.Join(ErrValidation, fmt.Errorf("unknown role %q", raw))
	}
}

func (id BookID) String() string {
	return string(id)
}

func (id MemberID) String() string {
	return string(id)
}

func (r Role) String() string {
	return string(r)
}

// ToTimestamp normalizes t to UTC with microsecond precision, which is what Postgres stores.
func ToTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
