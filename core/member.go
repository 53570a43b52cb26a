package core

import (
	"errors"
	"net/mail"
	"slices"
	"strings"
	"time"
)

// JSON field names of a stored Member.
const (
	MemberFieldRole            = "role"
	MemberFieldBorrowedBookIDs = "borrowedBookIds"
	MemberFieldLastLogin       = "lastLogin"
)

// Member is the ledger's projection of an Identity Provider account.
type Member struct {
	ID              MemberID  `json:"-"`
	Role            Role      `json:"role"`
	DisplayName     string    `json:"displayName"`
	Email           string    `json:"email"`
	BorrowedBookIDs []BookID  `json:"borrowedBookIds"`
	CreatedAt       time.Time `json:"createdAt"`
	LastLogin       time.Time `json:"lastLogin"`
	Version         uint64    `json:"-"`
}

// HasBorrowed reports whether bookID is in the member's borrowed set.
func (m Member) HasBorrowed(bookID BookID) bool {
	return slices.Contains(m.BorrowedBookIDs, bookID)
}

// MemberRegistration is the input of the member directory's Register operation.
type MemberRegistration struct {
	ID          MemberID
	Role        Role
	DisplayName string
	Email       string
}

// Validate checks the registration shape.
func (r MemberRegistration) Validate() error {
	var problems []error

	if strings.TrimSpace(string(r.ID)) == "" {
		problems = append(problems, errors.New("member id must not be empty"))
	}

	if r.Role != RoleAdmin && r.Role != RoleUser {
		problems = append(problems, errors.New("role must be admin or user"))
	}

	if strings.TrimSpace(r.DisplayName) == "" {
		problems = append(problems, errors.New("display name must not be empty"))
	}

	if _, err := mail.ParseAddress(r.Email); err != nil {
		problems = append(problems, errors.New("email is not a valid address"))
	}

	if len(problems) == 0 {
		return nil
	}

	return errors.Join(append([]error{ErrValidation}, problems...)...)
}
