package core

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
)

// JSON field names of a stored Book.
const (
	BookFieldTitle           = "title"
	BookFieldAvailableCopies = "availableCopies"
	BookFieldTotalCopies     = "totalCopies"
	BookFieldCurrentReaders  = "currentReaders"
	BookFieldIsReturned      = "isReturned"
	BookFieldReturnedBy      = "returnedBy"
)

// ErrInvariantViolated is reported by Book.CheckInvariants.
var ErrInvariantViolated = errors.New("book invariant violated")

// Book is a catalog entry together with its mutable lending state.
//
// IsReturned and ReturnedBy are a library-wide marker of the most recent return:
// they flip on every return, even while other members still hold copies.
// Per-member return history lives in ReturnRecord.
type Book struct {
	ID              BookID     `json:"-"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	CoverURL        string     `json:"coverUrl"`
	DocumentURL     string     `json:"documentUrl"`
	UploaderRole    Role       `json:"uploaderRole"`
	TotalCopies     int        `json:"totalCopies"`
	AvailableCopies int        `json:"availableCopies"`
	CurrentReaders  []MemberID `json:"currentReaders"`
	IsReturned      bool       `json:"isReturned"`
	ReturnedBy      MemberID   `json:"returnedBy,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	Version         uint64     `json:"-"`
}

// IsReadBy reports whether memberID currently holds a copy.
func (b Book) IsReadBy(memberID MemberID) bool {
	return slices.Contains(b.CurrentReaders, memberID)
}

// CheckedOut is the number of copies currently held by members.
func (b Book) CheckedOut() int {
	return b.TotalCopies - b.AvailableCopies
}

// CheckInvariants verifies the copy-count invariants:
//
//	0 <= availableCopies <= totalCopies
//	len(currentReaders) == totalCopies - availableCopies
//	currentReaders has no duplicates
func (b Book) CheckInvariants() error {
	if b.AvailableCopies < 0 || b.AvailableCopies > b.TotalCopies {
		return fmt.Errorf("%w: book %s has %d of %d copies available",
			ErrInvariantViolated, b.ID, b.AvailableCopies, b.TotalCopies)
	}

	if len(b.CurrentReaders) != b.CheckedOut() {
		return fmt.Errorf("%w: book %s has %d readers but %d copies checked out",
			ErrInvariantViolated, b.ID, len(b.CurrentReaders), b.CheckedOut())
	}

	readers := slices.Clone(b.CurrentReaders)
	slices.Sort(readers)
	if len(slices.Compact(readers)) != len(b.CurrentReaders) {
		return fmt.Errorf("%w: book %s lists a reader twice", ErrInvariantViolated, b.ID)
	}

	return nil
}

// Attachment is a file handed to the Blob Store while preparing a BookDraft.
type Attachment struct {
	Content     io.Reader
	ContentType string
}

// BookDraft is the input of Catalog.Create.
type BookDraft struct {
	Title        string
	Description  string
	TotalCopies  int
	UploaderRole Role
	Cover        Attachment
	Document     Attachment
}

// BuildBookDraft creates a BookDraft with trimmed display text.
func BuildBookDraft(
	title string,
	description string,
	totalCopies int,
	uploaderRole Role,
	cover Attachment,
	document Attachment,
) BookDraft {

	return BookDraft{
		Title:        strings.TrimSpace(title),
		Description:  strings.TrimSpace(description),
		TotalCopies:  totalCopies,
		UploaderRole: uploaderRole,
		Cover:        cover,
		Document:     document,
	}
}

// Validate reports every shape problem of the draft at once, joined with ErrValidation.
func (d BookDraft) Validate() error {
	var problems []error

	if strings.TrimSpace(d.Title) == "" {
		problems = append(problems, errors.New("title must not be empty"))
	}

	if strings.TrimSpace(d.Description) == "" {
		problems = append(problems, errors.New("description must not be empty"))
	}

	if d.TotalCopies <= 0 {
		problems = append(problems, fmt.Errorf("total copies must be positive, got %d", d.TotalCopies))
	}

	if d.UploaderRole != RoleAdmin {
		problems = append(problems, fmt.Errorf("only admins may upload books, got role %q", d.UploaderRole))
	}

	if d.Cover.Content == nil {
		problems = append(problems, errors.New("cover image is required"))
	}

	if d.Document.Content == nil {
		problems = append(problems, errors.New("document is required"))
	}

	if len(problems) == 0 {
		return nil
	}

	return errors.Join(append([]error{ErrValidation}, problems...)...)
}
