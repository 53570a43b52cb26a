package core

import "errors"

var (
	// ErrValidation signals bad input shape, e.g. an empty title or a non-positive copy count.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound signals that a referenced Book or Member does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyBorrowed signals that the member already holds a copy of the book.
	ErrAlreadyBorrowed = errors.New("book is already borrowed by this member")

	// ErrNoCopiesAvailable signals that every copy of the book is checked out.
	ErrNoCopiesAvailable = errors.New("no copies available")

	// ErrNotCurrentlyBorrowed signals a return by a member who does not hold a copy.
	ErrNotCurrentlyBorrowed = errors.New("book is not currently borrowed by this member")

	// ErrMemberHasLoans signals removal of a member who still holds borrowed books.
	ErrMemberHasLoans = errors.New("member still holds borrowed books")

	// ErrConcurrentModification signals that the store rejected a conditional update.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrUpstreamUnavailable signals a transport failure of the Document Store, Blob Store or Identity Provider.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ErrorKind returns a stable, lowercase name for the taxonomy member err belongs to.
// It is used as a metrics label and as the "kind" field of API error responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyBorrowed):
		return "already_borrowed"
	case errors.Is(err, ErrNoCopiesAvailable):
		return "no_copies_available"
	case errors.Is(err, ErrNotCurrentlyBorrowed):
		return "not_currently_borrowed"
	case errors.Is(err, ErrMemberHasLoans):
		return "member_has_loans"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	default:
		return "other"
	}
}
