package lending

import (
	"errors"
	"fmt"

	"github.com/digilib/lendingledger/catalog"
	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/docstore"
	"github.com/digilib/lendingledger/members"
)

// DecideBorrow applies the borrow rules to a fresh snapshot of the book and the member.
//
// Business Rules:
//
//	GIVEN: a book and a member, both read from the primary
//	WHEN:  the member asks to borrow the book
//	THEN:  availableCopies -1, member added to currentReaders, book added to the
//	       member's borrowed set, BorrowRecord appended
//	ERROR: ErrAlreadyBorrowed if the member already holds a copy
//	ERROR: ErrNoCopiesAvailable if every copy is checked out
//
// The book mutation is guarded by availableCopies >= 1 and currentReaders not containing
// the member, so a concurrent writer makes the commit fail instead of overselling.
func DecideBorrow(command BorrowCommand, book core.Book, member core.Member) Decision[core.BorrowRecord] {
	if book.IsReadBy(command.MemberID) || member.HasBorrowed(command.BookID) {
		return rejectedDecision[core.BorrowRecord](
			errors.Join(core.ErrAlreadyBorrowed, fmt.Errorf("book %s, member %s", command.BookID, command.MemberID)),
		)
	}

	if book.AvailableCopies <= 0 {
		return rejectedDecision[core.BorrowRecord](
			errors.Join(core.ErrNoCopiesAvailable, fmt.Errorf("book %s has %d copies, all lent", command.BookID, book.TotalCopies)),
		)
	}

	memberID := command.MemberID.String()
	bookID := command.BookID.String()

	bookMutation := docstore.BuildMutation().
		Increment(core.BookFieldAvailableCopies, -1).
		AddToSet(core.BookFieldCurrentReaders, memberID).
		Guarded(
			docstore.AtLeast(core.BookFieldAvailableCopies, 1),
			docstore.NotContains(core.BookFieldCurrentReaders, memberID),
		).
		Finalize()

	memberMutation := docstore.BuildMutation().
		AddToSet(core.MemberFieldBorrowedBookIDs, bookID).
		Guarded(docstore.NotContains(core.MemberFieldBorrowedBookIDs, bookID)).
		Finalize()

	record := core.BuildBorrowRecord(command.BookID, command.MemberID, member.Role, command.OccurredAt)

	body, err := json.Marshal(record)
	if err != nil {
		return rejectedDecision[core.BorrowRecord](fmt.Errorf("encoding borrow record: %w", err))
	}

	return successDecision(record,
		catalog.UpdateWrite(command.BookID, bookMutation),
		members.UpdateWrite(command.MemberID, memberMutation),
		docstore.CreateWrite(CollectionBorrowRecords, "", body),
	)
}

// DecideReturn applies the return rules to a fresh snapshot of the book and the member.
//
// Business Rules:
//
//	GIVEN: a book and a member, both read from the primary
//	WHEN:  the member returns the book
//	THEN:  availableCopies +1, member removed from currentReaders, isReturned = true,
//	       returnedBy = member, book removed from the member's borrowed set,
//	       ReturnRecord appended
//	ERROR: ErrNotCurrentlyBorrowed if the member does not hold a copy
//
// isReturned/returnedBy is the library-wide marker of the most recent return. It flips to
// true even when other members still hold copies; ReturnRecords keep the per-member history.
func DecideReturn(command ReturnCommand, book core.Book, member core.Member) Decision[core.ReturnRecord] {
	if !book.IsReadBy(command.MemberID) {
		return rejectedDecision[core.ReturnRecord](
			errors.Join(core.ErrNotCurrentlyBorrowed, fmt.Errorf("book %s, member %s", command.BookID, command.MemberID)),
		)
	}

	memberID := command.MemberID.String()
	bookID := command.BookID.String()

	bookMutation := docstore.BuildMutation().
		Increment(core.BookFieldAvailableCopies, 1).
		RemoveFromSet(core.BookFieldCurrentReaders, memberID).
		Set(core.BookFieldIsReturned, true).
		Set(core.BookFieldReturnedBy, memberID).
		Guarded(
			docstore.Contains(core.BookFieldCurrentReaders, memberID),
			docstore.AtMost(core.BookFieldAvailableCopies, int64(book.TotalCopies-1)),
		).
		Finalize()

	// A member record that lost the book id must not block the return, so the member side
	// is only guarded when the snapshot lists the book.
	memberMutation := docstore.BuildMutation().RemoveFromSet(core.MemberFieldBorrowedBookIDs, bookID)
	if member.HasBorrowed(command.BookID) {
		memberMutation = memberMutation.Guarded(docstore.Contains(core.MemberFieldBorrowedBookIDs, bookID))
	}

	record := core.BuildReturnRecord(command.BookID, command.MemberID, command.OccurredAt)

	body, err := json.Marshal(record)
	if err != nil {
		return rejectedDecision[core.ReturnRecord](fmt.Errorf("encoding return record: %w", err))
	}

	return successDecision(record,
		catalog.UpdateWrite(command.BookID, bookMutation),
		members.UpdateWrite(command.MemberID, memberMutation.Finalize()),
		docstore.CreateWrite(CollectionReturnRecords, "", body),
	)
}
