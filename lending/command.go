package lending

import (
	"time"

	"github.com/digilib/lendingledger/core"
)

// Collections holding the audit records.
const (
	CollectionBorrowRecords = "borrow_records"
	CollectionReturnRecords = "return_records"
)

// BorrowCommand asks for one copy of BookID on behalf of MemberID.
type BorrowCommand struct {
	BookID     core.BookID
	MemberID   core.MemberID
	OccurredAt time.Time
}

// BuildBorrowCommand creates a BorrowCommand.
func BuildBorrowCommand(bookID core.BookID, memberID core.MemberID, occurredAt time.Time) BorrowCommand {
	return BorrowCommand{
		BookID:     bookID,
		MemberID:   memberID,
		OccurredAt: core.ToTimestamp(occurredAt),
	}
}

// ReturnCommand hands back the copy of BookID that MemberID holds.
type ReturnCommand struct {
	BookID     core.BookID
	MemberID   core.MemberID
	OccurredAt time.Time
}

// BuildReturnCommand creates a ReturnCommand.
func BuildReturnCommand(bookID core.BookID, memberID core.MemberID, occurredAt time.Time) ReturnCommand {
	return ReturnCommand{
		BookID:     bookID,
		MemberID:   memberID,
		OccurredAt: core.ToTimestamp(occurredAt),
	}
}
