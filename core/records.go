package core

import "time"

// BorrowRecord is the append-only audit entry of a successful borrow.
type BorrowRecord struct {
	ID        string    `json:"-"`
	BookID    BookID    `json:"bookId"`
	MemberID  MemberID  `json:"memberId"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// ReturnRecord is the append-only audit entry of a successful return.
type ReturnRecord struct {
	ID        string    `json:"-"`
	BookID    BookID    `json:"bookId"`
	MemberID  MemberID  `json:"memberId"`
	Timestamp time.Time `json:"timestamp"`
}

// BuildBorrowRecord creates a BorrowRecord without id; the Document Store assigns it on insert.
func BuildBorrowRecord(bookID BookID, memberID MemberID, role Role, timestamp time.Time) BorrowRecord {
	return BorrowRecord{
		BookID:    bookID,
		MemberID:  memberID,
		Role:      role,
		Timestamp: ToTimestamp(timestamp),
	}
}

// BuildReturnRecord creates a ReturnRecord without id; the Document Store assigns it on insert.
func BuildReturnRecord(bookID BookID, memberID MemberID, timestamp time.Time) ReturnRecord {
	return ReturnRecord{
		BookID:    bookID,
		MemberID:  memberID,
		Timestamp: ToTimestamp(timestamp),
	}
}
