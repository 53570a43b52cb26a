// Package core contains the lending domain model shared by all ledger components.
//
// It defines:
//   - Book, Member, BorrowRecord and ReturnRecord
//   - the validated identifier types BookID and MemberID
//   - the error taxonomy every component reports through (ErrValidation, ErrNotFound, ...)
//
// The package has no dependencies on storage or transport. Field name constants
// (BookFieldAvailableCopies, ...) match the JSON representation the Document Store
// persists, so mutation builders in other packages can address fields without
// repeating string literals.
package core
