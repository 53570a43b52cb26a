// Package lending implements the borrow/return state machine of a book.
//
// Per (book, member) pair the states are NotBorrowed, Borrowed and Returned; borrowing again
// after a return starts a fresh NotBorrowed -> Borrowed transition.
//
// Every request follows the same workflow:
//
//	re-read book and member from the primary -> Decide (pure) -> guarded atomic Commit
//
// The decision carries the store writes: the book mutation with its guards, the member
// mutation and the append-only audit record. The store applies them all-or-nothing.
// When the store rejects the commit because a guard no longer holds, the state machine reads
// once more only to classify the rejection. It never writes twice and never retries;
// retrying is left to the caller.
package lending
