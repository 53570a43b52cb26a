package lending

import "github.com/digilib/lendingledger/docstore"

// Decision is the outcome of a Decide function.
//
// Build it only with successDecision or rejectedDecision: a successful decision always
// carries writes, a rejected one never does.
type Decision[R any] struct {
	record R
	writes []docstore.Write
	err    error
}

func successDecision[R any](record R, writes ...docstore.Write) Decision[R] {
	return Decision[R]{record: record, writes: writes}
}

func rejectedDecision[R any](err error) Decision[R] {
	return Decision[R]{err: err}
}

// Err returns the business rule violation, nil for a successful decision.
func (d Decision[R]) Err() error {
	return d.err
}

// Record is the audit record the writes will insert, without its store-assigned id.
func (d Decision[R]) Record() R {
	return d.record
}

// Writes are the store writes to commit atomically. The audit record insert is always last.
func (d Decision[R]) Writes() []docstore.Write {
	return d.writes
}
