// Package storeerr translates Document Store errors into the ledger's error taxonomy.
package storeerr

import (
	"context"
	"errors"

	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/docstore"
)

// Translate joins err with the matching core sentinel. The store error stays in the chain.
func Translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, docstore.ErrNotFound):
		return errors.Join(core.ErrNotFound, err)
	case errors.Is(err, docstore.ErrPreconditionFailed):
		return errors.Join(core.ErrConcurrentModification, err)
	case errors.Is(err, docstore.ErrUpstreamUnavailable):
		return errors.Join(core.ErrUpstreamUnavailable, err)
	case errors.Is(err, docstore.ErrAlreadyExists),
		errors.Is(err, docstore.ErrInvalidMutation),
		errors.Is(err, docstore.ErrInvalidFilter),
		errors.Is(err, docstore.ErrInvalidDocument),
		errors.Is(err, docstore.ErrEmptyCollection),
		errors.Is(err, docstore.ErrEmptyCommit):
		return errors.Join(core.ErrValidation, err)
	default:
		return errors.Join(core.ErrUpstreamUnavailable, err)
	}
}
