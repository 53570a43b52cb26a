package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/digilib/lendingledger/core"
)

func Test_ErrorKind(t *testing.T) {
	testCases := []struct {
		err  error
		want string
	}{
		{err: nil, want: "none"},
		{err: errors.Join(core.ErrValidation, errors.New("title")), want: "validation"},
		{err: fmt.Errorf("%w: book b1", core.ErrNotFound), want: "not_found"},
		{err: core.ErrAlreadyBorrowed, want: "already_borrowed"},
		{err: core.ErrNoCopiesAvailable, want: "no_copies_available"},
		{err: core.ErrNotCurrentlyBorrowed, want: "not_currently_borrowed"},
		{err: core.ErrMemberHasLoans, want: "member_has_loans"},
		{err: errors.Join(core.ErrConcurrentModification, errors.New("guard")), want: "concurrent_modification"},
		{err: core.ErrUpstreamUnavailable, want: "upstream_unavailable"},
		{err: errors.New("boom"), want: "other"},
	}

	for _, tc := range testCases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, core.ErrorKind(tc.err))
		})
	}
}
