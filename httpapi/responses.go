package httpapi

import (
	"context"
	"iter"

	"github.com/digilib/lendingledger/core"
)

type bookResponse struct {
	ID string `json:"id"`
	core.Book
}

type memberResponse struct {
	ID string `json:"id"`
	core.Member
}

type borrowRecordResponse struct {
	ID string `json:"id"`
	core.BorrowRecord
}

type returnRecordResponse struct {
	ID string `json:"id"`
	core.ReturnRecord
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func toBookResponse(book core.Book) bookResponse {
	return bookResponse{ID: book.ID.String(), Book: book}
}

func toMemberResponse(member core.Member) memberResponse {
	return memberResponse{ID: member.ID.String(), Member: member}
}

// collect drains a one-shot result sequence into a list response, stopping at the first error.
func collect[V any, T any](ctx context.Context, seq iter.Seq2[V, error], convert func(V) T) (listResponse[T], error) {
	items := make([]T, 0)

	for v, err := range seq {
		if err != nil {
			return listResponse[T]{}, err
		}

		if err := ctx.Err(); err != nil {
			return listResponse[T]{}, err
		}

		items = append(items, convert(v))
	}

	return listResponse[T]{Items: items, Count: len(items)}, nil
}
