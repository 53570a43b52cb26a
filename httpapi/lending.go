package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/internal/retry"
)

func (s *Server) borrowBook(c *gin.Context) {
	bookID, err := core.BuildBookID(c.Param("bookId"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	memberID := caller(c)

	var record core.BorrowRecord

	err = s.retry(c.Request.Context(), "borrow", func(ctx context.Context) error {
		r, err := s.lending.Borrow(ctx, bookID, memberID)
		record = r

		return err
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, borrowRecordResponse{ID: record.ID, BorrowRecord: record})
}

func (s *Server) returnBook(c *gin.Context) {
	bookID, err := core.BuildBookID(c.Param("bookId"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	memberID := caller(c)

	var record core.ReturnRecord

	err = s.retry(c.Request.Context(), "return", func(ctx context.Context) error {
		r, err := s.lending.Return(ctx, bookID, memberID)
		record = r

		return err
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, returnRecordResponse{ID: record.ID, ReturnRecord: record})
}

// retry re-runs fn only after a concurrent modification, which the lending core never retries itself.
func (s *Server) retry(ctx context.Context, operation string, fn retry.Func) error {
	_, err := retry.Do(ctx, fn,
		retry.WithMaxAttempts(s.retryAttempts),
		retry.WithMetrics(s.observer.Metrics, operation),
		retry.WithLogger(s.observer.Logger),
	)

	return err
}
