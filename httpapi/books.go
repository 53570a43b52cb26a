package httpapi

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/digilib/lendingledger/catalog"
	"github.com/digilib/lendingledger/core"
)

const (
	formTitle       = "title"
	formDescription = "description"
	formTotalCopies = "totalCopies"
	formCover       = "cover"
	formDocument    = "document"

	queryReaderID = "readerId"
	queryReturned = "returned"
	queryLent     = "lent"
)

// createBook accepts multipart/form-data with a cover image and a PDF document. Admins only.
func (s *Server) createBook(c *gin.Context) {
	ctx := c.Request.Context()

	uploader, ok := s.callerAdmin(c, "upload books")
	if !ok {
		return
	}

	copies, err := strconv.Atoi(c.PostForm(formTotalCopies))
	if err != nil {
		s.abortWithError(c, errors.Join(core.ErrValidation, fmt.Errorf("%s must be a number", formTotalCopies)))
		return
	}

	cover, closeCover, err := attachment(c, formCover)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	defer closeCover()

	document, closeDocument, err := attachment(c, formDocument)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	defer closeDocument()

	book, err := s.catalog.Create(ctx, core.BuildBookDraft(
		c.PostForm(formTitle),
		c.PostForm(formDescription),
		copies,
		uploader.Role,
		cover,
		document,
	))
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toBookResponse(book))
}

func attachment(c *gin.Context, field string) (core.Attachment, func(), error) {
	header, err := c.FormFile(field)
	if err != nil {
		return core.Attachment{}, nil, errors.Join(core.ErrValidation, fmt.Errorf("%s file is required", field))
	}

	file, err := header.Open()
	if err != nil {
		return core.Attachment{}, nil, errors.Join(core.ErrValidation, err)
	}

	return core.Attachment{Content: file, ContentType: contentType(header)}, func() { _ = file.Close() }, nil
}

func contentType(header *multipart.FileHeader) string {
	return header.Header.Get("Content-Type")
}

func (s *Server) getBook(c *gin.Context) {
	bookID, err := core.BuildBookID(c.Param("bookId"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	book, err := s.catalog.Get(c.Request.Context(), bookID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toBookResponse(book))
}

// listBooks supports readerId, returned and lent query parameters, AND-combined.
func (s *Server) listBooks(c *gin.Context) {
	var filters []catalog.ListFilter

	if raw := c.Query(queryReaderID); raw != "" {
		memberID, err := core.BuildMemberID(raw)
		if err != nil {
			s.abortWithError(c, err)
			return
		}

		filters = append(filters, catalog.ReadBy(memberID))
	}

	if raw := c.Query(queryReturned); raw != "" {
		returned, err := strconv.ParseBool(raw)
		if err != nil {
			s.abortWithError(c, errors.Join(core.ErrValidation, fmt.Errorf("%s must be a boolean", queryReturned)))
			return
		}

		filters = append(filters, catalog.WithReturnedStatus(returned))
	}

	if raw := c.Query(queryLent); raw != "" {
		lent, err := strconv.ParseBool(raw)
		if err != nil {
			s.abortWithError(c, errors.Join(core.ErrValidation, fmt.Errorf("%s must be a boolean", queryLent)))
			return
		}

		if lent {
			filters = append(filters, catalog.CurrentlyLent())
		}
	}

	s.respondWithBooks(c, filters...)
}

// listMemberBooks lists the books the member currently holds.
func (s *Server) listMemberBooks(c *gin.Context) {
	memberID, err := core.BuildMemberID(c.Param("memberId"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	s.respondWithBooks(c, catalog.ReadBy(memberID))
}

func (s *Server) respondWithBooks(c *gin.Context, filters ...catalog.ListFilter) {
	ctx := c.Request.Context()

	response, err := collect(ctx, s.catalog.List(ctx, filters...), toBookResponse)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}
