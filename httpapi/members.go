package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/digilib/lendingledger/core"
)

const queryRole = "role"

func (s *Server) listMembers(c *gin.Context) {
	var role core.Role

	if raw := c.Query(queryRole); raw != "" {
		parsed, err := core.ParseRole(raw)
		if err != nil {
			s.abortWithError(c, err)
			return
		}

		role = parsed
	}

	ctx := c.Request.Context()

	response, err := collect(ctx, s.members.List(ctx, role), toMemberResponse)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// deleteMember removes a member and their credentials. Admins only; members holding books stay.
func (s *Server) deleteMember(c *gin.Context) {
	if _, ok := s.callerAdmin(c, "delete members"); !ok {
		return
	}

	memberID, err := core.BuildMemberID(c.Param("memberId"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	if err := s.identity.DeleteAccount(c.Request.Context(), memberID); err != nil {
		s.abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
