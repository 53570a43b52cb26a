package httpapi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/identity"
	"github.com/digilib/lendingledger/observability"
)

const (
	metricRequestDuration = "http_request_duration_seconds"
	metricRequestsTotal   = "http_requests_total"

	spanRequest = "http.request"

	logMsgRequestCompleted = "http request completed"
	logAttrMethod          = "method"
	logAttrRoute           = "route"
	logAttrStatus          = "status_code"

	contextKeyCaller = "caller"

	bearerPrefix = "Bearer "
)

func (s *Server) observeRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx, span := s.observer.StartSpan(c.Request.Context(), spanRequest, map[string]string{
			logAttrMethod: c.Request.Method,
			logAttrRoute:  route,
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		duration := time.Since(start)
		status := strconv.Itoa(c.Writer.Status())
		labels := map[string]string{
			logAttrMethod: c.Request.Method,
			logAttrRoute:  route,
			logAttrStatus: status,
		}

		s.observer.RecordDuration(ctx, metricRequestDuration, duration, labels)
		s.observer.IncrementCounter(ctx, metricRequestsTotal, labels)
		s.observer.Info(ctx, logMsgRequestCompleted,
			logAttrMethod, c.Request.Method,
			logAttrRoute, route,
			logAttrStatus, c.Writer.Status(),
			observability.AttrDurationMS, observability.ToMilliseconds(duration),
		)

		spanStatus := observability.StatusSuccess
		if c.Writer.Status() >= 500 {
			spanStatus = observability.StatusError
		}

		s.observer.FinishSpan(span, spanStatus, duration, map[string]string{logAttrStatus: status})
	}
}

// identifyCaller moves the bearer token of the Authorization header into the request context.
// It does not reject anything; requireCaller does.
func (s *Server) identifyCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c.GetHeader(HeaderAuthorization)); ok {
			c.Request = c.Request.WithContext(identity.WithSessionToken(c.Request.Context(), token))
		}

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}

	token := strings.TrimSpace(header[len(bearerPrefix):])

	return token, token != ""
}

func (s *Server) requireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		memberID, err := identity.Resolve(c.Request.Context(), s.identity)
		if err != nil {
			s.abortWithError(c, err)
			return
		}

		c.Set(contextKeyCaller, memberID)
		c.Next()
	}
}

func caller(c *gin.Context) core.MemberID {
	memberID, _ := c.Get(contextKeyCaller)
	id, _ := memberID.(core.MemberID)

	return id
}

// callerAdmin loads the caller and aborts with ErrForbidden unless they are an admin.
func (s *Server) callerAdmin(c *gin.Context, action string) (core.Member, bool) {
	member, err := s.members.Get(c.Request.Context(), caller(c))
	if err != nil {
		s.abortWithError(c, err)
		return core.Member{}, false
	}

	if member.Role != core.RoleAdmin {
		s.abortWithError(c, errors.Join(ErrForbidden, fmt.Errorf("only admins may %s", action)))
		return core.Member{}, false
	}

	return member, true
}
