// Package httpapi exposes the catalog, the member directory and the lending workflow over HTTP.
//
// Callers sign in under /api/v1/auth and send the returned session token as
// "Authorization: Bearer <token>". The token is resolved into a validated member id once,
// by middleware, before any handler runs a lending operation.
package httpapi

import (
	"context"
	"errors"
	"iter"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/digilib/lendingledger/catalog"
	"github.com/digilib/lendingledger/core"
	"github.com/digilib/lendingledger/identity"
	"github.com/digilib/lendingledger/observability"
)

const (
	HeaderAuthorization = "Authorization"

	defaultRetryAttempts = 4
	maxUploadBytes       = 64 << 20
)

var (
	ErrNilCatalog   = errors.New("catalog must not be nil")
	ErrNilMembers   = errors.New("member directory must not be nil")
	ErrNilLending   = errors.New("lending service must not be nil")
	ErrNilIdentity  = errors.New("identity provider must not be nil")
	ErrInvalidRetry = errors.New("retry attempts must be positive")
)

type BookCatalog interface {
	Get(ctx context.Context, bookID core.BookID) (core.Book, error)
	List(ctx context.Context, filters ...catalog.ListFilter) iter.Seq2[core.Book, error]
	Create(ctx context.Context, draft core.BookDraft) (core.Book, error)
}

type MemberDirectory interface {
	Get(ctx context.Context, memberID core.MemberID) (core.Member, error)
	List(ctx context.Context, role core.Role) iter.Seq2[core.Member, error]
}

// Lending is satisfied by *coordinator.Coordinator.
type Lending interface {
	Borrow(ctx context.Context, bookID core.BookID, memberID core.MemberID) (core.BorrowRecord, error)
	Return(ctx context.Context, bookID core.BookID, memberID core.MemberID) (core.ReturnRecord, error)
}

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	catalog       BookCatalog
	members       MemberDirectory
	lending       Lending
	identity      identity.Provider
	healthChecks  map[string]HealthCheck
	blobRoute     string
	blobDir       string
	retryAttempts int
	observer      observability.Instrumentation
	engine        *gin.Engine
}

type Option func(*Server) error

func WithLogger(logger observability.Logger) Option {
	return func(s *Server) error {
		s.observer.Logger = logger
		return nil
	}
}

func WithContextualLogger(logger observability.ContextualLogger) Option {
	return func(s *Server) error {
		s.observer.ContextualLogger = logger
		return nil
	}
}

func WithMetrics(collector observability.MetricsCollector) Option {
	return func(s *Server) error {
		s.observer.Metrics = collector
		return nil
	}
}

func WithTracing(collector observability.TracingCollector) Option {
	return func(s *Server) error {
		s.observer.Tracing = collector
		return nil
	}
}

// WithHealthCheck adds a named check to GET /manage/health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) error {
		s.healthChecks[name] = check
		return nil
	}
}

// WithBlobDirectory serves the files of a filesystem blob store under route.
func WithBlobDirectory(route string, dir string) Option {
	return func(s *Server) error {
		s.blobRoute = route
		s.blobDir = dir

		return nil
	}
}

// WithRetryAttempts bounds how often borrow and return are retried after a concurrent modification.
func WithRetryAttempts(attempts int) Option {
	return func(s *Server) error {
		if attempts <= 0 {
			return ErrInvalidRetry
		}

		s.retryAttempts = attempts

		return nil
	}
}

func New(
	books BookCatalog,
	members MemberDirectory,
	lending Lending,
	provider identity.Provider,
	options ...Option,
) (*Server, error) {

	switch {
	case books == nil:
		return nil, ErrNilCatalog
	case members == nil:
		return nil, ErrNilMembers
	case lending == nil:
		return nil, ErrNilLending
	case provider == nil:
		return nil, ErrNilIdentity
	}

	s := &Server{
		catalog:       books,
		members:       members,
		lending:       lending,
		identity:      provider,
		healthChecks:  make(map[string]HealthCheck),
		retryAttempts: defaultRetryAttempts,
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	s.engine = s.routes()

	return s, nil
}

// Handler returns the gin engine as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	engine := gin.New()
	engine.MaxMultipartMemory = maxUploadBytes
	engine.Use(gin.Recovery(), s.observeRequests(), s.identifyCaller())

	engine.GET("/manage/health", s.health)

	if s.blobDir != "" {
		engine.Static(s.blobRoute, s.blobDir)
	}

	api := engine.Group("/api/v1")

	api.POST("/auth/signup", s.signUp)
	api.POST("/auth/signin", s.signIn)

	api.GET("/books", s.listBooks)
	api.GET("/books/:bookId", s.getBook)
	api.GET("/members/:memberId/books", s.listMemberBooks)
	api.GET("/members", s.listMembers)

	authenticated := api.Group("", s.requireCaller())
	authenticated.POST("/auth/signout", s.signOut)
	authenticated.DELETE("/members/:memberId", s.deleteMember)
	authenticated.POST("/books", s.createBook)
	authenticated.POST("/books/:bookId/borrow", s.borrowBook)
	authenticated.POST("/books/:bookId/return", s.returnBook)

	return engine
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	checks := make(gin.H, len(s.healthChecks))

	for name, check := range s.healthChecks {
		if err := check(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()

			continue
		}

		checks[name] = "UP"
	}

	overall := "UP"
	if status != http.StatusOK {
		overall = "DOWN"
	}

	c.JSON(status, gin.H{"status": overall, "checks": checks})
}
