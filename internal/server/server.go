// Package server is the blog's web front-end: HTML pages, the JSON API and uploads.
package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"blogger/internal/auth"
	"blogger/internal/config"
	"blogger/internal/featureflags"
	"blogger/internal/middleware"
	"blogger/internal/models"
	"blogger/internal/observability"
	"blogger/internal/service"
	"blogger/internal/uploads"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/session"
)

const (
	sessionCookie      = "blogger_session"
	csrfCookie         = "blogger_csrf"
	csrfContextKey     = "csrf"
	sessionIdentityKey = "identity_id"
	localsIdentity     = "identity"
)

// Registrar creates accounts for self-registration.
type Registrar interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Identity, error)
}

// HealthCheck is one readiness probe. Optional checks only degrade readiness.
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

// Deps are the collaborators the composition root hands to the front-end.
type Deps struct {
	Config     *config.Config
	Posts      *service.PostService
	Identities auth.Provider
	Registrar  Registrar
	Tokens     *auth.TokenIssuer
	Uploads    *uploads.Store
	Flags      *featureflags.Set
	Limiter    *middleware.Limiter
	// SessionStorage backs login sessions and CSRF tokens. Nil keeps them in memory.
	SessionStorage fiber.Storage
	Prometheus     *fiberprometheus.FiberPrometheus
	Checks         []HealthCheck
}

type Server struct {
	cfg       *config.Config
	posts     *service.PostService
	idents    auth.Provider
	registrar Registrar
	tokens    *auth.TokenIssuer
	uploads   *uploads.Store
	flags     *featureflags.Set
	limiter   *middleware.Limiter
	sessions  *session.Store
	storage   fiber.Storage
	prom      *fiberprometheus.FiberPrometheus
	checks    []HealthCheck
	pages     *renderer
	app       *fiber.App
}

// New builds the Fiber application with every route registered.
func New(d Deps) (*Server, error) {
	if d.Config == nil || d.Posts == nil || d.Identities == nil {
		return nil, errors.New("server: config, post service and identity provider are required")
	}
	pages, err := newRenderer()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       d.Config,
		posts:     d.Posts,
		idents:    d.Identities,
		registrar: d.Registrar,
		tokens:    d.Tokens,
		uploads:   d.Uploads,
		flags:     d.Flags,
		limiter:   d.Limiter,
		storage:   d.SessionStorage,
		prom:      d.Prometheus,
		checks:    d.Checks,
		pages:     pages,
	}
	if s.flags == nil {
		s.flags = featureflags.Parse("")
	}
	if s.limiter == nil {
		s.limiter = middleware.NewLimiter(nil, false)
	}
	s.sessions = session.New(session.Config{
		Expiration:     time.Duration(s.cfg.SessionTTLMinutes) * time.Minute,
		Storage:        s.storage,
		KeyLookup:      "cookie:" + sessionCookie,
		CookieSecure:   s.cfg.SessionCookieSecure,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
	})

	bodyLimit := 4 * 1024 * 1024
	if up := (s.cfg.UploadMaxSizeMB + 1) * 1024 * 1024; up > bodyLimit {
		bodyLimit = up
	}
	app := fiber.New(fiber.Config{
		AppName:      "blogger",
		BodyLimit:    bodyLimit,
		ErrorHandler: s.handleError,
	})
	s.setupMiddleware(app)
	s.setupRoutes(app)
	s.app = app
	return s, nil
}

// App exposes the Fiber application, mainly for app.Test in tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) setupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())
	if s.prom != nil {
		app.Use(s.prom.Middleware)
	}
	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	origins := s.cfg.AllowedOrigins
	if origins == "" {
		origins = s.cfg.SiteURL
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	app.Use(s.LoadIdentity())
}

func (s *Server) setupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	if s.prom != nil {
		s.prom.RegisterAt(app, "/metrics")
	}

	csrfGuard := csrf.New(csrf.Config{
		KeyLookup:      "form:_csrf",
		CookieName:     csrfCookie,
		CookieSameSite: "Lax",
		CookieSecure:   s.cfg.SessionCookieSecure,
		CookieHTTPOnly: true,
		Expiration:     time.Hour,
		Storage:        s.storage,
		ContextKey:     csrfContextKey,
	})

	// HTML pages
	app.Get("/", s.HomePage)
	app.Get("/login/", csrfGuard, s.LoginPage)
	app.Post("/login/", s.limiter.Handler(10, 5*time.Minute, "login"), csrfGuard, s.Login)
	app.Get("/logout/", s.Logout)

	blog := app.Group(s.cfg.BlogURLPrefix)
	blog.Get("/", s.BlogIndex)
	blog.Get("/page/:slug", s.PostPage)
	blog.Get("/tag/:tag", s.TagPage)

	// JSON API
	api := app.Group("/api")
	api.Get("/site", s.SiteInfo)

	posts := api.Group("/posts")
	posts.Get("/", s.ListPosts)
	posts.Get("/slug/:slug", s.GetPostBySlug)
	posts.Get("/:id", s.GetPost)
	posts.Post("/", s.AuthRequired, s.limiter.Handler(20, time.Minute, "create_post"), s.CreatePost)
	posts.Put("/:id", s.AuthRequired, s.UpdatePost)
	posts.Delete("/:id", s.AuthRequired, s.DeletePost)

	tags := api.Group("/tags")
	tags.Get("/", s.ListTags)
	tags.Get("/:tag/posts", s.TagPosts)

	authGroup := api.Group("/auth")
	authGroup.Post("/token", s.limiter.Handler(10, 5*time.Minute, "token"), s.IssueToken)
	authGroup.Get("/me", s.AuthRequired, s.Me)
	authGroup.Post("/signup", s.limiter.Handler(3, 10*time.Minute, "signup"), s.Signup)

	if s.uploads != nil {
		app.Post(s.cfg.UploadPrefix, s.AuthRequired, s.limiter.Handler(30, time.Minute, "upload"), s.Upload)
		app.Static(s.cfg.UploadPrefix, s.uploads.Dir(), fiber.Static{ByteRange: true})
	}
}

// Start listens on the configured port until Shutdown.
func (s *Server) Start() error {
	observability.Logger.Info("server starting", slog.String("port", s.cfg.Port))
	return s.app.Listen(":" + s.cfg.Port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// handleError renders errors that escaped a handler, including Fiber's own
// (unknown route, body too large, CSRF failure).
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var status int
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		err = fiberErrorAsApp(fe)
	} else {
		status = models.StatusForError(err)
	}
	if status >= fiber.StatusInternalServerError {
		observability.Logger.ErrorContext(c.UserContext(), "request error", slog.String("error", err.Error()))
	}
	if wantsJSON(c) {
		return models.RespondWithError(c, status, err)
	}
	return s.renderError(c, status, err)
}

func fiberErrorAsApp(fe *fiber.Error) error {
	switch fe.Code {
	case fiber.StatusNotFound:
		return &models.AppError{Code: models.CodeNotFound, Message: "Not found"}
	case fiber.StatusForbidden:
		return models.NewForbiddenError(fe.Message)
	case fiber.StatusRequestEntityTooLarge, fiber.StatusBadRequest:
		return models.NewValidationError(fe.Message)
	default:
		return &models.AppError{Code: models.CodeInternal, Message: fe.Message, Err: fe}
	}
}

func wantsJSON(c *fiber.Ctx) bool {
	return strings.HasPrefix(c.Path(), "/api/") || c.Path() == "/api" ||
		strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMEApplicationJSON)
}
