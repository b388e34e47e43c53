package server

import (
	"errors"
	"log/slog"
	"strings"

	"blogger/internal/auth"
	"blogger/internal/middleware"
	"blogger/internal/models"
	"blogger/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// LoadIdentity resolves the caller from a bearer token or, failing that, the login
// session. A bad bearer token is rejected outright; a stale session is dropped and
// the caller continues anonymously.
func (s *Server) LoadIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var ident *auth.Identity

		if token, ok := bearerToken(c); ok {
			if s.tokens == nil {
				return s.respondError(c, models.NewUnauthorizedError("API tokens are not enabled"))
			}
			sub, err := s.tokens.Parse(token)
			if err != nil {
				return s.respondError(c, err)
			}
			ident, err = s.idents.Lookup(c.UserContext(), sub)
			if err != nil {
				if errors.Is(err, auth.ErrUnknownIdentity) {
					return s.respondError(c, models.NewUnauthorizedError("Invalid or expired token"))
				}
				return s.respondError(c, err)
			}
		} else {
			sess, err := s.sessions.Get(c)
			if err != nil {
				observability.Logger.WarnContext(c.UserContext(), "session load failed", slog.String("error", err.Error()))
				return c.Next()
			}
			id, _ := sess.Get(sessionIdentityKey).(string)
			if id != "" {
				ident, err = s.idents.Lookup(c.UserContext(), id)
				switch {
				case errors.Is(err, auth.ErrUnknownIdentity):
					ident = nil
					_ = sess.Destroy()
				case err != nil:
					return s.respondError(c, err)
				}
			}
		}

		if ident != nil {
			c.Locals(localsIdentity, ident)
			c.Locals(middleware.LocalsUserID, ident.ID)
			c.SetUserContext(observability.WithUserID(c.UserContext(), ident.ID))
		}
		return c.Next()
	}
}

// AuthRequired rejects anonymous callers with 401.
func (s *Server) AuthRequired(c *fiber.Ctx) error {
	if currentIdentity(c) == nil {
		return s.respondError(c, models.NewUnauthorizedError("Authentication required"))
	}
	return c.Next()
}

// currentIdentity returns the caller, or nil for anonymous requests.
func currentIdentity(c *fiber.Ctx) *auth.Identity {
	ident, _ := c.Locals(localsIdentity).(*auth.Identity)
	return ident
}

func identityID(ident *auth.Identity) string {
	if ident == nil {
		return ""
	}
	return ident.ID
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	header := c.Get(fiber.HeaderAuthorization)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// respondError writes err as JSON for API callers and as a page for browsers.
func (s *Server) respondError(c *fiber.Ctx, err error) error {
	status := models.StatusForError(err)
	if status >= fiber.StatusInternalServerError {
		observability.Logger.ErrorContext(c.UserContext(), "request error",
			slog.String("path", c.Path()), slog.String("error", err.Error()))
	}
	if wantsJSON(c) {
		return models.RespondWithError(c, status, err)
	}
	return s.renderError(c, status, err)
}

func (s *Server) renderError(c *fiber.Ctx, status int, err error) error {
	msg := "Something went wrong."
	var appErr *models.AppError
	if errors.As(err, &appErr) && status < fiber.StatusInternalServerError {
		msg = appErr.Message
	}
	switch status {
	case fiber.StatusNotFound:
		msg = "Page not found."
	case fiber.StatusGone:
		msg = "This post has been removed."
	case fiber.StatusServiceUnavailable:
		msg = "The blog is temporarily unavailable. Please try again shortly."
	}
	data := s.basePage(c, "Error")
	data.Status = status
	data.Message = msg
	return s.pages.render(c, status, "error", data)
}

func (s *Server) basePage(c *fiber.Ctx, title string) *pageData {
	return &pageData{
		Site:     s.site(),
		Identity: currentIdentity(c),
		Prefix:   strings.TrimSuffix(s.cfg.BlogURLPrefix, "/"),
		Title:    title,
	}
}

func (s *Server) site() siteInfo {
	return siteInfo{
		Name:     s.cfg.SiteName,
		URL:      s.cfg.SiteURL,
		Keywords: s.cfg.Keywords(),
		Prefix:   s.cfg.BlogURLPrefix,
	}
}
