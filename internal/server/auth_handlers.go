package server

import (
	"errors"
	"log/slog"
	"time"

	"blogger/internal/auth"
	"blogger/internal/featureflags"
	"blogger/internal/models"
	"blogger/internal/observability"

	"github.com/gofiber/fiber/v2"
)

type tokenResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Identity  *auth.Identity `json:"identity"`
}

// IssueToken handles POST /api/auth/token
func (s *Server) IssueToken(c *fiber.Ctx) error {
	if s.tokens == nil {
		return models.RespondWithAppError(c, models.NewNotFoundError("Route", c.Path()))
	}
	var req auth.Credentials
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if req.Username == "" || req.Password == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Username and password are required"))
	}

	ident, err := s.idents.Authenticate(c.UserContext(), req)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return s.sendToken(c, fiber.StatusOK, ident)
}

// Me handles GET /api/auth/me
func (s *Server) Me(c *fiber.Ctx) error {
	ident := currentIdentity(c)
	return c.JSON(fiber.Map{
		"identity": ident,
		"features": s.flags.Snapshot(ident.ID),
	})
}

// Signup handles POST /api/auth/signup. It is hidden unless the signup flag is on.
func (s *Server) Signup(c *fiber.Ctx) error {
	if s.registrar == nil || s.tokens == nil || !s.flags.Enabled(featureflags.Signup, "") {
		return models.RespondWithAppError(c, models.NewNotFoundError("Route", c.Path()))
	}

	var req struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	ident, err := s.registrar.Register(c.UserContext(), auth.RegisterInput{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}

	observability.Logger.InfoContext(c.UserContext(), "user signed up",
		slog.String("user_id", ident.ID), slog.String("username", ident.Username))
	return s.sendToken(c, fiber.StatusCreated, ident)
}

func (s *Server) sendToken(c *fiber.Ctx, status int, ident *auth.Identity) error {
	token, expiresAt, err := s.tokens.Issue(ident)
	if err != nil {
		var appErr *models.AppError
		if !errors.As(err, &appErr) {
			err = models.NewInternalError(err)
		}
		return models.RespondWithAppError(c, err)
	}
	return c.Status(status).JSON(tokenResponse{Token: token, ExpiresAt: expiresAt, Identity: ident})
}
