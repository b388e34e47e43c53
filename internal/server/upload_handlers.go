package server

import (
	"io"

	"blogger/internal/featureflags"
	"blogger/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Upload handles POST <upload prefix> with a multipart "file" field.
func (s *Server) Upload(c *fiber.Ctx) error {
	ident := currentIdentity(c)
	if !s.flags.Enabled(featureflags.Uploads, ident.ID) {
		return models.RespondWithAppError(c, models.NewForbiddenError("Uploads are not enabled for this account"))
	}

	file, err := c.FormFile("file")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("No file uploaded"))
	}
	src, err := file.Open()
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Unable to read uploaded file"))
	}
	defer func() { _ = src.Close() }()

	// One byte past the limit is enough for the store to reject oversized files.
	limit := int64(s.cfg.UploadMaxSizeMB)*1024*1024 + 1
	content, err := io.ReadAll(io.LimitReader(src, limit))
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Unable to read uploaded file"))
	}

	uploaded, err := s.uploads.Save(c.UserContext(), file.Filename, content)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(uploaded)
}
