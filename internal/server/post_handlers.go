package server

import (
	"fmt"
	"strconv"

	"blogger/internal/models"
	"blogger/internal/service"

	"github.com/gofiber/fiber/v2"
)

type createPostRequest struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Slug      string   `json:"slug,omitempty"`
	Tags      []string `json:"tags"`
	Published bool     `json:"published"`
}

type updatePostRequest struct {
	Title     *string   `json:"title"`
	Body      *string   `json:"body"`
	Slug      *string   `json:"slug"`
	Tags      *[]string `json:"tags"`
	Published *bool     `json:"published"`
}

// ListPosts handles GET /api/posts?tag=&author=&page=&page_size=&published_only=
func (s *Server) ListPosts(c *fiber.Ctx) error {
	publishedOnly, err := queryBool(c, "published_only", true)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	pageSize, err := queryInt(c, "page_size", 10)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	filter := service.ListFilter{
		Tag:           c.Query("tag"),
		AuthorID:      c.Query("author"),
		PublishedOnly: publishedOnly,
	}

	if !filter.PublishedOnly {
		ident := currentIdentity(c)
		if ident == nil {
			return models.RespondWithAppError(c, models.NewUnauthorizedError("Authentication is required to list drafts"))
		}
		if !ident.IsAdmin && filter.AuthorID != ident.ID {
			return models.RespondWithAppError(c, models.NewForbiddenError("Drafts can only be listed by their author"))
		}
	}

	res, err := s.posts.ListPosts(c.UserContext(), filter, page, pageSize)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(res)
}

// GetPost handles GET /api/posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	post, err := s.posts.GetPost(c.UserContext(), c.Params("id"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return s.sendVisible(c, post)
}

// GetPostBySlug handles GET /api/posts/slug/:slug
func (s *Server) GetPostBySlug(c *fiber.Ctx) error {
	post, err := s.posts.GetPostBySlug(c.UserContext(), c.Params("slug"))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return s.sendVisible(c, post)
}

// sendVisible hides drafts from everyone but their author and administrators.
func (s *Server) sendVisible(c *fiber.Ctx, post *models.Post) error {
	ident := currentIdentity(c)
	if !service.CanView(post, identityID(ident), ident != nil && ident.IsAdmin) {
		return models.RespondWithAppError(c, models.NewNotFoundError("Post", post.ID))
	}
	return c.JSON(post)
}

// CreatePost handles POST /api/posts
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req createPostRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	post, err := s.posts.CreatePost(c.UserContext(), service.CreatePostInput{
		AuthorID:  identityID(currentIdentity(c)),
		Title:     req.Title,
		Body:      req.Body,
		Slug:      req.Slug,
		Tags:      req.Tags,
		Published: req.Published,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// UpdatePost handles PUT /api/posts/:id. Omitted fields keep their value.
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	var req updatePostRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	post, err := s.posts.UpdatePost(c.UserContext(), service.UpdatePostInput{
		PostID:   c.Params("id"),
		CallerID: identityID(currentIdentity(c)),
		Patch: service.PostPatch{
			Title:     req.Title,
			Body:      req.Body,
			Slug:      req.Slug,
			Tags:      req.Tags,
			Published: req.Published,
		},
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(post)
}

// DeletePost handles DELETE /api/posts/:id
func (s *Server) DeletePost(c *fiber.Ctx) error {
	err := s.posts.DeletePost(c.UserContext(), service.DeletePostInput{
		PostID:   c.Params("id"),
		CallerID: identityID(currentIdentity(c)),
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListTags handles GET /api/tags
func (s *Server) ListTags(c *fiber.Ctx) error {
	return c.JSON(s.posts.Tags())
}

// TagPosts handles GET /api/tags/:tag/posts?limit=&offset=
func (s *Server) TagPosts(c *fiber.Ctx) error {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	res, err := s.posts.TagFeed(c.UserContext(), c.Params("tag"), limit, offset)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(res)
}

// queryInt reads an integer query parameter. A missing value yields def; a value
// that is not an integer is a validation error.
func queryInt(c *fiber.Ctx, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewValidationError(fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}

func queryBool(c *fiber.Ctx, name string, def bool) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, models.NewValidationError(fmt.Sprintf("%s must be true or false", name))
	}
	return b, nil
}
