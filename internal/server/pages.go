package server

import (
	"errors"
	"log/slog"
	"strings"

	"blogger/internal/auth"
	"blogger/internal/models"
	"blogger/internal/observability"
	"blogger/internal/service"

	"github.com/gofiber/fiber/v2"
)

const htmlPageSize = 10

// HomePage handles GET /
func (s *Server) HomePage(c *fiber.Ctx) error {
	return s.pages.render(c, fiber.StatusOK, "home", s.basePage(c, ""))
}

// LoginPage handles GET /login/
func (s *Server) LoginPage(c *fiber.Ctx) error {
	if currentIdentity(c) != nil {
		return c.Redirect(s.blogHome(), fiber.StatusSeeOther)
	}
	data := s.basePage(c, "Login")
	data.CSRF = csrfToken(c)
	return s.pages.render(c, fiber.StatusOK, "login", data)
}

// Login handles POST /login/: it authenticates through the identity provider and
// starts a fresh session.
func (s *Server) Login(c *fiber.Ctx) error {
	creds := auth.Credentials{
		Username: strings.TrimSpace(c.FormValue("username")),
		Password: c.FormValue("password"),
	}

	ident, err := s.idents.Authenticate(c.UserContext(), creds)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		data := s.basePage(c, "Login")
		data.CSRF = csrfToken(c)
		data.Username = creds.Username
		data.Error = "Invalid username or password."
		return s.pages.render(c, fiber.StatusUnauthorized, "login", data)
	}
	if err != nil {
		return s.respondError(c, err)
	}

	sess, err := s.sessions.Get(c)
	if err != nil {
		return s.respondError(c, models.NewInternalError(err))
	}
	if err := sess.Regenerate(); err != nil {
		return s.respondError(c, models.NewInternalError(err))
	}
	sess.Set(sessionIdentityKey, ident.ID)
	if err := sess.Save(); err != nil {
		return s.respondError(c, models.NewStorageUnavailableError(err))
	}

	observability.Logger.InfoContext(c.UserContext(), "user logged in", slog.String("user_id", ident.ID))
	return c.Redirect(s.blogHome(), fiber.StatusSeeOther)
}

// Logout handles GET /logout/
func (s *Server) Logout(c *fiber.Ctx) error {
	sess, err := s.sessions.Get(c)
	if err == nil {
		if err := sess.Destroy(); err != nil {
			observability.Logger.WarnContext(c.UserContext(), "session destroy failed", slog.String("error", err.Error()))
		}
	}
	return c.Redirect("/", fiber.StatusSeeOther)
}

// BlogIndex handles GET <prefix>/?page=
func (s *Server) BlogIndex(c *fiber.Ctx) error {
	page := pageParam(c)
	res, err := s.posts.ListPosts(c.UserContext(), service.ListFilter{PublishedOnly: true}, page, htmlPageSize)
	if err != nil {
		return s.respondError(c, err)
	}
	data := s.basePage(c, "")
	data.Posts = res.Items
	data.Tags = s.posts.Tags()
	setPaging(data, page, res.HasMore)
	return s.pages.render(c, fiber.StatusOK, "index", data)
}

// PostPage handles GET <prefix>/page/:slug. Removed posts render 410; drafts are
// only shown to their author and administrators.
func (s *Server) PostPage(c *fiber.Ctx) error {
	post, err := s.posts.GetPostBySlug(c.UserContext(), c.Params("slug"))
	if err != nil {
		return s.respondError(c, err)
	}
	ident := currentIdentity(c)
	if !service.CanView(post, identityID(ident), ident != nil && ident.IsAdmin) {
		return s.respondError(c, models.NewNotFoundError("Post", post.Slug))
	}
	data := s.basePage(c, post.Title)
	data.Post = post
	return s.pages.render(c, fiber.StatusOK, "post", data)
}

// TagPage handles GET <prefix>/tag/:tag?page=
func (s *Server) TagPage(c *fiber.Ctx) error {
	page := pageParam(c)
	tag := c.Params("tag")
	res, err := s.posts.TagFeed(c.UserContext(), tag, htmlPageSize, (page-1)*htmlPageSize)
	if err != nil {
		return s.respondError(c, err)
	}
	data := s.basePage(c, tag)
	data.Tag = tag
	data.Posts = res.Items
	setPaging(data, page, res.HasMore)
	return s.pages.render(c, fiber.StatusOK, "index", data)
}

func (s *Server) blogHome() string {
	return strings.TrimSuffix(s.cfg.BlogURLPrefix, "/") + "/"
}

func csrfToken(c *fiber.Ctx) string {
	token, _ := c.Locals(csrfContextKey).(string)
	return token
}

// pageParam reads ?page=, treating anything below 1 as the first page.
func pageParam(c *fiber.Ctx) int {
	page := c.QueryInt("page", 1)
	if page < 1 || page > 100000 {
		return 1
	}
	return page
}

func setPaging(data *pageData, page int, hasMore bool) {
	if page > 1 {
		data.PrevPage = page - 1
	}
	if hasMore {
		data.NextPage = page + 1
	}
}
