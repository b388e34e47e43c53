// Package seed fills a development database with demo authors and posts. Every
// record goes through the identity provider and the post service so the data
// obeys the same rules as content created by hand.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"blogger/internal/auth"
	"blogger/internal/models"
	"blogger/internal/observability"
	"blogger/internal/service"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// DefaultPassword is shared by every seeded account.
const DefaultPassword = "password123"

var tagPool = []string{"go", "python", "flask", "databases", "devops", "testing", "web", "design", "career", "tooling"}

// Registrar creates accounts.
type Registrar interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Identity, error)
}

// PostCreator stores posts.
type PostCreator interface {
	CreatePost(ctx context.Context, in service.CreatePostInput) (*models.Post, error)
}

// Options sizes a seeding run.
type Options struct {
	Users int
	Posts int
	// DraftRatio is the share of posts left unpublished, between 0 and 1.
	DraftRatio float64
	// Seed makes the generated content reproducible. Zero picks a random seed.
	Seed int64
}

// Result lists what a run created.
type Result struct {
	Users []*auth.Identity
	Posts []*models.Post
}

type Seeder struct {
	users Registrar
	posts PostCreator
	fake  *gofakeit.Faker
	opts  Options
}

func New(users Registrar, posts PostCreator, opts Options) *Seeder {
	return &Seeder{users: users, posts: posts, fake: gofakeit.New(opts.Seed), opts: opts}
}

// Run creates opts.Users authors and spreads opts.Posts posts across them.
func (s *Seeder) Run(ctx context.Context) (*Result, error) {
	if s.opts.Users < 1 && s.opts.Posts > 0 {
		return nil, fmt.Errorf("seed: posts need at least one user")
	}

	res := &Result{}
	for i := 0; i < s.opts.Users; i++ {
		ident, err := s.createUser(ctx)
		if err != nil {
			return nil, err
		}
		res.Users = append(res.Users, ident)
	}

	for i := 0; i < s.opts.Posts; i++ {
		author := res.Users[s.fake.Number(0, len(res.Users)-1)]
		post, err := s.createPost(ctx, author)
		if err != nil {
			return nil, err
		}
		res.Posts = append(res.Posts, post)
	}

	observability.Logger.InfoContext(ctx, "seed complete",
		slog.Int("users", len(res.Users)), slog.Int("posts", len(res.Posts)))
	return res, nil
}

func (s *Seeder) createUser(ctx context.Context) (*auth.Identity, error) {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		first, last := s.fake.FirstName(), s.fake.LastName()
		ident, err := s.users.Register(ctx, auth.RegisterInput{
			Username:    username(first, last, s.fake.Number(10, 9999)),
			DisplayName: first + " " + last,
			Password:    DefaultPassword,
		})
		if err == nil {
			return ident, nil
		}
		if !models.IsCode(err, models.CodeConflict) {
			return nil, fmt.Errorf("seed user: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("seed user: %w", lastErr)
}

func (s *Seeder) createPost(ctx context.Context, author *auth.Identity) (*models.Post, error) {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		title := strings.TrimSuffix(s.fake.Sentence(s.fake.Number(3, 8)), ".")
		post, err := s.posts.CreatePost(ctx, service.CreatePostInput{
			AuthorID:  author.ID,
			Title:     title,
			Body:      s.fake.Paragraph(s.fake.Number(2, 4), 4, 12, "\n\n"),
			Tags:      s.tags(),
			Published: s.fake.Float64Range(0, 1) >= s.opts.DraftRatio,
		})
		if err == nil {
			return post, nil
		}
		// A generated title can collide with an existing slug; draw another.
		if !models.IsCode(err, models.CodeValidation) {
			return nil, fmt.Errorf("seed post: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("seed post: %w", lastErr)
}

func (s *Seeder) tags() []string {
	n := s.fake.Number(0, 3)
	tags := make([]string, 0, n)
	for i := 0; i < n; i++ {
		tags = append(tags, s.fake.RandomString(tagPool))
	}
	return tags
}

func username(first, last string, n int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(first + last) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	base := b.String()
	if len(base) > 20 {
		base = base[:20]
	}
	if base == "" {
		base = "author"
	}
	return fmt.Sprintf("%s%d", base, n)
}

// Clock hands out strictly increasing timestamps starting in the past, so seeded
// posts read like a blog written over weeks rather than in one second.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	fake *gofakeit.Faker
}

// NewClock starts span before the current time.
func NewClock(span time.Duration, seed int64) *Clock {
	return &Clock{now: time.Now().Add(-span), fake: gofakeit.New(seed)}
}

// Now advances by a random step of up to a day and returns the new time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Duration(c.fake.Number(1, 24*60)) * time.Minute)
	return c.now
}

// Clear removes every post and user.
func Clear(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Post{}).Error; err != nil {
			return fmt.Errorf("clear posts: %w", err)
		}
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.User{}).Error; err != nil {
			return fmt.Errorf("clear users: %w", err)
		}
		return nil
	})
}
