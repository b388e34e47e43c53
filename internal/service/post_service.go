// Package service implements the blog's post storage and retrieval engine on top
// of the repository, tag index, cache and event bus.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"blogger/internal/cache"
	"blogger/internal/events"
	"blogger/internal/models"
	"blogger/internal/observability"
	"blogger/internal/repository"
	"blogger/internal/tagindex"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	maxTitleLen = 300
	maxBodyLen  = 200000
	maxTags     = 20
	maxTagLen   = 64
)

// AdminChecker reports whether the identity holds the administrator capability.
type AdminChecker func(ctx context.Context, userID string) (bool, error)

// Options tunes a PostService. Zero values select the defaults.
type Options struct {
	Cache          *cache.PostCache
	Events         events.Publisher
	Clock          func() time.Time
	IDGenerator    func() (string, error)
	InstanceID     string
	StorageTimeout time.Duration
	ReadRetries    int
	RetryInterval  time.Duration
}

type PostService struct {
	posts   repository.PostRepository
	index   *tagindex.Index
	isAdmin AdminChecker
	cache   *cache.PostCache
	events  events.Publisher
	locks   *keyedMutex

	clock          func() time.Time
	newID          func() (string, error)
	instanceID     string
	storageTimeout time.Duration
	readRetries    int
	retryInterval  time.Duration
}

type CreatePostInput struct {
	AuthorID  string
	Title     string
	Body      string
	Slug      string
	Tags      []string
	Published bool
}

// PostPatch lists the fields an update may change. Nil fields are left alone.
type PostPatch struct {
	Title     *string
	Body      *string
	Slug      *string
	Tags      *[]string
	Published *bool
}

type UpdatePostInput struct {
	PostID   string
	CallerID string
	Patch    PostPatch
}

type DeletePostInput struct {
	PostID   string
	CallerID string
}

func NewPostService(
	posts repository.PostRepository,
	index *tagindex.Index,
	isAdmin AdminChecker,
	opts Options,
) *PostService {
	s := &PostService{
		posts:          posts,
		index:          index,
		isAdmin:        isAdmin,
		cache:          opts.Cache,
		events:         opts.Events,
		locks:          newKeyedMutex(),
		clock:          opts.Clock,
		newID:          opts.IDGenerator,
		instanceID:     opts.InstanceID,
		storageTimeout: opts.StorageTimeout,
		readRetries:    opts.ReadRetries,
		retryInterval:  opts.RetryInterval,
	}
	if s.cache == nil {
		s.cache = cache.NewPostCache(nil, 0)
	}
	if s.events == nil {
		s.events = events.Noop{}
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.newID == nil {
		s.newID = func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		}
	}
	if s.instanceID == "" {
		s.instanceID = uuid.NewString()
	}
	if s.storageTimeout <= 0 {
		s.storageTimeout = 3 * time.Second
	}
	if s.readRetries < 0 {
		s.readRetries = 0
	}
	if s.retryInterval <= 0 {
		s.retryInterval = 50 * time.Millisecond
	}
	return s
}

// now returns the service clock in UTC at the precision every supported database keeps.
func (s *PostService) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// CreatePost validates the input, reserves the slug and stores a new post.
func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (post *models.Post, err error) {
	ctx, span := observability.StartSpan(ctx, "PostService", "CreatePost")
	defer func() {
		observability.RecordMutation("create", err)
		observability.EndSpan(span, err)
	}()

	if strings.TrimSpace(in.AuthorID) == "" {
		return nil, models.NewValidationError("Author is required")
	}
	title, err := validateTitle(in.Title)
	if err != nil {
		return nil, err
	}
	body, err := validateBody(in.Body)
	if err != nil {
		return nil, err
	}
	tags, err := validateTags(in.Tags)
	if err != nil {
		return nil, err
	}
	source := in.Slug
	if strings.TrimSpace(source) == "" {
		source = title
	}
	postSlug := Slugify(source)
	if postSlug == "" {
		return nil, models.NewValidationError("Slug is empty after normalization")
	}

	unlock, err := s.lock(ctx, "slug:"+postSlug)
	if err != nil {
		return nil, err
	}
	defer unlock()

	taken, err := s.slugTaken(ctx, postSlug, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, models.NewValidationError(fmt.Sprintf("Slug %q is already in use", postSlug))
	}

	id, err := s.newID()
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	now := s.now()
	post = &models.Post{
		ID:        id,
		Title:     title,
		Slug:      postSlug,
		Body:      body,
		AuthorID:  in.AuthorID,
		Tags:      tags,
		Status:    models.PostStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Published {
		post.Status = models.PostStatusPublished
		post.PublishedAt = &now
	}
	span.SetAttributes(attribute.String("post.id", post.ID))

	change := s.index.Begin(nil, indexEntry(post))
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		return s.posts.Create(ctx, post)
	})
	if err != nil {
		change.Rollback()
		return nil, err
	}
	change.Commit()
	s.afterMutation(ctx, events.PostCreated, nil, post)

	observability.Logger.InfoContext(ctx, "post created",
		slog.String("post_id", post.ID), slog.String("slug", post.Slug), slog.String("status", post.Status))
	return post.Clone(), nil
}

// GetPost returns a post by id. Removed posts yield a GONE error.
func (s *PostService) GetPost(ctx context.Context, id string) (*models.Post, error) {
	ctx, span := observability.StartSpan(ctx, "PostService", "GetPost", attribute.String("post.id", id))
	post, err := retryRead(ctx, s, "get", func(ctx context.Context) (*models.Post, error) {
		var p models.Post
		err := s.cache.Aside(ctx, cache.PostKey(id), &p, func() error {
			found, err := s.posts.GetByID(ctx, id)
			if err != nil {
				return err
			}
			p = *found
			return nil
		})
		return &p, err
	})
	if err == nil && post.IsRemoved() {
		err = models.NewGoneError("Post", id)
	}
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return post, nil
}

// GetPostBySlug returns a post by slug. The slug is normalized before lookup.
func (s *PostService) GetPostBySlug(ctx context.Context, rawSlug string) (*models.Post, error) {
	postSlug := Slugify(rawSlug)
	if postSlug == "" {
		return nil, models.NewNotFoundError("Post", rawSlug)
	}
	ctx, span := observability.StartSpan(ctx, "PostService", "GetPostBySlug", attribute.String("post.slug", postSlug))
	post, err := retryRead(ctx, s, "get_by_slug", func(ctx context.Context) (*models.Post, error) {
		var p models.Post
		err := s.cache.Aside(ctx, cache.SlugKey(postSlug), &p, func() error {
			found, err := s.posts.GetBySlug(ctx, postSlug)
			if err != nil {
				return err
			}
			p = *found
			return nil
		})
		return &p, err
	})
	if err == nil && post.IsRemoved() {
		err = models.NewGoneError("Post", postSlug)
	}
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return post, nil
}

// UpdatePost applies a patch on behalf of the post's author or an administrator.
func (s *PostService) UpdatePost(ctx context.Context, in UpdatePostInput) (updated *models.Post, err error) {
	ctx, span := observability.StartSpan(ctx, "PostService", "UpdatePost", attribute.String("post.id", in.PostID))
	defer func() {
		observability.RecordMutation("update", err)
		observability.EndSpan(span, err)
	}()

	p := in.Patch
	var title, body string
	if p.Title != nil {
		if title, err = validateTitle(*p.Title); err != nil {
			return nil, err
		}
	}
	if p.Body != nil {
		if body, err = validateBody(*p.Body); err != nil {
			return nil, err
		}
	}
	var tags []string
	if p.Tags != nil {
		if tags, err = validateTags(*p.Tags); err != nil {
			return nil, err
		}
	}
	var newSlug string
	if p.Slug != nil {
		if newSlug = Slugify(*p.Slug); newSlug == "" {
			return nil, models.NewValidationError("Slug is empty after normalization")
		}
	}

	admin, err := s.callerIsAdmin(ctx, in.CallerID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, "post:"+in.PostID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if p.Slug != nil {
		// Held until after commit. Slug locks are leaves: nothing else is acquired under one.
		unlockSlug, err := s.lock(ctx, "slug:"+newSlug)
		if err != nil {
			return nil, err
		}
		defer unlockSlug()
	}

	var before *models.Post
	var change *tagindex.Change
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		return s.posts.WithTx(ctx, func(tx repository.PostRepository) error {
			cur, err := loadMutable(ctx, tx, in.PostID, in.CallerID, admin)
			if err != nil {
				return err
			}
			before = cur

			next := cur.Clone()
			if p.Title != nil {
				next.Title = title
			}
			if p.Body != nil {
				next.Body = body
			}
			if p.Tags != nil {
				next.Tags = tags
			}
			if p.Published != nil {
				s.setPublished(next, *p.Published)
			}
			if p.Slug != nil && newSlug != cur.Slug {
				taken, err := tx.SlugTaken(ctx, newSlug, cur.ID)
				if err != nil {
					return err
				}
				if taken {
					return models.NewValidationError(fmt.Sprintf("Slug %q is already in use", newSlug))
				}
				next.Slug = newSlug
			}
			next.UpdatedAt = s.nextUpdatedAt(cur)

			change = s.index.Begin(indexEntry(cur), indexEntry(next))
			if err := tx.Update(ctx, next); err != nil {
				return err
			}
			updated = next
			return nil
		})
	})
	if err != nil {
		if change != nil {
			change.Rollback()
		}
		return nil, err
	}
	change.Commit()
	s.afterMutation(ctx, events.PostUpdated, before, updated)

	observability.Logger.InfoContext(ctx, "post updated", slog.String("post_id", updated.ID))
	return updated.Clone(), nil
}

// DeletePost soft-deletes a post: the row stays as a tombstone that keeps its slug.
// Deleting an already removed post is NOT_FOUND.
func (s *PostService) DeletePost(ctx context.Context, in DeletePostInput) (err error) {
	ctx, span := observability.StartSpan(ctx, "PostService", "DeletePost", attribute.String("post.id", in.PostID))
	defer func() {
		observability.RecordMutation("delete", err)
		observability.EndSpan(span, err)
	}()

	admin, err := s.callerIsAdmin(ctx, in.CallerID)
	if err != nil {
		return err
	}

	unlock, err := s.lock(ctx, "post:"+in.PostID)
	if err != nil {
		return err
	}
	defer unlock()

	var before, removed *models.Post
	var change *tagindex.Change
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		return s.posts.WithTx(ctx, func(tx repository.PostRepository) error {
			cur, err := loadMutable(ctx, tx, in.PostID, in.CallerID, admin)
			if err != nil {
				return err
			}
			before = cur

			next := cur.Clone()
			next.Status = models.PostStatusRemoved
			next.UpdatedAt = s.nextUpdatedAt(cur)

			change = s.index.Begin(indexEntry(cur), nil)
			if err := tx.Update(ctx, next); err != nil {
				return err
			}
			removed = next
			return nil
		})
	})
	if err != nil {
		if change != nil {
			change.Rollback()
		}
		return err
	}
	change.Commit()
	s.afterMutation(ctx, events.PostDeleted, before, removed)

	observability.Logger.InfoContext(ctx, "post removed", slog.String("post_id", in.PostID))
	return nil
}

// PostsForTag returns post ids for tag straight from the tag index, most recent first.
func (s *PostService) PostsForTag(tag string, limit, offset int) []string {
	return s.index.PostsForTag(tag, limit, offset)
}

// Tags returns the published tag cloud.
func (s *PostService) Tags() []tagindex.TagCount {
	return s.index.Tags()
}

// RebuildIndex reloads the tag index from storage.
func (s *PostService) RebuildIndex(ctx context.Context) error {
	posts, err := retryRead(ctx, s, "rebuild_index", func(ctx context.Context) ([]*models.Post, error) {
		return s.posts.ListIndexable(ctx)
	})
	if err != nil {
		return err
	}
	entries := make([]tagindex.Entry, 0, len(posts))
	for _, p := range posts {
		entries = append(entries, *indexEntry(p))
	}
	s.index.Rebuild(entries)
	observability.TagIndexTags.Set(float64(s.index.Len()))
	observability.Logger.InfoContext(ctx, "tag index rebuilt", slog.Int("posts", len(entries)), slog.Int("tags", s.index.Len()))
	return nil
}

// ApplyRemoteEvent replays another instance's committed mutation on the local tag index.
func (s *PostService) ApplyRemoteEvent(ctx context.Context, ev events.Event) {
	if ev.Origin == s.instanceID {
		return
	}
	before := &tagindex.Entry{ID: ev.PostID, Tags: ev.PreviousTags, CreatedAt: ev.CreatedAt, Published: ev.WasPublished}
	after := &tagindex.Entry{ID: ev.PostID, Tags: ev.Tags, CreatedAt: ev.CreatedAt, Published: ev.Published}
	switch ev.Type {
	case events.PostCreated:
		s.index.Apply(nil, after)
	case events.PostUpdated:
		s.index.Apply(before, after)
	case events.PostDeleted:
		s.index.Apply(before, nil)
	default:
		return
	}
	observability.TagIndexTags.Set(float64(s.index.Len()))
	observability.Logger.DebugContext(ctx, "applied remote post event", slog.String("type", ev.Type), slog.String("post_id", ev.PostID))
}

// InstanceID identifies this process as the origin of its events.
func (s *PostService) InstanceID() string {
	return s.instanceID
}

// CanView reports whether viewer may read post. Drafts are visible to their author
// and administrators only.
func CanView(post *models.Post, viewerID string, viewerIsAdmin bool) bool {
	if post.IsPublished() {
		return true
	}
	return viewerID != "" && (viewerID == post.AuthorID || viewerIsAdmin)
}

// callerIsAdmin resolves the admin capability up front so no lookup runs inside a
// post transaction.
func (s *PostService) callerIsAdmin(ctx context.Context, callerID string) (bool, error) {
	if callerID == "" {
		return false, models.NewUnauthorizedError("Authentication required")
	}
	if s.isAdmin == nil {
		return false, nil
	}
	admin, err := s.isAdmin(ctx, callerID)
	if err != nil {
		return false, asStorageError(err)
	}
	return admin, nil
}

// loadMutable fetches a live post and checks that the caller may change it.
func loadMutable(ctx context.Context, tx repository.PostRepository, id, callerID string, admin bool) (*models.Post, error) {
	cur, err := tx.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.IsRemoved() {
		return nil, models.NewNotFoundError("Post", id)
	}
	if cur.AuthorID != callerID && !admin {
		return nil, models.NewForbiddenError("You can only modify your own posts")
	}
	return cur, nil
}

func (s *PostService) setPublished(p *models.Post, published bool) {
	if !published {
		p.Status = models.PostStatusDraft
		return
	}
	p.Status = models.PostStatusPublished
	if p.PublishedAt == nil {
		at := s.now()
		p.PublishedAt = &at
	}
}

// nextUpdatedAt is strictly after the previous value even when the clock has not moved.
func (s *PostService) nextUpdatedAt(prev *models.Post) time.Time {
	now := s.now()
	if !now.After(prev.UpdatedAt) {
		return prev.UpdatedAt.Add(time.Microsecond)
	}
	return now
}

func (s *PostService) lock(ctx context.Context, key string) (func(), error) {
	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		return nil, models.NewStorageUnavailableError(fmt.Errorf("waiting for %s: %w", key, err))
	}
	return unlock, nil
}

func (s *PostService) slugTaken(ctx context.Context, postSlug, excludeID string) (bool, error) {
	var taken bool
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		taken, err = s.posts.SlugTaken(ctx, postSlug, excludeID)
		return err
	})
	return taken, err
}

// withTimeout runs one storage call under the per-call deadline.
func (s *PostService) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	return asStorageError(fn(callCtx))
}

// afterMutation invalidates cached copies and publishes the event. Neither can fail the
// mutation: it is already committed.
func (s *PostService) afterMutation(ctx context.Context, eventType string, before, after *models.Post) {
	keys := []string{cache.PostKey(after.ID), cache.SlugKey(after.Slug)}
	if before != nil && before.Slug != after.Slug {
		keys = append(keys, cache.SlugKey(before.Slug))
	}
	s.cache.Invalidate(ctx, keys...)
	observability.TagIndexTags.Set(float64(s.index.Len()))

	ev := events.Event{
		Type:      eventType,
		Origin:    s.instanceID,
		PostID:    after.ID,
		Slug:      after.Slug,
		AuthorID:  after.AuthorID,
		Tags:      after.Tags,
		Published: after.IsPublished(),
		CreatedAt: after.CreatedAt,
		At:        after.UpdatedAt,
	}
	if before != nil {
		ev.PreviousTags = before.Tags
		ev.WasPublished = before.IsPublished()
		if before.Slug != after.Slug {
			ev.PreviousSlug = before.Slug
		}
	}
	if eventType == events.PostDeleted {
		ev.Tags = nil
		ev.Published = false
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storageTimeout)
	defer cancel()
	if err := s.events.Publish(pubCtx, ev); err != nil {
		observability.EventPublishFailures.WithLabelValues(s.events.Name()).Inc()
		observability.Logger.WarnContext(ctx, "failed to publish post event",
			slog.String("type", eventType), slog.String("post_id", after.ID), slog.String("error", err.Error()))
	}
}

func indexEntry(p *models.Post) *tagindex.Entry {
	return &tagindex.Entry{ID: p.ID, Tags: p.Tags, CreatedAt: p.CreatedAt, Published: p.IsPublished()}
}

// asStorageError maps deadline and cancellation errors that escaped the repository.
func asStorageError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		observability.StorageErrors.WithLabelValues("timeout").Inc()
		return models.NewStorageUnavailableError(err)
	}
	return models.NewInternalError(err)
}

func validateTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", models.NewValidationError("Title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return "", models.NewValidationError(fmt.Sprintf("Title too long (max %d characters)", maxTitleLen))
	}
	return title, nil
}

func validateBody(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", models.NewValidationError("Body is required")
	}
	if utf8.RuneCountInString(raw) > maxBodyLen {
		return "", models.NewValidationError(fmt.Sprintf("Body too long (max %d characters)", maxBodyLen))
	}
	return raw, nil
}

func validateTags(raw []string) ([]string, error) {
	tags := tagindex.NormalizeTags(raw)
	if len(tags) > maxTags {
		return nil, models.NewValidationError(fmt.Sprintf("Too many tags (max %d)", maxTags))
	}
	for _, t := range tags {
		if utf8.RuneCountInString(t) > maxTagLen {
			return nil, models.NewValidationError(fmt.Sprintf("Tag %q too long (max %d characters)", t, maxTagLen))
		}
	}
	return tags, nil
}
