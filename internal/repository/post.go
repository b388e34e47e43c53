// Package repository persists users and posts with gorm.
package repository

import (
	"context"
	"errors"

	"blogger/internal/models"
	"blogger/internal/observability"

	"gorm.io/gorm"
)

// PostQuery selects non-removed posts for a listing page.
type PostQuery struct {
	// IDs restricts the result to these ids when RestrictIDs is set. An empty
	// restriction matches nothing.
	IDs           []string
	RestrictIDs   bool
	AuthorID      string
	PublishedOnly bool
	Limit         int
	Offset        int
}

// PostRepository stores posts, tombstones included.
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	GetBySlug(ctx context.Context, slug string) (*models.Post, error)
	SlugTaken(ctx context.Context, slug, excludeID string) (bool, error)
	Update(ctx context.Context, post *models.Post) error
	List(ctx context.Context, q PostQuery) ([]*models.Post, int64, error)
	ListIndexable(ctx context.Context) ([]*models.Post, error)
	WithTx(ctx context.Context, fn func(tx PostRepository) error) error
}

// postRepository is the gorm-backed PostRepository.
type postRepository struct {
	db *gorm.DB
}

// NewPostRepository wraps db.
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	defer observability.TrackQuery("create", "posts")()
	return mapPostError(r.db.WithContext(ctx).Create(post).Error, post.ID)
}

// GetByID returns the post including tombstones; callers decide how to surface removal.
func (r *postRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	defer observability.TrackQuery("get_by_id", "posts")()
	var post models.Post
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&post).Error; err != nil {
		return nil, mapPostError(err, id)
	}
	return &post, nil
}

func (r *postRepository) GetBySlug(ctx context.Context, slug string) (*models.Post, error) {
	defer observability.TrackQuery("get_by_slug", "posts")()
	var post models.Post
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&post).Error; err != nil {
		return nil, mapPostError(err, slug)
	}
	return &post, nil
}

// SlugTaken reports whether any row other than excludeID holds slug. Tombstones count.
func (r *postRepository) SlugTaken(ctx context.Context, slug, excludeID string) (bool, error) {
	defer observability.TrackQuery("slug_taken", "posts")()
	var count int64
	q := r.db.WithContext(ctx).Model(&models.Post{}).Where("slug = ?", slug)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, mapPostError(err, slug)
	}
	return count > 0, nil
}

// Update writes every mutable column of post. The id and creation time never change.
func (r *postRepository) Update(ctx context.Context, post *models.Post) error {
	defer observability.TrackQuery("update", "posts")()
	res := r.db.WithContext(ctx).
		Model(post).
		Select("*").
		Omit("id", "created_at").
		Updates(post)
	if res.Error != nil {
		return mapPostError(res.Error, post.ID)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Post", post.ID)
	}
	return nil
}

// List returns one page of non-removed posts, newest first, with the total match count.
func (r *postRepository) List(ctx context.Context, q PostQuery) ([]*models.Post, int64, error) {
	defer observability.TrackQuery("list", "posts")()
	posts := []*models.Post{}
	if q.RestrictIDs && len(q.IDs) == 0 {
		return posts, 0, nil
	}

	base := r.db.WithContext(ctx).Model(&models.Post{}).Where("status <> ?", models.PostStatusRemoved)
	if q.RestrictIDs {
		base = base.Where("id IN ?", q.IDs)
	}
	if q.AuthorID != "" {
		base = base.Where("author_id = ?", q.AuthorID)
	}
	if q.PublishedOnly {
		base = base.Where("status = ?", models.PostStatusPublished)
	}
	base = base.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, mapPostError(err, "list")
	}
	if total == 0 || q.Offset >= int(total) {
		return posts, total, nil
	}

	err := base.
		Order("created_at DESC").
		Order("id DESC").
		Limit(q.Limit).
		Offset(q.Offset).
		Find(&posts).Error
	if err != nil {
		return nil, 0, mapPostError(err, "list")
	}
	return posts, total, nil
}

// ListIndexable returns the id, tags, status and creation time of every non-removed post.
func (r *postRepository) ListIndexable(ctx context.Context) ([]*models.Post, error) {
	defer observability.TrackQuery("list_indexable", "posts")()
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Select("id", "tags", "status", "created_at").
		Where("status <> ?", models.PostStatusRemoved).
		Find(&posts).Error
	if err != nil {
		return nil, mapPostError(err, "index")
	}
	return posts, nil
}

// WithTx runs fn against a repository bound to a single transaction.
func (r *postRepository) WithTx(ctx context.Context, fn func(tx PostRepository) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&postRepository{db: tx})
	})
	var appErr *models.AppError
	if err != nil && !errors.As(err, &appErr) {
		return mapPostError(err, "transaction")
	}
	return err
}

// mapPostError converts driver errors into application errors.
func mapPostError(err error, id interface{}) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.NewNotFoundError("Post", id)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &models.AppError{Code: models.CodeValidation, Message: "slug already in use", Err: err}
	default:
		observability.StorageErrors.WithLabelValues("posts").Inc()
		return models.NewStorageUnavailableError(err)
	}
}
