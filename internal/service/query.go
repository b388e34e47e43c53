package service

import (
	"context"
	"math"

	"blogger/internal/models"
	"blogger/internal/observability"
	"blogger/internal/repository"
	"blogger/internal/tagindex"

	"go.opentelemetry.io/otel/attribute"
)

// MaxPageSize caps every listing.
const MaxPageSize = 100

// ListFilter narrows a listing. Empty fields do not filter.
type ListFilter struct {
	Tag           string
	AuthorID      string
	PublishedOnly bool
}

// Page is one page of a listing ordered by creation time then id, both descending.
type Page struct {
	Items      []*models.Post `json:"items"`
	TotalCount int64          `json:"total_count"`
	HasMore    bool           `json:"has_more"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}

// ListPosts returns one page of non-removed posts. page and pageSize are 1-based.
// Every call recounts the matches, so consecutive pages reflect concurrent writes.
func (s *PostService) ListPosts(ctx context.Context, filter ListFilter, page, pageSize int) (*Page, error) {
	if page < 1 {
		return nil, models.NewValidationError("page must be a positive integer")
	}
	if pageSize < 1 {
		return nil, models.NewValidationError("page_size must be a positive integer")
	}
	if pageSize > MaxPageSize {
		return nil, models.NewValidationError("page_size exceeds the maximum of 100")
	}
	if page-1 > math.MaxInt32/pageSize {
		return nil, models.NewValidationError("page is out of range")
	}

	ctx, span := observability.StartSpan(ctx, "PostService", "ListPosts",
		attribute.String("filter.tag", filter.Tag),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)

	q := repository.PostQuery{
		AuthorID:      filter.AuthorID,
		PublishedOnly: filter.PublishedOnly,
		Limit:         pageSize,
		Offset:        (page - 1) * pageSize,
	}
	if tag := tagindex.NormalizeTag(filter.Tag); tag != "" {
		q.RestrictIDs = true
		q.IDs = s.index.Candidates(tag)
	}

	type result struct {
		posts []*models.Post
		total int64
	}
	res, err := retryRead(ctx, s, "list", func(ctx context.Context) (result, error) {
		posts, total, err := s.posts.List(ctx, q)
		return result{posts: posts, total: total}, err
	})
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	return &Page{
		Items:      res.posts,
		TotalCount: res.total,
		HasMore:    int64(page)*int64(pageSize) < res.total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// TagFeed returns published posts carrying tag, most recent first, addressed by
// limit and offset like PostsForTag. Candidates are resolved against storage, so a
// post appears exactly when its row is committed.
func (s *PostService) TagFeed(ctx context.Context, tag string, limit, offset int) (*Page, error) {
	if limit < 1 || limit > MaxPageSize {
		return nil, models.NewValidationError("limit must be between 1 and 100")
	}
	if offset < 0 {
		return nil, models.NewValidationError("offset must not be negative")
	}
	normalized := tagindex.NormalizeTag(tag)
	if normalized == "" {
		return nil, models.NewValidationError("tag is required")
	}

	q := repository.PostQuery{
		IDs:           s.index.Candidates(normalized),
		RestrictIDs:   true,
		PublishedOnly: true,
		Limit:         limit,
		Offset:        offset,
	}
	type result struct {
		posts []*models.Post
		total int64
	}
	res, err := retryRead(ctx, s, "tag_feed", func(ctx context.Context) (result, error) {
		posts, total, err := s.posts.List(ctx, q)
		return result{posts: posts, total: total}, err
	})
	if err != nil {
		return nil, err
	}
	return &Page{
		Items:      res.posts,
		TotalCount: res.total,
		HasMore:    int64(offset)+int64(len(res.posts)) < res.total,
		Page:       offset/limit + 1,
		PageSize:   limit,
	}, nil
}
