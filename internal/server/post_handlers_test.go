package server

import (
	"fmt"
	"net/http"
	"testing"

	"blogger/internal/models"
	"blogger/internal/service"
	"blogger/internal/tagindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestCreatePost(t *testing.T) {
	env := newTestEnv(t)
	req := createPostRequest{Title: "Hello World", Body: "First!", Tags: []string{"Go", " go ", "Blog"}, Published: true}

	resp := env.do(t, http.MethodPost, "/api/posts", req, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/posts", req, env.token(t, env.alice))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	post := decodeJSON[models.Post](t, resp)
	assert.NotEmpty(t, post.ID)
	assert.Equal(t, "hello-world", post.Slug)
	assert.Equal(t, env.alice.ID, post.AuthorID)
	assert.ElementsMatch(t, []string{"go", "blog"}, post.Tags)
	assert.Equal(t, models.PostStatusPublished, post.Status)

	resp = env.do(t, http.MethodGet, "/api/posts/"+post.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeJSON[models.Post](t, resp)
	assert.Equal(t, "Hello World", got.Title)
	assert.Equal(t, "First!", got.Body)

	resp = env.do(t, http.MethodGet, "/api/posts/slug/Hello-World", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, post.ID, decodeJSON[models.Post](t, resp).ID)
}

func TestCreatePost_Rejects(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.alice)
	env.createPost(t, env.alice, "Taken", true)

	tests := []struct {
		name string
		body any
	}{
		{"empty title", createPostRequest{Title: "  ", Body: "x"}},
		{"duplicate slug", createPostRequest{Title: "Taken", Body: "x"}},
		{"not json", "just a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/posts", tt.body, token)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, models.CodeValidation, decodeJSON[errorBody](t, resp).Code)
		})
	}
}

func TestGetPost_DraftVisibility(t *testing.T) {
	env := newTestEnv(t)
	id := env.createPost(t, env.alice, "Draft", false)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"anonymous", "", http.StatusNotFound},
		{"other user", env.token(t, env.bob), http.StatusNotFound},
		{"author", env.token(t, env.alice), http.StatusOK},
		{"admin", env.token(t, env.admin), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/api/posts/"+id, nil, tt.token)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestGetPost_Missing(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/posts/does-not-exist", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, models.CodeNotFound, decodeJSON[errorBody](t, resp).Code)
}

func TestUpdatePost(t *testing.T) {
	env := newTestEnv(t)
	id := env.createPost(t, env.alice, "Original", true, "old")

	patch := updatePostRequest{Title: strPtr("Renamed"), Tags: &[]string{"New"}}

	resp := env.do(t, http.MethodPut, "/api/posts/"+id, patch, env.token(t, env.bob))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, models.CodeForbidden, decodeJSON[errorBody](t, resp).Code)

	resp = env.do(t, http.MethodPut, "/api/posts/"+id, patch, env.token(t, env.alice))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	post := decodeJSON[models.Post](t, resp)
	assert.Equal(t, "Renamed", post.Title)
	assert.Equal(t, "Body of Original", post.Body, "omitted fields are kept")
	assert.Equal(t, []string{"new"}, post.Tags)
	assert.True(t, post.UpdatedAt.After(post.CreatedAt))

	assert.Empty(t, env.posts.PostsForTag("old", 0, 0))
	assert.Equal(t, []string{id}, env.posts.PostsForTag("new", 0, 0))

	resp = env.do(t, http.MethodPut, "/api/posts/"+id, updatePostRequest{Body: strPtr("admin edit")}, env.token(t, env.admin))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "admin edit", decodeJSON[models.Post](t, resp).Body)

	resp = env.do(t, http.MethodPut, "/api/posts/missing", patch, env.token(t, env.alice))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeletePost(t *testing.T) {
	env := newTestEnv(t)
	id := env.createPost(t, env.alice, "Doomed", true, "tmp")

	resp := env.do(t, http.MethodDelete, "/api/posts/"+id, nil, env.token(t, env.bob))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/posts/"+id, nil, env.token(t, env.alice))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/posts/"+id, nil, "")
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, models.CodeGone, decodeJSON[errorBody](t, resp).Code)

	resp = env.do(t, http.MethodDelete, "/api/posts/"+id, nil, env.token(t, env.alice))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, env.posts.PostsForTag("tmp", 0, 0))
}

func TestListPosts_Pagination(t *testing.T) {
	env := newTestEnv(t)
	var created []string
	for i := 0; i < 5; i++ {
		created = append(created, env.createPost(t, env.alice, fmt.Sprintf("Post %d", i), true))
	}
	env.createPost(t, env.alice, "Unpublished", false)

	var seen []string
	for page := 1; page <= 3; page++ {
		resp := env.do(t, http.MethodGet, fmt.Sprintf("/api/posts?page=%d&page_size=2", page), nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		res := decodeJSON[service.Page](t, resp)
		assert.EqualValues(t, 5, res.TotalCount)
		assert.Equal(t, page < 3, res.HasMore)
		for _, p := range res.Items {
			seen = append(seen, p.ID)
		}
	}

	want := make([]string, len(created))
	for i, id := range created {
		want[len(created)-1-i] = id
	}
	assert.Equal(t, want, seen, "pages partition the listing newest first")
}

func TestListPosts_Filters(t *testing.T) {
	env := newTestEnv(t)
	a := env.createPost(t, env.alice, "Alice Go", true, "go")
	env.createPost(t, env.bob, "Bob Go", true, "go")
	env.createPost(t, env.alice, "Alice Other", true, "misc")

	resp := env.do(t, http.MethodGet, "/api/posts?tag=GO&author="+env.alice.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeJSON[service.Page](t, resp)
	require.Len(t, res.Items, 1)
	assert.Equal(t, a, res.Items[0].ID)

	resp = env.do(t, http.MethodGet, "/api/posts?page_size=101", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/posts?page=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPagingParams_MalformedValuesRejected(t *testing.T) {
	env := newTestEnv(t)
	env.createPost(t, env.alice, "Only", true, "go")

	paths := []string{
		"/api/posts?page=abc",
		"/api/posts?page=1.5",
		"/api/posts?page_size=ten",
		"/api/posts?page=2x&page_size=5",
		"/api/posts?published_only=maybe",
		"/api/tags/go/posts?limit=many",
		"/api/tags/go/posts?offset=-",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, path, nil, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, models.CodeValidation, decodeJSON[errorBody](t, resp).Code)
		})
	}

	resp := env.do(t, http.MethodGet, "/api/posts?page=1&page_size=5&published_only=true", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeJSON[service.Page](t, resp).Items, 1)
}

func TestListPosts_Drafts(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createPost(t, env.alice, "Alice Draft", false)
	env.createPost(t, env.bob, "Bob Draft", false)
	path := "/api/posts?published_only=false&author=" + env.alice.ID

	resp := env.do(t, http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, path, nil, env.token(t, env.bob))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodGet, path, nil, env.token(t, env.alice))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeJSON[service.Page](t, resp)
	require.Len(t, res.Items, 1)
	assert.Equal(t, draft, res.Items[0].ID)

	resp = env.do(t, http.MethodGet, "/api/posts?published_only=false", nil, env.token(t, env.admin))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, decodeJSON[service.Page](t, resp).TotalCount)
}

func TestTags(t *testing.T) {
	env := newTestEnv(t)
	a := env.createPost(t, env.alice, "Hello", true, "Flask", "Blog")
	b := env.createPost(t, env.alice, "World", true, "blog")
	env.createPost(t, env.alice, "Draft", false, "secret")

	resp := env.do(t, http.MethodGet, "/api/tags", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []tagindex.TagCount{{Tag: "blog", Count: 2}, {Tag: "flask", Count: 1}},
		decodeJSON[[]tagindex.TagCount](t, resp))

	resp = env.do(t, http.MethodGet, "/api/tags/Blog/posts", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeJSON[service.Page](t, resp)
	require.Len(t, res.Items, 2)
	assert.Equal(t, b, res.Items[0].ID)
	assert.Equal(t, a, res.Items[1].ID)

	resp = env.do(t, http.MethodGet, "/api/tags/blog/posts?limit=1&offset=1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decodeJSON[service.Page](t, resp)
	require.Len(t, res.Items, 1)
	assert.Equal(t, a, res.Items[0].ID)
	assert.False(t, res.HasMore)

	resp = env.do(t, http.MethodGet, "/api/tags/secret/posts", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeJSON[service.Page](t, resp).Items)

	resp = env.do(t, http.MethodGet, "/api/tags/blog/posts?limit=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
