package server

import (
	"net/http"
	"testing"

	"blogger/internal/auth"
	"blogger/internal/featureflags"
	"blogger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueToken(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/auth/token", auth.Credentials{Username: "alice", Password: testPassword}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tok := decodeJSON[tokenResponse](t, resp)
	assert.NotEmpty(t, tok.Token)
	assert.Equal(t, env.alice.ID, tok.Identity.ID)
	assert.False(t, tok.ExpiresAt.IsZero())

	resp = env.do(t, http.MethodGet, "/api/auth/me", nil, tok.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decodeJSON[struct {
		Identity auth.Identity  `json:"identity"`
		Features map[string]bool `json:"features"`
	}](t, resp)
	assert.Equal(t, "alice", me.Identity.Username)
	assert.Equal(t, "Alice", me.Identity.DisplayName)
}

func TestIssueToken_Rejects(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"wrong password", auth.Credentials{Username: "alice", Password: "nope-nope-1"}, http.StatusUnauthorized},
		{"unknown user", auth.Credentials{Username: "mallory", Password: testPassword}, http.StatusUnauthorized},
		{"missing fields", auth.Credentials{Username: "alice"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/auth/token", tt.body, "")
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestMe_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, models.CodeUnauthorized, decodeJSON[errorBody](t, resp).Code)
}

func TestSignup_DisabledByDefault(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/auth/signup",
		map[string]string{"username": "carol", "password": testPassword}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSignup(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Flags = featureflags.Parse("signup=on") })

	resp := env.do(t, http.MethodPost, "/api/auth/signup",
		map[string]string{"username": "carol", "display_name": "Carol", "password": testPassword}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tok := decodeJSON[tokenResponse](t, resp)
	assert.Equal(t, "carol", tok.Identity.Username)
	assert.False(t, tok.Identity.IsAdmin)

	resp = env.do(t, http.MethodPost, "/api/posts", createPostRequest{Title: "Carol's first", Body: "hi"}, tok.Token)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/auth/signup",
		map[string]string{"username": "carol", "password": testPassword}, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/auth/signup",
		map[string]string{"username": "dave", "password": "short"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
