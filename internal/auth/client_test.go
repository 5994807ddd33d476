package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientTokenRoundTrip(t *testing.T) {
	tok, err := GenerateClientToken("desk-1", "s3cret", time.Now().Add(time.Hour))
	require.NoError(t, err)

	id, err := ParseClientToken(tok, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "desk-1", id)

	_, err = ParseClientToken(tok, "other")
	assert.Error(t, err)

	expired, err := GenerateClientToken("desk-1", "s3cret", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = ParseClientToken(expired, "s3cret")
	assert.Error(t, err)
}

func newAuthRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", Middleware(secret), func(c *gin.Context) {
		c.String(http.StatusOK, CurrentClientID(c))
	})
	return r
}

func TestMiddleware(t *testing.T) {
	tok, err := GenerateClientToken("desk-7", "s3cret", time.Now().Add(time.Hour))
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret string
		target string
		header string
		status int
		code   string
		body   string
	}{
		{"open when no secret", "", "/ws", "", http.StatusOK, "", ""},
		{"missing token", "s3cret", "/ws", "", http.StatusUnauthorized, "MISSING_TOKEN", ""},
		{"bad header", "s3cret", "/ws", "Token abc", http.StatusUnauthorized, "INVALID_AUTH_HEADER", ""},
		{"bad token", "s3cret", "/ws?token=garbage", "", http.StatusUnauthorized, "INVALID_TOKEN", ""},
		{"query token", "s3cret", "/ws?token=" + tok, "", http.StatusOK, "", "desk-7"},
		{"header token", "s3cret", "/ws", "Bearer " + tok, http.StatusOK, "", "desk-7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			newAuthRouter(tt.secret).ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				assert.Contains(t, w.Body.String(), tt.code)
			}
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}
