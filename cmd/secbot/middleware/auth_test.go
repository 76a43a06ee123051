package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runWithToken(t *testing.T, tokens []string, header string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.POST("/hook", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}, GitlabToken(tokens))

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	if header != "" {
		req.Header.Set("X-Gitlab-Token", header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGitlabTokenAccepted(t *testing.T) {
	rec := runWithToken(t, []string{"first", "second"}, "second")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGitlabTokenRejected(t *testing.T) {
	for _, header := range []string{"", "wrong"} {
		rec := runWithToken(t, []string{"first"}, header)
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "X-Gitlab-Token header is invalid")
	}
}

func TestGitlabTokenIgnoresEmptyConfiguredToken(t *testing.T) {
	// An instance without a secret must not open the endpoint
	rec := runWithToken(t, []string{""}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
