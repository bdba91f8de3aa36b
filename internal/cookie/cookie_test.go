package cookie

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	rec := httptest.NewRecorder()
	Set(rec, "oauth_state", "abc", 10*time.Minute, true)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "oauth_state", c.Name)
	assert.Equal(t, "abc", c.Value)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, 600, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
}

func TestSet_SessionCookie(t *testing.T) {
	for _, maxAge := range []time.Duration{0, -time.Minute, 500 * time.Millisecond} {
		rec := httptest.NewRecorder()
		Set(rec, "customer_access_token", "tok", maxAge, false)

		c := rec.Result().Cookies()[0]
		assert.Equal(t, 0, c.MaxAge, "maxAge %s", maxAge)
		assert.NotContains(t, rec.Header().Get("Set-Cookie"), "Max-Age")
		assert.False(t, c.Secure)
	}
}

func TestClear(t *testing.T) {
	rec := httptest.NewRecorder()
	Clear(rec, "customer_id_token", true)

	c := rec.Result().Cookies()[0]
	assert.Equal(t, "customer_id_token", c.Name)
	assert.Empty(t, c.Value)
	assert.Equal(t, -1, c.MaxAge)
}

func TestGet(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "abc"})

	v, err := Get(req, "oauth_state")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	_, err = Get(req, "missing")
	assert.ErrorIs(t, err, http.ErrNoCookie)
}
