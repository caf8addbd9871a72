package middleware_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lamba-project/lamba-api/internal/middleware"
	"github.com/lamba-project/lamba-api/internal/session"
)

func setupSessionApp(t *testing.T) (*fiber.App, session.Session) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := session.NewStore(client, time.Hour, zerolog.New(io.Discard))

	sess, err := store.Create(context.Background(), session.Session{
		UserID: "user-1",
		Role:   "student",
	})
	require.NoError(t, err)

	app := fiber.New()
	app.Use(middleware.LTISession(store, zerolog.New(io.Discard)))
	app.Get("/protected", func(c *fiber.Ctx) error {
		bound, ok := middleware.GetSession(c)
		require.True(t, ok)
		return c.SendString(bound.UserID)
	})

	return app, sess
}

func performSessionRequest(t *testing.T, app *fiber.App, configure func(*http.Request)) *http.Response {
	t.Helper()

	req := httptest.NewRequest("GET", "/protected", nil)
	if configure != nil {
		configure(req)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestLTISessionFromCookie(t *testing.T) {
	app, sess := setupSessionApp(t)

	resp := performSessionRequest(t, app, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sess.ID})
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "user-1", string(body))
}

func TestLTISessionFromHeader(t *testing.T) {
	app, sess := setupSessionApp(t)

	resp := performSessionRequest(t, app, func(req *http.Request) {
		req.Header.Set("X-LTI-Session", sess.ID)
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestLTISessionFromQuery(t *testing.T) {
	app, sess := setupSessionApp(t)

	req := httptest.NewRequest("GET", "/protected?session_id="+sess.ID, nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestLTISessionMissingID(t *testing.T) {
	app, _ := setupSessionApp(t)

	resp := performSessionRequest(t, app, nil)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestLTISessionUnknownID(t *testing.T) {
	app, _ := setupSessionApp(t)

	resp := performSessionRequest(t, app, func(req *http.Request) {
		req.Header.Set("X-LTI-Session", "does-not-exist")
	})
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
