package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{Logger: zap.NewNop()}))

	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }
	app.Post("/api/v1/assistant/query", ok)
	app.Post("/api/v1/assistant/query/:id/feedback", ok)
	app.Post("/api/v1/knowledge", ok)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) *http.Response {
	t.Helper()

	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestQueryValidation(t *testing.T) {
	app := testApp()

	t.Run("valid query passes", func(t *testing.T) {
		resp := postJSON(t, app, "/api/v1/assistant/query", `{"query":"dor lombar"}`)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("missing query rejected", func(t *testing.T) {
		resp := postJSON(t, app, "/api/v1/assistant/query", `{"user_id":"u1"}`)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("oversized query rejected", func(t *testing.T) {
		resp := postJSON(t, app, "/api/v1/assistant/query", `{"query":"`+strings.Repeat("a", 6000)+`"}`)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("hostile query rejected", func(t *testing.T) {
		resp := postJSON(t, app, "/api/v1/assistant/query", `{"query":"<script>alert(1)</script>"}`)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}

func TestFeedbackRouteNotQueryValidated(t *testing.T) {
	app := testApp()

	// Rating payloads carry no query field; the query check must not
	// swallow them.
	resp := postJSON(t, app, "/api/v1/assistant/query/log-1/feedback", `{"rating":5,"feedback":"boa resposta"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestKnowledgeContentCap(t *testing.T) {
	app := testApp()

	resp := postJSON(t, app, "/api/v1/knowledge", `{"title":"t","content":"`+strings.Repeat("a", 2*1024*1024)+`"}`)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)

	resp = postJSON(t, app, "/api/v1/knowledge", `{"title":"t","content":"conduta"}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestContentTypeEnforced(t *testing.T) {
	app := testApp()

	req := httptest.NewRequest("POST", "/api/v1/assistant/query", strings.NewReader("query=dor"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}
