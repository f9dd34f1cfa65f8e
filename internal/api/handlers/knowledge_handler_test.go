package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisioflow/backend/internal/knowledge"
	"github.com/fisioflow/backend/internal/storage/models"
)

type fakeKnowledgeRepo struct {
	inserted  []*models.KnowledgeEntry
	validated []string
}

func (f *fakeKnowledgeRepo) InsertKnowledgeEntry(ctx context.Context, e *models.KnowledgeEntry) error {
	f.inserted = append(f.inserted, e)
	return nil
}

func (f *fakeKnowledgeRepo) SearchKnowledgeByTags(ctx context.Context, tags []string, minConfidence float64, typeFilter string, limit int) ([]models.KnowledgeEntry, error) {
	return nil, nil
}

func (f *fakeKnowledgeRepo) SearchKnowledgeByContent(ctx context.Context, substring string, minConfidence float64, limit int) ([]models.KnowledgeEntry, error) {
	return nil, nil
}

func (f *fakeKnowledgeRepo) IncrementKnowledgeUsage(ctx context.Context, id string) error {
	return nil
}

func (f *fakeKnowledgeRepo) ValidateKnowledgeEntry(ctx context.Context, id, validatorID string, score float64, at time.Time) error {
	f.validated = append(f.validated, id)
	return nil
}

type fakeFlusher struct {
	calls int
	err   error
}

func (f *fakeFlusher) Flush(ctx context.Context) error {
	f.calls++
	return f.err
}

func knowledgeTestApp(invalidator CacheInvalidator) (*fiber.App, *fakeKnowledgeRepo) {
	repo := &fakeKnowledgeRepo{}
	store := knowledge.NewStore(repo, 0.7, 0.6)
	handler := NewKnowledgeHandler(store, invalidator)

	app := fiber.New()
	app.Post("/api/v1/knowledge", handler.HandleContribute)
	app.Post("/api/v1/knowledge/:id/validate", handler.HandleValidate)
	return app, repo
}

func postKnowledge(t *testing.T, app *fiber.App, path, body string) *http.Response {
	t.Helper()

	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestContributeFlushesHotCache(t *testing.T) {
	flusher := &fakeFlusher{}
	app, repo := knowledgeTestApp(flusher)

	resp := postKnowledge(t, app, "/api/v1/knowledge",
		`{"type":"protocol","title":"Crioterapia no joelho","content":"Aplicar gelo por 15 minutos.","user_id":"u1"}`)

	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Len(t, repo.inserted, 1)
	assert.Equal(t, 1, flusher.calls)
}

func TestContributeRejectedSkipsFlush(t *testing.T) {
	flusher := &fakeFlusher{}
	app, repo := knowledgeTestApp(flusher)

	resp := postKnowledge(t, app, "/api/v1/knowledge", `{"type":"protocol","title":"Sem corpo"}`)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, repo.inserted)
	assert.Zero(t, flusher.calls)
}

func TestValidateFlushesHotCache(t *testing.T) {
	flusher := &fakeFlusher{}
	app, repo := knowledgeTestApp(flusher)

	resp := postKnowledge(t, app, "/api/v1/knowledge/entry-1/validate", `{"score":0.9,"user_id":"u2"}`)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"entry-1"}, repo.validated)
	assert.Equal(t, 1, flusher.calls)
}

func TestFlushFailureDoesNotFailRequest(t *testing.T) {
	flusher := &fakeFlusher{err: errors.New("redis down")}
	app, _ := knowledgeTestApp(flusher)

	resp := postKnowledge(t, app, "/api/v1/knowledge",
		`{"type":"exercise","title":"Alongamento lombar","content":"Três séries diárias.","user_id":"u1"}`)

	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, 1, flusher.calls)
}

func TestNilInvalidatorIsAccepted(t *testing.T) {
	app, repo := knowledgeTestApp(nil)

	resp := postKnowledge(t, app, "/api/v1/knowledge",
		`{"type":"diagnosis","title":"Lombalgia mecânica","content":"Dor lombar sem irradiação.","user_id":"u1"}`)

	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Len(t, repo.inserted, 1)
}
