package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisioflow/backend/internal/storage/models"
)

const importFixture = `<!DOCTYPE html>
<html>
<head>
	<title>Protocolo de reabilitação de joelho</title>
	<script>console.log("tracking")</script>
	<style>body { color: red; }</style>
</head>
<body>
	<nav>Menu</nav>
	<h1>Protocolo de reabilitação de joelho</h1>
	<p>Fase 1: exercícios isométricos e crioterapia.</p>
	<p>Fase 2: fortalecimento progressivo.</p>
	<footer>Rodapé da clínica</footer>
</body>
</html>`

func TestImportHTML(t *testing.T) {
	repo := &fakeRepo{}
	store := NewStore(repo, 0.7, 0.6)

	result, err := store.ImportHTML(context.Background(), importFixture, models.EntryTypeProtocol, "user-1")

	require.NoError(t, err)
	require.Len(t, repo.inserted, 1)

	entry := repo.inserted[0]
	assert.Equal(t, "Protocolo de reabilitação de joelho", result.Title)
	assert.Contains(t, entry.Content, "Fase 1")
	// Page chrome and scripts never reach the stored content.
	assert.NotContains(t, entry.Content, "tracking")
	assert.NotContains(t, entry.Content, "Menu")
	assert.NotContains(t, entry.Content, "Rodapé")
	assert.Contains(t, result.Tags, "joelho")
	assert.Contains(t, result.Tags, "protocolo")
}

func TestImportHTMLTitleFromHeading(t *testing.T) {
	repo := &fakeRepo{}
	store := NewStore(repo, 0.7, 0.6)

	html := `<html><body><h1>Avaliação de ombro</h1><p>Testes especiais do manguito rotador.</p></body></html>`
	result, err := store.ImportHTML(context.Background(), html, models.EntryTypeDiagnosis, "user-1")

	require.NoError(t, err)
	assert.Equal(t, "Avaliação de ombro", result.Title)
}

func TestImportHTMLEmptyBody(t *testing.T) {
	store := NewStore(&fakeRepo{}, 0.7, 0.6)

	_, err := store.ImportHTML(context.Background(), `<html><body><script>x()</script></body></html>`, models.EntryTypeProtocol, "user-1")

	assert.Error(t, err)
}
