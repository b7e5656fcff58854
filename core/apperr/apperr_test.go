package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStatus(t *testing.T) {
	cases := map[*Error]int{
		InvalidChunkMetadata("bad"):      http.StatusBadRequest,
		ChunkOutOfOrder(2, 4):            http.StatusConflict,
		UnsupportedAudioFormat("x"):      http.StatusBadRequest,
		DuplicateTrackTitle("Intro"):     http.StatusConflict,
		ExternalAPI(500, "oops", nil):    http.StatusBadGateway,
		NoStagedTracks():                 http.StatusNotFound,
		PartialCommitFailure(nil, nil):   http.StatusInternalServerError,
		CommitInProgress():               http.StatusConflict,
		ReleaseConflict():                http.StatusConflict,
		Unauthorized():                   http.StatusUnauthorized,
		Internal(errors.New("db down")):  http.StatusInternalServerError,
		UnsupportedDocumentFormat():      http.StatusBadRequest,
		InvalidPayload(errors.New("{")): http.StatusBadRequest,
	}
	for e, status := range cases {
		assert.Equal(t, status, e.Status(), e.Kind)
	}
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "No se encontraron tracks temporales para esta sesión", NoStagedTracks().Message)
	assert.Equal(t, `Ya existe un track con el nombre "Intro" en este release`, DuplicateTrackTitle("Intro").Message)
	assert.Equal(t, "Chunk fuera de orden: se esperaba 2", ChunkOutOfOrder(2, 5).Message)

	ext := ExternalAPI(422, `{"name":["required"]}`, nil)
	assert.Equal(t, `Error en la API externa: {"name":["required"]}`, ext.Message)
	assert.Equal(t, 422, ext.UpstreamStatus)
	assert.Equal(t, `{"name":["required"]}`, ext.Body)
}

func TestFromAndIsKind(t *testing.T) {
	wrapped := fmt.Errorf("commit step: %w", DuplicateTrackTitle("A"))
	assert.True(t, IsKind(wrapped, KindDuplicateTrackTitle))
	assert.False(t, IsKind(wrapped, KindInternal))

	got := From(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, KindDuplicateTrackTitle, got.Kind)

	plain := From(errors.New("disk full"))
	assert.Equal(t, KindInternal, plain.Kind)
	assert.ErrorContains(t, plain, "disk full")

	assert.Nil(t, From(nil))
}

func TestFormatCarriesStack(t *testing.T) {
	e := Internal(errors.New("boom"))
	verbose := fmt.Sprintf("%+v", e)
	assert.Contains(t, verbose, "Internal")
	assert.Contains(t, verbose, "boom")
	assert.Contains(t, verbose, "TestFormatCarriesStack")
}
