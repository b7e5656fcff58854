package release

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelpanel/core/apperr"
	"labelpanel/core/catalog"
	"labelpanel/core/commit"
	"labelpanel/core/commit/committest"
	"labelpanel/core/upload"
	"labelpanel/model"
	"labelpanel/repository"
)

type mergeFixture struct {
	merger   *Merger
	catalog  *committest.Catalog
	tracks   *committest.Tracks
	releases *committest.Releases
	dir      string
	actor    model.Actor
}

func newMergeFixture(t *testing.T) *mergeFixture {
	t.Helper()
	f := &mergeFixture{
		catalog: committest.NewCatalog(),
		tracks:  committest.NewTracks(),
		dir:     t.TempDir(),
		actor:   model.Actor{ID: "u1", Name: "Ana", Role: "admin"},
	}
	f.releases = committest.NewReleases(f.tracks)
	coord := commit.New(commit.Options{
		Staging: committest.NewStaging(),
		Tracks:  f.tracks,
		Catalog: f.catalog,
	})
	assembler := upload.NewAssembler(f.dir, upload.NewMemorySequencer())
	f.merger = NewMerger(f.catalog, coord, f.releases, assembler, nil)
	return f
}

func wavPart(name string, sampleRate uint32) File {
	b := committest.WAV(sampleRate, 16, 2, 400)
	return File{Name: name, Reader: bytes.NewReader(b), Size: int64(len(b))}
}

func mustParse(t *testing.T, raw string) *UpdateRequest {
	t.Helper()
	req, err := ParseUpdateRequest(raw)
	require.NoError(t, err)
	return req
}

func TestParseUpdateRequest(t *testing.T) {
	req := mustParse(t, `{
		"name": "Nuevo",
		"upc": "8400000000001",
		"picture": {"path": "cover.png"},
		"tracks": [{"track": 1}],
		"newArtists": [{"name": "Ana"}],
		"newTracks": [{"name": "Outro", "fileField": "track_0", "release": "10"}],
		"editedTracks": [{"id": "901", "name": "Intro"}]
	}`)

	assert.Equal(t, map[string]interface{}{"name": "Nuevo", "upc": "8400000000001"}, req.Fields)
	assert.Empty(t, req.Picture)
	require.Len(t, req.NewArtists, 1)
	require.Len(t, req.NewTracks, 1)
	assert.Equal(t, "track_0", req.NewTracks[0].FileField)
	assert.Equal(t, model.FlexInt(10), req.NewTracks[0].Release)
	require.Len(t, req.EditedTracks, 1)
	assert.Equal(t, int64(901), req.EditedTracks[0].TrackID())

	_, err := ParseUpdateRequest("  ")
	assert.Error(t, err)
	_, err = ParseUpdateRequest(`{"newTracks": 3}`)
	assert.Error(t, err)
}

func TestMerge_AppliesEveryPart(t *testing.T) {
	f := newMergeFixture(t)
	f.catalog.AddRelease(10, "Intro") // Intro is 901

	req := mustParse(t, `{
		"name": "Nuevo",
		"upc": "8400000000001",
		"newArtists": [{"name": "Ana"}],
		"newTracks": [{"name": "Outro", "fileField": "track_0"}],
		"editedTracks": [{"id": 901, "name": "Intro (Remastered)"}]
	}`)
	files := map[string]File{
		PictureField: {Name: "cover art.png", Reader: strings.NewReader("png"), Size: 3},
		"track_0":    wavPart("outro.wav", 44100),
	}

	release, err := f.merger.Merge(context.Background(), 10, req, files, f.actor)
	require.NoError(t, err)

	assert.Equal(t, "Nuevo", release.Name)
	assert.Equal(t, "8400000000001", release.UPC)
	assert.Equal(t, "release_artwork/cover_art.png", release.Picture)
	require.Len(t, release.Artists, 1)
	assert.Equal(t, model.ArtistRef{Artist: 902, Name: "Ana", Kind: "main", Order: 1}, release.Artists[0])

	require.Len(t, release.Tracks, 2)
	assert.Equal(t, "Intro (Remastered)", release.Tracks[0].Name)
	assert.Equal(t, 1, release.Tracks[0].Order)
	assert.Equal(t, "Outro", release.Tracks[1].Name)
	assert.Equal(t, 2, release.Tracks[1].Order)
	assert.Equal(t, "track/outro.wav", release.Tracks[1].Resource)

	// new track went through the inline pipeline with defaults applied
	outro := f.catalog.Tracks[release.Tracks[1].ExternalID]
	require.NotNil(t, outro)
	assert.Equal(t, int64(10), outro.Release)
	assert.Equal(t, model.DefaultLanguage, outro.Language)
	assert.Equal(t, model.DefaultVocals, outro.Vocals)
	assert.Equal(t, 1, f.catalog.UpdateCalls)

	put := f.catalog.ReleasePuts[10]
	require.NotNil(t, put)
	assert.Equal(t, "Nuevo", put["name"])
	assert.Equal(t, "release_artwork/cover_art.png", put["picture"])
	assert.Equal(t, []catalog.ArtistPayload{{Order: 1, Artist: 902, Kind: "main"}}, put["artists"])
	assert.Equal(t, []catalog.ReleaseTrackPayload{{Track: 901, Order: 1}, {Track: release.Tracks[1].ExternalID, Order: 2}}, put["tracks"])

	mirror, err := f.releases.GetByExternalID(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "Nuevo", mirror.Name)
	assert.Len(t, mirror.Tracks, 2)

	// the temp master is gone
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMerge_SkipsTracksWithoutPart(t *testing.T) {
	f := newMergeFixture(t)
	f.catalog.AddRelease(10, "Intro")

	req := mustParse(t, `{"newTracks": [{"name": "Ghost", "fileField": "track_9"}], "picture": "https://cdn.example.com/media/release_artwork/old.png?x=1"}`)
	release, err := f.merger.Merge(context.Background(), 10, req, nil, f.actor)
	require.NoError(t, err)

	assert.Equal(t, 0, f.catalog.RegisterCalls)
	assert.Equal(t, "release_artwork/old.png", release.Picture)
	assert.Len(t, release.Tracks, 1)
}

func TestMerge_InvalidMasterFailsUpdate(t *testing.T) {
	f := newMergeFixture(t)
	f.catalog.AddRelease(10)

	req := mustParse(t, `{"newTracks": [{"name": "Outro", "fileField": "t"}]}`)
	_, err := f.merger.Merge(context.Background(), 10, req, map[string]File{"t": wavPart("outro.wav", 48000)}, f.actor)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindUnsupportedAudioFormat))
	assert.Empty(t, f.catalog.ReleasePuts)
	assert.Equal(t, 0, f.catalog.RegisterCalls)
}

func TestMerge_DuplicateNewTrack(t *testing.T) {
	f := newMergeFixture(t)
	f.catalog.AddRelease(10, "Outro")

	req := mustParse(t, `{"newTracks": [{"name": " outro ", "fileField": "t"}]}`)
	_, err := f.merger.Merge(context.Background(), 10, req, map[string]File{"t": wavPart("outro.wav", 44100)}, f.actor)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindDuplicateTrackTitle))
	assert.Empty(t, f.catalog.ReleasePuts)
}

func TestMerge_ArtistFailureIsSkipped(t *testing.T) {
	f := newMergeFixture(t)
	f.catalog.AddRelease(10)
	f.catalog.FailArtist["Bad"] = assert.AnError

	req := mustParse(t, `{"newArtists": [{"name": "Bad"}, {"name": "Good", "kind": "featuring"}]}`)
	release, err := f.merger.Merge(context.Background(), 10, req, nil, f.actor)
	require.NoError(t, err)
	require.Len(t, release.Artists, 1)
	assert.Equal(t, "Good", release.Artists[0].Name)
	assert.Equal(t, "featuring", release.Artists[0].Kind)
	assert.Equal(t, 2, f.catalog.ArtistCalls)
}

type conflictingReleases struct {
	*committest.Releases
}

func (conflictingReleases) Save(context.Context, *model.Release) error {
	return repository.ErrVersionConflict
}

func TestMerge_VersionConflict(t *testing.T) {
	f := newMergeFixture(t)
	f.catalog.AddRelease(10)
	f.merger.releases = conflictingReleases{f.releases}

	_, err := f.merger.Merge(context.Background(), 10, mustParse(t, `{"name": "X"}`), nil, f.actor)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindReleaseConflict))
}

func TestAttachUserDeclaration(t *testing.T) {
	f := newMergeFixture(t)
	path := filepath.Join(f.dir, "upload_r10_declaracion.pdf.tmp")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))

	resource, err := f.merger.AttachUserDeclaration(context.Background(), 10, "declaracion.pdf", path, f.actor)
	require.NoError(t, err)
	assert.Equal(t, "release_user_declaration/declaracion.pdf", resource)
	assert.Equal(t, []string{catalog.UploadTypeUserDeclaration}, f.catalog.UploadTypes)
	assert.Equal(t, catalog.ReleaseUpdate{"user_declaration": resource}, f.catalog.ReleasePuts[10])

	mirror, err := f.releases.GetByExternalID(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, resource, mirror.UserDeclaration)
	assert.NoFileExists(t, path)
}

func TestAttachUserDeclaration_RejectsNonPDF(t *testing.T) {
	f := newMergeFixture(t)
	path := filepath.Join(f.dir, "upload_r10_scan.jpg.tmp")
	require.NoError(t, os.WriteFile(path, []byte("jpg"), 0o644))

	_, err := f.merger.AttachUserDeclaration(context.Background(), 10, "scan.jpg", path, f.actor)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindUnsupportedDocumentFormat))
	assert.Equal(t, 0, f.catalog.SlotCalls)
	assert.NoFileExists(t, path)
}
