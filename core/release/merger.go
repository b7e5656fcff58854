// Package release merges panel edits into catalog releases.
package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"labelpanel/core/apperr"
	"labelpanel/core/audio"
	"labelpanel/core/audit"
	"labelpanel/core/catalog"
	"labelpanel/core/commit"
	"labelpanel/core/upload"
	"labelpanel/logger"
	"labelpanel/model"
	"labelpanel/repository"
)

const (
	defaultArtistKind = "main"
	declarationMime   = "application/pdf"
)

// Catalog is the part of the distribution API the merger calls.
type Catalog interface {
	RequestUploadSlot(ctx context.Context, fileName, mimeType, uploadType string) (*catalog.Slot, error)
	UploadBinary(ctx context.Context, slot *catalog.Slot, fileName string, r io.Reader, size int64) (string, error)
	GetRelease(ctx context.Context, releaseID int64) (*catalog.ReleaseSnapshot, error)
	UpdateRelease(ctx context.Context, releaseID int64, body catalog.ReleaseUpdate) error
	CreateArtist(ctx context.Context, a catalog.NewArtist) (int64, error)
}

// Tracks runs the track side of an update; *commit.Coordinator satisfies it.
type Tracks interface {
	CommitInline(ctx context.Context, in commit.Inline, actor model.Actor) (*model.Track, error)
	UpdateTrack(ctx context.Context, externalID int64, data *model.TrackData, actor model.Actor) (*model.Track, error)
}

// Merger 合并 release 编辑
type Merger struct {
	catalog   Catalog
	tracks    Tracks
	releases  repository.ReleaseRepository
	assembler *upload.Assembler
	audit     audit.Logger
	now       func() time.Time
}

func NewMerger(cat Catalog, tracks Tracks, releases repository.ReleaseRepository, assembler *upload.Assembler, al audit.Logger) *Merger {
	if al == nil {
		al = audit.Nop{}
	}
	return &Merger{
		catalog:   cat,
		tracks:    tracks,
		releases:  releases,
		assembler: assembler,
		audit:     al,
		now:       time.Now,
	}
}

// merged accumulates the release being rebuilt.
type merged struct {
	snap    *catalog.ReleaseSnapshot
	mirror  *model.Release
	artists []model.ArtistRef
	added   int
}

func (m *merged) nextOrder() int {
	return m.snap.NextOrder() + m.added
}

// Merge applies req to the release: artwork, new artists, new tracks through
// the inline pipeline, edited tracks, then the release itself. A failing new
// track aborts the update; tracks committed before it stay registered.
func (m *Merger) Merge(ctx context.Context, releaseID int64, req *UpdateRequest, files map[string]File, actor model.Actor) (*model.Release, error) {
	snap, err := m.catalog.GetRelease(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	st := &merged{snap: snap, mirror: snap.ToModel()}
	st.artists = snap.Artists
	if req.Artists != nil {
		st.artists = req.Artists
	}

	picture, err := m.artwork(ctx, req, files, snap)
	if err != nil {
		return nil, err
	}

	st.artists = m.createArtists(ctx, req.NewArtists, st.artists)

	var created, edited []int64
	for i := range req.NewTracks {
		nt := &req.NewTracks[i]
		f, ok := files[nt.FileField]
		if nt.FileField == "" || !ok {
			logger.Warn("new track without file part skipped",
				logger.Int64("release", releaseID),
				logger.String("name", nt.Name),
				logger.String("fileField", nt.FileField))
			continue
		}
		track, err := m.addTrack(ctx, releaseID, st, nt, f, actor)
		if err != nil {
			return nil, err
		}
		st.added++
		st.mirror.UpsertTrack(track.Summary())
		created = append(created, track.ExternalID)
	}

	for i := range req.EditedTracks {
		et := &req.EditedTracks[i]
		id := et.TrackID()
		if id == 0 {
			return nil, apperr.InvalidPayload(fmt.Errorf("edited track %q has no id", et.Name))
		}
		data := et.TrackData
		data.Artists = m.createArtists(ctx, et.NewArtists, data.Artists)
		data.Release = model.FlexInt(releaseID)
		if data.Order == 0 {
			data.Order = model.FlexInt(orderOf(st.mirror, id))
		}
		track, err := m.tracks.UpdateTrack(ctx, id, &data, actor)
		if err != nil {
			return nil, err
		}
		st.mirror.UpsertTrack(track.Summary())
		edited = append(edited, id)
	}

	body := catalog.ReleaseUpdate{}
	for k, v := range req.Fields {
		body[k] = v
	}
	body[keyPicture] = picture
	body[keyArtists] = artistPayload(st.artists)
	body[keyTracks] = trackPayload(st.mirror.Tracks)
	if err := m.catalog.UpdateRelease(ctx, releaseID, body); err != nil {
		return nil, err
	}

	release, err := m.saveMirror(ctx, st, req, picture)
	if err != nil {
		return nil, err
	}

	m.audit.Record(ctx, actor, audit.Entry{
		Action:   audit.ActionReleaseUpdate,
		Entity:   audit.EntityRelease,
		EntityID: strconv.FormatInt(releaseID, 10),
		Details: map[string]interface{}{
			"newTracks":    created,
			"editedTracks": edited,
			"artists":      len(st.artists),
		},
	})
	return release, nil
}

// artwork uploads a new picture part or normalises the existing URL.
func (m *Merger) artwork(ctx context.Context, req *UpdateRequest, files map[string]File, snap *catalog.ReleaseSnapshot) (string, error) {
	f, ok := files[PictureField]
	if !ok {
		if req.Picture != "" {
			return catalog.NormalizeResourcePath(req.Picture), nil
		}
		return catalog.NormalizeResourcePath(snap.Picture), nil
	}

	name := upload.SanitizeFileName(f.Name)
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	slot, err := m.catalog.RequestUploadSlot(ctx, name, mimeType, catalog.UploadTypeReleaseArtwork)
	if err != nil {
		return "", err
	}
	return m.catalog.UploadBinary(ctx, slot, name, f.Reader, f.Size)
}

// createArtists registers each new artist and appends it to list. Artists the
// catalog refuses are left out.
func (m *Merger) createArtists(ctx context.Context, newArtists []catalog.NewArtist, list []model.ArtistRef) []model.ArtistRef {
	out := append([]model.ArtistRef(nil), list...)
	for _, a := range newArtists {
		if strings.TrimSpace(a.Name) == "" {
			continue
		}
		id, err := m.catalog.CreateArtist(ctx, a)
		if err != nil {
			logger.Warn("failed to create artist",
				logger.String("name", a.Name),
				logger.ErrorField(err))
			continue
		}
		kind := a.Kind
		if kind == "" {
			kind = defaultArtistKind
		}
		order := a.Order
		if order <= 0 {
			order = len(out) + 1
		}
		out = append(out, model.ArtistRef{
			Artist: model.FlexInt(id),
			Name:   strings.TrimSpace(a.Name),
			Kind:   kind,
			Order:  order,
		})
	}
	return out
}

// addTrack writes the part to a temp file, validates it and hands it to the
// inline pipeline.
func (m *Merger) addTrack(ctx context.Context, releaseID int64, st *merged, nt *NewTrack, f File, actor model.Actor) (*model.Track, error) {
	data := nt.TrackData
	data.ApplyDefaults(m.now())
	data.Release = model.FlexInt(releaseID)
	data.Order = model.FlexInt(st.nextOrder())
	data.Artists = m.createArtists(ctx, nt.NewArtists, data.Artists)
	if err := data.Validate(); err != nil {
		return nil, apperr.InvalidPayload(err)
	}

	progressID := fmt.Sprintf("release-%d", releaseID)
	res, err := m.assembler.AppendChunk(ctx, upload.Chunk{
		Key:   upload.Key{Disambiguator: progressID, FileName: f.Name},
		Data:  f.Reader,
		Index: 0,
		Total: 1,
	})
	if err != nil {
		return nil, err
	}
	if _, err := audio.Validate(res.Path, f.Name); err != nil {
		return nil, err
	}

	return m.tracks.CommitInline(ctx, commit.Inline{
		ProgressID: progressID,
		Data:       &data,
		FileName:   f.Name,
		TempPath:   res.Path,
	}, actor)
}

// saveMirror writes the merged release over the stored mirror, guarded by its
// version.
func (m *Merger) saveMirror(ctx context.Context, st *merged, req *UpdateRequest, picture string) (*model.Release, error) {
	release := st.mirror
	if v, ok := req.stringField("name"); ok {
		release.Name = v
	}
	if v, ok := req.stringField("kind"); ok {
		release.Kind = v
	}
	if v, ok := req.stringField("release_date"); ok {
		release.ReleaseDate = v
	}
	if v, ok := req.stringField("upc"); ok {
		release.UPC = v
	}
	release.Picture = picture
	release.Artists = model.JSONList[model.ArtistRef](st.artists)

	current, err := m.releases.GetByExternalID(ctx, release.ExternalID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if current != nil {
		release.ID = current.ID
		release.Version = current.Version
		release.CreatedAt = current.CreatedAt
		if release.UserDeclaration == "" {
			release.UserDeclaration = current.UserDeclaration
		}
		// summaries appended locally that the snapshot did not list yet
		for _, t := range current.Tracks {
			if !release.HasTrack(t.ExternalID) {
				release.Tracks = append(release.Tracks, t)
			}
		}
	}

	if err := m.releases.Save(ctx, release); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, apperr.ReleaseConflict()
		}
		return nil, apperr.Internal(err)
	}
	return release, nil
}

// AttachUserDeclaration uploads the signed declaration PDF at path and links it
// to the release. The file is removed in all cases.
func (m *Merger) AttachUserDeclaration(ctx context.Context, releaseID int64, fileName, path string, actor model.Actor) (string, error) {
	defer func() {
		if err := upload.RemoveFile(path); err != nil {
			logger.Warn("failed to remove declaration file", logger.String("path", path), logger.ErrorField(err))
		}
	}()

	if strings.ToLower(filepath.Ext(fileName)) != ".pdf" {
		return "", apperr.UnsupportedDocumentFormat()
	}

	f, err := os.Open(path)
	if err != nil {
		return "", apperr.Internal(err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", apperr.Internal(err)
	}

	name := upload.SanitizeFileName(fileName)
	slot, err := m.catalog.RequestUploadSlot(ctx, name, declarationMime, catalog.UploadTypeUserDeclaration)
	if err != nil {
		return "", err
	}
	resource, err := m.catalog.UploadBinary(ctx, slot, name, f, fi.Size())
	if err != nil {
		return "", err
	}
	if err := m.catalog.UpdateRelease(ctx, releaseID, catalog.ReleaseUpdate{"user_declaration": resource}); err != nil {
		return "", err
	}
	if err := m.releases.SetUserDeclaration(ctx, releaseID, resource); err != nil {
		return "", apperr.Internal(err)
	}

	logger.Info("user declaration attached",
		logger.Int64("release", releaseID),
		logger.String("resource", resource))
	m.audit.Record(ctx, actor, audit.Entry{
		Action:   audit.ActionUserDeclaration,
		Entity:   audit.EntityRelease,
		EntityID: strconv.FormatInt(releaseID, 10),
		Details:  map[string]interface{}{"resource": resource},
	})
	return resource, nil
}

func orderOf(r *model.Release, externalID int64) int {
	for _, t := range r.Tracks {
		if t.ExternalID == externalID {
			return t.Order
		}
	}
	return 0
}

func artistPayload(list []model.ArtistRef) []catalog.ArtistPayload {
	out := make([]catalog.ArtistPayload, 0, len(list))
	for i, a := range list {
		order := a.Order
		if order <= 0 {
			order = i + 1
		}
		out = append(out, catalog.ArtistPayload{Order: order, Artist: a.Artist.Int64(), Kind: a.Kind})
	}
	return out
}

func trackPayload(list []model.ReleaseTrack) []catalog.ReleaseTrackPayload {
	out := make([]catalog.ReleaseTrackPayload, 0, len(list))
	for _, t := range list {
		out = append(out, catalog.ReleaseTrackPayload{Track: t.ExternalID, Order: t.Order})
	}
	return out
}
