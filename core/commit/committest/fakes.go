// Package committest provides in-memory stand-ins for the commit pipeline's
// collaborators, for use in tests.
package committest

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"labelpanel/core/catalog"
	"labelpanel/core/progress"
	"labelpanel/model"
	"labelpanel/repository"
)

// Catalog is a fake distribution API that keeps releases in memory.
type Catalog struct {
	mu sync.Mutex

	Releases map[int64]*catalog.ReleaseSnapshot
	// Tracks holds the last payload registered or updated per id.
	Tracks map[int64]*catalog.TrackPayload
	nextID int64

	SlotCalls       int
	UploadCalls     int
	RegisterCalls   int
	UpdateCalls     int
	ArtistCalls     int
	ReleasePuts     map[int64]catalog.ReleaseUpdate
	UploadTypes     []string
	IdempotencyKeys []string

	// FailRegister makes RegisterTrack fail for the named track.
	FailRegister map[string]error
	FailUpload   error
	FailArtist   map[string]error
	FailRelease  error
}

func NewCatalog() *Catalog {
	return &Catalog{
		Releases:     make(map[int64]*catalog.ReleaseSnapshot),
		Tracks:       make(map[int64]*catalog.TrackPayload),
		ReleasePuts:  make(map[int64]catalog.ReleaseUpdate),
		FailRegister: make(map[string]error),
		FailArtist:   make(map[string]error),
		nextID:       900,
	}
}

// AddRelease seeds a release holding the given titles.
func (c *Catalog) AddRelease(id int64, titles ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := &catalog.ReleaseSnapshot{ExternalID: model.FlexInt(id), Name: fmt.Sprintf("Release %d", id)}
	for i, t := range titles {
		c.nextID++
		snap.Tracks = append(snap.Tracks, catalog.SnapshotTrack{
			Title:      t,
			ExternalID: model.FlexInt(c.nextID),
			Order:      model.FlexInt(i + 1),
		})
	}
	c.Releases[id] = snap
}

func (c *Catalog) release(id int64) *catalog.ReleaseSnapshot {
	snap, ok := c.Releases[id]
	if !ok {
		snap = &catalog.ReleaseSnapshot{ExternalID: model.FlexInt(id)}
		c.Releases[id] = snap
	}
	return snap
}

func (c *Catalog) RequestUploadSlot(_ context.Context, fileName, mimeType, uploadType string) (*catalog.Slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SlotCalls++
	c.UploadTypes = append(c.UploadTypes, uploadType)
	return &catalog.Slot{
		URL:    "https://uploads.example.com/",
		Fields: map[string]string{"key": "media/" + uploadType + "/" + fileName},
	}, nil
}

func (c *Catalog) UploadBinary(_ context.Context, slot *catalog.Slot, fileName string, r io.Reader, size int64) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UploadCalls++
	if c.FailUpload != nil {
		return "", c.FailUpload
	}
	return catalog.NormalizeResourcePath(slot.URL + slot.Fields["key"]), nil
}

func (c *Catalog) RegisterTrack(_ context.Context, p *catalog.TrackPayload, key string) (*catalog.Registration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RegisterCalls++
	c.IdempotencyKeys = append(c.IdempotencyKeys, key)
	if err := c.FailRegister[p.Name]; err != nil {
		return nil, err
	}
	c.nextID++
	id := c.nextID
	c.Tracks[id] = p

	snap := c.release(p.Release)
	snap.Tracks = append(snap.Tracks, catalog.SnapshotTrack{
		Name:       p.Name,
		ExternalID: model.FlexInt(id),
		Order:      model.FlexInt(p.Order),
		Resource:   p.Resource,
	})

	reg := &catalog.Registration{ID: id, ISRC: p.ISRC}
	if p.GenerateISRC {
		reg.ISRC = fmt.Sprintf("ES-LP0-26-%05d", id)
	}
	return reg, nil
}

func (c *Catalog) UpdateTrack(_ context.Context, externalID int64, p *catalog.TrackPayload) (*catalog.Registration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UpdateCalls++
	if err := c.FailRegister[p.Name]; err != nil {
		return nil, err
	}
	c.Tracks[externalID] = p
	return &catalog.Registration{ID: externalID, ISRC: p.ISRC}, nil
}

func (c *Catalog) GetRelease(_ context.Context, releaseID int64) (*catalog.ReleaseSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailRelease != nil {
		return nil, c.FailRelease
	}
	snap := *c.release(releaseID)
	snap.Tracks = append([]catalog.SnapshotTrack(nil), snap.Tracks...)
	snap.Artists = append([]model.ArtistRef(nil), snap.Artists...)
	return &snap, nil
}

func (c *Catalog) UpdateRelease(_ context.Context, releaseID int64, body catalog.ReleaseUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailRelease != nil {
		return c.FailRelease
	}
	c.ReleasePuts[releaseID] = body
	return nil
}

func (c *Catalog) CreateArtist(_ context.Context, a catalog.NewArtist) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ArtistCalls++
	if err := c.FailArtist[a.Name]; err != nil {
		return 0, err
	}
	c.nextID++
	return c.nextID, nil
}

// Staging is an in-memory repository.StagingRepository.
type Staging struct {
	mu     sync.Mutex
	rows   []*model.StagedTrack
	nextID int64
	Now    func() time.Time
}

func NewStaging() *Staging {
	return &Staging{Now: time.Now}
}

func (s *Staging) Stage(_ context.Context, sessionID string, data *model.TrackData, fileName, tempPath string) (*model.StagedTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := s.Now()
	row := &model.StagedTrack{
		ID:             s.nextID,
		SessionID:      sessionID,
		TrackData:      *data,
		FileName:       fileName,
		TempFilePath:   tempPath,
		IdempotencyKey: uuid.NewString(),
		Status:         model.StagedStatusStaged,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.rows = append(s.rows, row)
	cp := *row
	return &cp, nil
}

func (s *Staging) ListBySession(_ context.Context, sessionID string) ([]*model.StagedTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.StagedTrack
	for _, r := range s.rows {
		if r.SessionID == sessionID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Staging) DeleteBySession(_ context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var n int64
	for _, r := range s.rows {
		if r.SessionID == sessionID {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return n, nil
}

func (s *Staging) update(id int64, fn func(r *model.StagedTrack)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ID == id {
			fn(r)
			r.UpdatedAt = s.Now()
			return nil
		}
	}
	return fmt.Errorf("staged track %d not found", id)
}

func (s *Staging) MarkUploaded(_ context.Context, id int64, resource string) error {
	return s.update(id, func(r *model.StagedTrack) {
		r.Resource = resource
		r.Status = model.StagedStatusUploaded
	})
}

func (s *Staging) MarkRegistered(_ context.Context, id, externalID int64, isrc, daIsrc string) error {
	return s.update(id, func(r *model.StagedTrack) {
		r.ExternalID, r.ISRC, r.DAISRC = externalID, isrc, daIsrc
		r.Status = model.StagedStatusRegistered
	})
}

func (s *Staging) MarkFailed(_ context.Context, id int64, reason string) error {
	return s.update(id, func(r *model.StagedTrack) {
		r.Status = model.StagedStatusFailed
		r.LastError = reason
	})
}

func (s *Staging) ListStaleSessions(_ context.Context, olderThan time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := make(map[string]time.Time)
	for _, r := range s.rows {
		if r.UpdatedAt.After(latest[r.SessionID]) {
			latest[r.SessionID] = r.UpdatedAt
		}
	}
	var out []string
	for id, t := range latest {
		if t.Before(olderThan) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Touch sets the update time of every row of a session.
func (s *Staging) Touch(sessionID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.SessionID == sessionID {
			r.UpdatedAt = at
		}
	}
}

// Tracks is an in-memory repository.TrackRepository that also keeps the
// release mirrors the atomic append writes to. Transactions apply on success
// only.
type Tracks struct {
	mu       sync.Mutex
	byID     map[int64]*model.Track
	Releases map[int64]*model.Release
	nextID   int64
}

func NewTracks() *Tracks {
	return &Tracks{byID: make(map[int64]*model.Track), Releases: make(map[int64]*model.Release)}
}

type pendingTx struct {
	parent  *Tracks
	tracks  []*model.Track
	appends map[int64][]model.ReleaseTrack
}

func (t *Tracks) WithinTx(ctx context.Context, fn func(tx repository.TrackTx) error) error {
	tx := &pendingTx{parent: t, appends: make(map[int64][]model.ReleaseTrack)}
	if err := fn(tx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tr := range tx.tracks {
		t.byID[tr.ExternalID] = tr
	}
	for releaseID, summaries := range tx.appends {
		r := t.mirror(releaseID)
		for _, s := range summaries {
			if !r.HasTrack(s.ExternalID) {
				r.Tracks = append(r.Tracks, s)
				r.Version++
			}
		}
	}
	return nil
}

func (t *Tracks) mirror(releaseID int64) *model.Release {
	r, ok := t.Releases[releaseID]
	if !ok {
		r = &model.Release{ID: releaseID, ExternalID: releaseID, Version: 1}
		t.Releases[releaseID] = r
	}
	return r
}

func (t *Tracks) conflicts(tr *model.Track, pending []*model.Track) bool {
	same := func(o *model.Track) bool {
		if o.ExternalID == tr.ExternalID {
			return true
		}
		return o.ReleaseExternalID == tr.ReleaseExternalID && strings.EqualFold(o.Name, tr.Name)
	}
	for _, o := range t.byID {
		if same(o) {
			return true
		}
	}
	for _, o := range pending {
		if same(o) {
			return true
		}
	}
	return false
}

func (tx *pendingTx) CreateTrack(_ context.Context, tr *model.Track) error {
	tx.parent.mu.Lock()
	defer tx.parent.mu.Unlock()
	if tx.parent.conflicts(tr, tx.tracks) {
		return repository.ErrDuplicate
	}
	tx.parent.nextID++
	tr.ID = tx.parent.nextID
	tx.tracks = append(tx.tracks, tr)
	return nil
}

func (tx *pendingTx) AppendReleaseTrack(_ context.Context, releaseID int64, s model.ReleaseTrack) error {
	tx.appends[releaseID] = append(tx.appends[releaseID], s)
	return nil
}

func (t *Tracks) GetByExternalID(_ context.Context, externalID int64) (*model.Track, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byID[externalID], nil
}

func (t *Tracks) Upsert(_ context.Context, tr *model.Track) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range t.byID {
		if o.ExternalID != tr.ExternalID && o.ReleaseExternalID == tr.ReleaseExternalID && strings.EqualFold(o.Name, tr.Name) {
			return repository.ErrDuplicate
		}
	}
	t.byID[tr.ExternalID] = tr
	return nil
}

func (t *Tracks) ListByRelease(_ context.Context, releaseID int64) ([]*model.Track, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*model.Track
	for _, tr := range t.byID {
		if tr.ReleaseExternalID == releaseID {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// Count returns how many tracks are persisted.
func (t *Tracks) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// Releases is an in-memory repository.ReleaseRepository sharing its mirrors
// with a Tracks fake.
type Releases struct {
	tracks *Tracks
}

func NewReleases(tracks *Tracks) *Releases {
	return &Releases{tracks: tracks}
}

func (r *Releases) GetByExternalID(_ context.Context, externalID int64) (*model.Release, error) {
	r.tracks.mu.Lock()
	defer r.tracks.mu.Unlock()
	m, ok := r.tracks.Releases[externalID]
	if !ok {
		return nil, nil
	}
	cp := *m
	cp.Tracks = append(model.JSONList[model.ReleaseTrack](nil), m.Tracks...)
	cp.Artists = append(model.JSONList[model.ArtistRef](nil), m.Artists...)
	return &cp, nil
}

func (r *Releases) Save(_ context.Context, release *model.Release) error {
	r.tracks.mu.Lock()
	defer r.tracks.mu.Unlock()
	current, ok := r.tracks.Releases[release.ExternalID]
	if !ok {
		release.Version = 1
		if release.ID == 0 {
			release.ID = release.ExternalID
		}
		cp := *release
		r.tracks.Releases[release.ExternalID] = &cp
		return nil
	}
	if current.Version != release.Version {
		return repository.ErrVersionConflict
	}
	release.Version++
	cp := *release
	r.tracks.Releases[release.ExternalID] = &cp
	return nil
}

func (r *Releases) SetUserDeclaration(_ context.Context, externalID int64, resource string) error {
	r.tracks.mu.Lock()
	defer r.tracks.mu.Unlock()
	m := r.tracks.mirror(externalID)
	m.UserDeclaration = resource
	m.Version++
	return nil
}

// Publisher records every progress event.
type Publisher struct {
	mu     sync.Mutex
	events []progress.Event
}

func (p *Publisher) Publish(ev progress.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *Publisher) Events() []progress.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]progress.Event(nil), p.events...)
}

// States lists the states published, in order.
func (p *Publisher) States() []progress.State {
	var out []progress.State
	for _, ev := range p.Events() {
		out = append(out, ev.State)
	}
	return out
}

// Archive records archived masters.
type Archive struct {
	mu      sync.Mutex
	Objects []string
	Fail    error
}

func (a *Archive) ArchiveMaster(_ context.Context, releaseID int64, key, fileName, filePath string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Fail != nil {
		return "", a.Fail
	}
	name := fmt.Sprintf("masters/%d/%s_%s", releaseID, key, fileName)
	a.Objects = append(a.Objects, name)
	return name, nil
}

// WAV returns a canonical PCM WAV file: a 44-byte header followed by dataLen
// bytes of silence.
func WAV(sampleRate uint32, bitDepth, channels uint16, dataLen int) []byte {
	blockAlign := channels * bitDepth / 8
	b := make([]byte, 44+dataLen)
	copy(b[0:4], "RIFF")
	binary.LittleEndian.PutUint32(b[4:8], uint32(36+dataLen))
	copy(b[8:12], "WAVE")
	copy(b[12:16], "fmt ")
	binary.LittleEndian.PutUint32(b[16:20], 16)
	binary.LittleEndian.PutUint16(b[20:22], 1)
	binary.LittleEndian.PutUint16(b[22:24], channels)
	binary.LittleEndian.PutUint32(b[24:28], sampleRate)
	binary.LittleEndian.PutUint32(b[28:32], sampleRate*uint32(blockAlign))
	binary.LittleEndian.PutUint16(b[32:34], blockAlign)
	binary.LittleEndian.PutUint16(b[34:36], bitDepth)
	copy(b[36:40], "data")
	binary.LittleEndian.PutUint32(b[40:44], uint32(dataLen))
	return b
}
