package commit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"labelpanel/core/apperr"
	"labelpanel/core/catalog"
	"labelpanel/core/progress"
	"labelpanel/core/upload"
	"labelpanel/logger"
	"labelpanel/model"
	"labelpanel/repository"
)

const masterMimeType = "audio/wav"

// run follows one call through the state machine.
type run struct {
	c         *Coordinator
	sessionID string
	total     int
	state     progress.State
}

func (c *Coordinator) begin(sessionID string) *run {
	return &run{c: c, sessionID: sessionID, state: progress.StateIdle}
}

func (r *run) enter(state progress.State, index int, track, message string) {
	logger.Info("commit state",
		logger.String("sessionId", r.sessionID),
		logger.String("from", string(r.state)),
		logger.String("to", string(state)),
		logger.Int("index", index),
		logger.Int("total", r.total),
		logger.String("track", track))
	r.state = state
	r.c.progress.Publish(progress.Event{
		SessionID: r.sessionID,
		State:     state,
		Track:     track,
		Index:     index,
		Total:     r.total,
		Message:   message,
	})
}

// fail publishes the failure and returns err classified.
func (r *run) fail(err error) error {
	ae := apperr.From(err)
	logger.Error("commit failed",
		logger.String("sessionId", r.sessionID),
		logger.String("state", string(r.state)),
		logger.String("kind", string(ae.Kind)),
		logger.ErrorField(err),
		logger.Stack(err))
	r.state = progress.StateFailed
	r.c.progress.Publish(progress.Event{
		SessionID: r.sessionID,
		State:     progress.StateFailed,
		Total:     r.total,
		Message:   ae.Message,
	})
	return ae
}

// item is one track travelling through the pipeline, staged or inline.
type item struct {
	staged   *model.StagedTrack
	data     model.TrackData
	fileName string
	tempPath string
	key      string

	resource   string
	externalID int64
	isrc       string
	daISRC     string
}

func stagedItem(st *model.StagedTrack) *item {
	return &item{
		staged:     st,
		data:       st.TrackData,
		fileName:   st.FileName,
		tempPath:   st.TempFilePath,
		key:        st.IdempotencyKey,
		resource:   st.Resource,
		externalID: st.ExternalID,
		isrc:       st.ISRC,
		daISRC:     st.DAISRC,
	}
}

// titleSet holds the titles committed so far in one call, per release.
type titleSet map[int64]map[string]struct{}

func (s titleSet) has(releaseID int64, name string) bool {
	_, ok := s[releaseID][strings.ToLower(strings.TrimSpace(name))]
	return ok
}

func (s titleSet) add(releaseID int64, name string) {
	if s[releaseID] == nil {
		s[releaseID] = make(map[string]struct{})
	}
	s[releaseID][strings.ToLower(strings.TrimSpace(name))] = struct{}{}
}

// process runs the per-track steps: duplicate check, catalog upload and
// registration, Track insert, release append.
func (c *Coordinator) process(ctx context.Context, tx repository.TrackTx, r *run, index int, it *item, seen titleSet, actor model.Actor) (*model.Track, error) {
	if err := it.data.Validate(); err != nil {
		return nil, apperr.InvalidPayload(err)
	}
	name := strings.TrimSpace(it.data.Name)
	releaseID := c.ReleaseID(it.data.Release.Int64())

	r.enter(progress.StateValidating, index, name, "")
	snap, err := c.catalog.GetRelease(ctx, releaseID)
	if err != nil {
		return nil, err
	}

	order := int(it.data.Order)
	if it.externalID == 0 {
		if snap.HasTitle(name) || seen.has(releaseID, name) {
			return nil, apperr.DuplicateTrackTitle(name)
		}
		if order <= 0 {
			order = snap.NextOrder()
		}
	} else if order <= 0 {
		// registered by an earlier attempt: keep the position the catalog gave it
		order = orderOf(snap, it.externalID)
	}
	seen.add(releaseID, name)

	r.enter(progress.StatePerTrackUpload, index, name, "")
	if err := c.pushToCatalog(ctx, it, releaseID, order); err != nil {
		return nil, err
	}

	it.data.Release = model.FlexInt(releaseID)
	it.data.Order = model.FlexInt(order)
	it.data.Resource = it.resource
	it.data.ExternalID = model.FlexInt(it.externalID)
	if it.isrc != "" {
		it.data.ISRC = it.isrc
	}
	if it.daISRC != "" {
		it.data.DAISRC = it.daISRC
	}
	track := model.NewTrack(&it.data, releaseID, actor.ID)

	r.enter(progress.StatePersisting, index, name, "")
	if err := tx.CreateTrack(ctx, track); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.DuplicateTrackTitle(name)
		}
		return nil, apperr.Internal(err)
	}

	r.enter(progress.StateAppending, index, name, "")
	if err := tx.AppendReleaseTrack(ctx, releaseID, track.Summary()); err != nil {
		return nil, apperr.Internal(err)
	}
	return track, nil
}

func orderOf(snap *catalog.ReleaseSnapshot, externalID int64) int {
	for _, t := range snap.Tracks {
		if t.TrackID() == externalID && t.Order > 0 {
			return int(t.Order)
		}
	}
	return snap.NextOrder()
}

// pushToCatalog runs the signed upload and the registration, skipping the
// steps an earlier attempt already completed. An inline master is removed
// afterwards whatever the outcome; a staged one stays until the session is
// committed or rolled back, so a retried Commit can still upload it.
func (c *Coordinator) pushToCatalog(ctx context.Context, it *item, releaseID int64, order int) error {
	if it.staged == nil {
		defer c.removeTemp(it.tempPath)
	}

	if it.resource == "" {
		if c.archive != nil {
			if _, err := c.archive.ArchiveMaster(ctx, releaseID, it.key, it.fileName, it.tempPath); err != nil {
				logger.Warn("master archive failed",
					logger.String("file", it.fileName),
					logger.ErrorField(err))
			}
		}

		resource, err := c.uploadMaster(ctx, it)
		if err != nil {
			return err
		}
		it.resource = resource
		if it.staged != nil {
			if err := c.staging.MarkUploaded(ctx, it.staged.ID, resource); err != nil {
				logger.Warn("failed to record uploaded resource",
					logger.Int64("stagedId", it.staged.ID),
					logger.ErrorField(err))
			}
		}
	}

	if it.externalID == 0 {
		payload := catalog.BuildTrackPayload(&it.data, releaseID, order, it.resource)
		reg, err := c.catalog.RegisterTrack(ctx, payload, it.key)
		if err != nil {
			return err
		}
		it.externalID, it.isrc, it.daISRC = reg.ID, reg.ISRC, reg.DAISRC
		if it.staged != nil {
			if err := c.staging.MarkRegistered(ctx, it.staged.ID, reg.ID, reg.ISRC, reg.DAISRC); err != nil {
				logger.Warn("failed to record registration",
					logger.Int64("stagedId", it.staged.ID),
					logger.Int64("externalId", reg.ID),
					logger.ErrorField(err))
			}
		}
		logger.Info("track registered",
			logger.String("name", it.data.Name),
			logger.Int64("externalId", reg.ID),
			logger.Int64("release", releaseID))
	}
	return nil
}

func (c *Coordinator) uploadMaster(ctx context.Context, it *item) (string, error) {
	f, err := os.Open(it.tempPath)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("open master %q: %w", it.fileName, err))
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("stat master %q: %w", it.fileName, err))
	}

	name := upload.SanitizeFileName(it.fileName)
	slot, err := c.catalog.RequestUploadSlot(ctx, name, masterMimeType, catalog.UploadTypeTrack)
	if err != nil {
		return "", err
	}
	return c.catalog.UploadBinary(ctx, slot, name, f, fi.Size())
}

func (c *Coordinator) removeTemp(path string) {
	if err := upload.RemoveFile(path); err != nil {
		logger.Warn("failed to remove temp file", logger.String("path", path), logger.ErrorField(err))
	}
}

func (c *Coordinator) markFailed(ctx context.Context, id int64, cause error) {
	if err := c.staging.MarkFailed(context.WithoutCancel(ctx), id, cause.Error()); err != nil {
		logger.Warn("failed to mark staged track", logger.Int64("stagedId", id), logger.ErrorField(err))
	}
}
