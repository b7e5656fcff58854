package commit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"labelpanel/core/apperr"
	"labelpanel/core/audit"
	"labelpanel/core/catalog"
	"labelpanel/core/progress"
	"labelpanel/logger"
	"labelpanel/model"
	"labelpanel/repository"
)

// SystemActor is recorded for maintenance work such as stale-session cleanup.
var SystemActor = model.Actor{ID: "system", Name: "cleanup", Role: "system"}

// SuccessMessage 批量提交成功提示
func SuccessMessage(n int) string {
	return fmt.Sprintf("%d tracks procesados exitosamente", n)
}

func (c *Coordinator) lock(ctx context.Context, sessionID string) (func(), error) {
	unlock, ok, err := c.locker.Lock(ctx, sessionID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, apperr.CommitInProgress()
	}
	return unlock, nil
}

// Stage records an assembled, validated master for a later Commit.
func (c *Coordinator) Stage(ctx context.Context, sessionID string, data *model.TrackData, fileName, tempPath string) (*model.StagedTrack, error) {
	if err := data.Validate(); err != nil {
		c.removeTemp(tempPath)
		return nil, apperr.InvalidPayload(err)
	}

	// 每条暂存记录独占一个文件，同名上传不会互相覆盖
	path := stagedPath(tempPath)
	if err := os.Rename(tempPath, path); err != nil {
		c.removeTemp(tempPath)
		return nil, apperr.Internal(fmt.Errorf("move staged master %q: %w", fileName, err))
	}

	st, err := c.staging.Stage(ctx, sessionID, data, fileName, path)
	if err != nil {
		c.removeTemp(path)
		return nil, apperr.Internal(err)
	}
	logger.Info("track staged",
		logger.String("sessionId", sessionID),
		logger.Int64("stagedId", st.ID),
		logger.String("name", data.Name))
	return st, nil
}

// stagedPath is the per-record location a staged master is moved to.
func stagedPath(tempPath string) string {
	return filepath.Join(filepath.Dir(tempPath), "staged_"+uuid.NewString()+"_"+filepath.Base(tempPath))
}

// List returns the staged tracks of a session.
func (c *Coordinator) List(ctx context.Context, sessionID string) ([]*model.StagedTrack, error) {
	staged, err := c.staging.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return staged, nil
}

// Commit promotes every staged track of the session. Local writes are
// all-or-nothing; catalog registrations of a failed call are kept on the
// staged records and reused when Commit is called again.
func (c *Coordinator) Commit(ctx context.Context, sessionID string, actor model.Actor) ([]*model.Track, error) {
	unlock, err := c.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r := c.begin(sessionID)
	r.enter(progress.StateValidating, 0, "", "")

	staged, err := c.staging.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, r.fail(apperr.Internal(err))
	}
	if len(staged) == 0 {
		return nil, r.fail(apperr.NoStagedTracks())
	}
	r.total = len(staged)

	var (
		created    []*model.Track
		registered []string
	)
	seen := titleSet{}
	err = c.tracks.WithinTx(ctx, func(tx repository.TrackTx) error {
		for i, st := range staged {
			it := stagedItem(st)
			track, err := c.process(ctx, tx, r, i+1, it, seen, actor)
			if it.externalID != 0 {
				registered = append(registered, strings.TrimSpace(it.data.Name))
			}
			if err != nil {
				c.markFailed(ctx, st.ID, err)
				return err
			}
			created = append(created, track)
		}
		return nil
	})
	if err != nil {
		r.enter(progress.StateRollingBack, 0, "", "")
		if len(registered) > 0 {
			err = apperr.PartialCommitFailure(registered, err)
		}
		return nil, r.fail(err)
	}

	c.finishSession(ctx, sessionID, staged)

	ids := make([]string, 0, len(created))
	for _, t := range created {
		ids = append(ids, strconv.FormatInt(t.ExternalID, 10))
	}
	r.enter(progress.StateCommitted, len(created), "", SuccessMessage(len(created)))
	c.audit.Record(ctx, actor, audit.Entry{
		Action:   audit.ActionTracksCommit,
		Entity:   audit.EntitySession,
		EntityID: sessionID,
		Details:  map[string]interface{}{"tracks": ids, "count": len(created)},
	})
	return created, nil
}

// finishSession drops the consumed staged records. The commit is already
// durable, so failures are only logged.
func (c *Coordinator) finishSession(ctx context.Context, sessionID string, staged []*model.StagedTrack) {
	for _, st := range staged {
		c.removeTemp(st.TempFilePath)
	}
	if _, err := c.staging.DeleteBySession(context.WithoutCancel(ctx), sessionID); err != nil {
		logger.Error("failed to delete committed staged tracks",
			logger.String("sessionId", sessionID),
			logger.ErrorField(err))
	}
}

// Inline is one track committed straight from its upload.
type Inline struct {
	// ProgressID is the upload id progress events are published under.
	ProgressID string
	Data       *model.TrackData
	FileName   string
	TempPath   string
}

// CommitInline runs the per-track pipeline for a single track in its own
// transaction. The temp file is always removed.
func (c *Coordinator) CommitInline(ctx context.Context, in Inline, actor model.Actor) (*model.Track, error) {
	defer c.removeTemp(in.TempPath)

	r := c.begin(in.ProgressID)
	r.total = 1

	// inline tracks run every catalog step; client resource and id are ignored
	data := *in.Data
	data.Resource = ""
	data.ExternalID = 0
	it := &item{
		data:     data,
		fileName: in.FileName,
		tempPath: in.TempPath,
		key:      uuid.NewString(),
	}

	var track *model.Track
	err := c.tracks.WithinTx(ctx, func(tx repository.TrackTx) error {
		t, err := c.process(ctx, tx, r, 1, it, titleSet{}, actor)
		track = t
		return err
	})
	if err != nil {
		if it.externalID != 0 {
			err = apperr.PartialCommitFailure([]string{strings.TrimSpace(in.Data.Name)}, err)
		}
		return nil, r.fail(err)
	}

	r.enter(progress.StateCommitted, 1, track.Name, SuccessMessage(1))
	c.audit.Record(ctx, actor, audit.Entry{
		Action:   audit.ActionTrackCreate,
		Entity:   audit.EntityTrack,
		EntityID: strconv.FormatInt(track.ExternalID, 10),
		Details:  map[string]interface{}{"name": track.Name, "release": track.ReleaseExternalID},
	})
	return track, nil
}

// UpdateTrack replaces a catalog track and refreshes its local mirror.
func (c *Coordinator) UpdateTrack(ctx context.Context, externalID int64, data *model.TrackData, actor model.Actor) (*model.Track, error) {
	if err := data.Validate(); err != nil {
		return nil, apperr.InvalidPayload(err)
	}
	releaseID := c.ReleaseID(data.Release.Int64())
	resource := catalog.NormalizeResourcePath(data.Resource)

	payload := catalog.BuildTrackPayload(data, releaseID, int(data.Order), resource)
	reg, err := c.catalog.UpdateTrack(ctx, externalID, payload)
	if err != nil {
		return nil, err
	}

	d := *data
	d.ExternalID = model.FlexInt(externalID)
	d.Release = model.FlexInt(releaseID)
	d.Resource = resource
	if reg.ISRC != "" {
		d.ISRC = reg.ISRC
	}
	if reg.DAISRC != "" {
		d.DAISRC = reg.DAISRC
	}
	track := model.NewTrack(&d, releaseID, actor.ID)
	if err := c.tracks.Upsert(ctx, track); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.DuplicateTrackTitle(track.Name)
		}
		return nil, apperr.Internal(err)
	}

	c.audit.Record(ctx, actor, audit.Entry{
		Action:   audit.ActionTrackUpdate,
		Entity:   audit.EntityTrack,
		EntityID: strconv.FormatInt(externalID, 10),
		Details:  map[string]interface{}{"name": track.Name, "release": releaseID},
	})
	return track, nil
}

// RollbackResult 回滚结果
type RollbackResult struct {
	Records int64 `json:"records"`
	Files   int   `json:"files"`
}

// Rollback discards a session: every referenced temp file is removed on a
// best-effort basis, then the staged records are deleted. Calling it on an
// empty session is a no-op.
func (c *Coordinator) Rollback(ctx context.Context, sessionID string, actor model.Actor) (*RollbackResult, error) {
	unlock, err := c.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	staged, err := c.staging.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	r := c.begin(sessionID)
	r.total = len(staged)
	res := &RollbackResult{}
	if len(staged) == 0 {
		return res, nil
	}
	r.enter(progress.StateRollingBack, 0, "", "")

	var group errs.Group
	for _, st := range staged {
		if st.TempFilePath == "" {
			continue
		}
		err := os.Remove(st.TempFilePath)
		switch {
		case err == nil:
			res.Files++
		case errors.Is(err, os.ErrNotExist):
		default:
			logger.Warn("failed to remove staged file",
				logger.String("sessionId", sessionID),
				logger.String("path", st.TempFilePath),
				logger.ErrorField(err))
			group.Add(err)
		}
	}
	if err := group.Err(); err != nil {
		logger.Warn("rollback left files behind", logger.String("sessionId", sessionID), logger.ErrorField(err))
	}

	n, err := c.staging.DeleteBySession(ctx, sessionID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	res.Records = n

	r.enter(progress.StateIdle, 0, "", "")
	c.audit.Record(ctx, actor, audit.Entry{
		Action:   audit.ActionTracksRollback,
		Entity:   audit.EntitySession,
		EntityID: sessionID,
		Details:  map[string]interface{}{"records": n, "files": res.Files},
	})
	return res, nil
}

// CleanupStale rolls back every session idle for longer than maxAge and
// returns how many were cleaned.
func (c *Coordinator) CleanupStale(ctx context.Context, maxAge time.Duration) (int, error) {
	sessions, err := c.staging.ListStaleSessions(ctx, c.now().Add(-maxAge))
	if err != nil {
		return 0, apperr.Internal(err)
	}

	var group errs.Group
	cleaned := 0
	for _, sessionID := range sessions {
		res, err := c.Rollback(ctx, sessionID, SystemActor)
		if err != nil {
			group.Add(fmt.Errorf("session %s: %w", sessionID, err))
			continue
		}
		cleaned++
		logger.Info("stale session cleaned",
			logger.String("sessionId", sessionID),
			logger.Int64("records", res.Records),
			logger.Int("files", res.Files))
	}
	return cleaned, group.Err()
}
