// Package audit writes the panel's audit trail without blocking callers.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"labelpanel/logger"
	"labelpanel/model"
	"labelpanel/repository"
)

const (
	ActionTrackCreate     = "CREATE"
	ActionTrackUpdate     = "UPDATE"
	ActionTracksCommit    = "COMMIT"
	ActionTracksRollback  = "ROLLBACK"
	ActionReleaseUpdate   = "UPDATE"
	ActionUserDeclaration = "UPLOAD_USER_DECLARATION"

	EntityTrack   = "track"
	EntityRelease = "release"
	EntitySession = "upload_session"
)

// Entry 一条审计记录
type Entry struct {
	Action   string
	Entity   string
	EntityID string
	Details  map[string]interface{}
}

// Logger is what the pipeline depends on.
type Logger interface {
	Record(ctx context.Context, actor model.Actor, e Entry)
}

// Recorder persists entries in the background; write failures are logged
// and dropped.
type Recorder struct {
	repo    repository.AuditRepository
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewRecorder(repo repository.AuditRepository) *Recorder {
	return &Recorder{repo: repo, timeout: 10 * time.Second}
}

func (r *Recorder) Record(ctx context.Context, actor model.Actor, e Entry) {
	entry := &model.AuditLog{
		ID:        uuid.NewString(),
		Action:    e.Action,
		Entity:    e.Entity,
		EntityID:  e.EntityID,
		UserID:    actor.ID,
		UserName:  actor.Name,
		UserRole:  actor.Role,
		Details:   model.JSONMap(e.Details),
		IPAddress: actor.IP,
		CreatedAt: time.Now(),
	}

	// 请求结束后仍然要写完
	bg := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		wctx, cancel := context.WithTimeout(bg, r.timeout)
		defer cancel()
		if err := r.repo.Create(wctx, entry); err != nil {
			logger.Warn("failed to write audit log",
				logger.String("action", entry.Action),
				logger.String("entity", entry.Entity),
				logger.String("entityId", entry.EntityID),
				logger.ErrorField(err))
		}
	}()
}

// Wait blocks until queued writes finish (shutdown, tests).
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// Nop drops every entry.
type Nop struct{}

func (Nop) Record(context.Context, model.Actor, Entry) {}
