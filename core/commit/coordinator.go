// Package commit promotes uploaded masters into registered catalog tracks.
//
// A commit walks every staged track of a session through the catalog
// (upload slot, binary upload, registration), persists the local Track and
// appends it to the release mirror. Local writes share one transaction per
// call; catalog side effects are remembered on the staged record so a failed
// commit can be retried without registering a track twice.
package commit

import (
	"context"
	"io"
	"time"

	"labelpanel/core/audit"
	"labelpanel/core/catalog"
	"labelpanel/core/progress"
	"labelpanel/repository"
)

// Catalog is the part of the distribution API the pipeline calls.
type Catalog interface {
	RequestUploadSlot(ctx context.Context, fileName, mimeType, uploadType string) (*catalog.Slot, error)
	UploadBinary(ctx context.Context, slot *catalog.Slot, fileName string, r io.Reader, size int64) (string, error)
	RegisterTrack(ctx context.Context, p *catalog.TrackPayload, idempotencyKey string) (*catalog.Registration, error)
	UpdateTrack(ctx context.Context, externalID int64, p *catalog.TrackPayload) (*catalog.Registration, error)
	GetRelease(ctx context.Context, releaseID int64) (*catalog.ReleaseSnapshot, error)
}

// Locker serializes commits of one session.
type Locker interface {
	Lock(ctx context.Context, sessionID string) (unlock func(), ok bool, err error)
}

// Archiver keeps a copy of each master before it is handed to the catalog.
type Archiver interface {
	ArchiveMaster(ctx context.Context, releaseID int64, key, fileName, filePath string) (string, error)
}

// Options wires a Coordinator. Staging, Tracks and Catalog are required.
type Options struct {
	Staging          repository.StagingRepository
	Tracks           repository.TrackRepository
	Catalog          Catalog
	Locker           Locker
	Archive          Archiver
	Progress         progress.Publisher
	Audit            audit.Logger
	DefaultReleaseID int64
}

// Coordinator 提交流程协调器
type Coordinator struct {
	staging          repository.StagingRepository
	tracks           repository.TrackRepository
	catalog          Catalog
	locker           Locker
	archive          Archiver
	progress         progress.Publisher
	audit            audit.Logger
	defaultReleaseID int64
	now              func() time.Time
}

func New(opts Options) *Coordinator {
	c := &Coordinator{
		staging:          opts.Staging,
		tracks:           opts.Tracks,
		catalog:          opts.Catalog,
		locker:           opts.Locker,
		archive:          opts.Archive,
		progress:         opts.Progress,
		audit:            opts.Audit,
		defaultReleaseID: opts.DefaultReleaseID,
		now:              time.Now,
	}
	if c.locker == nil {
		c.locker = NewMemoryLocker()
	}
	if c.progress == nil {
		c.progress = progress.Discard{}
	}
	if c.audit == nil {
		c.audit = audit.Nop{}
	}
	return c
}

// ReleaseID resolves the release a track belongs to.
func (c *Coordinator) ReleaseID(explicit int64) int64 {
	if explicit > 0 {
		return explicit
	}
	return c.defaultReleaseID
}
