package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"labelpanel/logger"
	"labelpanel/model"
)

type memRepo struct {
	mu      sync.Mutex
	entries []*model.AuditLog
	err     error
}

func (m *memRepo) Create(ctx context.Context, e *model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func TestRecorder_WritesEntry(t *testing.T) {
	repo := &memRepo{}
	r := NewRecorder(repo)

	ctx, cancel := context.WithCancel(context.Background())
	r.Record(ctx, model.Actor{ID: "u1", Name: "Ana", Role: "admin", IP: "10.0.0.1"}, Entry{
		Action:   ActionTracksCommit,
		Entity:   EntitySession,
		EntityID: "abc",
		Details:  map[string]interface{}{"tracks": 2},
	})
	// a finished request does not abort the write
	cancel()
	r.Wait()

	require.Len(t, repo.entries, 1)
	e := repo.entries[0]
	assert.Len(t, e.ID, 36)
	assert.Equal(t, "COMMIT", e.Action)
	assert.Equal(t, "u1", e.UserID)
	assert.Equal(t, "10.0.0.1", e.IPAddress)
	assert.Equal(t, 2, e.Details["tracks"])
}

func TestRecorder_SwallowsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := logger.Replace(zap.New(core))
	defer restore()

	r := NewRecorder(&memRepo{err: errors.New("db down")})
	r.Record(context.Background(), model.Actor{ID: "u1"}, Entry{Action: ActionTrackCreate, Entity: EntityTrack, EntityID: "9"})
	r.Wait()

	entries := logs.FilterMessage("failed to write audit log").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "9", entries[0].ContextMap()["entityId"])
}
