package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"labelpanel/model"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	return gdb, mock
}

func TestStagingRepository_Stage(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewGormStagingRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `staged_tracks`")).
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectCommit()

	staged, err := repo.Stage(context.Background(), "abc", &model.TrackData{Name: "Intro"}, "intro.wav", "/tmp/upload_abc_intro.wav.tmp")
	require.NoError(t, err)
	assert.Equal(t, int64(5), staged.ID)
	assert.Equal(t, "abc", staged.SessionID)
	assert.Equal(t, model.StagedStatusStaged, staged.Status)
	assert.Len(t, staged.IdempotencyKey, 36)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStagingRepository_ListBySession(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewGormStagingRepository(gdb)

	rows := sqlmock.NewRows([]string{"id", "session_id", "track_data", "file_name", "temp_file_path", "idempotency_key", "status", "resource", "external_id"}).
		AddRow(1, "abc", []byte(`{"name":"Intro","release":"9"}`), "intro.wav", "/tmp/a.tmp", "k-1", "staged", "", 0).
		AddRow(2, "abc", []byte(`{"name":"Outro"}`), "outro.wav", "/tmp/b.tmp", "k-2", "registered", "tracks/b.wav", 77)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `staged_tracks` WHERE session_id = ? ORDER BY id ASC")).
		WithArgs("abc").
		WillReturnRows(rows)

	staged, err := repo.ListBySession(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, staged, 2)
	assert.Equal(t, "Intro", staged[0].TrackData.Name)
	assert.Equal(t, model.FlexInt(9), staged[0].TrackData.Release)
	assert.True(t, staged[1].Registered())
	assert.Equal(t, "tracks/b.wav", staged[1].Resource)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStagingRepository_DeleteBySession(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewGormStagingRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `staged_tracks` WHERE session_id = ?")).
		WithArgs("abc").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := repo.DeleteBySession(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStagingRepository_MarkRegistered(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewGormStagingRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `staged_tracks` SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.MarkRegistered(context.Background(), 3, 901, "ES-X", ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStagingRepository_ListStaleSessions(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewGormStagingRepository(gdb)

	mock.ExpectQuery("SELECT .*session_id.* FROM `staged_tracks` GROUP BY .*session_id.* HAVING MAX\\(updated_at\\) < \\?").
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}).AddRow("old-1").AddRow("old-2"))

	sessions, err := repo.ListStaleSessions(context.Background(), time.Now().Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old-1", "old-2"}, sessions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackRepository_AppendReleaseTrackAtomically(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewGormTrackRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `tracks`")).
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `releases` SET `tracks` = JSON_ARRAY_APPEND(")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), int64(55), int64(901)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	track := &model.Track{ExternalID: 901, ReleaseExternalID: 55, Name: "Intro"}
	err := repo.WithinTx(context.Background(), func(tx TrackTx) error {
		if err := tx.CreateTrack(context.Background(), track); err != nil {
			return err
		}
		return tx.AppendReleaseTrack(context.Background(), 55, track.Summary())
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), track.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackRepository_AppendSkipsExistingEntry(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewGormTrackRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `releases` SET `tracks` = JSON_ARRAY_APPEND(")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `releases` WHERE external_id = ?")).
		WithArgs(int64(55)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(tx TrackTx) error {
		return tx.AppendReleaseTrack(context.Background(), 55, model.ReleaseTrack{Name: "Intro", ExternalID: 901})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackRepository_AppendCreatesMissingMirror(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewGormTrackRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `releases` SET `tracks` = JSON_ARRAY_APPEND(")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `releases` WHERE external_id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `releases`")).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(tx TrackTx) error {
		return tx.AppendReleaseTrack(context.Background(), 55, model.ReleaseTrack{Name: "Intro", ExternalID: 901})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrackRepository_DuplicateTitleRollsBack(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewGormTrackRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `tracks`")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '55-Intro' for key 'idx_release_track_name'"})
	mock.ExpectRollback()

	err := repo.WithinTx(context.Background(), func(tx TrackTx) error {
		return tx.CreateTrack(context.Background(), &model.Track{ExternalID: 901, ReleaseExternalID: 55, Name: "Intro"})
	})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseRepository_SaveVersionConflict(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewGormReleaseRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `releases` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.Save(context.Background(), &model.Release{ID: 1, ExternalID: 55, Version: 3})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseRepository_SaveBumpsVersion(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewGormReleaseRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `releases` SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rel := &model.Release{ID: 1, ExternalID: 55, Name: "Album", Version: 3}
	require.NoError(t, repo.Save(context.Background(), rel))
	assert.Equal(t, int64(4), rel.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseRepository_GetByExternalIDNotFound(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewGormReleaseRepository(gdb)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `releases` WHERE external_id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rel, err := repo.GetByExternalID(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, rel)
	assert.NoError(t, mock.ExpectationsWereMet())
}
