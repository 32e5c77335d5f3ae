package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *MetadataDB {
	t.Helper()
	db, err := NewMetadataDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMetadataDB_SaveAndGet(t *testing.T) {
	db := newTestDB(t)

	rec := Recording{
		JobID:           "job-1",
		RequestName:     "standup",
		LocalPath:       "/outputs/2025/09/01/rec.ogg",
		SegmentCount:    5,
		DurationSeconds: 300,
		Uploaded:        true,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, db.SaveRecording(rec))

	got, err := db.GetRecording("job-1")
	require.NoError(t, err)
	assert.Equal(t, "standup", got.RequestName)
	assert.Equal(t, 5, got.SegmentCount)
	assert.Equal(t, 300, got.DurationSeconds)
	assert.True(t, got.Uploaded)
}

func TestMetadataDB_GetMissing(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetRecording("nope")
	assert.Error(t, err)
}

func TestMetadataDB_DuplicateJobID(t *testing.T) {
	db := newTestDB(t)

	rec := Recording{JobID: "dup", RequestName: "a", LocalPath: "/x", CreatedAt: time.Now()}
	require.NoError(t, db.SaveRecording(rec))
	assert.Error(t, db.SaveRecording(rec))
}

func TestMetadataDB_ListNewestFirst(t *testing.T) {
	db := newTestDB(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.SaveRecording(Recording{
			JobID:       fmt.Sprintf("job-%d", i),
			RequestName: fmt.Sprintf("rec-%d", i),
			LocalPath:   "/x",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := db.ListRecordings(3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "job-4", got[0].JobID)
	assert.Equal(t, "job-3", got[1].JobID)
	assert.Equal(t, "job-2", got[2].JobID)
}

func TestMetadataDB_MarkUploaded(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.SaveRecording(Recording{
		JobID: "job-up", RequestName: "a", LocalPath: "/x", CreatedAt: time.Now(),
	}))
	require.NoError(t, db.MarkUploaded("job-up"))

	got, err := db.GetRecording("job-up")
	require.NoError(t, err)
	assert.True(t, got.Uploaded)
}
