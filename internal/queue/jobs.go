package queue

import (
	"time"

	"github.com/jacoelt/backrecorder/internal/types"
)

// Job is one save request: an immutable snapshot of segment paths taken at
// request time, merged and persisted independently of any rotation or
// eviction happening afterwards.
type Job struct {
	ID              string
	RequestName     string
	SegmentPaths    []string
	DurationSeconds int
	Status          string
	Error           error
	LocalPath       string
	Uploaded        bool
	CreatedAt       time.Time
	Done            chan struct{}
}

// NewJob creates a save job over a segment snapshot.
func NewJob(id, requestName string, segmentPaths []string, durationSeconds int) *Job {
	return &Job{
		ID:              id,
		RequestName:     requestName,
		SegmentPaths:    segmentPaths,
		DurationSeconds: durationSeconds,
		Status:          types.StatusQueued,
		CreatedAt:       time.Now(),
		Done:            make(chan struct{}),
	}
}
