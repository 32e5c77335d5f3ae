package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jacoelt/backrecorder/internal/cloud"
	"github.com/jacoelt/backrecorder/internal/merge"
	"github.com/jacoelt/backrecorder/internal/storage"
	"github.com/jacoelt/backrecorder/internal/types"
)

// ErrSaveInFlight is returned when a save is requested while another one is
// still running; callers serialize saves.
var ErrSaveInFlight = errors.New("a save is already in progress")

// WorkerPool runs save jobs: merge the snapshot, persist the result
// locally, then sync to the cloud as a best-effort side effect. A failed
// upload never fails the local save.
type WorkerPool struct {
	jobQueue     chan *Job
	workerCount  int
	merger       *merge.Engine
	localStorage *storage.LocalStorage
	cloudManager *cloud.Manager
	db           *storage.MetadataDB
	tempDir      string

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(
	workerCount int,
	merger *merge.Engine,
	localStorage *storage.LocalStorage,
	cloudManager *cloud.Manager,
	db *storage.MetadataDB,
	tempDir string,
) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &WorkerPool{
		jobQueue:     make(chan *Job, 16),
		workerCount:  workerCount,
		merger:       merger,
		localStorage: localStorage,
		cloudManager: cloudManager,
		db:           db,
		tempDir:      tempDir,
		jobs:         make(map[string]*Job),
	}
}

// Start initializes all workers
func (wp *WorkerPool) Start() {
	log.Printf("Starting save worker pool with %d workers", wp.workerCount)
	for i := 0; i < wp.workerCount; i++ {
		go wp.worker(i)
	}
}

// EnqueueJob queues a save job. Only one save may be active at a time.
func (wp *WorkerPool) EnqueueJob(job *Job) error {
	wp.mu.Lock()
	for _, j := range wp.jobs {
		if j.Status != types.StatusCompleted && j.Status != types.StatusFailed {
			wp.mu.Unlock()
			return ErrSaveInFlight
		}
	}
	job.Status = types.StatusQueued
	wp.jobs[job.ID] = job
	wp.mu.Unlock()

	wp.jobQueue <- job
	log.Printf("Save job %s enqueued (%d segments, name: %s)",
		job.ID, len(job.SegmentPaths), job.RequestName)
	return nil
}

// GetJob returns a copy of a queued or finished job by id. A copy keeps
// readers off fields the worker mutates concurrently.
func (wp *WorkerPool) GetJob(id string) (Job, bool) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	j, ok := wp.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

func (wp *WorkerPool) setStatus(job *Job, status string) {
	wp.mu.Lock()
	job.Status = status
	wp.mu.Unlock()
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(id int) {
	for job := range wp.jobQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Worker %d: PANIC processing job %s: %v\n%s",
						id, job.ID, r, string(debug.Stack()))
					wp.mu.Lock()
					job.Status = types.StatusFailed
					job.Error = fmt.Errorf("worker panic: %v", r)
					wp.mu.Unlock()
				}
				close(job.Done)
			}()

			wp.processJob(id, job)
		}()
	}
}

// processJob handles the complete save pipeline.
func (wp *WorkerPool) processJob(workerID int, job *Job) {
	log.Printf("Worker %d: Processing save job %s", workerID, job.ID)
	wp.setStatus(job, types.StatusMerging)

	ctx := context.Background()
	mergedPath := filepath.Join(wp.tempDir, fmt.Sprintf("merged_%s%s", job.ID, types.SegmentExtension))

	// Step 1: Merge the snapshot into one continuous file.
	if _, err := wp.merger.Merge(ctx, job.SegmentPaths, mergedPath); err != nil {
		log.Printf("Worker %d: Merge failed for job %s: %v", workerID, job.ID, err)
		wp.mu.Lock()
		job.Status = types.StatusFailed
		job.Error = err
		wp.mu.Unlock()
		return
	}
	defer wp.cleanupTempFile(mergedPath)

	// Step 2: Persist locally. This is the user-visible outcome; failure
	// here fails the job.
	localPath, err := wp.localStorage.SaveRecording(job.RequestName, mergedPath)
	if err != nil {
		log.Printf("Worker %d: Local save failed for job %s: %v", workerID, job.ID, err)
		wp.mu.Lock()
		job.Status = types.StatusFailed
		job.Error = err
		wp.mu.Unlock()
		return
	}

	wp.mu.Lock()
	job.LocalPath = localPath
	job.Status = types.StatusUploading
	wp.mu.Unlock()

	// Step 3: Cloud sync, fire-and-forget semantics: errors are logged and
	// swallowed, the save already succeeded.
	uploaded := false
	if wp.cloudManager != nil {
		remoteName := storage.RemoteName(time.Now())
		if err := wp.cloudManager.UploadFile(ctx, localPath, types.FolderFinal, remoteName); err != nil {
			log.Printf("Worker %d: Cloud upload failed for job %s (save kept locally): %v",
				workerID, job.ID, err)
		} else {
			uploaded = true
		}

		if err := wp.cloudManager.DeleteOldestFromStaging(ctx); err != nil {
			log.Printf("Worker %d: Staging cleanup failed: %v", workerID, err)
		}
	}

	// Step 4: Record metadata; a failed row never fails the save.
	if wp.db != nil {
		rec := storage.Recording{
			JobID:           job.ID,
			RequestName:     job.RequestName,
			LocalPath:       localPath,
			SegmentCount:    len(job.SegmentPaths),
			DurationSeconds: job.DurationSeconds,
			Uploaded:        uploaded,
			CreatedAt:       time.Now(),
		}
		if err := wp.db.SaveRecording(rec); err != nil {
			log.Printf("Worker %d: Metadata save failed: %v", workerID, err)
		}
	}

	wp.mu.Lock()
	job.Uploaded = uploaded
	job.Status = types.StatusCompleted
	wp.mu.Unlock()
	log.Printf("Worker %d: Save job %s completed (local: %s, uploaded: %v)",
		workerID, job.ID, localPath, uploaded)
}

// cleanupTempFile removes a temporary file
func (wp *WorkerPool) cleanupTempFile(filePath string) {
	if filePath == "" {
		return
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to cleanup temp file %s: %v", filePath, err)
	}
}
