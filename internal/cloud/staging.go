package cloud

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/jacoelt/backrecorder/internal/types"
)

// StagingUploader mirrors the most recently closed segment into the remote
// staging folder, keeping a rolling off-device copy of the retention
// window. Entirely best-effort: failures are logged and the next tick tries
// the next segment.
type StagingUploader struct {
	manager  *Manager
	interval time.Duration
	latest   func() (path string, ok bool)
	stopChan chan struct{}
	lastPath string
}

// NewStagingUploader returns an uploader polling latest for the newest
// closed segment every interval.
func NewStagingUploader(manager *Manager, interval time.Duration, latest func() (string, bool)) *StagingUploader {
	return &StagingUploader{
		manager:  manager,
		interval: interval,
		latest:   latest,
		stopChan: make(chan struct{}),
	}
}

// Start begins the upload loop.
func (u *StagingUploader) Start() {
	ticker := time.NewTicker(u.interval)

	go func() {
		for {
			select {
			case <-ticker.C:
				u.tick()
			case <-u.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Staging uploader started (interval: %s)", u.interval)
}

// Stop stops the upload loop.
func (u *StagingUploader) Stop() {
	close(u.stopChan)
}

func (u *StagingUploader) tick() {
	path, ok := u.latest()
	if !ok || path == "" || path == u.lastPath {
		return
	}

	ctx := context.Background()
	if err := u.manager.UploadFile(ctx, path, types.FolderStaging, filepath.Base(path)); err != nil {
		log.Printf("Staging upload of %s failed: %v", filepath.Base(path), err)
		return
	}
	u.lastPath = path

	if err := u.manager.DeleteOldestFromStaging(ctx); err != nil {
		log.Printf("Staging cleanup failed: %v", err)
	}
}
