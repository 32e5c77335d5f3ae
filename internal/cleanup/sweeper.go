package cleanup

import (
	"log"
	"os"
	"path/filepath"
	"time"
)

// SweepDir deletes every regular file directly under dir. It is the
// reconcile step run at session start, session stop and process teardown:
// segments left behind by a crash are removed regardless of what the
// in-memory store thinks exists. Missing dir is fine.
func SweepDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Sweep of %s failed: %v", dir, err)
		}
		return
	}

	var deleted int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("Failed to delete %s: %v", path, err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		log.Printf("Swept %d leftover file(s) from %s", deleted, dir)
	}
}

// Sweeper periodically removes stale files from the working directory while
// no recording session owns them. It catches orphans that survive both the
// in-memory store and the start/stop sweeps, e.g. after repeated crashes.
type Sweeper struct {
	dir      string
	interval time.Duration
	maxAge   time.Duration
	active   func() bool
	stopChan chan struct{}
}

// NewSweeper returns a sweeper for dir. active reports whether a recording
// session currently owns the directory; the sweeper skips its pass while it
// does.
func NewSweeper(dir string, interval, maxAge time.Duration, active func() bool) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Sweeper{
		dir:      dir,
		interval: interval,
		maxAge:   maxAge,
		active:   active,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic sweep.
func (s *Sweeper) Start() {
	ticker := time.NewTicker(s.interval)

	go func() {
		for {
			select {
			case <-ticker.C:
				if s.active != nil && s.active() {
					continue
				}
				s.sweepStale()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Orphan sweeper started (dir: %s, interval: %s, max age: %s)",
		s.dir, s.interval, s.maxAge)
}

// Stop stops the periodic sweep.
func (s *Sweeper) Stop() {
	close(s.stopChan)
}

func (s *Sweeper) sweepStale() {
	now := time.Now()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < s.maxAge {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("Failed to delete stale file %s: %v", path, err)
		} else {
			log.Printf("Deleted stale file: %s", e.Name())
		}
	}
}

// EnsureDirExists creates dir if missing.
func EnsureDirExists(dir string) error {
	return os.MkdirAll(dir, 0755)
}
