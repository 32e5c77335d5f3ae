package capture

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/jacoelt/backrecorder/internal/cleanup"
	"github.com/jacoelt/backrecorder/internal/types"
)

var ErrAlreadyRecording = errors.New("a recording session is already active")

// Observer receives the number of retained (closed) segments after each
// rotation, so a UI can show how much audio is currently recoverable.
type Observer func(retained int)

// Recorder drives the capture device, rotating to a new segment file at a
// fixed interval and feeding closed segments into a SegmentStore. One
// session at a time; the device is exclusively owned while recording.
type Recorder struct {
	device   Device
	workDir  string
	interval time.Duration
	format   Format

	mu        sync.Mutex
	store     *SegmentStore
	recording bool
	startedAt time.Time
	nextSeq   int64
	current   *Segment
	stopChan  chan struct{}
	observer  Observer
}

// NewRecorder returns an idle recorder writing segments into workDir.
func NewRecorder(device Device, workDir string, interval time.Duration, format Format) *Recorder {
	if interval <= 0 {
		interval = types.DefaultSegmentSecs * time.Second
	}
	return &Recorder{
		device:   device,
		workDir:  workDir,
		interval: interval,
		format:   format,
	}
}

// RegisterObserver sets the retained-count observer. If a session is active
// the observer is invoked immediately with the current count.
func (r *Recorder) RegisterObserver(obs Observer) {
	r.mu.Lock()
	r.observer = obs
	recording := r.recording
	var n int
	if r.store != nil {
		n = r.store.Len()
	}
	r.mu.Unlock()
	if recording && obs != nil {
		obs(n)
	}
}

// Start opens the capture device and begins a session retaining at most
// maxSegments closed segments. Device acquisition failure is fatal to the
// session and is not retried here.
func (r *Recorder) Start(maxSegments int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return ErrAlreadyRecording
	}

	if err := cleanup.EnsureDirExists(r.workDir); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	// Reconcile: drop anything a previous process left behind.
	cleanup.SweepDir(r.workDir)

	if err := r.device.Open(); err != nil {
		return err
	}
	if err := r.device.Configure(r.format); err != nil {
		r.device.Release()
		return err
	}

	r.store = NewSegmentStore(maxSegments)
	r.nextSeq = 0
	r.startedAt = time.Now()

	if err := r.openSegment(); err != nil {
		r.device.Release()
		r.store = nil
		return err
	}

	r.recording = true
	r.stopChan = make(chan struct{})
	go r.rotationLoop(r.stopChan)

	log.Printf("Recording started (segment interval: %s, retention: %d segments)",
		r.interval, maxSegments)
	return nil
}

// Stop ends the session: the rotation timer is cancelled, the device is
// released, all retained segments are deleted and the working directory is
// swept. An in-flight merge keeps its own snapshot and is unaffected.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		close(r.stopChan)
		r.recording = false
	}
	r.current = nil

	// Teardown runs under the lock: a concurrent Start blocks until the
	// device is released and the directory swept, so it can never have
	// its freshly opened segment killed by this session's teardown.
	r.device.Stop()
	r.device.Release()

	if r.store != nil {
		r.store.Clear()
		r.store = nil
	}
	cleanup.SweepDir(r.workDir)
	log.Printf("Recording stopped")
}

// IsRecording reports whether a session is active.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// StartedAt returns the active session's start time, zero when idle.
func (r *Recorder) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return time.Time{}
	}
	return r.startedAt
}

// RetainedCount returns the number of closed segments currently retained.
func (r *Recorder) RetainedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil {
		return 0
	}
	return r.store.Len()
}

// Snapshot returns an immutable copy of the retained segment list, in
// ascending sequence order. Later rotations and evictions do not touch the
// returned slice, so it is safe to hand to a merge running concurrently
// with the session.
func (r *Recorder) Snapshot() []Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil {
		return nil
	}
	return r.store.List()
}

func (r *Recorder) rotationLoop(stop chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.rotate()
		case <-stop:
			return
		}
	}
}

// rotate closes the current segment, retains it and opens the next one.
func (r *Recorder) rotate() {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return
	}

	r.device.Stop()

	closed := r.current
	if closed != nil {
		if evicted := r.store.Append(*closed); evicted != nil {
			log.Printf("Evicted segment #%d (%s)", evicted.Sequence, filepath.Base(evicted.Path))
		}
	}

	if err := r.openSegment(); err != nil {
		// Losing the device mid-session ends it; retained segments stay
		// recoverable until Stop.
		log.Printf("Rotation failed to open next segment: %v", err)
		close(r.stopChan)
		r.recording = false
		r.current = nil
		r.mu.Unlock()
		r.device.Release()
		return
	}

	obs := r.observer
	n := r.store.Len()
	r.mu.Unlock()

	if obs != nil {
		obs(n)
	}
}

// openSegment creates the next segment file and starts the device on it.
// Caller holds r.mu.
func (r *Recorder) openSegment() error {
	now := time.Now()
	name := fmt.Sprintf("record_%s_%04d%s",
		now.Format("20060102_150405"), r.nextSeq, types.SegmentExtension)
	seg := &Segment{
		Sequence:  r.nextSeq,
		Path:      filepath.Join(r.workDir, name),
		CreatedAt: now,
	}

	if err := r.device.Start(seg.Path); err != nil {
		return err
	}

	r.current = seg
	r.nextSeq++
	return nil
}
