package capture

import (
	"log"
	"os"
	"sync"
	"time"
)

// Segment is one fixed-duration audio file produced during a rotation
// interval of continuous recording.
type Segment struct {
	Sequence  int64
	Path      string
	CreatedAt time.Time
}

// SegmentStore keeps the bounded window of most-recent segments on disk.
// Eviction is strict FIFO by sequence index and physical: the backing file
// is deleted as soon as the segment falls out of the window.
type SegmentStore struct {
	mu       sync.Mutex
	capacity int
	segments []Segment
	evicted  int64
}

// NewSegmentStore returns an empty store retaining at most capacity segments.
func NewSegmentStore(capacity int) *SegmentStore {
	if capacity < 1 {
		capacity = 1
	}
	return &SegmentStore{capacity: capacity}
}

// Append adds seg as the newest segment. If the store is at capacity the
// oldest segment is removed and its file deleted; the evicted segment is
// returned so callers can observe it. Append never fails: a delete error for
// an already-missing file is tolerated, any other delete error is logged and
// the entry is dropped anyway (the directory sweep at session end is the
// fallback).
func (s *SegmentStore) Append(seg Segment) *Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.segments = append(s.segments, seg)
	if len(s.segments) <= s.capacity {
		return nil
	}

	oldest := s.segments[0]
	s.segments = s.segments[1:]
	removeSegmentFile(oldest.Path)
	s.evicted++
	return &oldest
}

// List returns a snapshot of the retained segments in ascending sequence
// order. The returned slice is a copy and stays valid while rotation keeps
// appending concurrently.
func (s *SegmentStore) List() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Len returns the number of retained segments.
func (s *SegmentStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments)
}

// Evicted returns how many segments have been evicted since creation.
func (s *SegmentStore) Evicted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

// Clear deletes every backing file and empties the store.
func (s *SegmentStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range s.segments {
		removeSegmentFile(seg.Path)
	}
	s.segments = nil
}

func removeSegmentFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to delete segment file %s: %v", path, err)
	}
}
