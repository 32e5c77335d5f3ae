package types

// Save job status constants
const (
	StatusQueued    = "QUEUED"
	StatusMerging   = "MERGING"
	StatusUploading = "UPLOADING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// FolderRole identifies which remote folder an upload targets.
type FolderRole string

const (
	// FolderStaging is the rolling remote buffer of recent, not-yet-finalized files.
	FolderStaging FolderRole = "staging"
	// FolderFinal holds explicitly saved recordings.
	FolderFinal FolderRole = "final"
)

// Capture defaults, matching the mobile client's format.
const (
	DefaultChannels    = 1
	DefaultSampleRate  = 16000
	DefaultBitRate     = 32000
	DefaultSegmentSecs = 60
	DefaultMaxMinutes  = 10
	SegmentExtension   = ".ogg"
	AudioContentType   = "audio/ogg"
)

// EstimateRetainedBytes returns the approximate on-disk footprint of a full
// retention window: bitRate/8 bytes per second times the retained duration.
func EstimateRetainedBytes(bitRate, retainedSeconds int) int64 {
	if bitRate <= 0 || retainedSeconds <= 0 {
		return 0
	}
	return int64(bitRate) / 8 * int64(retainedSeconds)
}
