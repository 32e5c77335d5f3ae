package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/jacoelt/backrecorder/internal/capture"
	"github.com/jacoelt/backrecorder/internal/queue"
	"github.com/jacoelt/backrecorder/internal/types"
)

// SaveHandler turns the retained segment window into a save job.
type SaveHandler struct {
	recorder    *capture.Recorder
	workerPool  *queue.WorkerPool
	segmentSecs int
}

// NewSaveHandler creates a new save handler
func NewSaveHandler(recorder *capture.Recorder, workerPool *queue.WorkerPool, segmentSecs int) *SaveHandler {
	if segmentSecs < 1 {
		segmentSecs = types.DefaultSegmentSecs
	}
	return &SaveHandler{
		recorder:    recorder,
		workerPool:  workerPool,
		segmentSecs: segmentSecs,
	}
}

// SaveRequest represents the request body
type SaveRequest struct {
	Name string `json:"name"`
}

// Handle snapshots the retained segments and enqueues a save job. The
// snapshot is taken here, before any further rotation, so the merge sees a
// frozen ordered list.
func (h *SaveHandler) Handle(c *fiber.Ctx) error {
	var req SaveRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{
				"error": "Invalid request body",
				"code":  "ERR_INVALID_BODY",
			})
		}
	}
	if req.Name == "" {
		req.Name = "untitled"
	}

	segments := h.recorder.Snapshot()
	if len(segments) == 0 {
		return c.Status(400).JSON(fiber.Map{
			"error": "No recorded segments to save yet",
			"code":  "ERR_NO_SEGMENTS",
		})
	}

	paths := make([]string, len(segments))
	for i, seg := range segments {
		paths[i] = seg.Path
	}

	job := queue.NewJob(uuid.New().String(), req.Name, paths, len(paths)*h.segmentSecs)
	if err := h.workerPool.EnqueueJob(job); err != nil {
		if errors.Is(err, queue.ErrSaveInFlight) {
			return c.Status(409).JSON(fiber.Map{
				"error": "A save is already in progress",
				"code":  "ERR_SAVE_IN_FLIGHT",
			})
		}
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_ENQUEUE_FAILED",
		})
	}

	return c.JSON(fiber.Map{
		"job_id":   job.ID,
		"status":   "queued",
		"segments": len(paths),
	})
}

// HandleStatus reports a save job's progress.
func (h *SaveHandler) HandleStatus(c *fiber.Ctx) error {
	jobID := c.Params("id")
	job, ok := h.workerPool.GetJob(jobID)
	if !ok {
		return c.Status(404).JSON(fiber.Map{
			"error": "Save job not found",
			"code":  "ERR_JOB_NOT_FOUND",
		})
	}

	resp := fiber.Map{
		"job_id":   job.ID,
		"status":   job.Status,
		"uploaded": job.Uploaded,
	}
	if job.LocalPath != "" {
		resp["local_path"] = job.LocalPath
	}
	if job.Error != nil {
		resp["error"] = job.Error.Error()
	}
	return c.JSON(resp)
}
